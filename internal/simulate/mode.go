package simulate

import (
	"fmt"
	"strings"
)

// Mode selects how audio is paced into the engine during a replay
type Mode int

const (
	// ModeLive paces chunks by wall-clock time, so slow processing makes the
	// next chunk larger.
	ModeLive Mode = iota

	// ModeOffline inserts the whole file at once.
	ModeOffline

	// ModeComputationUnaware advances a virtual clock by exactly one chunk
	// per iteration, as if processing took no time.
	ModeComputationUnaware
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeOffline:
		return "offline"
	case ModeComputationUnaware:
		return "comp_unaware"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMode parses a mode name as printed by Mode.String.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(name) {
	case "live", "":
		return ModeLive, nil
	case "offline":
		return ModeOffline, nil
	case "comp_unaware", "computation_unaware":
		return ModeComputationUnaware, nil
	default:
		return 0, fmt.Errorf("unknown simulation mode %q", name)
	}
}
