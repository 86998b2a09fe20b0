package simulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/skypro1111/whisper-stream/internal/asr"
	"github.com/skypro1111/whisper-stream/internal/audio"
)

// Clock provides time to the live mode.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config contains configuration for a replay
type Config struct {
	Mode         Mode
	ChunkSeconds float64 // Audio per iteration
	StartAt      float64 // Seconds into the file where the replay begins
}

// Emission is one segment printed by the driver
type Emission struct {
	Time    float64 // Seconds since the replay started
	Segment asr.Segment
	Final   bool // Produced by Finish
}

// String formats the emission as "<emission_ms> <start_ms> <end_ms> <text>".
func (e Emission) String() string {
	return fmt.Sprintf("%1.4f %1.0f %1.0f %s",
		e.Time*1000, e.Segment.Start*1000, e.Segment.End*1000, e.Segment.Text)
}

// Report summarizes a replay
type Report struct {
	Mode       Mode
	Duration   float64 // Length of the file in seconds
	Iterations int
	Faults     int
	MaxLatency float64 // Live mode only, seconds
	Emissions  []Emission
}

// Text joins the text of every emission with single spaces.
func (r *Report) Text() string {
	parts := make([]string, 0, len(r.Emissions))
	for _, e := range r.Emissions {
		if text := strings.TrimSpace(e.Segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Driver replays an audio file through an engine. Segment timestamps are
// reported as the engine produced them; no stitching is applied.
type Driver struct {
	engine asr.Engine
	cache  *audio.Cache
	config Config
	out    io.Writer
	clock  Clock
	logger *slog.Logger

	start time.Time
}

// NewDriver creates a driver writing emissions to out, which may be nil.
func NewDriver(engine asr.Engine, cache *audio.Cache, cfg Config, out io.Writer, logger *slog.Logger) (*Driver, error) {
	if cfg.ChunkSeconds <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %v", cfg.ChunkSeconds)
	}
	if cfg.StartAt < 0 {
		return nil, fmt.Errorf("start_at must not be negative, got %v", cfg.StartAt)
	}
	if out == nil {
		out = io.Discard
	}

	return &Driver{
		engine: engine,
		cache:  cache,
		config: cfg,
		out:    out,
		clock:  realClock{},
		logger: logger.With(slog.String("component", "simulation")),
	}, nil
}

// SetClock replaces the wall clock, for tests.
func (d *Driver) SetClock(clock Clock) {
	d.clock = clock
}

// Run replays path in the configured mode and finishes the engine.
func (d *Driver) Run(ctx context.Context, path string) (*Report, error) {
	// Decode before the clock starts so loading is not counted as latency.
	duration, err := d.cache.Duration(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	d.logger.Info("Starting replay",
		slog.String("file", path),
		slog.String("mode", d.config.Mode.String()),
		slog.Float64("duration", duration),
		slog.Float64("chunk_seconds", d.config.ChunkSeconds),
		slog.Float64("start_at", d.config.StartAt),
	)

	report := &Report{Mode: d.config.Mode, Duration: duration}
	d.engine.Init()
	d.start = d.clock.Now().Add(-seconds(d.config.StartAt))

	switch d.config.Mode {
	case ModeOffline:
		err = d.runOffline(ctx, path, report)
	case ModeComputationUnaware:
		err = d.runComputationUnaware(ctx, path, duration, report)
	case ModeLive:
		err = d.runLive(ctx, path, duration, report)
	default:
		err = fmt.Errorf("unknown mode %s", d.config.Mode)
	}
	if err != nil {
		return report, err
	}

	now := d.elapsed()
	if d.config.Mode == ModeComputationUnaware {
		now = duration
	}

	seg, err := d.engine.Finish(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to finish engine: %w", err)
	}
	d.output(report, seg, now, true)

	d.logger.Info("Replay finished",
		slog.Int("iterations", report.Iterations),
		slog.Int("faults", report.Faults),
		slog.Int("emissions", len(report.Emissions)),
		slog.Float64("max_latency", report.MaxLatency),
	)
	return report, nil
}

func (d *Driver) runOffline(ctx context.Context, path string, report *Report) error {
	samples, err := d.cache.Load(path)
	if err != nil {
		return err
	}

	d.engine.InsertAudioChunk(samples)
	seg, err := d.iterate(ctx, report)
	if err != nil {
		return err
	}
	d.output(report, seg, d.elapsed(), false)
	return nil
}

func (d *Driver) runComputationUnaware(ctx context.Context, path string, duration float64, report *Report) error {
	chunk := d.config.ChunkSeconds
	beg := d.config.StartAt
	end := beg + chunk

	for {
		samples, err := d.cache.LoadRange(path, beg, end)
		if err != nil {
			return err
		}

		d.engine.InsertAudioChunk(samples)
		seg, err := d.iterate(ctx, report)
		if err != nil {
			return err
		}
		d.output(report, seg, end, false)

		d.logger.Debug("Chunk processed", slog.Float64("last_processed", end))

		if end >= duration {
			return nil
		}

		beg = end
		if end+chunk > duration {
			end = duration
		} else {
			end += chunk
		}
	}
}

func (d *Driver) runLive(ctx context.Context, path string, duration float64, report *Report) error {
	chunk := d.config.ChunkSeconds
	beg := d.config.StartAt
	end := 0.0

	for {
		if now := d.elapsed(); now < end+chunk {
			if err := d.clock.Sleep(ctx, seconds(end+chunk-now)); err != nil {
				return err
			}
		}
		end = d.elapsed()

		samples, err := d.cache.LoadRange(path, beg, end)
		if err != nil {
			return err
		}
		beg = end

		d.engine.InsertAudioChunk(samples)
		seg, err := d.iterate(ctx, report)
		if err != nil {
			return err
		}
		d.output(report, seg, d.elapsed(), false)

		now := d.elapsed()
		latency := now - end
		if latency > report.MaxLatency {
			report.MaxLatency = latency
		}
		d.logger.Debug("Chunk processed",
			slog.Float64("last_processed", end),
			slog.Float64("now", now),
			slog.Float64("latency", latency),
		)

		if end >= duration {
			return nil
		}
	}
}

// iterate runs one engine step. An iteration fault is logged and reported
// as an empty segment; only a cancelled context stops the replay.
func (d *Driver) iterate(ctx context.Context, report *Report) (asr.Segment, error) {
	report.Iterations++

	seg, err := d.engine.ProcessIter(ctx)
	if err == nil {
		return seg, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return asr.NoSegment(), ctxErr
	}

	report.Faults++
	d.logger.Error("Engine iteration failed",
		slog.String("error", err.Error()),
		slog.Bool("iteration_fault", errors.Is(err, asr.ErrIteration)),
	)
	return asr.NoSegment(), nil
}

func (d *Driver) output(report *Report, seg asr.Segment, now float64, final bool) {
	if !seg.Ready {
		return
	}

	emission := Emission{Time: now, Segment: seg, Final: final}
	report.Emissions = append(report.Emissions, emission)

	line := emission.String()
	fmt.Fprintln(d.out, line)
	d.logger.Debug("Segment emitted", slog.String("line", line))
}

func (d *Driver) elapsed() float64 {
	return d.clock.Now().Sub(d.start).Seconds()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
