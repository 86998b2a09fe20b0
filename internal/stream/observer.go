package stream

import "time"

// Observer receives session events for instrumentation.
// *metrics.Metrics implements it.
type Observer interface {
	RecordSessionStarted()
	RecordSessionEnded(duration time.Duration)
	RecordAudioReceived(seconds float64)
	RecordIteration(duration time.Duration, fault bool)
	RecordSegmentEmitted()
	RecordDuplicateSuppressed()
	RecordTransportFailure()
}

type nopObserver struct{}

func (nopObserver) RecordSessionStarted() {}
func (nopObserver) RecordSessionEnded(time.Duration) {}
func (nopObserver) RecordAudioReceived(float64) {}
func (nopObserver) RecordIteration(time.Duration, bool) {}
func (nopObserver) RecordSegmentEmitted() {}
func (nopObserver) RecordDuplicateSuppressed() {}
func (nopObserver) RecordTransportFailure() {}
