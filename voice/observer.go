package voice

import (
	"time"

	"github.com/joan6141318-ai/Moon-sub000/internal/types"
)

// Observer receives UI-facing updates. Calls are made from the controller
// loop and must not block.
type Observer interface {
	StateChanged(state State)
	TranscriptChanged(entries []types.TranscriptEntry)
	LatencyChanged(elapsed time.Duration, running bool)
}

// Recorder receives operational measurements.
type Recorder interface {
	SessionStarted()
	SessionEnded(final State)
	StateChanged(from, to State)
	ChunkSent()
	ChunkScheduled(d time.Duration)
	ResponseLatency(d time.Duration)
	Error(kind string)
}

// LanguageDetector tags closed transcript entries.
type LanguageDetector interface {
	DetectLanguage(text string) (code string, ok bool)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State) {}
func (nopObserver) TranscriptChanged([]types.TranscriptEntry) {}
func (nopObserver) LatencyChanged(time.Duration, bool) {}

type nopRecorder struct{}

func (nopRecorder) SessionStarted() {}
func (nopRecorder) SessionEnded(State) {}
func (nopRecorder) StateChanged(State, State) {}
func (nopRecorder) ChunkSent() {}
func (nopRecorder) ChunkScheduled(time.Duration) {}
func (nopRecorder) ResponseLatency(time.Duration) {}
func (nopRecorder) Error(string) {}
