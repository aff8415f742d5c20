package app

import (
	"log/slog"
	"time"

	"github.com/joan6141318-ai/Moon-sub000/internal/types"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

// Observers fans updates out to several observers in order.
type Observers []voice.Observer

func (obs Observers) StateChanged(state voice.State) {
	for _, o := range obs {
		o.StateChanged(state)
	}
}

func (obs Observers) TranscriptChanged(entries []types.TranscriptEntry) {
	for _, o := range obs {
		o.TranscriptChanged(entries)
	}
}

func (obs Observers) LatencyChanged(elapsed time.Duration, running bool) {
	for _, o := range obs {
		o.LatencyChanged(elapsed, running)
	}
}

// LogObserver logs state changes and latency samples.
type LogObserver struct {
	Session string
}

func (l LogObserver) StateChanged(state voice.State) {
	slog.Info("voice state", "session", l.Session, "state", state.String())
}

func (LogObserver) TranscriptChanged([]types.TranscriptEntry) {}

func (l LogObserver) LatencyChanged(elapsed time.Duration, running bool) {
	if running {
		slog.Debug("awaiting response", "session", l.Session, "elapsed", elapsed)
	}
}
