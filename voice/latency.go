package voice

import "time"

// DefaultLatencyResolution is the display sampling step.
const DefaultLatencyResolution = 100 * time.Millisecond

// Latency measures time from the end of a user turn to the first audible
// model response.
type Latency struct {
	resolution time.Duration
	start      time.Time
	running    bool
}

// NewLatency creates a stopped timer sampling at resolution.
func NewLatency(resolution time.Duration) *Latency {
	if resolution <= 0 {
		resolution = DefaultLatencyResolution
	}
	return &Latency{resolution: resolution}
}

// Start (re)starts the clock at now.
func (l *Latency) Start(now time.Time) {
	l.start = now
	l.running = true
}

// Stop clears the timer and returns the elapsed time, or 0 if stopped.
func (l *Latency) Stop(now time.Time) time.Duration {
	if !l.running {
		return 0
	}
	d := now.Sub(l.start)
	l.running = false
	l.start = time.Time{}
	return d
}

// Sample returns the elapsed time truncated to the resolution.
func (l *Latency) Sample(now time.Time) time.Duration {
	if !l.running {
		return 0
	}
	d := now.Sub(l.start)
	if d < 0 {
		return 0
	}
	return d.Truncate(l.resolution)
}

// Running reports whether the timer is active.
func (l *Latency) Running() bool {
	return l.running
}

// Resolution returns the sampling step.
func (l *Latency) Resolution() time.Duration {
	return l.resolution
}
