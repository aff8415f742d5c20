package voice

import (
	"fmt"
	"sync"
	"time"

	"github.com/joan6141318-ai/Moon-sub000/audio"
)

// Playback schedules decoded model audio back-to-back on an output.
//
// The cursor and the active set are guarded by one mutex so that an
// interruption (stop all, clear, reset cursor) is never interleaved with a
// scheduling call.
type Playback struct {
	out audio.Output

	mu      sync.Mutex
	cursor  time.Duration
	nextID  uint64
	sources map[uint64]audio.Source
}

// NewPlayback creates a playback pipeline on out.
func NewPlayback(out audio.Output) *Playback {
	return &Playback{
		out:     out,
		sources: make(map[uint64]audio.Source),
	}
}

// Scheduled describes one scheduled buffer.
type Scheduled struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration
}

// Schedule plays buf at max(cursor, now) and advances the cursor by its
// duration. onEnded receives the source id when the output reports the end.
func (p *Playback) Schedule(buf *audio.Buffer, onEnded func(id uint64)) (Scheduled, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := max(p.cursor, p.out.Now())
	p.nextID++
	id := p.nextID

	src, err := p.out.Play(buf, start, func() {
		if onEnded != nil {
			onEnded(id)
		}
	})
	if err != nil {
		return Scheduled{}, fmt.Errorf("play buffer: %w", err)
	}

	p.sources[id] = src
	p.cursor = start + buf.Duration()
	return Scheduled{ID: id, Start: start, Duration: buf.Duration()}, nil
}

// Release removes a naturally ended source and returns the number still
// active. Unknown ids are ignored.
func (p *Playback) Release(id uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sources, id)
	return len(p.sources)
}

// Interrupt stops every active source, clears the set and resets the cursor
// to zero. It returns the number of sources stopped.
func (p *Playback) Interrupt() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.sources)
	for id, src := range p.sources {
		src.Stop()
		delete(p.sources, id)
	}
	p.cursor = 0
	return n
}

// Active returns the number of outstanding sources.
func (p *Playback) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}

// Cursor returns the next start time.
func (p *Playback) Cursor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}
