package audio

// Framer accumulates samples and emits fixed-size frames.
type Framer struct {
	size    int
	pending []float32
}

// NewFramer creates a framer emitting frames of size samples.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = FrameSize
	}
	return &Framer{
		size:    size,
		pending: make([]float32, 0, size),
	}
}

// Write appends samples and calls emit once per complete frame, in order.
// The emitted slice is owned by the callee.
func (f *Framer) Write(samples []float32, emit func(frame []float32)) {
	for len(samples) > 0 {
		n := min(f.size-len(f.pending), len(samples))
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]

		if len(f.pending) == f.size {
			frame := make([]float32, f.size)
			copy(frame, f.pending)
			f.pending = f.pending[:0]
			emit(frame)
		}
	}
}

// Pending returns the number of buffered samples.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Reset drops buffered samples.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}

// Size returns the frame size.
func (f *Framer) Size() int {
	return f.size
}
