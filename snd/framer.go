package snd

// Framer re-blocks an irregular stream of samples into frames of a fixed
// size. It is not safe for concurrent use; audio backends call it from a
// single callback thread.
type Framer struct {
	size int
	buf  []float32
	emit func([]float32)
}

// NewFramer returns a Framer calling emit with every complete frame. The
// slice passed to emit is only valid for the duration of the call.
func NewFramer(size int, emit func([]float32)) *Framer {
	if size <= 0 {
		size = FrameSize
	}
	return &Framer{
		size: size,
		buf:  make([]float32, 0, size),
		emit: emit,
	}
}

func (f *Framer) Write(samples []float32) {
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			f.emit(f.buf)
			f.buf = f.buf[:0]
		}
	}
}

// Buffered reports how many samples are waiting for the next frame.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
