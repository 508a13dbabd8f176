package snd

import (
	"context"
	"sync"
)

// StreamHandle identifies a capture source. It is opaque to everything but
// the Backend that resolves it; the empty handle means the default device.
type StreamHandle string

// Source is a live capture stream.
type Source interface {
	Tracks() []Track
}

// Track is one releasable piece of a Source.
type Track interface {
	Stop() error
}

// Node is a frame callback attached to a Source inside a Graph.
type Node interface {
	Disconnect() error
}

// Graph is the processing context a Source is routed through.
type Graph interface {
	// Connect delivers frames of exactly frameSize samples to fn.
	Connect(src Source, frameSize int, fn func([]float32)) (Node, error)
	// Monitor plays src on the default output so it stays audible.
	Monitor(src Source) error
	Close() error
}

// Device describes a capture device as reported by a Backend.
type Device struct {
	Name     string
	Default  bool
	Channels int
	Backend  string
}

// Backend opens capture sources and processing graphs. All sources and
// graphs run at SampleRate, mono, float32.
type Backend interface {
	Name() string
	Acquire(ctx context.Context, h StreamHandle) (Source, error)
	NewGraph() (Graph, error)
	Devices() ([]Device, error)
}

// TrackFunc adapts a function to the Track interface.
type TrackFunc func() error

func (f TrackFunc) Stop() error { return f() }

// NodeFunc adapts a function to the Node interface.
type NodeFunc func() error

func (f NodeFunc) Disconnect() error { return f() }

// Tap fans samples from a backend callback out to registered sinks.
type Tap struct {
	mu    sync.Mutex
	next  int
	sinks map[int]func([]float32)
}

// Add registers fn and returns an id for Remove.
func (t *Tap) Add(fn func([]float32)) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sinks == nil {
		t.sinks = make(map[int]func([]float32))
	}
	t.next++
	t.sinks[t.next] = fn
	return t.next
}

func (t *Tap) Remove(id int) {
	t.mu.Lock()
	delete(t.sinks, id)
	t.mu.Unlock()
}

func (t *Tap) Emit(samples []float32) {
	t.mu.Lock()
	sinks := make([]func([]float32), 0, len(t.sinks))
	for _, fn := range t.sinks {
		sinks = append(sinks, fn)
	}
	t.mu.Unlock()

	for _, fn := range sinks {
		fn(samples)
	}
}

// Ring is a bounded sample queue between a capture callback and a
// playback callback. When full the oldest samples are overwritten.
type Ring struct {
	mu   sync.Mutex
	buf  []float32
	head int
	n    int
}

func NewRing(size int) *Ring {
	return &Ring{buf: make([]float32, size)}
}

func (r *Ring) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		tail := (r.head + r.n) % len(r.buf)
		r.buf[tail] = s
		if r.n < len(r.buf) {
			r.n++
		} else {
			r.head = (r.head + 1) % len(r.buf)
		}
	}
}

// Read fills out and pads with silence when the queue runs dry.
func (r *Ring) Read(out []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range out {
		if r.n == 0 {
			out[i] = 0
			continue
		}
		out[i] = r.buf[r.head]
		r.head = (r.head + 1) % len(r.buf)
		r.n--
	}
}
