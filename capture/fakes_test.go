package capture

import (
	"context"
	"errors"
	"sync"

	"node.town/tabscribe/snd"
	"node.town/tabscribe/stt"
)

// journal records the order of release calls across fakes.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fault int

const (
	works fault = iota
	fails
	panics
)

func (f fault) run(name string) error {
	switch f {
	case fails:
		return errors.New(name + " failed")
	case panics:
		panic(name + " exploded")
	}
	return nil
}

type fakeBackend struct {
	j          *journal
	acquireErr error
	graphErr   error
	tracks     int
	trackFault fault
	nodeFault  fault
	graphFault fault

	mu       sync.Mutex
	acquired int
	graphs   []*fakeGraph
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Devices() ([]snd.Device, error) { return nil, nil }

func (b *fakeBackend) Acquire(ctx context.Context, h snd.StreamHandle) (snd.Source, error) {
	b.mu.Lock()
	b.acquired++
	b.mu.Unlock()
	if b.acquireErr != nil {
		return nil, b.acquireErr
	}
	n := b.tracks
	if n == 0 {
		n = 1
	}
	return &fakeSource{b: b, n: n}, nil
}

func (b *fakeBackend) NewGraph() (snd.Graph, error) {
	if b.graphErr != nil {
		return nil, b.graphErr
	}
	g := &fakeGraph{b: b}
	b.mu.Lock()
	b.graphs = append(b.graphs, g)
	b.mu.Unlock()
	return g, nil
}

func (b *fakeBackend) lastGraph() *fakeGraph {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.graphs) == 0 {
		return nil
	}
	return b.graphs[len(b.graphs)-1]
}

func (b *fakeBackend) acquisitions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquired
}

type fakeSource struct {
	b *fakeBackend
	n int
}

func (s *fakeSource) Tracks() []snd.Track {
	tracks := make([]snd.Track, s.n)
	for i := range tracks {
		tracks[i] = snd.TrackFunc(func() error {
			s.b.j.add("track")
			return s.b.trackFault.run("track")
		})
	}
	return tracks
}

type fakeGraph struct {
	b *fakeBackend

	mu        sync.Mutex
	fn        func([]float32)
	monitored bool
}

func (g *fakeGraph) Connect(src snd.Source, frameSize int, fn func([]float32)) (snd.Node, error) {
	g.mu.Lock()
	g.fn = fn
	g.mu.Unlock()
	return snd.NodeFunc(func() error {
		g.b.j.add("node")
		return g.b.nodeFault.run("node")
	}), nil
}

func (g *fakeGraph) Monitor(src snd.Source) error {
	g.mu.Lock()
	g.monitored = true
	g.mu.Unlock()
	return nil
}

func (g *fakeGraph) Close() error {
	g.b.j.add("graph")
	return g.b.graphFault.run("graph")
}

func (g *fakeGraph) isMonitored() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.monitored
}

// frame pushes one frame through the registered callback as the audio
// thread would.
func (g *fakeGraph) frame(samples []float32) {
	g.mu.Lock()
	fn := g.fn
	g.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

type fakeChannel struct {
	j          *journal
	emit       func(stt.Event)
	connectErr error

	mu        sync.Mutex
	open      bool
	sent      [][]byte
	languages []stt.Languages
	stops     int
}

func (c *fakeChannel) Connect(ctx context.Context, langs stt.Languages) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.mu.Lock()
	c.open = true
	c.languages = append(c.languages, langs)
	c.mu.Unlock()
	c.emit(stt.Event{Kind: stt.EventConnected})
	return nil
}

func (c *fakeChannel) Send(pcm []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	c.sent = append(c.sent, pcm)
	return true
}

func (c *fakeChannel) SetLanguages(langs stt.Languages) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return stt.ErrNotOpen
	}
	c.languages = append(c.languages, langs)
	return nil
}

func (c *fakeChannel) Stop() error {
	c.j.add("channel")
	c.mu.Lock()
	c.open = false
	c.stops++
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *fakeChannel) frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeChannel) sentFrame(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[i]
}

func (c *fakeChannel) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

func (c *fakeChannel) setLanguagesCalls() []stt.Languages {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stt.Languages(nil), c.languages...)
}
