// Package sndtest provides an audio backend for tests that plays samples
// pushed by the test instead of a device.
package sndtest

import (
	"context"
	"sync"

	"node.town/tabscribe/snd"
)

type Backend struct {
	mu       sync.Mutex
	framers  []*snd.Framer
	acquired []snd.StreamHandle
	released int
}

var _ snd.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return "test" }

func (b *Backend) Acquire(ctx context.Context, h snd.StreamHandle) (snd.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.acquired = append(b.acquired, h)
	b.mu.Unlock()
	return source{b}, nil
}

func (b *Backend) NewGraph() (snd.Graph, error) {
	return graph{b}, nil
}

func (b *Backend) Devices() ([]snd.Device, error) {
	return []snd.Device{{Name: "test", Default: true, Channels: snd.Channels, Backend: b.Name()}}, nil
}

// Push delivers samples to every connected frame callback.
func (b *Backend) Push(samples []float32) {
	b.mu.Lock()
	framers := append([]*snd.Framer(nil), b.framers...)
	b.mu.Unlock()
	for _, f := range framers {
		f.Write(samples)
	}
}

// Acquired lists the handles opened so far.
func (b *Backend) Acquired() []snd.StreamHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]snd.StreamHandle(nil), b.acquired...)
}

// Released counts stopped tracks.
func (b *Backend) Released() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

type source struct{ b *Backend }

func (s source) Tracks() []snd.Track {
	return []snd.Track{snd.TrackFunc(func() error {
		s.b.mu.Lock()
		s.b.released++
		s.b.mu.Unlock()
		return nil
	})}
}

type graph struct{ b *Backend }

func (g graph) Connect(src snd.Source, frameSize int, fn func([]float32)) (snd.Node, error) {
	f := snd.NewFramer(frameSize, fn)
	g.b.mu.Lock()
	g.b.framers = append(g.b.framers, f)
	g.b.mu.Unlock()
	return snd.NodeFunc(func() error {
		g.b.mu.Lock()
		defer g.b.mu.Unlock()
		for i, other := range g.b.framers {
			if other == f {
				g.b.framers = append(g.b.framers[:i], g.b.framers[i+1:]...)
				break
			}
		}
		return nil
	}), nil
}

func (graph) Monitor(snd.Source) error { return nil }
func (graph) Close() error             { return nil }
