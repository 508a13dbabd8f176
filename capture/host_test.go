package capture

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"node.town/tabscribe/bus"
)

func TestHostCreatesOneEngine(t *testing.T) {
	b := bus.New(log.New(io.Discard))
	created := 0
	host := NewHost(func() *Engine {
		created++
		return NewEngine(b, &fakeBackend{j: &journal{}}, nil, WithLogger(log.New(io.Discard)))
	}, log.New(io.Discard))

	if host.Exists() {
		t.Fatal("Exists() before Create")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := host.Create(ctx); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := host.Create(ctx); !errors.Is(err, ErrContextExists) {
		t.Errorf("second Create() error = %v, want ErrContextExists", err)
	}
	if !host.Exists() || created != 1 {
		t.Errorf("Exists() = %v, created = %d", host.Exists(), created)
	}

	if err := host.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if host.Exists() {
		t.Error("Exists() after Close")
	}
	if err := host.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	if err := host.Create(ctx); err != nil {
		t.Fatalf("Create() after Close error: %v", err)
	}
	host.Close()
}

func TestHostHideStopsCapture(t *testing.T) {
	h := newHarness(t, nil)
	host := &Host{logger: log.New(io.Discard), engine: h.engine}

	h.startCapturing("s1")
	host.Hide()

	env := h.expect(bus.KindCaptureStopped)
	if reason := env.Payload.(bus.CaptureStopped).Reason; reason != "hidden" {
		t.Errorf("reason = %q, want hidden", reason)
	}
	if !host.Exists() {
		t.Error("hiding removed the capture context")
	}
}
