package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
)

// ErrContextExists is returned by Create when the engine is already
// running.
var ErrContextExists = errors.New("capture context already exists")

// Host runs at most one Engine, the long-lived context that outlives
// individual sessions.
type Host struct {
	newEngine func() *Engine
	logger    *log.Logger

	mu     sync.Mutex
	engine *Engine
}

func NewHost(newEngine func() *Engine, logger *log.Logger) *Host {
	if logger == nil {
		logger = log.Default()
	}
	return &Host{newEngine: newEngine, logger: logger}
}

func (h *Host) Exists() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine != nil
}

// Create starts a new engine bound to ctx. The engine is subscribed to the
// bus when Create returns.
func (h *Host) Create(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.engine != nil {
		return ErrContextExists
	}

	e := h.newEngine()
	h.engine = e
	go func() {
		if err := e.Run(ctx); err != nil {
			h.logger.Error("capture context", "error", err)
		}
		h.mu.Lock()
		if h.engine == e {
			h.engine = nil
		}
		h.mu.Unlock()
		h.logger.Info("capture context closed")
	}()
	h.logger.Info("capture context created")
	return nil
}

func (h *Host) current() *Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine
}

// Hide tells the engine its audience is gone.
func (h *Host) Hide() {
	if e := h.current(); e != nil {
		e.Lifecycle(Hidden)
	}
}

// Close unloads the engine and waits until it has released everything.
func (h *Host) Close() error {
	e := h.current()
	if e == nil {
		return nil
	}
	e.Lifecycle(Unload)
	<-e.Done()

	h.mu.Lock()
	if h.engine == e {
		h.engine = nil
	}
	h.mu.Unlock()
	return nil
}
