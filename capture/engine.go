package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"node.town/tabscribe/bus"
	"node.town/tabscribe/metrics"
	"node.town/tabscribe/snd"
	"node.town/tabscribe/stt"
)

// Name is the engine's bus identity.
const Name = "capture"

// Channel is the streaming connection of one session. *stt.Channel
// implements it.
type Channel interface {
	Connect(ctx context.Context, langs stt.Languages) error
	Send(pcm []byte) bool
	SetLanguages(langs stt.Languages) error
	Stop() error
	IsOpen() bool
}

// ChannelFactory creates the channel of a new session. emit receives the
// channel's events from any goroutine.
type ChannelFactory func(emit func(stt.Event)) Channel

// Lifecycle events of the hosting context.
type Lifecycle int

const (
	// Hidden means the host lost its audience; capture stops but the
	// engine keeps running.
	Hidden Lifecycle = iota
	// Unload stops capture and ends the engine.
	Unload
)

func (l Lifecycle) String() string {
	if l == Unload {
		return "unload"
	}
	return "hidden"
}

// pipeline holds the resources of one session. It is replaced, never
// mutated, when a session ends.
type pipeline struct {
	sessionID string
	languages stt.Languages
	source    snd.Source
	graph     snd.Graph
	node      snd.Node
	channel   Channel
}

type Option func(*Engine)

func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMonitor controls whether captured audio is played back locally.
func WithMonitor(on bool) Option {
	return func(e *Engine) { e.monitor = on }
}

func WithFrameSize(n int) Option {
	return func(e *Engine) { e.frameSize = n }
}

// Engine owns the capture source, the processing graph and the backend
// channel of the current session. All of its state is confined to the
// Run goroutine except capturing, which the audio callback reads.
type Engine struct {
	bus        *bus.Bus
	backend    snd.Backend
	newChannel ChannelFactory
	logger     *log.Logger
	metrics    *metrics.Metrics
	monitor    bool
	frameSize  int

	inbox       <-chan bus.Envelope
	unsubscribe func()
	internal    chan func() bool
	done        chan struct{}
	handlers    bus.Handlers

	capturing atomic.Bool

	ctx     context.Context
	current *pipeline
}

// NewEngine subscribes to the bus immediately so no intent sent after it
// returns is missed.
func NewEngine(b *bus.Bus, backend snd.Backend, newChannel ChannelFactory, opts ...Option) *Engine {
	e := &Engine{
		bus:        b,
		backend:    backend,
		newChannel: newChannel,
		logger:     log.Default(),
		monitor:    true,
		frameSize:  snd.FrameSize,
		internal:   make(chan func() bool, 16),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.handlers = bus.Handlers{
		bus.KindStartCapture: func(env bus.Envelope) {
			e.start(env.Payload.(bus.StartCapture))
		},
		bus.KindStopCapture: func(env bus.Envelope) {
			e.stop(env.Payload.(bus.StopCapture).SessionID, "requested")
		},
		bus.KindUpdateLanguages: func(env bus.Envelope) {
			e.updateLanguages(env.Payload.(bus.UpdateLanguages))
		},
	}
	e.inbox, e.unsubscribe = b.Subscribe(Name, bus.DefaultBuffer, e.handlers.Kinds()...)
	return e
}

// Run processes intents until ctx is done or the engine is unloaded. Any
// active session is stopped before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.unsubscribe()
	e.ctx = ctx

	for {
		select {
		case <-ctx.Done():
			e.release("shutdown")
			return nil
		case env := <-e.inbox:
			if !e.handlers.Dispatch(env) {
				e.logger.Debug("ignore", "kind", env.Kind)
			}
		case fn := <-e.internal:
			if fn() {
				return nil
			}
		}
	}
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) Capturing() bool {
	return e.capturing.Load()
}

// post runs fn on the engine goroutine. fn returns true to end Run.
func (e *Engine) post(fn func() bool) {
	select {
	case e.internal <- fn:
	case <-e.done:
	}
}

// Lifecycle delivers a hosting context event.
func (e *Engine) Lifecycle(ev Lifecycle) {
	e.post(func() bool {
		e.logger.Info("lifecycle", "event", ev)
		switch ev {
		case Unload:
			e.release("unload")
			return true
		default:
			if e.capturing.Load() {
				e.release("hidden")
			}
			return false
		}
	})
}

func (e *Engine) start(msg bus.StartCapture) {
	if e.current != nil {
		e.logger.Info("already capturing", "session", e.current.sessionID)
		return
	}

	p := &pipeline{sessionID: msg.SessionID, languages: msg.Languages}
	e.current = p
	e.logger.Info("start", "session", p.sessionID, "tab", msg.TabID, "handle", msg.Handle)

	src, err := e.backend.Acquire(e.ctx, msg.Handle)
	if err != nil {
		e.fail(p, fmt.Errorf("acquire capture source: %w", err))
		return
	}
	p.source = src

	graph, err := e.backend.NewGraph()
	if err != nil {
		e.fail(p, fmt.Errorf("create processing graph: %w", err))
		return
	}
	p.graph = graph

	if e.monitor {
		if err := graph.Monitor(src); err != nil {
			e.fail(p, fmt.Errorf("route to playback: %w", err))
			return
		}
	}

	node, err := graph.Connect(src, e.frameSize, func(samples []float32) {
		e.onFrame(p, samples)
	})
	if err != nil {
		e.fail(p, fmt.Errorf("connect frame callback: %w", err))
		return
	}
	p.node = node

	p.channel = e.newChannel(e.relay(p))
	if err := p.channel.Connect(e.ctx, p.languages); err != nil {
		e.fail(p, fmt.Errorf("connect to backend: %w", err))
		return
	}

	e.capturing.Store(true)
	e.logger.Info("capturing", "session", p.sessionID, "languages", p.languages.String())
	e.bus.Broadcast(Name, bus.KindConnected, bus.Connected{SessionID: p.sessionID})
}

// onFrame runs on the audio callback thread.
func (e *Engine) onFrame(p *pipeline, samples []float32) {
	if !e.capturing.Load() {
		return
	}
	if !p.channel.IsOpen() {
		e.metrics.RecordFrameDropped()
		return
	}
	if !p.channel.Send(snd.Encode(samples)) {
		e.metrics.RecordFrameDropped()
	}
}

func (e *Engine) updateLanguages(msg bus.UpdateLanguages) {
	p := e.current
	if p == nil || p.channel == nil {
		e.logger.Debug("no session for language update")
		return
	}
	p.languages = msg.Languages
	if err := p.channel.SetLanguages(msg.Languages); err != nil {
		e.logger.Warn("update languages", "error", err)
	}
}

// relay forwards channel events of p to the bus. Fatal events are handed
// to the engine goroutine and only act on p if it is still current.
func (e *Engine) relay(p *pipeline) func(stt.Event) {
	return func(ev stt.Event) {
		switch ev.Kind {
		case stt.EventConnected:
			e.logger.Debug("socket open", "session", p.sessionID)
		case stt.EventFragment:
			e.bus.Broadcast(Name, bus.KindFragment, ev.Fragment)
		case stt.EventStatus:
			e.bus.Broadcast(Name, bus.KindNotice, bus.Notice{Level: bus.NoticeStatus, Text: ev.Message})
		case stt.EventFeedback:
			e.bus.Broadcast(Name, bus.KindNotice, bus.Notice{Level: bus.NoticeFeedback, Text: ev.Message})
		case stt.EventError:
			e.bus.Broadcast(Name, bus.KindNotice, bus.Notice{Level: bus.NoticeError, Text: ev.Message})
		case stt.EventClosed:
			e.post(func() bool {
				if e.current == p {
					e.fail(p, ev.Err)
				}
				return false
			})
		}
	}
}

// fail unwinds the session and then tells everyone why.
func (e *Engine) fail(p *pipeline, err error) {
	e.logger.Error("session failed", "session", p.sessionID, "error", err)
	e.metrics.RecordConnectionFailure()
	e.stop(p.sessionID, "failed")
	e.bus.Broadcast(Name, bus.KindConnectionError, bus.ConnectionError{
		SessionID: p.sessionID,
		Message:   err.Error(),
	})
}

// release stops the current session, if any, without being asked to.
func (e *Engine) release(reason string) {
	if e.current == nil {
		return
	}
	e.stop(e.current.sessionID, reason)
}

// stop releases every resource of the current session in a fixed order.
// Each step runs even when an earlier one fails. The pipeline is dropped
// first so a second stop finds nothing to release and only acknowledges.
func (e *Engine) stop(sessionID, reason string) {
	e.capturing.Store(false)

	p := e.current
	e.current = nil

	if p != nil {
		sessionID = p.sessionID
		var errs []error
		if p.source != nil {
			for i, track := range p.source.Tracks() {
				errs = append(errs, step(fmt.Sprintf("stop track %d", i), track.Stop))
			}
		}
		if p.node != nil {
			errs = append(errs, step("disconnect node", p.node.Disconnect))
		}
		if p.graph != nil {
			errs = append(errs, step("close graph", p.graph.Close))
		}
		if p.channel != nil {
			errs = append(errs, step("close channel", p.channel.Stop))
		}
		if err := errors.Join(errs...); err != nil {
			e.logger.Warn("stop", "session", sessionID, "error", err)
		}
		e.logger.Info("stopped", "session", sessionID, "reason", reason)
	}

	e.bus.Broadcast(Name, bus.KindCaptureStopped, bus.CaptureStopped{
		SessionID: sessionID,
		Reason:    reason,
	})
}

func step(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
