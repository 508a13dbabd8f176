// Package session owns the capture session: which tab is captured, with
// which languages, and where in its lifecycle it is. Every decision is
// made on the controller goroutine; the capture context only acts on the
// intents it broadcasts.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"node.town/tabscribe/bus"
	"node.town/tabscribe/capture"
	"node.town/tabscribe/etc"
	"node.town/tabscribe/metrics"
	"node.town/tabscribe/snd"
	"node.town/tabscribe/stt"
)

// Name is the controller's bus identity.
const Name = "controller"

var (
	ErrSameLanguages = stt.ErrSameLanguages
	ErrClosed        = errors.New("controller closed")
)

type Session struct {
	ID        string
	TabID     int
	Languages stt.Languages
	Handle    snd.StreamHandle
	Status    Status
}

// View is a copy of the controller's state for callers outside it.
type View struct {
	SessionID string         `json:"sessionId,omitempty"`
	Status    string         `json:"status"`
	TabID     int            `json:"tabId,omitempty"`
	Languages *stt.Languages `json:"languages,omitempty"`
	Active    bool           `json:"active"`
}

// CaptureProvider resolves a tab to the stream handle the capture context
// opens. snd.DeviceMap implements it.
type CaptureProvider interface {
	StreamHandle(ctx context.Context, tabID int) (snd.StreamHandle, error)
}

// ContextHost manages the capture context. *capture.Host implements it.
type ContextHost interface {
	Exists() bool
	Create(ctx context.Context) error
	Close() error
}

// Indicator shows whether a session is active.
type Indicator interface {
	SetCapturing(on bool)
}

type IndicatorFunc func(on bool)

func (f IndicatorFunc) SetCapturing(on bool) { f(on) }

type Option func(*Controller)

func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithIndicator(ind Indicator) Option {
	return func(c *Controller) { c.indicator = ind }
}

// Controller is the single authority over the session. Requests from
// callers and acknowledgements from the capture context are serialized on
// the Run goroutine.
type Controller struct {
	bus       *bus.Bus
	host      ContextHost
	provider  CaptureProvider
	logger    *log.Logger
	metrics   *metrics.Metrics
	indicator Indicator

	inbox       <-chan bus.Envelope
	unsubscribe func()
	requests    chan func()
	done        chan struct{}
	handlers    bus.Handlers

	ctx     context.Context
	session *Session
}

func New(b *bus.Bus, host ContextHost, provider CaptureProvider, opts ...Option) *Controller {
	c := &Controller{
		bus:       b,
		host:      host,
		provider:  provider,
		logger:    log.Default(),
		indicator: IndicatorFunc(func(bool) {}),
		requests:  make(chan func()),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handlers = bus.Handlers{
		bus.KindConnected:       c.onConnected,
		bus.KindCaptureStopped:  c.onCaptureStopped,
		bus.KindConnectionError: c.onConnectionError,
	}
	c.inbox, c.unsubscribe = b.Subscribe(Name, bus.DefaultBuffer, c.handlers.Kinds()...)
	return c
}

// Run processes requests and acknowledgements until ctx is done. On the
// way out it stops the active session and closes the capture context.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.unsubscribe()

	c.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case req := <-c.requests:
			req()
		case env := <-c.inbox:
			if !c.handlers.Dispatch(env) {
				c.logger.Debug("ignore", "kind", env.Kind, "from", env.From)
			}
		}
	}
}

func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// do runs fn on the controller goroutine and returns its error.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	req := func() { result <- fn() }

	select {
	case c.requests <- req:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins capturing tabID. It is a no-op while a session exists.
func (c *Controller) Start(ctx context.Context, tabID int, langs stt.Languages) error {
	if err := langs.Validate(); err != nil {
		return err
	}
	return c.do(ctx, func() error { return c.start(ctx, tabID, langs) })
}

// Stop ends the active session. It is a no-op when idle or already
// stopping.
func (c *Controller) Stop(ctx context.Context) error {
	return c.do(ctx, c.stop)
}

// UpdateLanguages changes the languages of the active session without
// interrupting it. Without a session it does nothing.
func (c *Controller) UpdateLanguages(ctx context.Context, langs stt.Languages) error {
	if err := langs.Validate(); err != nil {
		return err
	}
	return c.do(ctx, func() error { return c.updateLanguages(langs) })
}

func (c *Controller) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := c.do(ctx, func() error {
		v = c.view()
		return nil
	})
	return v, err
}

func (c *Controller) status() Status {
	if c.session == nil {
		return Idle
	}
	return c.session.Status
}

func (c *Controller) view() View {
	v := View{Status: c.status().String()}
	if s := c.session; s != nil {
		langs := s.Languages
		v.SessionID = s.ID
		v.TabID = s.TabID
		v.Languages = &langs
		v.Active = true
	}
	return v
}

func (c *Controller) start(ctx context.Context, tabID int, langs stt.Languages) error {
	if s := c.session; s != nil {
		c.logger.Info("session already active", "id", s.ID, "tab", s.TabID, "status", s.Status)
		return nil
	}

	if !c.host.Exists() {
		if err := c.host.Create(c.ctx); err != nil && !errors.Is(err, capture.ErrContextExists) {
			c.notify(bus.NoticeError, "Could not start capture")
			return fmt.Errorf("create capture context: %w", err)
		}
	}

	handle, err := c.provider.StreamHandle(ctx, tabID)
	if err != nil {
		c.notify(bus.NoticeError, "Could not capture this tab")
		return fmt.Errorf("resolve stream for tab %d: %w", tabID, err)
	}

	s := &Session{
		ID:        etc.NewFreshID(),
		TabID:     tabID,
		Languages: langs,
		Handle:    handle,
		Status:    Idle,
	}
	c.session = s
	c.bus.Broadcast(Name, bus.KindStartCapture, bus.StartCapture{
		SessionID: s.ID,
		TabID:     tabID,
		Handle:    handle,
		Languages: langs,
	})
	c.metrics.RecordSessionStarted()
	c.logger.Info("start", "id", s.ID, "tab", tabID, "languages", langs)
	return c.transition(Connecting)
}

func (c *Controller) stop() error {
	s := c.session
	if s == nil {
		c.logger.Debug("stop while idle")
		return nil
	}
	if s.Status == Stopping {
		return nil
	}

	c.bus.Broadcast(Name, bus.KindStopCapture, bus.StopCapture{SessionID: s.ID})
	if !c.host.Exists() {
		// nobody is left to acknowledge
		return c.transition(Idle)
	}
	return c.transition(Stopping)
}

func (c *Controller) updateLanguages(langs stt.Languages) error {
	s := c.session
	if s == nil {
		c.logger.Debug("languages changed while idle", "languages", langs)
		return nil
	}
	if s.Languages == langs {
		return nil
	}

	s.Languages = langs
	c.bus.Broadcast(Name, bus.KindUpdateLanguages, bus.UpdateLanguages{
		SessionID: s.ID,
		Languages: langs,
	})
	c.publish()
	return nil
}

// transition moves the session to status to. Leaving or entering Idle
// toggles the indicator; entering Idle discards the session.
func (c *Controller) transition(to Status) error {
	from := c.status()
	if !from.CanTransition(to) {
		c.logger.Warn("illegal transition", "from", from, "to", to)
		return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, from, to)
	}

	if to == Idle {
		c.session = nil
	} else {
		c.session.Status = to
	}
	if from.Active() != to.Active() {
		c.indicator.SetCapturing(to.Active())
		c.metrics.SetCapturing(to.Active())
	}
	c.metrics.SetStatus(to.String(), StatusNames)
	c.logger.Info("status", "from", from, "to", to)
	c.publish()
	return nil
}

func (c *Controller) publish() {
	v := c.view()
	state := bus.SessionState{
		SessionID: v.SessionID,
		Status:    v.Status,
		TabID:     v.TabID,
		Active:    v.Active,
	}
	if v.Languages != nil {
		state.Languages = *v.Languages
	}
	c.bus.Broadcast(Name, bus.KindSessionState, state)
}

func (c *Controller) notify(level bus.NoticeLevel, text string) {
	c.bus.Broadcast(Name, bus.KindNotice, bus.Notice{Level: level, Text: text})
}

// current returns the session if id names it.
func (c *Controller) current(id string) *Session {
	if s := c.session; s != nil && s.ID == id {
		return s
	}
	return nil
}

func (c *Controller) onConnected(env bus.Envelope) {
	msg, ok := env.Payload.(bus.Connected)
	if !ok {
		return
	}
	s := c.current(msg.SessionID)
	if s == nil || s.Status != Connecting {
		c.logger.Debug("stale connected", "id", msg.SessionID)
		return
	}
	c.transition(Capturing)
}

func (c *Controller) onCaptureStopped(env bus.Envelope) {
	msg, ok := env.Payload.(bus.CaptureStopped)
	if !ok {
		return
	}
	if c.current(msg.SessionID) == nil {
		c.logger.Debug("stale stop", "id", msg.SessionID, "reason", msg.Reason)
		return
	}
	c.logger.Info("capture stopped", "id", msg.SessionID, "reason", msg.Reason)
	c.transition(Idle)
}

func (c *Controller) onConnectionError(env bus.Envelope) {
	msg, ok := env.Payload.(bus.ConnectionError)
	if !ok {
		return
	}
	c.logger.Error("connection", "id", msg.SessionID, "error", msg.Message)
	if c.current(msg.SessionID) != nil {
		c.transition(Idle)
	}
	c.notify(bus.NoticeError, msg.Message)
}

func (c *Controller) shutdown() {
	if s := c.session; s != nil {
		c.bus.Broadcast(Name, bus.KindStopCapture, bus.StopCapture{SessionID: s.ID})
		c.transition(Idle)
	}
	if err := c.host.Close(); err != nil {
		c.logger.Error("close capture context", "error", err)
	}
}
