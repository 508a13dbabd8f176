package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"node.town/tabscribe/metrics"
	"node.town/tabscribe/transcript"
)

const (
	DefaultURL          = "ws://localhost:43007"
	DefaultSettleDelay  = 500 * time.Millisecond
	DefaultPingInterval = 30 * time.Second

	writeWait        = 10 * time.Second
	pongTimeout      = 60 * time.Second
	handshakeTimeout = 10 * time.Second
)

var (
	ErrNotOpen   = errors.New("channel not open")
	ErrStopped   = errors.New("channel stopped")
	ErrConnected = errors.New("channel already connected")
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventFragment
	EventStatus
	EventError
	EventFeedback
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventFragment:
		return "fragment"
	case EventStatus:
		return "status"
	case EventError:
		return "error"
	case EventFeedback:
		return "feedback"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is what the channel reports upward. EventClosed is only emitted
// for connections that ended without Stop and is always fatal.
type Event struct {
	Kind     EventKind
	Fragment transcript.Fragment
	Message  string
	Err      error
}

type Config struct {
	URL          string
	SettleDelay  time.Duration
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	return c
}

type Option func(*Channel)

func WithLogger(logger *log.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// Channel is one streaming connection to the speech backend. A Channel is
// used for a single session: once stopped it cannot be connected again.
type Channel struct {
	cfg     Config
	emit    func(Event)
	dialer  *websocket.Dialer
	logger  *log.Logger
	metrics *metrics.Metrics

	handlers map[string]func(ServerMessage)

	// mu guards the fields below and serializes writes to conn.
	mu      sync.Mutex
	conn    *websocket.Conn
	open    bool
	stopped bool
	done    chan struct{}
}

func NewChannel(cfg Config, emit func(Event), opts ...Option) *Channel {
	c := &Channel{
		cfg:    cfg.withDefaults(),
		emit:   emit,
		logger: log.Default(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.emit == nil {
		c.emit = func(Event) {}
	}

	c.handlers = map[string]func(ServerMessage){
		TypeTranscription:         c.fragment(transcript.Transcript),
		TypeTranslation:           c.fragment(transcript.Translation),
		TypeStatus:                c.notice(EventStatus),
		TypeError:                 c.notice(EventError),
		TypeLanguageChangeRestart: c.notice(EventFeedback),
		TypeTargetLanguageChanged: c.notice(EventFeedback),
	}
	return c
}

// Connect dials the backend, announces the languages and starts the
// stream. It returns after the settle delay so the backend is ready for
// audio.
func (c *Channel) Connect(ctx context.Context, langs Languages) error {
	c.mu.Lock()
	switch {
	case c.stopped:
		c.mu.Unlock()
		return ErrStopped
	case c.conn != nil:
		c.mu.Unlock()
		return ErrConnected
	}
	c.mu.Unlock()

	c.logger.Info("dial", "url", c.cfg.URL)
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return ErrStopped
	}
	c.conn = conn
	c.open = true
	err = c.writeJSON(SetLanguagesMessage(langs))
	if err == nil {
		err = c.writeJSON(StartMessage())
	}
	c.mu.Unlock()

	if err != nil {
		c.Stop()
		return fmt.Errorf("send handshake: %w", err)
	}

	go c.readPump(conn)
	if c.cfg.PingInterval > 0 {
		go c.keepAlive(conn)
	}

	c.logger.Info("open", "url", c.cfg.URL, "languages", langs.String())
	c.emit(Event{Kind: EventConnected})

	if c.cfg.SettleDelay == 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// writeJSON must be called with mu held.
func (c *Channel) writeJSON(v any) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send writes one binary audio frame. Frames sent while the channel is not
// open are dropped and Send reports false.
func (c *Channel) Send(pcm []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		c.logger.Debug("send audio", "error", err)
		return false
	}
	c.metrics.RecordAudioSent(len(pcm))
	return true
}

// SetLanguages changes languages on the live connection.
func (c *Channel) SetLanguages(langs Languages) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrNotOpen
	}
	if err := c.writeJSON(SetLanguagesMessage(langs)); err != nil {
		return fmt.Errorf("send setLanguages: %w", err)
	}
	c.logger.Info("languages", "languages", langs.String())
	return nil
}

// Stop ends the stream and closes the connection. It is safe to call more
// than once and before Connect.
func (c *Channel) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.done)

	conn, wasOpen := c.conn, c.open
	c.conn = nil
	c.open = false

	var errs []error
	if wasOpen {
		if err := c.writeJSONTo(conn, StopMessage()); err != nil {
			errs = append(errs, fmt.Errorf("send stop: %w", err))
		}
		err := conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("send close: %w", err))
		}
	}
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
		c.logger.Info("closed", "url", c.cfg.URL)
	}
	return errors.Join(errs...)
}

func (c *Channel) writeJSONTo(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (c *Channel) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Channel) readPump(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.closed(conn, err)
			return
		}
		if mt != websocket.TextMessage {
			c.logger.Debug("ignore", "kind", mt, "bytes", len(data))
			continue
		}

		msg, err := ParseServerMessage(data)
		if err != nil {
			c.metrics.RecordParseError()
			c.logger.Warn("discard", "error", err, "data", string(data))
			continue
		}
		c.metrics.RecordMessage(msg.Type)

		if c.isStopped() {
			continue
		}
		handle, ok := c.handlers[msg.Type]
		if !ok {
			c.logger.Warn("unknown message", "type", msg.Type)
			continue
		}
		handle(msg)
	}
}

func (c *Channel) closed(conn *websocket.Conn, err error) {
	c.mu.Lock()
	intentional := c.stopped
	if c.conn == conn {
		c.open = false
	}
	c.mu.Unlock()

	if intentional {
		return
	}
	c.logger.Error("connection lost", "error", err)
	c.emit(Event{Kind: EventClosed, Err: fmt.Errorf("connection lost: %w", err)})
}

func (c *Channel) keepAlive(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.open {
				c.mu.Unlock()
				return
			}
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongTimeout))
			c.mu.Unlock()
			if err != nil {
				c.logger.Error("ping", "error", err)
				return
			}
		}
	}
}

func (c *Channel) fragment(kind transcript.Kind) func(ServerMessage) {
	return func(msg ServerMessage) {
		if msg.Start != nil && msg.End != nil {
			c.logger.Debug("hear", "kind", kind, "text", msg.Text, "final", msg.IsFinal, "start", *msg.Start, "end", *msg.End)
		} else {
			c.logger.Debug("hear", "kind", kind, "text", msg.Text, "final", msg.IsFinal)
		}
		c.emit(Event{
			Kind: EventFragment,
			Fragment: transcript.Fragment{
				Kind:    kind,
				Text:    msg.Text,
				IsFinal: msg.IsFinal,
			},
		})
	}
}

func (c *Channel) notice(kind EventKind) func(ServerMessage) {
	return func(msg ServerMessage) {
		c.logger.Info(msg.Type, "message", msg.Message)
		c.emit(Event{Kind: kind, Message: msg.Message})
	}
}
