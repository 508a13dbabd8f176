// Package peer implements the backend side of the streaming protocol. It
// backs the development server in cmd/mockbackend and the test server in
// stt/stttest.
package peer

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"node.town/tabscribe/snd"
	"node.town/tabscribe/stt"
)

const (
	DefaultMinChunk = 300 * time.Millisecond

	greeting = "Connected to speech server"
	started  = "Started transcription"
	stopped  = "Stopped transcription"
)

// Recognizer turns buffered audio into backend messages.
type Recognizer interface {
	Process(pcm []byte, langs stt.Languages) []stt.ServerMessage
	Finish(langs stt.Languages) []stt.ServerMessage
}

// Peer is an http.Handler speaking the backend protocol on every upgraded
// connection.
type Peer struct {
	Logger *log.Logger
	// MinChunk is how much audio is buffered before the recognizer runs.
	MinChunk time.Duration
	// NewRecognizer is called once per connection; nil produces no text.
	NewRecognizer func() Recognizer

	// Optional observers, called from the connection goroutine.
	OnConnect func(c *Conn)
	OnControl func(c *Conn, msg stt.ControlMessage)
	OnAudio   func(c *Conn, pcm []byte)

	upgrader websocket.Upgrader
}

func (p *Peer) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

func (p *Peer) minBytes() int {
	d := p.MinChunk
	if d <= 0 {
		d = DefaultMinChunk
	}
	return int(d*snd.SampleRate/time.Second) * snd.BytesPerSample
}

// Conn is one client connection.
type Conn struct {
	ws     *websocket.Conn
	logger *log.Logger

	wmu sync.Mutex

	mu    sync.Mutex
	langs stt.Languages
	seen  bool
}

// Send writes msg to the client.
func (c *Conn) Send(msg stt.ServerMessage) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteJSON(msg)
}

// SendRaw writes a text frame without encoding it.
func (c *Conn) SendRaw(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Drop closes the connection without a close handshake.
func (c *Conn) Drop() error {
	return c.ws.Close()
}

func (c *Conn) Languages() stt.Languages {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.langs
}

func (c *Conn) status(message string) {
	if err := c.Send(stt.ServerMessage{Type: stt.TypeStatus, Message: message}); err != nil {
		c.logger.Debug("send status", "error", err)
	}
}

func (c *Conn) sendAll(msgs []stt.ServerMessage) {
	for _, msg := range msgs {
		if err := c.Send(msg); err != nil {
			c.logger.Debug("send", "type", msg.Type, "error", err)
			return
		}
	}
}

// setLanguages stores langs and returns the feedback message for a change
// on a connection that already had languages.
func (c *Conn) setLanguages(langs stt.Languages) *stt.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, seen := c.langs, c.seen
	c.langs, c.seen = langs, true
	if !seen {
		return nil
	}
	switch {
	case prev.Source != langs.Source:
		return &stt.ServerMessage{
			Type:    stt.TypeLanguageChangeRestart,
			Message: "Source language changed to " + langs.Source + ", restarting recognition",
		}
	case prev.Target != langs.Target:
		return &stt.ServerMessage{
			Type:    stt.TypeTargetLanguageChanged,
			Message: "Target language changed to " + langs.Target,
		}
	}
	return nil
}

func (p *Peer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger().Error("upgrade", "error", err)
		return
	}
	defer ws.Close()

	c := &Conn{ws: ws, logger: p.logger()}
	c.logger.Info("client", "addr", r.RemoteAddr)
	if p.OnConnect != nil {
		p.OnConnect(c)
	}

	var rec Recognizer
	if p.NewRecognizer != nil {
		rec = p.NewRecognizer()
	}

	c.status(greeting)

	minBytes := p.minBytes()
	var buf []byte

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			c.logger.Info("client gone", "addr", r.RemoteAddr)
			return
		}

		if mt == websocket.BinaryMessage {
			if p.OnAudio != nil {
				p.OnAudio(c, data)
			}
			buf = append(buf, data...)
			if len(buf) < minBytes {
				continue
			}
			if rec != nil {
				c.sendAll(rec.Process(buf, c.Languages()))
			}
			buf = buf[:0]
			continue
		}

		msg, err := stt.ParseControlMessage(data)
		if err != nil {
			var syntax *json.SyntaxError
			text := "Invalid JSON"
			if !errors.As(err, &syntax) {
				text = err.Error()
			}
			if err := c.Send(stt.ServerMessage{Type: stt.TypeError, Message: text}); err != nil {
				return
			}
			continue
		}
		if p.OnControl != nil {
			p.OnControl(c, msg)
		}

		switch msg.Type {
		case stt.TypeStart:
			buf = buf[:0]
			c.status(started)
		case stt.TypeStop:
			if rec != nil {
				c.sendAll(rec.Finish(c.Languages()))
			}
			c.status(stopped)
		case stt.TypeSetLanguages:
			if fb := c.setLanguages(stt.Languages{
				Source: msg.SourceLanguage,
				Target: msg.TargetLanguage,
			}); fb != nil {
				c.sendAll([]stt.ServerMessage{*fb})
			}
		default:
			c.logger.Warn("unknown control", "type", msg.Type)
		}
	}
}
