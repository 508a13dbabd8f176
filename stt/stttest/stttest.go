// Package stttest provides an in-process speech backend for tests.
package stttest

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"node.town/tabscribe/stt"
	"node.town/tabscribe/stt/peer"
)

// Server records everything clients send and lets tests push backend
// messages. It produces no transcription text on its own.
type Server struct {
	*httptest.Server
	// URL is the websocket address of the server.
	URL string

	mu       sync.Mutex
	conns    []*peer.Conn
	controls []stt.ControlMessage
	frames   [][]byte
}

func NewServer(t testing.TB) *Server {
	s := &Server{}
	p := &peer.Peer{
		Logger: log.New(io.Discard),
		OnConnect: func(c *peer.Conn) {
			s.mu.Lock()
			s.conns = append(s.conns, c)
			s.mu.Unlock()
		},
		OnControl: func(c *peer.Conn, msg stt.ControlMessage) {
			s.mu.Lock()
			s.controls = append(s.controls, msg)
			s.mu.Unlock()
		},
		OnAudio: func(c *peer.Conn, pcm []byte) {
			s.mu.Lock()
			s.frames = append(s.frames, append([]byte(nil), pcm...))
			s.mu.Unlock()
		},
	}
	s.Server = httptest.NewServer(p)
	s.URL = "ws" + strings.TrimPrefix(s.Server.URL, "http")
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) Controls() []stt.ControlMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stt.ControlMessage(nil), s.controls...)
}

// ControlTypes returns the types of all control messages in order.
func (s *Server) ControlTypes() []string {
	var types []string
	for _, msg := range s.Controls() {
		types = append(types, msg.Type)
	}
	return types
}

func (s *Server) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// Push sends msg to every connected client.
func (s *Server) Push(msg stt.ServerMessage) {
	s.mu.Lock()
	conns := append([]*peer.Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.Send(msg)
	}
}

func (s *Server) PushRaw(data string) {
	s.mu.Lock()
	conns := append([]*peer.Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.SendRaw([]byte(data))
	}
}

// Drop closes every connection without a close handshake.
func (s *Server) Drop() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Drop()
	}
}

// Eventually polls cond until it holds or fails the test after two seconds.
func Eventually(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
