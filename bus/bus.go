// Package bus carries messages between the orchestration, capture and
// presentation goroutines. Nothing is shared between them except the
// values in envelopes.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"node.town/tabscribe/etc"
)

// Kind discriminates envelope payloads.
type Kind string

const (
	KindStartCapture    Kind = "startCapture"
	KindStopCapture     Kind = "stopCapture"
	KindUpdateLanguages Kind = "updateLanguages"
	KindConnected       Kind = "connected"
	KindCaptureStopped  Kind = "captureStopped"
	KindConnectionError Kind = "connectionError"
	KindFragment        Kind = "fragment"
	KindNotice          Kind = "notice"
	KindSessionState    Kind = "sessionState"
	KindClear           Kind = "clear"
)

// Envelope is a message on the bus. Payload holds one of the value types
// in this package or a transcript.Fragment.
type Envelope struct {
	ID      string
	Seq     uint64
	From    string
	Kind    Kind
	Payload any
}

const DefaultBuffer = 256

type subscriber struct {
	name  string
	ch    chan Envelope
	kinds map[Kind]bool
}

func (s *subscriber) wants(k Kind) bool {
	return s.kinds == nil || s.kinds[k]
}

// Bus broadcasts envelopes to every subscriber except the sender.
// Delivery never blocks: a subscriber whose buffer is full misses the
// envelope. Subscribers that name their kinds only have those counted
// against their buffer, so fragment traffic cannot crowd out lifecycle
// envelopes for the controller and engine.
type Bus struct {
	logger *log.Logger
	seq    atomic.Uint64

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Subscribe registers name and returns its inbox and a function that
// removes the subscription. Envelopes sent by name are not delivered back
// to it. With kinds given, only envelopes of those kinds are delivered.
func (b *Bus) Subscribe(name string, size int, kinds ...Kind) (<-chan Envelope, func()) {
	if size <= 0 {
		size = DefaultBuffer
	}
	s := &subscriber{name: name, ch: make(chan Envelope, size)}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
		})
	}
}

// Broadcast wraps payload in a new envelope and publishes it.
func (b *Bus) Broadcast(from string, kind Kind, payload any) Envelope {
	env := Envelope{
		ID:      etc.NewFreshID(),
		Seq:     b.seq.Add(1),
		From:    from,
		Kind:    kind,
		Payload: payload,
	}
	b.Publish(env)
	return env
}

func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if s.name == env.From || !s.wants(env.Kind) {
			continue
		}
		select {
		case s.ch <- env:
		default:
			b.logger.Warn("drop", "to", s.name, "kind", env.Kind, "seq", env.Seq)
		}
	}
}

// Handlers is a dispatch table keyed by envelope kind.
type Handlers map[Kind]func(Envelope)

// Kinds returns the kinds h handles, for use as a Subscribe filter.
func (h Handlers) Kinds() []Kind {
	kinds := make([]Kind, 0, len(h))
	for k := range h {
		kinds = append(kinds, k)
	}
	return kinds
}

// Dispatch calls the handler for env and reports whether there was one.
func (h Handlers) Dispatch(env Envelope) bool {
	fn, ok := h[env.Kind]
	if !ok {
		return false
	}
	fn(env)
	return true
}
