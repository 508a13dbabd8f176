package transcript

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Kind separates the two independent text streams.
type Kind int

const (
	Transcript Kind = iota
	Translation
)

func (k Kind) String() string {
	switch k {
	case Transcript:
		return "transcript"
	case Translation:
		return "translation"
	default:
		return "unknown"
	}
}

func (k Kind) valid() bool {
	return k == Transcript || k == Translation
}

// Fragment is one piece of recognized or translated text.
type Fragment struct {
	Kind    Kind
	Text    string
	IsFinal bool
}

// Default styling of pending text: dark gray, like partial transcripts.
var pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

func DistinguishPending(s string) string {
	return pendingStyle.Render(s)
}

type state struct {
	confirmed []string
	pending   string
}

func (s *state) text() string {
	return strings.Join(s.confirmed, " ")
}

// Accumulator merges fragments into confirmed text plus at most one
// pending piece per kind. It is owned by a single presentation goroutine.
type Accumulator struct {
	states       [2]state
	placeholders [2]string
	distinguish  func(string) string
}

type Option func(*Accumulator)

// WithDistinguish sets how pending text is marked when rendered.
func WithDistinguish(fn func(string) string) Option {
	return func(a *Accumulator) { a.distinguish = fn }
}

func WithPlaceholder(k Kind, text string) Option {
	return func(a *Accumulator) {
		if k.valid() {
			a.placeholders[k] = text
		}
	}
}

func NewAccumulator(opts ...Option) *Accumulator {
	a := &Accumulator{
		placeholders: [2]string{
			"Transcript will appear here...",
			"Translation will appear here...",
		},
		distinguish: DistinguishPending,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply merges f and reports whether the rendered text changed.
//
// A final fragment with non-blank text is appended, trimmed, to the
// confirmed text and clears the pending piece. A final fragment with blank
// text changes nothing. A non-final fragment replaces the pending piece
// wholesale and never touches the confirmed text.
func (a *Accumulator) Apply(f Fragment) bool {
	if !f.Kind.valid() {
		return false
	}
	s := &a.states[f.Kind]

	if f.IsFinal {
		text := strings.TrimSpace(f.Text)
		if text == "" {
			return false
		}
		s.confirmed = append(s.confirmed, text)
		s.pending = ""
		return true
	}

	if s.pending == f.Text {
		return false
	}
	s.pending = f.Text
	return true
}

func (a *Accumulator) Confirmed(k Kind) string {
	if !k.valid() {
		return ""
	}
	return a.states[k].text()
}

func (a *Accumulator) Pending(k Kind) string {
	if !k.valid() {
		return ""
	}
	return a.states[k].pending
}

// Render returns the displayable text of k: the confirmed text followed by
// the distinguished pending piece, or the placeholder when both are empty.
func (a *Accumulator) Render(k Kind) string {
	if !k.valid() {
		return ""
	}
	s := &a.states[k]
	confirmed := s.text()

	switch {
	case confirmed == "" && s.pending == "":
		return a.placeholders[k]
	case s.pending == "":
		return confirmed
	case confirmed == "":
		return a.distinguish(s.pending)
	default:
		return confirmed + " " + a.distinguish(s.pending)
	}
}

// Clear resets both kinds.
func (a *Accumulator) Clear() {
	a.states = [2]state{}
}
