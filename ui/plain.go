package ui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"node.town/tabscribe/bus"
	"node.town/tabscribe/transcript"
)

// Printer is the line oriented presentation for terminals that cannot host
// the full UI. Only confirmed text is printed.
type Printer struct {
	w        io.Writer
	acc      *transcript.Accumulator
	handlers bus.Handlers
}

func NewPrinter(w io.Writer) *Printer {
	p := &Printer{
		w:   w,
		acc: transcript.NewAccumulator(transcript.WithDistinguish(func(s string) string { return s })),
	}
	p.handlers = bus.Handlers{
		bus.KindFragment: p.onFragment,
		bus.KindClear: func(bus.Envelope) {
			p.acc.Clear()
			fmt.Fprintln(p.w, "-- cleared --")
		},
		bus.KindSessionState: func(env bus.Envelope) {
			if s, ok := env.Payload.(bus.SessionState); ok {
				fmt.Fprintf(p.w, "[status] %s\n", s.Status)
			}
		},
		bus.KindNotice: func(env bus.Envelope) {
			if n, ok := env.Payload.(bus.Notice); ok {
				fmt.Fprintf(p.w, "[%s] %s\n", n.Level, n.Text)
			}
		},
	}
	return p
}

func (p *Printer) onFragment(env bus.Envelope) {
	f, ok := env.Payload.(transcript.Fragment)
	if !ok || !f.IsFinal {
		return
	}
	if p.acc.Apply(f) {
		fmt.Fprintf(p.w, "[%s] %s\n", f.Kind, strings.TrimSpace(f.Text))
	}
}

// Handle prints one envelope.
func (p *Printer) Handle(env bus.Envelope) {
	p.handlers.Dispatch(env)
}

// Transcript returns everything confirmed so far for k.
func (p *Printer) Transcript(k transcript.Kind) string {
	return p.acc.Confirmed(k)
}

// RunPlain prints envelopes from b until ctx is done.
func RunPlain(ctx context.Context, b *bus.Bus, w io.Writer) error {
	inbox, unsubscribe := b.Subscribe(Name, bus.DefaultBuffer)
	defer unsubscribe()

	p := NewPrinter(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-inbox:
			p.Handle(env)
		}
	}
}
