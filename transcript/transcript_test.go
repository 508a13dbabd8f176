package transcript

import (
	"testing"
)

func mark(s string) string { return "<" + s + ">" }

func newTestAccumulator() *Accumulator {
	return NewAccumulator(
		WithDistinguish(mark),
		WithPlaceholder(Transcript, "(transcript)"),
		WithPlaceholder(Translation, "(translation)"),
	)
}

func TestAccumulationLaw(t *testing.T) {
	a := newTestAccumulator()
	a.Apply(Fragment{Kind: Transcript, Text: "  first piece "})
	a.Apply(Fragment{Kind: Transcript, Text: " t1 ", IsFinal: true})
	a.Apply(Fragment{Kind: Transcript, Text: "second"})
	a.Apply(Fragment{Kind: Transcript, Text: "t2\n", IsFinal: true})

	if got := a.Confirmed(Transcript); got != "t1 t2" {
		t.Errorf("Confirmed() = %q, want %q", got, "t1 t2")
	}
	if got := a.Pending(Transcript); got != "" {
		t.Errorf("Pending() = %q, want empty", got)
	}
}

func TestNonFinalNeverMutatesConfirmed(t *testing.T) {
	a := newTestAccumulator()
	a.Apply(Fragment{Kind: Translation, Text: "Hola", IsFinal: true})

	for _, text := range []string{"", "x", "  spaced  ", "Hola mundo"} {
		if !a.Apply(Fragment{Kind: Translation, Text: text}) && text != "" {
			t.Errorf("Apply(non-final %q) reported no change", text)
		}
		if got := a.Confirmed(Translation); got != "Hola" {
			t.Fatalf("Confirmed() = %q after non-final %q", got, text)
		}
		if got := a.Pending(Translation); got != text {
			t.Errorf("Pending() = %q, want untrimmed %q", got, text)
		}
	}
}

func TestEmptyFinalIsNoop(t *testing.T) {
	a := newTestAccumulator()
	a.Apply(Fragment{Kind: Transcript, Text: "kept", IsFinal: true})
	a.Apply(Fragment{Kind: Transcript, Text: "pending"})

	for _, text := range []string{"", "   ", "\t\n"} {
		if a.Apply(Fragment{Kind: Transcript, Text: text, IsFinal: true}) {
			t.Errorf("Apply(final %q) reported a change", text)
		}
	}
	if got := a.Confirmed(Transcript); got != "kept" {
		t.Errorf("Confirmed() = %q, want %q", got, "kept")
	}
	if got := a.Pending(Transcript); got != "pending" {
		t.Errorf("Pending() = %q, want %q", got, "pending")
	}
}

func TestKindsAreIndependent(t *testing.T) {
	a := newTestAccumulator()
	a.Apply(Fragment{Kind: Transcript, Text: "hello", IsFinal: true})
	a.Apply(Fragment{Kind: Translation, Text: "hol"})

	if got := a.Render(Transcript); got != "hello" {
		t.Errorf("Render(Transcript) = %q", got)
	}
	if got := a.Render(Translation); got != "<hol>" {
		t.Errorf("Render(Translation) = %q", got)
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name      string
		fragments []Fragment
		want      string
	}{
		{
			name: "placeholder",
			want: "(transcript)",
		},
		{
			name:      "pending only",
			fragments: []Fragment{{Kind: Transcript, Text: "How"}},
			want:      "<How>",
		},
		{
			name:      "confirmed only",
			fragments: []Fragment{{Kind: Transcript, Text: "Hello world", IsFinal: true}},
			want:      "Hello world",
		},
		{
			name: "confirmed and pending",
			fragments: []Fragment{
				{Kind: Transcript, Text: "Hello"},
				{Kind: Transcript, Text: "Hello world", IsFinal: true},
				{Kind: Transcript, Text: "How"},
			},
			want: "Hello world <How>",
		},
		{
			name: "invalid kind ignored",
			fragments: []Fragment{
				{Kind: Kind(7), Text: "lost", IsFinal: true},
			},
			want: "(transcript)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAccumulator()
			for _, f := range tt.fragments {
				a.Apply(f)
			}
			if got := a.Render(Transcript); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClear(t *testing.T) {
	a := newTestAccumulator()
	a.Apply(Fragment{Kind: Transcript, Text: "a", IsFinal: true})
	a.Apply(Fragment{Kind: Transcript, Text: "b"})
	a.Apply(Fragment{Kind: Translation, Text: "c", IsFinal: true})

	a.Clear()

	for _, k := range []Kind{Transcript, Translation} {
		if a.Confirmed(k) != "" || a.Pending(k) != "" {
			t.Errorf("%s not cleared", k)
		}
	}
	if got := a.Render(Translation); got != "(translation)" {
		t.Errorf("Render(Translation) = %q after Clear", got)
	}

	a.Apply(Fragment{Kind: Transcript, Text: "again", IsFinal: true})
	if got := a.Render(Transcript); got != "again" {
		t.Errorf("Render() = %q after Clear and final", got)
	}
}

func TestKindString(t *testing.T) {
	if Transcript.String() != "transcript" || Translation.String() != "translation" {
		t.Error("unexpected Kind names")
	}
	if Kind(3).String() != "unknown" {
		t.Error("out of range kind should be unknown")
	}
}
