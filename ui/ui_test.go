package ui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"node.town/tabscribe/bus"
	"node.town/tabscribe/stt"
	"node.town/tabscribe/transcript"
)

type fakeIntents struct {
	mu     sync.Mutex
	calls  []string
	langs  []stt.Languages
	tabIDs []int
	err    error
}

func (f *fakeIntents) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeIntents) Start(ctx context.Context, tabID int, langs stt.Languages) error {
	f.mu.Lock()
	f.tabIDs = append(f.tabIDs, tabID)
	f.langs = append(f.langs, langs)
	f.mu.Unlock()
	return f.record("start")
}

func (f *fakeIntents) Stop(ctx context.Context) error {
	return f.record("stop")
}

func (f *fakeIntents) UpdateLanguages(ctx context.Context, langs stt.Languages) error {
	f.mu.Lock()
	f.langs = append(f.langs, langs)
	f.mu.Unlock()
	return f.record("languages")
}

var enes = stt.Languages{Source: "en", Target: "es"}

func newTestModel(intents Intents) *model {
	m := newModel(context.Background(), make(chan bus.Envelope), intents, Options{
		TabID:     5,
		Languages: enes,
		Cycle:     []string{"en", "es", "fr"},
		Logger:    log.New(io.Discard),
	})
	m.acc = transcript.NewAccumulator(transcript.WithDistinguish(func(s string) string { return "<" + s + ">" }))
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return m
}

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func send(m *model, kind bus.Kind, payload any) {
	m.Update(envelopeMsg(bus.Envelope{Kind: kind, From: "capture", Payload: payload}))
}

// run executes cmd and feeds its message back, skipping envelope waits.
func run(m *model, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			run(m, c)
		}
	case intentMsg:
		m.Update(msg)
	}
}

func TestFragmentsRender(t *testing.T) {
	m := newTestModel(&fakeIntents{})

	send(m, bus.KindFragment, transcript.Fragment{Kind: transcript.Transcript, Text: "Hello"})
	send(m, bus.KindFragment, transcript.Fragment{Kind: transcript.Transcript, Text: "Hello world", IsFinal: true})
	send(m, bus.KindFragment, transcript.Fragment{Kind: transcript.Transcript, Text: "How"})

	view := m.View()
	if !strings.Contains(view, "Hello world <How>") {
		t.Errorf("view missing transcript:\n%s", view)
	}
	if !strings.Contains(view, "Translation will appear here...") {
		t.Errorf("view missing translation placeholder:\n%s", view)
	}
}

func TestPanesFollowNewestText(t *testing.T) {
	m := newTestModel(&fakeIntents{})
	m.Update(tea.WindowSizeMsg{Width: 20, Height: 10})

	for i := 0; i < 30; i++ {
		for _, k := range []transcript.Kind{transcript.Transcript, transcript.Translation} {
			send(m, bus.KindFragment, transcript.Fragment{Kind: k, Text: fmt.Sprintf("sentence %02d.", i), IsFinal: true})
		}
	}
	for k := range m.panes {
		p := m.panes[k]
		if p.YOffset == 0 {
			t.Errorf("pane %d did not overflow: %d lines in %d rows", k, p.TotalLineCount(), p.Height)
		}
		if !p.AtBottom() {
			t.Errorf("pane %d at offset %d, not at the end", k, p.YOffset)
		}
	}

	m.clear()
	for k := range m.panes {
		p := m.panes[k]
		if !p.AtBottom() || p.YOffset != 0 {
			t.Errorf("pane %d after clear at offset %d", k, p.YOffset)
		}
	}

	send(m, bus.KindFragment, transcript.Fragment{Kind: transcript.Transcript, Text: strings.Repeat("more words ", 20), IsFinal: true})
	if p := m.panes[transcript.Transcript]; !p.AtBottom() || p.YOffset == 0 {
		t.Errorf("pane after refill at offset %d, not at the end", p.YOffset)
	}
}

func TestClearKeepsSession(t *testing.T) {
	m := newTestModel(&fakeIntents{})
	send(m, bus.KindSessionState, bus.SessionState{Status: "capturing", TabID: 5, Languages: enes, Active: true})
	send(m, bus.KindFragment, transcript.Fragment{Kind: transcript.Translation, Text: "Hola", IsFinal: true})

	m.Update(key('c'))

	view := m.View()
	for _, want := range []string{"Transcript will appear here...", "Translation will appear here...", "capturing"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if m.state.Status != "capturing" {
		t.Errorf("status = %s", m.state.Status)
	}
}

func TestClearEnvelope(t *testing.T) {
	m := newTestModel(&fakeIntents{})
	send(m, bus.KindFragment, transcript.Fragment{Kind: transcript.Transcript, Text: "Hi", IsFinal: true})
	send(m, bus.KindClear, bus.Clear{})

	if got := m.acc.Render(transcript.Transcript); got != "Transcript will appear here..." {
		t.Errorf("render = %q", got)
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		name      string
		keys      string
		wantCalls []string
		wantLangs stt.Languages
	}{
		{"start", "s", []string{"start"}, enes},
		{"stop", "x", []string{"stop"}, enes},
		{"next target skips source", "t", []string{"languages"}, stt.Languages{Source: "en", Target: "fr"}},
		{"target wraps", "tt", []string{"languages", "languages"}, stt.Languages{Source: "en", Target: "es"}},
		{"swap", "r", []string{"languages"}, stt.Languages{Source: "es", Target: "en"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intents := &fakeIntents{}
			m := newTestModel(intents)
			for _, r := range tt.keys {
				_, cmd := m.Update(key(r))
				run(m, cmd)
			}
			if strings.Join(intents.calls, ",") != strings.Join(tt.wantCalls, ",") {
				t.Errorf("calls = %v, want %v", intents.calls, tt.wantCalls)
			}
			if m.languages != tt.wantLangs {
				t.Errorf("languages = %v, want %v", m.languages, tt.wantLangs)
			}
		})
	}
}

func TestStartUsesTab(t *testing.T) {
	intents := &fakeIntents{}
	m := newTestModel(intents)
	_, cmd := m.Update(key('s'))
	run(m, cmd)
	if len(intents.tabIDs) != 1 || intents.tabIDs[0] != 5 || intents.langs[0] != enes {
		t.Errorf("start = %v %v", intents.tabIDs, intents.langs)
	}
}

func TestIntentErrorShown(t *testing.T) {
	m := newTestModel(&fakeIntents{err: errors.New("no device")})
	_, cmd := m.Update(key('s'))
	run(m, cmd)
	if !strings.Contains(m.View(), "no device") {
		t.Errorf("view missing error:\n%s", m.View())
	}
}

func TestNotices(t *testing.T) {
	m := newTestModel(&fakeIntents{})
	send(m, bus.KindNotice, bus.Notice{Level: bus.NoticeFeedback, Text: "Restarting with new language"})
	if !strings.Contains(m.View(), "Restarting with new language") {
		t.Errorf("view missing notice:\n%s", m.View())
	}
}

func TestQuit(t *testing.T) {
	m := newTestModel(&fakeIntents{})
	_, cmd := m.Update(key('q'))
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	envs := []bus.Envelope{
		{Kind: bus.KindSessionState, Payload: bus.SessionState{Status: "connecting"}},
		{Kind: bus.KindFragment, Payload: transcript.Fragment{Kind: transcript.Transcript, Text: "Hel"}},
		{Kind: bus.KindFragment, Payload: transcript.Fragment{Kind: transcript.Transcript, Text: " Hello world ", IsFinal: true}},
		{Kind: bus.KindFragment, Payload: transcript.Fragment{Kind: transcript.Translation, Text: "Hola mundo", IsFinal: true}},
		{Kind: bus.KindFragment, Payload: transcript.Fragment{Kind: transcript.Transcript, Text: "  ", IsFinal: true}},
		{Kind: bus.KindNotice, Payload: bus.Notice{Level: bus.NoticeError, Text: "backend hiccup"}},
		{Kind: bus.KindClear, Payload: bus.Clear{}},
	}
	for _, env := range envs {
		p.Handle(env)
	}

	want := strings.Join([]string{
		"[status] connecting",
		"[transcript] Hello world",
		"[translation] Hola mundo",
		"[error] backend hiccup",
		"-- cleared --",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", buf.String(), want)
	}
	if p.Transcript(transcript.Transcript) != "" {
		t.Error("clear should empty the transcript")
	}
}

func TestValidateTab(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"5", false},
		{"0", false},
		{"-1", true},
		{"five", true},
	}
	for _, tt := range tests {
		if err := validateTab(tt.in); (err != nil) != tt.wantErr {
			t.Errorf("validateTab(%q) = %v", tt.in, err)
		}
	}
}
