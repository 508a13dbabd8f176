// Package ui is the presentation context: it owns the transcript
// accumulator and renders what arrives over the bus.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/wordwrap"

	"node.town/tabscribe/bus"
	"node.town/tabscribe/stt"
	"node.town/tabscribe/transcript"
)

// Name is the presentation's bus identity.
const Name = "view"

// Intents are the requests the user can make. *session.Controller
// implements it.
type Intents interface {
	Start(ctx context.Context, tabID int, langs stt.Languages) error
	Stop(ctx context.Context) error
	UpdateLanguages(ctx context.Context, langs stt.Languages) error
}

type Options struct {
	TabID     int
	Languages stt.Languages
	// Cycle lists the languages the target key steps through.
	Cycle  []string
	Logger *log.Logger
}

type envelopeMsg bus.Envelope

type intentMsg struct {
	what string
	err  error
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	feedbackStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type model struct {
	ctx      context.Context
	intents  Intents
	inbox    <-chan bus.Envelope
	logger   *log.Logger
	handlers bus.Handlers

	acc       *transcript.Accumulator
	panes     [2]viewport.Model
	ready     bool
	width     int
	tabID     int
	languages stt.Languages
	cycle     []string
	state     bus.SessionState
	notice    bus.Notice
	hasNotice bool
}

func newModel(ctx context.Context, inbox <-chan bus.Envelope, intents Intents, opts Options) *model {
	m := &model{
		ctx:       ctx,
		intents:   intents,
		inbox:     inbox,
		logger:    opts.Logger,
		acc:       transcript.NewAccumulator(),
		tabID:     opts.TabID,
		languages: opts.Languages,
		cycle:     opts.Cycle,
		state:     bus.SessionState{Status: "idle"},
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	m.handlers = bus.Handlers{
		bus.KindFragment:     m.onFragment,
		bus.KindClear:        func(bus.Envelope) { m.clear() },
		bus.KindSessionState: m.onSessionState,
		bus.KindNotice:       m.onNotice,
	}
	return m
}

// Run shows the terminal UI until the user quits or ctx is done.
func Run(ctx context.Context, b *bus.Bus, intents Intents, opts Options) error {
	inbox, unsubscribe := b.Subscribe(Name, bus.DefaultBuffer)
	defer unsubscribe()

	m := newModel(ctx, inbox, intents, opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to run ui: %w", err)
	}
	return nil
}

func waitForEnvelope(inbox <-chan bus.Envelope) tea.Cmd {
	return func() tea.Msg {
		return envelopeMsg(<-inbox)
	}
}

func (m *model) Init() tea.Cmd {
	return waitForEnvelope(m.inbox)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "s":
			cmds = append(cmds, m.start())
		case "x":
			cmds = append(cmds, m.stop())
		case "c":
			m.clear()
		case "t":
			cmds = append(cmds, m.nextTarget())
		case "r":
			cmds = append(cmds, m.setLanguages(stt.Languages{
				Source: m.languages.Target,
				Target: m.languages.Source,
			}))
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case envelopeMsg:
		if !m.handlers.Dispatch(bus.Envelope(msg)) {
			m.logger.Debug("ignore", "kind", msg.Kind, "from", msg.From)
		}
		cmds = append(cmds, waitForEnvelope(m.inbox))

	case intentMsg:
		if msg.err != nil {
			m.logger.Warn(msg.what, "error", msg.err)
			m.setNotice(bus.Notice{Level: bus.NoticeError, Text: msg.err.Error()})
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *model) intent(what string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return intentMsg{what: what, err: fn(ctx)}
	}
}

func (m *model) start() tea.Cmd {
	tabID, langs := m.tabID, m.languages
	return m.intent("start", func(ctx context.Context) error {
		return m.intents.Start(ctx, tabID, langs)
	})
}

func (m *model) stop() tea.Cmd {
	return m.intent("stop", m.intents.Stop)
}

// setLanguages adopts langs locally and forwards them to an active session.
func (m *model) setLanguages(langs stt.Languages) tea.Cmd {
	if err := langs.Validate(); err != nil {
		m.setNotice(bus.Notice{Level: bus.NoticeError, Text: err.Error()})
		return nil
	}
	m.languages = langs
	return m.intent("update languages", func(ctx context.Context) error {
		return m.intents.UpdateLanguages(ctx, langs)
	})
}

// nextTarget steps the target language through the cycle, skipping the
// source language.
func (m *model) nextTarget() tea.Cmd {
	n := len(m.cycle)
	if n == 0 {
		return nil
	}
	at := -1
	for i, lang := range m.cycle {
		if lang == m.languages.Target {
			at = i
			break
		}
	}
	for step := 1; step <= n; step++ {
		next := m.cycle[(at+step+n)%n]
		if next != m.languages.Source && next != m.languages.Target {
			return m.setLanguages(stt.Languages{Source: m.languages.Source, Target: next})
		}
	}
	return nil
}

func (m *model) onFragment(env bus.Envelope) {
	f, ok := env.Payload.(transcript.Fragment)
	if !ok {
		return
	}
	if m.acc.Apply(f) {
		m.refresh(f.Kind)
	}
}

func (m *model) onSessionState(env bus.Envelope) {
	if s, ok := env.Payload.(bus.SessionState); ok {
		m.state = s
		if s.Active {
			m.tabID = s.TabID
			m.languages = s.Languages
		}
	}
}

func (m *model) onNotice(env bus.Envelope) {
	if n, ok := env.Payload.(bus.Notice); ok {
		m.setNotice(n)
	}
}

func (m *model) setNotice(n bus.Notice) {
	m.notice = n
	m.hasNotice = true
}

func (m *model) clear() {
	m.acc.Clear()
	m.refresh(transcript.Transcript)
	m.refresh(transcript.Translation)
}

func (m *model) refresh(k transcript.Kind) {
	if !m.ready {
		return
	}
	m.panes[k].SetContent(wordwrap.String(m.acc.Render(k), m.width))
	m.panes[k].GotoBottom()
}

func (m *model) resize(width, height int) {
	m.width = width
	// title, two pane headers, status line
	paneHeight := max(1, (height-4)/2)
	for k := range m.panes {
		if !m.ready {
			m.panes[k] = viewport.New(width, paneHeight)
		} else {
			m.panes[k].Width = width
			m.panes[k].Height = paneHeight
		}
	}
	m.ready = true
	m.refresh(transcript.Transcript)
	m.refresh(transcript.Translation)
}

func (m *model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return strings.Join([]string{
		m.headerView(),
		m.paneHeader(transcript.Transcript, m.languages.Source),
		m.panes[transcript.Transcript].View(),
		m.paneHeader(transcript.Translation, m.languages.Target),
		m.panes[transcript.Translation].View(),
		m.statusView(),
	}, "\n")
}

func (m *model) headerView() string {
	title := titleStyle.Render("tabscribe")
	help := titleStyle.Render("s start  x stop  c clear  t target  r swap  q quit")
	line := strings.Repeat("─", max(0, m.width-lipgloss.Width(title)-lipgloss.Width(help)))
	return lipgloss.JoinHorizontal(lipgloss.Center, title, line, help)
}

func (m *model) paneHeader(k transcript.Kind, lang string) string {
	label := fmt.Sprintf(" %s (%s) ", k, lang)
	return label + strings.Repeat("─", max(0, m.width-lipgloss.Width(label)))
}

func (m *model) statusView() string {
	status := fmt.Sprintf("%s · tab %d · %s", m.state.Status, m.tabID, m.languages)
	if !m.hasNotice {
		return status
	}
	var style lipgloss.Style
	switch m.notice.Level {
	case bus.NoticeError:
		style = errorStyle
	case bus.NoticeFeedback:
		style = feedbackStyle
	default:
		style = noticeStyle
	}
	return status + " · " + style.Render(m.notice.Text)
}
