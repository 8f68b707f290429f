// Package ui implements the live chat terminal interface: a bubbletea
// program rendering message history, transfer progress and a status bar,
// plus one-shot huh forms and term.ReadPassword prompts used before the
// session starts. Grounded on the teacher's declared-but-unused
// charmbracelet/bubbletea, charmbracelet/lipgloss and charmbracelet/huh
// dependencies (see DESIGN.md).
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/uncognic/circuitchat/internal/filetransfer"
	"github.com/uncognic/circuitchat/internal/history"
	"github.com/uncognic/circuitchat/internal/session"
)

// typingIdleTimeout is how long the input can sit untouched before the
// debounce timer emits EventTypingStop, per spec.md §4.4's TypingStart/
// TypingStop pair. A generation counter lets a stale tea.Tick from an
// earlier keystroke be ignored once a newer one has landed.
const typingIdleTimeout = 3 * time.Second

// typingTimeoutMsg fires after typingIdleTimeout has elapsed since the
// keystroke that scheduled it; gen must still match model.typingGen for it
// to be acted on.
type typingTimeoutMsg struct{ gen int }

var (
	sentStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	receivedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	inputStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderTop(true).Padding(0, 1)
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// renderMsg carries a fresh session.Snapshot into the bubbletea program;
// Render delivers it via (*tea.Program).Send from the session driver's
// goroutine.
type renderMsg session.Snapshot

// model is the bubbletea state for the live chat view.
type model struct {
	snapshot session.Snapshot
	input    *strings.Builder
	width    int
	height   int
	events   chan session.UIEvent

	isTyping  bool
	typingGen int
}

func newModel(events chan session.UIEvent) model {
	return model{events: events, input: &strings.Builder{}}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case renderMsg:
		m.snapshot = session.Snapshot(msg)
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case typingTimeoutMsg:
		if msg.gen == m.typingGen && m.isTyping {
			m.isTyping = false
			m.events <- session.UIEvent{Kind: session.EventTypingStop}
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.events <- session.UIEvent{Kind: session.EventQuit}
			return m, tea.Quit
		case tea.KeyEsc:
			m.events <- session.UIEvent{Kind: session.EventCancelKey}
			return m, nil
		case tea.KeyEnter:
			line := m.input.String()
			m.input.Reset()
			if m.isTyping {
				m.isTyping = false
				m.typingGen++
				m.events <- session.UIEvent{Kind: session.EventTypingStop}
			}
			if line != "" {
				m.events <- session.UIEvent{Kind: session.EventLine, Line: line}
			}
			return m, nil
		case tea.KeyBackspace:
			s := m.input.String()
			if len(s) > 0 {
				m.input.Reset()
				m.input.WriteString(s[:len(s)-1])
			}
			return m, m.scheduleTypingStop()
		case tea.KeyRunes:
			m.input.WriteString(string(msg.Runes))
			return m, m.scheduleTypingStop()
		}
	}
	return m, nil
}

// scheduleTypingStop emits EventTypingStart on the first keystroke of a
// burst and (re)starts the idle timer that will emit EventTypingStop once
// typingIdleTimeout passes without another keystroke.
func (m *model) scheduleTypingStop() tea.Cmd {
	if !m.isTyping {
		m.isTyping = true
		m.events <- session.UIEvent{Kind: session.EventTypingStart}
	}
	m.typingGen++
	gen := m.typingGen
	return tea.Tick(typingIdleTimeout, func(time.Time) tea.Msg {
		return typingTimeoutMsg{gen: gen}
	})
}

func (m model) View() string {
	var b strings.Builder

	for _, msg := range m.snapshot.Messages {
		line := fmt.Sprintf("%s %s", msg.Timestamp.Format("15:04:05"), msg.Text)
		if msg.Direction == history.Sent {
			b.WriteString(sentStyle.Render("you> " + line))
		} else {
			b.WriteString(receivedStyle.Render("peer> " + line))
		}
		b.WriteString("\n")
	}

	if p := m.snapshot.Outgoing; p != nil {
		b.WriteString(progressStyle.Render(fmt.Sprintf("sending %s: %s / %s", p.Name, filetransfer.FormatSize(p.Transferred), filetransfer.FormatSize(p.TotalSize))))
		b.WriteString("\n")
	}
	if p := m.snapshot.Incoming; p != nil {
		b.WriteString(progressStyle.Render(fmt.Sprintf("receiving %s: %s / %s", p.Name, filetransfer.FormatSize(p.Transferred), filetransfer.FormatSize(p.TotalSize))))
		b.WriteString("\n")
	}

	status := m.snapshot.Status.Kind.String()
	if m.snapshot.Status.Message != "" {
		status = fmt.Sprintf("%s — %s", status, m.snapshot.Status.Message)
	}
	if m.snapshot.PeerTyping {
		status += "  peer is typing…"
	}
	b.WriteString(statusStyle.Render(status))
	b.WriteString("\n")
	b.WriteString(inputStyle.Render("> " + m.input.String()))
	return b.String()
}
