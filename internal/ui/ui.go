package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/uncognic/circuitchat/internal/session"
)

// TeaUI adapts a running bubbletea program to the session.UI interface the
// driver depends on.
type TeaUI struct {
	program *tea.Program
	events  chan session.UIEvent
}

// New creates the bubbletea program for the current terminal and returns a
// TeaUI ready to be handed to session.New; the program does not run until
// Start is called. Start must be called once,
// before the session driver's Run loop begins.
func New() *TeaUI {
	events := make(chan session.UIEvent, 16)
	m := newModel(events)
	program := tea.NewProgram(m)
	return &TeaUI{program: program, events: events}
}

// Start runs the bubbletea event loop until Quit, blocking the calling
// goroutine; callers run it in its own goroutine alongside the session
// driver's Run.
func (u *TeaUI) Start() error {
	_, err := u.program.Run()
	return err
}

func (u *TeaUI) Render(snap session.Snapshot) {
	u.program.Send(renderMsg(snap))
}

func (u *TeaUI) Events() <-chan session.UIEvent {
	return u.events
}

// Quit asks the underlying bubbletea program to exit, used when the
// session driver terminates the loop from its own side (e.g. peer
// disconnect) rather than from a UI-originated quit key.
func (u *TeaUI) Quit() {
	u.program.Quit()
}
