// Package ui is the terminal controller for a running deck.
package ui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/jamdeck/internal/focus"
	"github.com/audiolibrelab/jamdeck/internal/session"
	tea "github.com/charmbracelet/bubbletea"
)

// Controller is the part of the service the terminal drives
type Controller interface {
	StartRecording(ctx context.Context, name string) error
	StopRecording(ctx context.Context) error
	PlayLibrary(ctx context.Context) error
	PlayNext(ctx context.Context) error
	StopPlayback(ctx context.Context) error
	Interrupt(mode focus.Mode) error
	EndInterrupt() error
	Status() session.Snapshot
}

// StateMsg carries a state change into the model
type StateMsg session.Snapshot

// ClosedMsg reports that the state stream ended
type ClosedMsg struct{}

type errMsg struct{ err error }

// Model represents the TUI state
type Model struct {
	ctrl    Controller
	events  <-chan session.Snapshot
	take    string
	snap    session.Snapshot
	message string

	width  int
	height int
}

// NewModel creates a model that records into take
func NewModel(ctrl Controller, events <-chan session.Snapshot, take string) Model {
	return Model{
		ctrl:   ctrl,
		events: events,
		take:   take,
		snap:   ctrl.Status(),
	}
}

// Init starts listening for state changes
func (m Model) Init() tea.Cmd {
	return waitForState(m.events)
}

func waitForState(events <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-events
		if !ok {
			return ClosedMsg{}
		}
		return StateMsg(snap)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StateMsg:
		m.snap = session.Snapshot(msg)
		if m.snap.Error != "" {
			m.message = m.snap.Error
		}
		return m, waitForState(m.events)
	case ClosedMsg:
		return m, tea.Quit
	case errMsg:
		m.message = msg.err.Error()
	}

	return m, nil
}

// run executes a control call off the update loop
func run(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctx := context.Background()
	m.message = ""

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		if m.snap.Record == session.RecordIdle {
			return m, run(func() error { return m.ctrl.StartRecording(ctx, m.take) })
		}
		return m, run(func() error { return m.ctrl.StopRecording(ctx) })
	case "p":
		return m, run(func() error { return m.ctrl.PlayLibrary(ctx) })
	case "n":
		return m, run(func() error { return m.ctrl.PlayNext(ctx) })
	case "s":
		return m, run(func() error { return m.ctrl.StopPlayback(ctx) })
	case "d":
		return m, run(func() error { return m.ctrl.Interrupt(focus.Duckable) })
	case "i":
		return m, run(func() error { return m.ctrl.Interrupt(focus.Exclusive) })
	case "e":
		return m, run(m.ctrl.EndInterrupt)
	}
	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	var b strings.Builder

	b.WriteString("┌─ JamDeck ────────────────────────────────────────────┐\n")
	fmt.Fprintf(&b, "│ Focus:    %-42s │\n", m.snap.Focus)
	fmt.Fprintf(&b, "│ Record:   %-42s │\n", m.snap.Record)
	if m.snap.IsRecording {
		fmt.Fprintf(&b, "│   File:   %-42s │\n", truncate(filepath.Base(m.snap.OutputPath), 42))
		fmt.Fprintf(&b, "│   Level:  [%s] %3d%-25s │\n", renderBar(m.snap.Level, 100, 10), m.snap.Level, "")
		fmt.Fprintf(&b, "│   Frames: %-42d │\n", m.snap.FramesWritten)
	}
	fmt.Fprintf(&b, "│ Playback: %-42s │\n", m.snap.Playback)
	if m.snap.PlaylistLen > 0 && m.snap.Current != "" {
		item := fmt.Sprintf("%s (%d/%d)", m.snap.Current, m.snap.CurrentIndex+1, m.snap.PlaylistLen)
		fmt.Fprintf(&b, "│   Track:  %-42s │\n", truncate(item, 42))
		fmt.Fprintf(&b, "│   Volume: [%s] %3.0f%%%-23s │\n",
			renderBar(int(m.snap.VolumeScale*100), 100, 10), m.snap.VolumeScale*100, "")
	}
	b.WriteString("├──────────────────────────────────────────────────────┤\n")
	if m.message != "" {
		fmt.Fprintf(&b, "│ %-52s │\n", truncate(m.message, 52))
	}
	fmt.Fprintf(&b, "│ Take: %-46s │\n", truncate(m.take, 46))
	b.WriteString("│ r:Record  p:Play  n:Next  s:Stop  q:Quit             │\n")
	b.WriteString("│ d:Duck  i:Interrupt  e:End interruption              │\n")
	b.WriteString("└──────────────────────────────────────────────────────┘\n")
	return b.String()
}

func renderBar(value, max, width int) string {
	if value < 0 {
		value = 0
	}
	if value > max {
		value = max
	}
	filled := value * width / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// Run starts the TUI and blocks until the user quits
func Run(ctrl Controller, events <-chan session.Snapshot, take string) error {
	p := tea.NewProgram(NewModel(ctrl, events, take), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
