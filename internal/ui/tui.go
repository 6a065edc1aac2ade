// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the playback UI
package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// RefreshInterval is how often the model polls the controller
const RefreshInterval = 250 * time.Millisecond

// Controller is the playback surface the UI drives
type Controller interface {
	// Snapshot returns the current playback state
	Snapshot() Snapshot

	// TogglePause pauses a running stream or resumes a paused one
	TogglePause() error

	// SetVolume sets the stream volume in [0, 1]
	SetVolume(volume float32) error

	// CycleRate steps the render rate normal -> double -> half -> normal
	CycleRate() error
}

// NewModel creates a new TUI model
func NewModel(ctrl Controller) Model {
	m := Model{
		ctrl:   ctrl,
		volume: 100,
	}
	if ctrl != nil {
		m.snap = ctrl.Snapshot()
		m.volume = int(m.snap.Volume*100 + 0.5)
	}
	return m
}

// Run creates the TUI program. The caller runs it.
func Run(ctrl Controller) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(ctrl), tea.WithAltScreen())
	return p, nil
}
