// ABOUTME: Bubbletea model for the playback TUI
// ABOUTME: Polls the player for state and maps keys onto stream controls
package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Snapshot is one view of the playback pipeline
type Snapshot struct {
	Title string
	State string

	// Source side
	Format     string
	SampleRate int
	Channels   int

	// Ring and sink side
	SinkFormat string
	SinkRate   int
	Resample   bool
	Sink       string

	Volume   float32
	Rate     string
	Position time.Duration
	Latency  time.Duration

	FramesWritten uint64
	Ready         int
	Failed        int

	Done bool
	Err  error
}

type tickMsg time.Time

// Model represents the TUI state
type Model struct {
	ctrl Controller
	snap Snapshot

	volume int
	err    error

	showDebug bool

	width  int
	height int
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts polling
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		if m.ctrl != nil {
			m.snap = m.ctrl.Snapshot()
		}
		if m.snap.Done {
			return m, tea.Quit
		}
		return m, tick()
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderStreamInfo()
	s += m.renderControls()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

func (m Model) renderHeader() string {
	state := m.snap.State
	if state == "" {
		state = "idle"
	}
	return fmt.Sprintf(`┌─ Resonate Direct ────────────────────────────────────┐
│ State:  %-45s │
│ Sink:   %-45s │
├──────────────────────────────────────────────────────┤
`, state, truncate(m.snap.Sink, 45))
}

func (m Model) renderStreamInfo() string {
	if m.snap.Format == "" {
		return "│ No stream                                            │\n"
	}

	s := fmt.Sprintf("│ Now Playing: %-40s │\n", truncate(m.snap.Title, 40))
	s += fmt.Sprintf("│ Source: %-45s │\n",
		fmt.Sprintf("%s %dHz %s", m.snap.Format, m.snap.SampleRate, channelName(m.snap.Channels)))

	path := "copy"
	if m.snap.Resample {
		path = "resample"
	}
	s += fmt.Sprintf("│ Ring:   %-45s │\n",
		fmt.Sprintf("%s %dHz (%s)", m.snap.SinkFormat, m.snap.SinkRate, path))
	return s
}

func (m Model) renderControls() string {
	return fmt.Sprintf("│                                                      │\n"+
		"│ Volume: [%s] %3d%%%-26s │\n"+
		"│ Rate:   %-45s │\n",
		renderBar(m.volume, 100, 10), m.volume, "", m.snap.Rate)
}

func (m Model) renderStats() string {
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Position: %-12s Latency: %-21s │
│ Ready: %d/4  Failed: %d%-32s │
│                                                      │
`, formatDuration(m.snap.Position), m.snap.Latency.String(), m.snap.Ready, m.snap.Failed, "")
}

func (m Model) renderHelp() string {
	return `│ space:Pause  ↑/↓:Volume  r:Rate  d:Debug  q:Quit     │
└──────────────────────────────────────────────────────┘
`
}

func (m Model) renderDebug() string {
	errText := "none"
	if m.err != nil {
		errText = m.err.Error()
	} else if m.snap.Err != nil {
		errText = m.snap.Err.Error()
	}
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Frames written: %-34d │
│   Last error: %-38s │
`, m.snap.FramesWritten, truncate(errText, 38))
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case " ", "p":
		if m.ctrl != nil {
			m.err = m.ctrl.TogglePause()
		}
	case "up":
		m.setVolume(m.volume + 5)
	case "down":
		m.setVolume(m.volume - 5)
	case "r":
		if m.ctrl != nil {
			m.err = m.ctrl.CycleRate()
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m *Model) setVolume(v int) {
	if v > 100 {
		v = 100
	}
	if v < 0 {
		v = 0
	}
	m.volume = v
	if m.ctrl != nil {
		m.err = m.ctrl.SetVolume(float32(v) / 100)
	}
}

func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "Mono"
	case 2:
		return "Stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
