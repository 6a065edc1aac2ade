// ABOUTME: Tests for TUI model and key handling
// ABOUTME: Drives the model with a fake controller and checks state and rendering
package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeController struct {
	snap    Snapshot
	toggles int
	rates   int
	volumes []float32
	err     error
}

func (f *fakeController) Snapshot() Snapshot { return f.snap }

func (f *fakeController) TogglePause() error {
	f.toggles++
	return f.err
}

func (f *fakeController) SetVolume(v float32) error {
	f.volumes = append(f.volumes, v)
	return nil
}

func (f *fakeController) CycleRate() error {
	f.rates++
	return nil
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return model, cmd
}

func TestNewModel(t *testing.T) {
	model := NewModel(nil)

	if model.volume != 100 {
		t.Errorf("expected default volume 100, got %d", model.volume)
	}
	if model.showDebug {
		t.Error("expected showDebug to be false initially")
	}
}

func TestNewModelTakesControllerVolume(t *testing.T) {
	ctrl := &fakeController{snap: Snapshot{Volume: 0.4}}
	model := NewModel(ctrl)
	if model.volume != 40 {
		t.Errorf("expected volume 40, got %d", model.volume)
	}
}

func TestTickRefreshesSnapshot(t *testing.T) {
	ctrl := &fakeController{snap: Snapshot{Title: "a"}}
	model := NewModel(ctrl)

	ctrl.snap = Snapshot{Title: "b", State: "running"}
	model, cmd := update(t, model, tickMsg(time.Now()))
	if model.snap.Title != "b" {
		t.Errorf("expected refreshed title, got %q", model.snap.Title)
	}
	if cmd == nil {
		t.Error("expected the next tick to be scheduled")
	}
}

func TestTickQuitsWhenDone(t *testing.T) {
	ctrl := &fakeController{}
	model := NewModel(ctrl)

	ctrl.snap.Done = true
	_, cmd := update(t, model, tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg when playback is done")
	}
}

func TestPauseKey(t *testing.T) {
	ctrl := &fakeController{err: errors.New("illegal state")}
	model := NewModel(ctrl)

	model, _ = update(t, model, key(" "))
	if ctrl.toggles != 1 {
		t.Errorf("expected one toggle, got %d", ctrl.toggles)
	}
	if model.err == nil {
		t.Error("controller error should be kept for the debug pane")
	}
}

func TestVolumeKeysClamp(t *testing.T) {
	ctrl := &fakeController{snap: Snapshot{Volume: 1}}
	model := NewModel(ctrl)

	model, _ = update(t, model, key("up"))
	if model.volume != 100 {
		t.Errorf("volume should clamp at 100, got %d", model.volume)
	}

	for i := 0; i < 25; i++ {
		model, _ = update(t, model, key("down"))
	}
	if model.volume != 0 {
		t.Errorf("volume should clamp at 0, got %d", model.volume)
	}
	last := ctrl.volumes[len(ctrl.volumes)-1]
	if last != 0 {
		t.Errorf("expected final volume 0, got %v", last)
	}
}

func TestRateAndDebugKeys(t *testing.T) {
	ctrl := &fakeController{}
	model := NewModel(ctrl)

	model, _ = update(t, model, key("r"))
	if ctrl.rates != 1 {
		t.Errorf("expected one rate change, got %d", ctrl.rates)
	}

	model, _ = update(t, model, key("d"))
	if !model.showDebug {
		t.Error("d should toggle debug")
	}
}

func TestQuitKey(t *testing.T) {
	_, cmd := update(t, NewModel(nil), key("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestViewRendersSnapshot(t *testing.T) {
	ctrl := &fakeController{snap: Snapshot{
		Title:      "Tone",
		State:      "running",
		Format:     "S16LE",
		SampleRate: 44100,
		Channels:   2,
		SinkFormat: "S32LE",
		SinkRate:   48000,
		Resample:   true,
		Sink:       "null",
		Rate:       "normal",
		Position:   65 * time.Second,
	}}
	model := NewModel(ctrl)

	if model.View() != "Loading..." {
		t.Error("expected loading view before the first resize")
	}

	model, _ = update(t, model, tea.WindowSizeMsg{Width: 80, Height: 24})
	view := model.View()
	for _, want := range []string{"Tone", "running", "44100Hz", "48000Hz (resample)", "1:05"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestTruncateFunction(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"this is longer than allowed", 10, "this is..."},
		{"", 10, ""},
		{"abcd", 4, "abcd"},
		{"abcde", 4, "a..."},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, expected %q",
				tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestChannelNameFunction(t *testing.T) {
	tests := []struct {
		channels int
		expected string
	}{
		{1, "Mono"},
		{2, "Stereo"},
		{6, "6ch"},
	}

	for _, tt := range tests {
		result := channelName(tt.channels)
		if result != tt.expected {
			t.Errorf("channelName(%d) = %q, expected %q",
				tt.channels, result, tt.expected)
		}
	}
}
