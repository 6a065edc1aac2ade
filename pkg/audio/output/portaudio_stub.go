//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package output

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
)

var errNoPortAudio = fmt.Errorf("%w: PortAudio support not enabled (build with -tags portaudio)", audio.ErrDevice)

// PortAudio sink (stub)
type PortAudio struct{}

// NewPortAudio creates a PortAudio sink
func NewPortAudio() Sink {
	return &PortAudio{}
}

func (p *PortAudio) Init(Attr) error { return errNoPortAudio }
func (p *PortAudio) IsInited() bool { return false }
func (p *PortAudio) Start() error { return errNoPortAudio }
func (p *PortAudio) Stop() error { return nil }
func (p *PortAudio) DeInit() {}
func (p *PortAudio) RenderFrame([]byte) (int, error) { return 0, errNoPortAudio }
func (p *PortAudio) SetVolume(left, right float32) error { return nil }
