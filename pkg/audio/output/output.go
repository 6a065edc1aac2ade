// ABOUTME: Sink interface and open attributes for audio backends
// ABOUTME: Common boundary between the mix engine and playback devices
package output

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
)

// Sink is a playback device that accepts interleaved PCM spans.
// A sink is Init'd once with the format it will receive; Start and Stop may
// be called repeatedly while inited.
type Sink interface {
	// Init opens the device with attr
	Init(attr Attr) error

	// IsInited reports whether Init succeeded and DeInit has not been called
	IsInited() bool

	// Start begins consuming frames
	Start() error

	// Stop pauses consumption; buffered audio may be dropped
	Stop() error

	// DeInit releases the device
	DeInit()

	// RenderFrame pushes one span of PCM and returns the bytes accepted
	RenderFrame(data []byte) (int, error)

	// SetVolume sets left and right channel gain in [0, 1]
	SetVolume(left, right float32) error
}

// Attr describes how a sink is opened
type Attr struct {
	AdapterName     string
	SampleRate      int
	Channels        int
	Format          audio.SampleFormat
	ChannelLayout   audio.ChannelLayout
	Volume          float32
	OpenMicSpeaker  int
	DeviceType      audio.DeviceType
	DeviceNetworkID string
}

// Validate checks attr can drive a device
func (a Attr) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("%w: sink sample rate %d", audio.ErrInvalidParam, a.SampleRate)
	}
	if a.Channels < 1 || a.Channels > 2 {
		return fmt.Errorf("%w: sink channels %d", audio.ErrInvalidParam, a.Channels)
	}
	if !a.Format.IsValid() {
		return fmt.Errorf("%w: sink format %d", audio.ErrInvalidParam, int(a.Format))
	}
	return nil
}

// FrameSize returns the bytes in one interleaved frame
func (a Attr) FrameSize() int {
	return a.Format.BytesPerSample() * a.Channels
}

// SpanBytes returns the bytes in one engine period at this attr
func (a Attr) SpanBytes() int {
	return a.SampleRate * audio.SpanDurationMs / 1000 * a.FrameSize()
}

func (a Attr) String() string {
	return fmt.Sprintf("%s %dHz %dch %s", a.AdapterName, a.SampleRate, a.Channels, a.Format)
}

// clampGain bounds a volume to [0, 1]
func clampGain(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
