// ABOUTME: Sine tone source
// ABOUTME: Generates an endless or bounded tone in any sample format
package decode

import (
	"io"
	"math"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/convert"
)

// ToneSource generates a sine wave on every channel
type ToneSource struct {
	config    audio.StreamConfig
	frequency float64
	amplitude float64
	frame     uint64
	limit     uint64
	floats    []float32
}

// NewTone creates a tone at frequency Hz with amplitude in [0, 1].
// A zero duration never ends.
func NewTone(config audio.StreamConfig, frequency, amplitude float64, durationMs int) *ToneSource {
	return &ToneSource{
		config:    config,
		frequency: frequency,
		amplitude: amplitude,
		limit:     uint64(config.SampleRate) * uint64(durationMs) / 1000,
	}
}

func (s *ToneSource) Config() audio.StreamConfig { return s.config }
func (s *ToneSource) Title() string              { return "Test Tone" }

func (s *ToneSource) Read(p []byte) (int, error) {
	frames := len(p) / s.config.FrameSize()
	if s.limit > 0 {
		if s.frame >= s.limit {
			return 0, io.EOF
		}
		frames = int(min(uint64(frames), s.limit-s.frame))
	}

	samples := frames * s.config.Channels
	if cap(s.floats) < samples {
		s.floats = make([]float32, samples)
	}
	floats := s.floats[:samples]

	for i := 0; i < frames; i++ {
		t := float64(s.frame+uint64(i)) / float64(s.config.SampleRate)
		v := float32(s.amplitude * math.Sin(2*math.Pi*s.frequency*t))
		for ch := 0; ch < s.config.Channels; ch++ {
			floats[i*s.config.Channels+ch] = v
		}
	}
	s.frame += uint64(frames)

	convert.FromFloat(p, floats, s.config.Format)
	return samples * s.config.Format.BytesPerSample(), nil
}

func (s *ToneSource) Close() error { return nil }
