// ABOUTME: Opus audio encoder
// ABOUTME: Encodes 20ms spans to Opus packets
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/convert"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacket is the largest packet libopus produces
const maxOpusPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder   *opus.Encoder
	format    Format
	frameSize int
	pcm       []int16
	packet    []byte
}

// SupportsOpus reports whether libopus accepts rate
func SupportsOpus(rate int) bool {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

// NewOpus creates a new Opus encoder
func NewOpus(format Format) (Encoder, error) {
	if format.Codec != CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}
	if !SupportsOpus(format.SampleRate) {
		return nil, fmt.Errorf("%w: opus cannot encode %dHz", audio.ErrUnsupported, format.SampleRate)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	return &OpusEncoder{
		encoder:   encoder,
		format:    format,
		frameSize: format.SampleRate * audio.SpanDurationMs / 1000,
	}, nil
}

// Encode converts one 20ms span to an Opus packet. The packet is reused by
// the next call.
func (e *OpusEncoder) Encode(span []byte) ([]byte, error) {
	samples := len(span) / e.format.Source.BytesPerSample()
	if samples != e.frameSize*e.format.Channels {
		return nil, fmt.Errorf("%w: opus frame needs %d samples, got %d",
			audio.ErrInvalidParam, e.frameSize*e.format.Channels, samples)
	}

	if cap(e.pcm) < samples {
		e.pcm = make([]int16, samples)
	}
	pcm := e.pcm[:samples]
	convert.To16Bit(pcm, span, e.format.Source, 1)

	if e.packet == nil {
		e.packet = make([]byte, maxOpusPacket)
	}
	n, err := e.encoder.Encode(pcm, e.packet)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	return e.packet[:n], nil
}

func (e *OpusEncoder) Format() Format { return e.format }

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
