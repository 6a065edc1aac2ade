// ABOUTME: Opus packet decoder
// ABOUTME: Decodes network Opus payloads back to int16 PCM
package decode

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrame is 120ms at 48kHz, the longest Opus frame
const maxOpusFrame = 5760

// OpusDecoder decodes Opus packets
type OpusDecoder struct {
	decoder  *opus.Decoder
	channels int
}

// NewOpus creates a new Opus decoder
func NewOpus(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &OpusDecoder{decoder: dec, channels: channels}, nil
}

// Decode converts one Opus packet to interleaved int16 samples
func (d *OpusDecoder) Decode(data []byte) ([]int16, error) {
	pcm := make([]int16, maxOpusFrame*d.channels)
	n, err := d.decoder.Decode(data, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	return pcm[:n*d.channels], nil
}
