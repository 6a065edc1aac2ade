// ABOUTME: Encoder interface definition
// ABOUTME: Common interface and format descriptor for span encoders
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
)

const (
	CodecPCM  = "pcm"
	CodecOpus = "opus"
)

// Format describes the span an encoder receives and the codec it emits
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	// Source is the sample format of the spans handed to Encode
	Source audio.SampleFormat
	// BitDepth is the PCM output depth (16 or 24); ignored by Opus
	BitDepth int
}

// Encoder encodes PCM spans
type Encoder interface {
	// Encode converts one span of Source-format PCM to the codec payload.
	// The payload is only valid until the next call.
	Encode(span []byte) ([]byte, error)

	// Format returns the format the encoder was created with
	Format() Format

	// Close releases encoder resources
	Close() error
}

// New creates an encoder for format.Codec
func New(format Format) (Encoder, error) {
	switch format.Codec {
	case CodecPCM:
		return NewPCM(format)
	case CodecOpus:
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("%w: unknown codec %q", audio.ErrInvalidParam, format.Codec)
	}
}
