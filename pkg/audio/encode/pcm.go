// ABOUTME: PCM audio encoder
// ABOUTME: Re-packs spans as 16-bit or 24-bit little-endian PCM
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/convert"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	format Format
	wide   []int32
	narrow []int16
	out    []byte
}

// NewPCM creates a new PCM encoder
func NewPCM(format Format) (Encoder, error) {
	if format.Codec != CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}
	if format.BitDepth != 16 && format.BitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}
	if !format.Source.IsValid() {
		return nil, fmt.Errorf("%w: source format %d", audio.ErrInvalidParam, int(format.Source))
	}

	return &PCMEncoder{format: format}, nil
}

// Encode converts a span to PCM bytes. The result is reused by the next call.
func (e *PCMEncoder) Encode(span []byte) ([]byte, error) {
	samples := len(span) / e.format.Source.BytesPerSample()

	if e.format.BitDepth == 24 {
		if cap(e.wide) < samples {
			e.wide = make([]int32, samples)
		}
		wide := e.wide[:samples]
		convert.To32Bit(wide, span, e.format.Source, 1)

		output := e.output(samples * 3)
		for i, sample := range wide {
			b := audio.SampleTo24Bit(sample >> 8)
			copy(output[i*3:], b[:])
		}
		return output, nil
	}

	if cap(e.narrow) < samples {
		e.narrow = make([]int16, samples)
	}
	narrow := e.narrow[:samples]
	convert.To16Bit(narrow, span, e.format.Source, 1)

	output := e.output(samples * 2)
	for i, sample := range narrow {
		binary.LittleEndian.PutUint16(output[i*2:], uint16(sample))
	}
	return output, nil
}

func (e *PCMEncoder) output(n int) []byte {
	if cap(e.out) < n {
		e.out = make([]byte, n)
	}
	return e.out[:n]
}

func (e *PCMEncoder) Format() Format { return e.format }

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}
