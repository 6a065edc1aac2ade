// ABOUTME: Unit tests for span encoders
// ABOUTME: Tests PCM re-packing and Opus frame handling
package encode

import (
	"encoding/binary"
	"testing"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/decode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsCodec(t *testing.T) {
	enc, err := New(Format{Codec: CodecPCM, SampleRate: 48000, Channels: 2, Source: audio.SampleS16LE, BitDepth: 16})
	require.NoError(t, err)
	assert.IsType(t, &PCMEncoder{}, enc)

	_, err = New(Format{Codec: "aac"})
	assert.ErrorIs(t, err, audio.ErrInvalidParam)
}

func TestNewPCM(t *testing.T) {
	tests := []struct {
		name        string
		format      Format
		wantErr     bool
		errContains string
	}{
		{"16-bit", Format{Codec: CodecPCM, Source: audio.SampleS32LE, BitDepth: 16}, false, ""},
		{"24-bit", Format{Codec: CodecPCM, Source: audio.SampleS32LE, BitDepth: 24}, false, ""},
		{"wrong codec", Format{Codec: CodecOpus, Source: audio.SampleS32LE, BitDepth: 16}, true, "invalid codec"},
		{"bad depth", Format{Codec: CodecPCM, Source: audio.SampleS32LE, BitDepth: 32}, true, "unsupported bit depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewPCM(tt.format)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				assert.Nil(t, enc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.format, enc.Format())
		})
	}
}

func TestPCMEncodeNarrowsS32(t *testing.T) {
	enc, err := NewPCM(Format{Codec: CodecPCM, Source: audio.SampleS32LE, BitDepth: 16})
	require.NoError(t, err)

	span := make([]byte, 8)
	binary.LittleEndian.PutUint32(span[0:], uint32(int32(1000<<16)))
	neg := int32(-1000 << 16)
	binary.LittleEndian.PutUint32(span[4:], uint32(neg))

	out, err := enc.Encode(span)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, int16(1000), int16(binary.LittleEndian.Uint16(out[0:])))
	assert.Equal(t, int16(-1000), int16(binary.LittleEndian.Uint16(out[2:])))
}

func TestPCMEncode24Bit(t *testing.T) {
	enc, err := NewPCM(Format{Codec: CodecPCM, Source: audio.SampleS32LE, BitDepth: 24})
	require.NoError(t, err)

	span := make([]byte, 4)
	binary.LittleEndian.PutUint32(span, uint32(int32(0x123456<<8)))

	out, err := enc.Encode(span)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x56, 0x34, 0x12}, out)
}

func TestPCMEncodeReusesOutput(t *testing.T) {
	enc, err := NewPCM(Format{Codec: CodecPCM, Source: audio.SampleS16LE, BitDepth: 16})
	require.NoError(t, err)
	span := make([]byte, 960*2*2)

	_, err = enc.Encode(span)
	require.NoError(t, err)
	allocs := testing.AllocsPerRun(20, func() {
		_, _ = enc.Encode(span)
	})
	assert.Zero(t, allocs)
}

func TestOpusRejectsUnsupportedRate(t *testing.T) {
	_, err := NewOpus(Format{Codec: CodecOpus, SampleRate: 44100, Channels: 2, Source: audio.SampleS16LE})
	assert.ErrorIs(t, err, audio.ErrUnsupported)
	assert.True(t, SupportsOpus(48000))
	assert.False(t, SupportsOpus(96000))
}

func TestOpusEncodeRoundTrip(t *testing.T) {
	format := Format{Codec: CodecOpus, SampleRate: 48000, Channels: 2, Source: audio.SampleS16LE}
	enc, err := NewOpus(format)
	require.NoError(t, err)
	defer enc.Close()

	// Wrong span length
	_, err = enc.Encode(make([]byte, 100))
	assert.ErrorIs(t, err, audio.ErrInvalidParam)

	span := make([]byte, 960*2*2)
	packet, err := enc.Encode(span)
	require.NoError(t, err)
	assert.NotEmpty(t, packet)

	dec, err := decode.NewOpus(48000, 2)
	require.NoError(t, err)
	pcm, err := dec.Decode(packet)
	require.NoError(t, err)
	assert.Len(t, pcm, 960*2)
}
