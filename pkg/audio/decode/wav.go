// ABOUTME: WAV file source
// ABOUTME: Reads PCM WAV files via go-audio/wav at native bit depth
package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource reads from a WAV file
type WAVSource struct {
	file    *os.File
	decoder *wav.Decoder
	config  audio.StreamConfig
	title   string
	intBuf  *goaudio.IntBuffer
}

// NewWAV opens a PCM WAV file
func NewWAV(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: not a valid WAV file", audio.ErrInvalidParam)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek to PCM data: %w", err)
	}

	var format audio.SampleFormat
	switch dec.BitDepth {
	case 8:
		format = audio.SampleU8
	case 16:
		format = audio.SampleS16LE
	case 24:
		format = audio.SampleS24LE
	case 32:
		format = audio.SampleS32LE
	default:
		f.Close()
		return nil, fmt.Errorf("%w: %d-bit WAV", audio.ErrUnsupported, dec.BitDepth)
	}

	channels := int(dec.NumChans)
	s := &WAVSource{
		file:    f,
		decoder: dec,
		title:   titleFromPath(path),
		config: audio.StreamConfig{
			Format:        format,
			Channels:      channels,
			SampleRate:    int(dec.SampleRate),
			ChannelLayout: audio.SinkChannelLayout(channels),
		},
		intBuf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
		},
	}
	log.Infof("Loaded WAV: %s (%d Hz, %d-bit, %dch)", s.title, dec.SampleRate, dec.BitDepth, channels)
	return s, nil
}

func (s *WAVSource) Config() audio.StreamConfig { return s.config }
func (s *WAVSource) Title() string              { return s.title }

func (s *WAVSource) Read(p []byte) (int, error) {
	bps := s.config.Format.BytesPerSample()
	samples := frameAligned(len(p), s.config.FrameSize()) / bps
	if cap(s.intBuf.Data) < samples {
		s.intBuf.Data = make([]int, samples)
	}
	s.intBuf.Data = s.intBuf.Data[:samples]

	n, err := s.decoder.PCMBuffer(s.intBuf)
	if err != nil {
		return 0, fmt.Errorf("wav decode error: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}

	for i, v := range s.intBuf.Data[:n] {
		out := p[i*bps:]
		switch s.config.Format {
		case audio.SampleU8:
			out[0] = byte(v)
		case audio.SampleS16LE:
			binary.LittleEndian.PutUint16(out, uint16(int16(v)))
		case audio.SampleS24LE:
			b := audio.SampleTo24Bit(int32(v))
			copy(out, b[:])
		case audio.SampleS32LE:
			binary.LittleEndian.PutUint32(out, uint32(int32(v)))
		}
	}
	return frameAligned(n*bps, s.config.FrameSize()), nil
}

func (s *WAVSource) Close() error {
	return s.file.Close()
}
