// ABOUTME: FLAC file source
// ABOUTME: Decodes FLAC frames via mewkiz/flac at native bit depth
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
)

// FLACSource reads from a FLAC file
type FLACSource struct {
	stream   *flac.Stream
	config   audio.StreamConfig
	title    string
	shift    uint
	frame    *frame.Frame
	framePos int
}

// NewFLAC opens a FLAC file
func NewFLAC(path string) (*FLACSource, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	info := stream.Info
	if info.NChannels == 0 || info.NChannels > 2 {
		stream.Close()
		return nil, fmt.Errorf("%w: %d channel FLAC", audio.ErrUnsupported, info.NChannels)
	}

	// Samples are left-justified into the nearest supported container
	format := audio.SampleS16LE
	container := uint(16)
	switch {
	case info.BitsPerSample > 24:
		format, container = audio.SampleS32LE, 32
	case info.BitsPerSample > 16:
		format, container = audio.SampleS24LE, 24
	}

	s := &FLACSource{
		stream: stream,
		title:  titleFromPath(path),
		shift:  container - uint(info.BitsPerSample),
		config: audio.StreamConfig{
			Format:        format,
			Channels:      int(info.NChannels),
			SampleRate:    int(info.SampleRate),
			ChannelLayout: audio.SinkChannelLayout(int(info.NChannels)),
		},
	}
	log.Infof("Loaded FLAC: %s (%d Hz, %d-bit, %dch)", s.title, info.SampleRate, info.BitsPerSample, info.NChannels)
	return s, nil
}

func (s *FLACSource) Config() audio.StreamConfig { return s.config }
func (s *FLACSource) Title() string              { return s.title }

func (s *FLACSource) Read(p []byte) (int, error) {
	frameSize := s.config.FrameSize()
	bps := s.config.Format.BytesPerSample()
	written := 0

	for written+frameSize <= len(p) {
		if s.frame == nil || s.framePos >= int(s.frame.BlockSize) {
			f, err := s.stream.ParseNext()
			if err != nil {
				if err == io.EOF && written > 0 {
					return written, nil
				}
				return written, err
			}
			s.frame = f
			s.framePos = 0
		}

		for ch := 0; ch < s.config.Channels; ch++ {
			v := s.frame.Subframes[ch].Samples[s.framePos] << s.shift
			out := p[written+ch*bps:]
			switch s.config.Format {
			case audio.SampleS16LE:
				binary.LittleEndian.PutUint16(out, uint16(int16(v)))
			case audio.SampleS24LE:
				b := audio.SampleTo24Bit(v)
				copy(out, b[:])
			case audio.SampleS32LE:
				binary.LittleEndian.PutUint32(out, uint32(v))
			}
		}
		s.framePos++
		written += frameSize
	}

	return written, nil
}

func (s *FLACSource) Close() error {
	return s.stream.Close()
}
