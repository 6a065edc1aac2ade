// ABOUTME: Ogg Vorbis file source
// ABOUTME: Decodes Vorbis to F32LE via jfreymuth/oggvorbis
package decode

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/jfreymuth/oggvorbis"
)

// VorbisSource reads from an Ogg Vorbis file
type VorbisSource struct {
	file   *os.File
	reader *oggvorbis.Reader
	config audio.StreamConfig
	title  string
	floats []float32
}

// NewVorbis opens an Ogg Vorbis file
func NewVorbis(path string) (*VorbisSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Ogg file: %w", err)
	}

	r, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode Vorbis: %w", err)
	}
	if r.Channels() > 2 {
		f.Close()
		return nil, fmt.Errorf("%w: %d channel Vorbis", audio.ErrUnsupported, r.Channels())
	}

	s := &VorbisSource{
		file:   f,
		reader: r,
		title:  titleFromPath(path),
		config: audio.StreamConfig{
			Format:        audio.SampleF32LE,
			Channels:      r.Channels(),
			SampleRate:    r.SampleRate(),
			ChannelLayout: audio.SinkChannelLayout(r.Channels()),
		},
	}
	log.Infof("Loaded Vorbis: %s (%d Hz, %dch)", s.title, s.config.SampleRate, s.config.Channels)
	return s, nil
}

func (s *VorbisSource) Config() audio.StreamConfig { return s.config }
func (s *VorbisSource) Title() string              { return s.title }

func (s *VorbisSource) Read(p []byte) (int, error) {
	samples := frameAligned(len(p), s.config.FrameSize()) / 4
	if cap(s.floats) < samples {
		s.floats = make([]float32, samples)
	}

	n, err := s.reader.Read(s.floats[:samples])
	n -= n % s.config.Channels
	for i, v := range s.floats[:n] {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	if n > 0 {
		return n * 4, nil
	}
	return 0, err
}

func (s *VorbisSource) Close() error {
	return s.file.Close()
}
