// ABOUTME: MP3 file source
// ABOUTME: Decodes MP3 to S16LE stereo via go-mp3
package decode

import (
	"fmt"
	"io"
	"os"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

// MP3Source reads from an MP3 file
type MP3Source struct {
	file    *os.File
	decoder *mp3.Decoder
	config  audio.StreamConfig
	title   string
}

// NewMP3 opens an MP3 file
func NewMP3(path string) (*MP3Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	s := &MP3Source{
		file:    f,
		decoder: decoder,
		title:   titleFromPath(path),
		// go-mp3 always yields 16-bit stereo
		config: audio.StreamConfig{
			Format:        audio.SampleS16LE,
			Channels:      2,
			SampleRate:    decoder.SampleRate(),
			ChannelLayout: audio.LayoutStereo,
		},
	}
	log.Infof("Loaded MP3: %s (%d Hz)", s.title, s.config.SampleRate)
	return s, nil
}

func (s *MP3Source) Config() audio.StreamConfig { return s.config }
func (s *MP3Source) Title() string              { return s.title }

func (s *MP3Source) Read(p []byte) (int, error) {
	p = p[:frameAligned(len(p), s.config.FrameSize())]
	n, err := io.ReadFull(s.decoder, p)
	if err == io.ErrUnexpectedEOF {
		return frameAligned(n, s.config.FrameSize()), nil
	}
	return n, err
}

func (s *MP3Source) Close() error {
	return s.file.Close()
}
