// ABOUTME: Source interface definition
// ABOUTME: Common interface for file decoders and generators
package decode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
)

// Source yields interleaved PCM in the format described by Config
type Source interface {
	// Config describes the bytes returned by Read
	Config() audio.StreamConfig

	// Read fills p with whole frames and returns the bytes written.
	// It returns io.EOF once the source is exhausted.
	Read(p []byte) (int, error)

	// Title returns a display name
	Title() string

	// Close releases decoder resources
	Close() error
}

// Open creates a source for path based on its extension
func Open(path string) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3":
		return NewMP3(path)
	case ".flac":
		return NewFLAC(path)
	case ".wav":
		return NewWAV(path)
	case ".ogg", ".oga":
		return NewVorbis(path)
	default:
		return nil, fmt.Errorf("%w: unsupported audio format %s (supported: .mp3, .flac, .wav, .ogg)",
			audio.ErrInvalidParam, ext)
	}
}

func titleFromPath(path string) string {
	filename := filepath.Base(path)
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// frameAligned truncates n down to a multiple of frameSize
func frameAligned(n, frameSize int) int {
	return n - n%frameSize
}
