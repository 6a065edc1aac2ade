// ABOUTME: WAV file sink implementation
// ABOUTME: Captures rendered spans to disk through go-audio/wav
package output

import (
	"fmt"
	"os"
	"sync"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/convert"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// Wav writes every rendered span to a PCM WAV file. The header is finalised
// on DeInit.
type Wav struct {
	mu       sync.Mutex
	path     string
	attr     Attr
	file     *os.File
	encoder  *wav.Encoder
	bitDepth int
	started  bool
	gains    []float32
	wide     []int32
	intBuf   *goaudio.IntBuffer
}

// NewWavFactory returns a factory producing sinks that write to path
func NewWavFactory(path string) Factory {
	return func() Sink {
		return &Wav{path: path, gains: []float32{1, 1}}
	}
}

func wavBitDepth(f audio.SampleFormat) int {
	switch f {
	case audio.SampleS24LE:
		return 24
	case audio.SampleS32LE, audio.SampleF32LE:
		return 32
	default:
		return 16
	}
}

func (w *Wav) Init(attr Attr) error {
	if err := attr.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.encoder != nil {
		if w.attr == attr {
			return nil
		}
		w.closeFile()
	}

	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", audio.ErrDevice, w.path, err)
	}

	w.bitDepth = wavBitDepth(attr.Format)
	w.encoder = wav.NewEncoder(f, attr.SampleRate, w.bitDepth, attr.Channels, wavFormatPCM)
	w.file = f
	w.attr = attr
	w.intBuf = &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: attr.Channels, SampleRate: attr.SampleRate},
		SourceBitDepth: w.bitDepth,
	}

	log.Infof("Wav sink writing %s to %s", attr, w.path)
	return nil
}

func (w *Wav) IsInited() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder != nil
}

func (w *Wav) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.encoder == nil {
		return fmt.Errorf("%w: wav sink not inited", audio.ErrDevice)
	}
	w.started = true
	return nil
}

func (w *Wav) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = false
	return nil
}

func (w *Wav) DeInit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeFile()
}

// closeFile finalises the header and closes the file (must hold w.mu)
func (w *Wav) closeFile() {
	if w.encoder != nil {
		if err := w.encoder.Close(); err != nil {
			log.Warnf("Wav encoder close error: %v", err)
		}
		w.encoder = nil
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			log.Warnf("Wav file close error: %v", err)
		}
		w.file = nil
	}
	w.started = false
}

func (w *Wav) RenderFrame(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return 0, fmt.Errorf("%w: wav sink not started", audio.ErrDevice)
	}

	samples := len(data) / w.attr.Format.BytesPerSample()
	if cap(w.wide) < samples {
		w.wide = make([]int32, samples)
		w.intBuf.Data = make([]int, samples)
	}
	wide := w.wide[:samples]
	convert.To32Bit(wide, data, w.attr.Format, 1)

	shift := 32 - w.bitDepth
	out := w.intBuf.Data[:samples]
	for i, v := range wide {
		if g := w.gains[min(i%w.attr.Channels, len(w.gains)-1)]; g != 1 {
			v = int32(float64(v) * float64(g))
		}
		out[i] = int(v >> shift)
	}
	w.intBuf.Data = out

	if err := w.encoder.Write(w.intBuf); err != nil {
		return 0, fmt.Errorf("%w: wav write: %v", audio.ErrDevice, err)
	}
	return len(data), nil
}

func (w *Wav) SetVolume(left, right float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gains = []float32{clampGain(left), clampGain(right)}
	return nil
}
