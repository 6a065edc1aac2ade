// ABOUTME: Oto-based sink implementation
// ABOUTME: Streams S16LE or F32LE through a pipe into a persistent oto player
package output

import (
	"fmt"
	"io"
	"sync"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/convert"
	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat oto.NewContextOptions
)

// Oto renders through ebitengine/oto. Sources in formats oto cannot play are
// widened to float32 before writing.
type Oto struct {
	mu         sync.Mutex
	attr       Attr
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	gains      []float32
	scratch    []byte
	floats     []float32
	inited     bool
}

// NewOto creates an oto sink
func NewOto() Sink {
	return &Oto{gains: []float32{1, 1}}
}

func (o *Oto) Init(attr Attr) error {
	if err := attr.Validate(); err != nil {
		return err
	}

	format := oto.FormatFloat32LE
	if attr.Format == audio.SampleS16LE {
		format = oto.FormatSignedInt16LE
	}

	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		if otoFormat.SampleRate != attr.SampleRate || otoFormat.ChannelCount != attr.Channels || otoFormat.Format != format {
			return fmt.Errorf("%w: oto context already open at %dHz %dch, cannot reopen at %dHz %dch",
				audio.ErrDevice, otoFormat.SampleRate, otoFormat.ChannelCount, attr.SampleRate, attr.Channels)
		}
		log.Debugf("Oto context already initialized with same format, reusing")
	} else {
		op := oto.NewContextOptions{
			SampleRate:   attr.SampleRate,
			ChannelCount: attr.Channels,
			Format:       format,
		}
		ctx, ready, err := oto.NewContext(&op)
		if err != nil {
			return fmt.Errorf("%w: failed to create oto context: %v", audio.ErrDevice, err)
		}
		<-ready
		otoCtx = ctx
		otoFormat = op
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.attr = attr
	o.inited = true

	log.Infof("Oto sink initialized: %s", attr)
	return nil
}

func (o *Oto) IsInited() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inited
}

func (o *Oto) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.inited {
		return fmt.Errorf("%w: oto sink not inited", audio.ErrDevice)
	}
	if o.player != nil {
		return nil
	}

	o.pipeReader, o.pipeWriter = io.Pipe()
	otoMu.Lock()
	o.player = otoCtx.NewPlayer(o.pipeReader)
	otoMu.Unlock()
	o.player.Play()
	return nil
}

func (o *Oto) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closePlayer()
	return nil
}

// closePlayer tears down the pipe and player (must hold o.mu)
func (o *Oto) closePlayer() {
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		if err := o.player.Close(); err != nil {
			log.Warnf("Oto player close error: %v", err)
		}
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
}

func (o *Oto) DeInit() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closePlayer()
	o.inited = false
}

func (o *Oto) RenderFrame(data []byte) (int, error) {
	o.mu.Lock()
	w := o.pipeWriter
	if w == nil {
		o.mu.Unlock()
		return 0, fmt.Errorf("%w: oto sink not started", audio.ErrDevice)
	}
	out := o.prepare(data)
	o.mu.Unlock()

	// Blocks until the player has pulled the span
	if _, err := w.Write(out); err != nil {
		return 0, fmt.Errorf("%w: pipe write failed: %v", audio.ErrDevice, err)
	}
	return len(data), nil
}

// prepare applies channel gains and converts to the oto wire format (must hold o.mu)
func (o *Oto) prepare(data []byte) []byte {
	if cap(o.scratch) < len(data) {
		o.scratch = make([]byte, len(data))
	}
	buf := o.scratch[:len(data)]
	copy(buf, data)
	convert.ApplyChannelGains(buf, o.attr.Format, o.attr.Channels, o.gains)

	if o.attr.Format == audio.SampleS16LE || o.attr.Format == audio.SampleF32LE {
		return buf
	}

	samples := len(buf) / o.attr.Format.BytesPerSample()
	if cap(o.floats) < samples {
		o.floats = make([]float32, samples)
	}
	floats := o.floats[:samples]
	convert.ToFloat(floats, buf, o.attr.Format)

	out := make([]byte, samples*4)
	convert.FromFloat(out, floats, audio.SampleF32LE)
	return out
}

func (o *Oto) SetVolume(left, right float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gains = []float32{clampGain(left), clampGain(right)}
	log.Debugf("Oto volume set to %.2f/%.2f", left, right)
	return nil
}
