//go:build portaudio

// ABOUTME: PortAudio sink implementation
// ABOUTME: Cross-platform blocking-write output using PortAudio
package output

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/convert"
	"github.com/gordonklaus/portaudio"
)

// PortAudio renders with blocking writes of one span per RenderFrame
type PortAudio struct {
	mu          sync.Mutex
	attr        Attr
	stream      *portaudio.Stream
	buffer      []float32
	gains       []float32
	initialized bool
	started     bool
}

// NewPortAudio creates a PortAudio sink
func NewPortAudio() Sink {
	return &PortAudio{gains: []float32{1, 1}}
}

func (p *PortAudio) Init(attr Attr) error {
	if err := attr.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("%w: failed to initialize portaudio: %v", audio.ErrDevice, err)
		}
		p.initialized = true
	}
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}

	framesPerBuffer := attr.SampleRate * audio.SpanDurationMs / 1000
	p.buffer = make([]float32, framesPerBuffer*attr.Channels)

	stream, err := portaudio.OpenDefaultStream(0, attr.Channels, float64(attr.SampleRate), framesPerBuffer, &p.buffer)
	if err != nil {
		return fmt.Errorf("%w: failed to open stream: %v", audio.ErrDevice, err)
	}

	p.stream = stream
	p.attr = attr
	log.Infof("PortAudio sink initialized: %s", attr)
	return nil
}

func (p *PortAudio) IsInited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

func (p *PortAudio) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return fmt.Errorf("%w: portaudio sink not inited", audio.ErrDevice)
	}
	if p.started {
		return nil
	}
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("%w: start stream: %v", audio.ErrDevice, err)
	}
	p.started = true
	return nil
}

func (p *PortAudio) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil || !p.started {
		return nil
	}
	p.started = false
	return p.stream.Stop()
}

func (p *PortAudio) DeInit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		if p.started {
			p.stream.Stop()
			p.started = false
		}
		p.stream.Close()
		p.stream = nil
	}
	if p.initialized {
		portaudio.Terminate()
		p.initialized = false
	}
}

func (p *PortAudio) RenderFrame(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0, fmt.Errorf("%w: portaudio sink not started", audio.ErrDevice)
	}

	n := convert.ToFloat(p.buffer, data, p.attr.Format)
	clear(p.buffer[n:])
	for i := range p.buffer[:n] {
		p.buffer[i] *= p.gains[min(i%p.attr.Channels, len(p.gains)-1)]
	}

	if err := p.stream.Write(); err != nil {
		return 0, fmt.Errorf("%w: write: %v", audio.ErrDevice, err)
	}
	return n * p.attr.Format.BytesPerSample(), nil
}

func (p *PortAudio) SetVolume(left, right float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gains = []float32{clampGain(left), clampGain(right)}
	return nil
}
