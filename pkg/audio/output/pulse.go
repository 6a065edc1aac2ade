// ABOUTME: PulseAudio sink implementation
// ABOUTME: Pull-mode float32 playback stream fed from a byte ring
package output

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/convert"
	"github.com/jfreymuth/pulse"
)

// pulseLatency is the requested server-side latency in seconds
const pulseLatency = 0.04

// Pulse renders to a PulseAudio server. Spans are widened to F32LE on the way
// into the ring so the stream reader only ever decodes one format.
type Pulse struct {
	mu         sync.Mutex
	attr       Attr
	client     *pulse.Client
	stream     *pulse.PlaybackStream
	ringBuffer *RingBuffer
	gains      []float32
	floats     []float32
	bytes      []byte
	started    bool
}

// NewPulse creates a PulseAudio sink
func NewPulse() Sink {
	return &Pulse{gains: []float32{1, 1}}
}

func (p *Pulse) Init(attr Attr) error {
	if err := attr.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		p.closeStream()
	}

	client, err := pulse.NewClient()
	if err != nil {
		return fmt.Errorf("%w: pulse connect: %v", audio.ErrDevice, err)
	}

	ring := NewRingBuffer(attr.SampleRate * ringMillis / 1000 * attr.Channels * 4)
	readBuf := make([]byte, 0)
	reader := pulse.Float32Reader(func(out []float32) (int, error) {
		if cap(readBuf) < len(out)*4 {
			readBuf = make([]byte, len(out)*4)
		}
		b := readBuf[:len(out)*4]
		ring.Read(b)
		return convert.ToFloat(out, b, audio.SampleF32LE), nil
	})

	layout := pulse.PlaybackStereo
	if attr.Channels == 1 {
		layout = pulse.PlaybackMono
	}

	stream, err := client.NewPlayback(reader,
		pulse.PlaybackSampleRate(attr.SampleRate),
		layout,
		pulse.PlaybackLatency(pulseLatency),
	)
	if err != nil {
		client.Close()
		return fmt.Errorf("%w: pulse playback: %v", audio.ErrDevice, err)
	}

	p.client = client
	p.stream = stream
	p.ringBuffer = ring
	p.attr = attr
	log.Infof("Pulse sink initialized: %s", attr)
	return nil
}

func (p *Pulse) IsInited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

func (p *Pulse) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return fmt.Errorf("%w: pulse sink not inited", audio.ErrDevice)
	}
	if !p.started {
		p.stream.Start()
		p.started = true
	}
	return nil
}

func (p *Pulse) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil || !p.started {
		return nil
	}
	p.stream.Stop()
	p.started = false
	p.ringBuffer.Reset()
	return nil
}

func (p *Pulse) DeInit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeStream()
}

// closeStream releases the stream and client (must hold p.mu)
func (p *Pulse) closeStream() {
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
	p.started = false
}

func (p *Pulse) RenderFrame(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0, fmt.Errorf("%w: pulse sink not started", audio.ErrDevice)
	}
	if err := p.stream.Error(); err != nil {
		return 0, fmt.Errorf("%w: pulse stream: %v", audio.ErrDevice, err)
	}

	samples := len(data) / p.attr.Format.BytesPerSample()
	if cap(p.floats) < samples {
		p.floats = make([]float32, samples)
		p.bytes = make([]byte, samples*4)
	}
	floats := p.floats[:samples]
	out := p.bytes[:samples*4]

	convert.ToFloat(floats, data, p.attr.Format)
	convert.FromFloat(out, floats, audio.SampleF32LE)
	convert.ApplyChannelGains(out, audio.SampleF32LE, p.attr.Channels, p.gains)

	n := p.ringBuffer.Write(out)
	if n < len(out) {
		log.Debugf("Pulse ring full, dropped %d bytes", len(out)-n)
	}
	return len(data), nil
}

func (p *Pulse) SetVolume(left, right float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gains = []float32{clampGain(left), clampGain(right)}
	return nil
}
