// ABOUTME: Malgo-based sink implementation with hi-res format support
// ABOUTME: Uses miniaudio via malgo; a byte ring feeds the device callback
package output

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/convert"
	"github.com/gen2brain/malgo"
)

// ringMillis is the device-side buffering behind RenderFrame
const ringMillis = 200

// Malgo renders through miniaudio in the stream's native sample format
type Malgo struct {
	mu         sync.Mutex
	attr       Attr
	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	ringBuffer *RingBuffer
	gains      []float32
	scratch    []byte
	started    bool
}

// NewMalgo creates a malgo sink
func NewMalgo() Sink {
	return &Malgo{gains: []float32{1, 1}}
}

func malgoFormat(f audio.SampleFormat) (malgo.FormatType, error) {
	switch f {
	case audio.SampleU8:
		return malgo.FormatU8, nil
	case audio.SampleS16LE:
		return malgo.FormatS16, nil
	case audio.SampleS24LE:
		return malgo.FormatS24, nil
	case audio.SampleS32LE:
		return malgo.FormatS32, nil
	case audio.SampleF32LE:
		return malgo.FormatF32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("%w: malgo format %s", audio.ErrInvalidParam, f)
	}
}

func (m *Malgo) Init(attr Attr) error {
	if err := attr.Validate(); err != nil {
		return err
	}
	format, err := malgoFormat(attr.Format)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		if m.attr == attr {
			log.Debugf("Malgo device already initialized with same format, reusing")
			return nil
		}
		log.Infof("Format change detected (%s -> %s), reinitializing device", m.attr, attr)
		m.closeDevice()
	}

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("%w: failed to initialize malgo context: %v", audio.ErrDevice, err)
		}
		m.malgoCtx = ctx
	}

	m.ringBuffer = NewRingBuffer(attr.SampleRate * ringMillis / 1000 * attr.FrameSize())

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = format
	deviceConfig.Playback.Channels = uint32(attr.Channels)
	deviceConfig.SampleRate = uint32(attr.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	ring := m.ringBuffer
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) {
			ring.Read(pOutput)
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("%w: failed to initialize playback device: %v", audio.ErrDevice, err)
	}

	m.device = device
	m.attr = attr
	log.Infof("Malgo sink initialized: %s", attr)
	return nil
}

func (m *Malgo) IsInited() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device != nil
}

func (m *Malgo) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return fmt.Errorf("%w: malgo sink not inited", audio.ErrDevice)
	}
	if m.started {
		return nil
	}
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("%w: failed to start device: %v", audio.ErrDevice, err)
	}
	m.started = true
	return nil
}

func (m *Malgo) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil || !m.started {
		return nil
	}
	m.started = false
	if err := m.device.Stop(); err != nil {
		return fmt.Errorf("%w: device stop: %v", audio.ErrDevice, err)
	}
	m.ringBuffer.Reset()
	return nil
}

func (m *Malgo) DeInit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeDevice()
	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Warnf("Malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
}

// closeDevice stops and uninitializes the device (must hold m.mu)
func (m *Malgo) closeDevice() {
	if m.device == nil {
		return
	}
	if m.started {
		if err := m.device.Stop(); err != nil {
			log.Warnf("Malgo device stop error: %v", err)
		}
		m.started = false
	}
	m.device.Uninit()
	m.device = nil
}

func (m *Malgo) RenderFrame(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return 0, fmt.Errorf("%w: malgo sink not started", audio.ErrDevice)
	}

	if cap(m.scratch) < len(data) {
		m.scratch = make([]byte, len(data))
	}
	buf := m.scratch[:len(data)]
	copy(buf, data)
	convert.ApplyChannelGains(buf, m.attr.Format, m.attr.Channels, m.gains)

	n := m.ringBuffer.Write(buf)
	if n < len(buf) {
		log.Debugf("Malgo ring full, dropped %d bytes", len(buf)-n)
	}
	return n, nil
}

func (m *Malgo) SetVolume(left, right float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gains = []float32{clampGain(left), clampGain(right)}
	log.Debugf("Malgo volume set to %.2f/%.2f", left, right)
	return nil
}
