// ABOUTME: RendererStream, the four-slot ring between an application producer and a mix engine
// ABOUTME: Converts producer spans to the sink format on enqueue and hands them out by index
package stream

import (
	"fmt"
	"math/bits"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-direct/internal/sync"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/resample"
)

const (
	// SlotCount is the fixed ring depth
	SlotCount = 4

	// audioTimeOffset is added to the modeled play time of the last
	// written frame to account for one span of sink buffering
	audioTimeOffset = audio.SpanDurationMs * time.Millisecond
)

// Options tune a stream beyond its StreamConfig
type Options struct {
	// IsDirect selects the 32-bit destination format
	IsDirect bool

	// Clock stamps enqueues for the time model. Defaults to the system clock.
	Clock sync.Clock

	// Quality selects the resampler interpolation
	Quality int
}

// RendererStream owns the ring of converted spans for one application stream.
//
// Slots move between writeQueue (free) and readQueue (ready to render); a
// slot handed out by Peek is in flight until ReturnIndex. At any instant
// len(writeQueue) + len(readQueue) + in-flight == SlotCount.
type RendererStream struct {
	config audio.StreamConfig
	opts   Options
	clock  sync.Clock

	mu     gosync.Mutex
	status Status
	index  uint32

	// isBlock latches once a pause/stop style call arrives and makes Peek
	// fail fast until the next Start
	isBlock atomic.Bool

	cbMu     gosync.RWMutex
	writeCb  WriteCallback
	statusCb StatusCallback

	// ringMu guards slot allocation. Structural changes take the write lock;
	// producer and consumer take the read lock and exchange ownership
	// through the queues.
	ringMu     gosync.RWMutex
	slots      [][]byte
	writeQueue chan int
	readQueue  chan int
	inFlight   atomic.Uint32

	// geo is swapped whole by InitParams so readers never see a torn layout
	geo atomic.Pointer[layout]

	enqueueMu gosync.Mutex
	resampler *resample.Resampler
	srcFloat  []float32
	dstFloat  []float32
	padBuf    []byte
	staging   []byte

	timeModel         *sync.LinearPosTimeModel
	totalBytesWritten atomic.Uint64

	paramMu        gosync.Mutex
	renderRate     RenderRate
	lowPowerVolume float32
	effectMode     int
	privacy        audio.PrivacyType

	abortCount atomic.Int32
}

// layout is the sizing InitParams derives from the config
type layout struct {
	needResample  bool
	destFormat    audio.SampleFormat
	destRate      int
	spanFrames    int
	frameSize     int
	minBufferSize int
	slotSize      int
}

// NewRendererStream creates a stream in RELEASED state. InitParams must be
// called before it can carry audio.
func NewRendererStream(config audio.StreamConfig, opts Options) *RendererStream {
	clock := opts.Clock
	if clock == nil {
		clock = sync.Default
	}
	s := &RendererStream{
		config:         config,
		opts:           opts,
		clock:          clock,
		status:         StatusReleased,
		lowPowerVolume: 1,
		privacy:        config.Privacy,
		timeModel:      sync.NewLinearPosTimeModel(),
	}
	s.geo.Store(&layout{})
	return s
}

// InitParams validates the config, sizes the ring and prepares the
// conversion path. Only valid from RELEASED.
func (s *RendererStream) InitParams() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusReleased {
		return fmt.Errorf("%w: InitParams in %s", audio.ErrIllegalState, s.status)
	}
	if err := s.config.Validate(); err != nil {
		return err
	}

	cfg := s.config
	spanFrames := cfg.SpanFrames()
	if spanFrames <= 0 {
		return fmt.Errorf("%w: sample rate %d too low for a %dms span", audio.ErrInvalidParam, cfg.SampleRate, audio.SpanDurationMs)
	}

	destFormat := audio.DestinationFormat(s.opts.IsDirect)
	destRate := audio.SinkSampleRate(cfg.SampleRate, cfg.IsVoip())
	needResample := cfg.Format != destFormat || cfg.SampleRate != destRate

	srcSamples := spanFrames * cfg.Channels
	dstSamples := srcSamples

	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()

	var rs *resample.Resampler
	if needResample {
		var err error
		rs, err = resample.New(cfg.Channels, cfg.SampleRate, destRate, s.opts.Quality)
		if err != nil {
			return err
		}
		dstSamples = rs.OutputSamples(srcSamples)
		s.srcFloat = make([]float32, srcSamples)
		s.dstFloat = make([]float32, dstSamples)

		// Prime the kernel once so the first real span pays no setup cost
		if err := rs.Process(s.srcFloat, s.dstFloat); err != nil {
			return err
		}
		rs.Reset()
	}

	geo := &layout{
		needResample:  needResample,
		destFormat:    destFormat,
		destRate:      destRate,
		spanFrames:    spanFrames,
		frameSize:     cfg.FrameSize(),
		minBufferSize: spanFrames * cfg.FrameSize(),
		slotSize:      dstSamples * destFormat.BytesPerSample(),
	}
	s.resampler = rs
	s.padBuf = make([]byte, geo.minBufferSize)
	s.staging = make([]byte, geo.minBufferSize)

	s.ringMu.Lock()
	s.slots = make([][]byte, SlotCount)
	s.writeQueue = make(chan int, SlotCount)
	s.readQueue = make(chan int, SlotCount)
	for i := range s.slots {
		s.slots[i] = make([]byte, geo.slotSize)
		s.writeQueue <- i
	}
	s.inFlight.Store(0)
	s.geo.Store(geo)
	s.ringMu.Unlock()

	s.timeModel.Reset()
	s.timeModel.ConfigSampleRate(cfg.SampleRate)
	s.timeModel.SetSpanCount(uint64(spanFrames))
	s.totalBytesWritten.Store(0)
	s.paramMu.Lock()
	s.renderRate = RateNormal
	s.paramMu.Unlock()

	s.status = StatusInitialized
	log.Infof("Stream %d initialized: %s %dch %dHz -> %s %dHz, span %d bytes, slot %d bytes, resample=%v",
		s.index, cfg.Format, cfg.Channels, cfg.SampleRate, destFormat, destRate,
		geo.minBufferSize, geo.slotSize, needResample)
	return nil
}

// Start moves the stream to RUNNING and clears the block latch
func (s *RendererStream) Start() error {
	s.mu.Lock()
	switch s.status {
	case StatusInitialized, StatusPaused, StatusStopped, StatusFlushed:
	default:
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: Start in %s", audio.ErrIllegalState, st)
	}
	s.status = StatusRunning
	s.isBlock.Store(false)
	frames := s.totalBytesWritten.Load() / uint64(s.geo.Load().frameSize)
	s.timeModel.ResetFrameStamp(frames, s.clock.Now().UnixNano())
	index := s.index
	s.mu.Unlock()

	log.Debugf("Stream %d started", index)
	s.notify(OperationStarted)
	return nil
}

// Pause moves RUNNING to PAUSED
func (s *RendererStream) Pause() error {
	return s.transition("Pause", OperationPaused, StatusPaused, true, StatusRunning)
}

// Flush discards ready spans. Valid from RUNNING or PAUSED.
func (s *RendererStream) Flush() error {
	if err := s.transition("Flush", OperationFlushed, StatusFlushed, true, StatusRunning, StatusPaused); err != nil {
		return err
	}
	s.recycleReady()
	return nil
}

// Drain stops pulling new data; spans already in the ring still render
func (s *RendererStream) Drain() error {
	return s.transition("Drain", OperationDrained, StatusDrain, false, StatusRunning)
}

// Stop moves any active state to STOPPED
func (s *RendererStream) Stop() error {
	return s.transition("Stop", OperationStopped, StatusStopped, true,
		StatusRunning, StatusPaused, StatusFlushed, StatusDrain)
}

// Release frees the ring. Safe to call from any state and more than once.
func (s *RendererStream) Release() error {
	s.mu.Lock()
	if s.status == StatusReleased {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusReleased
	s.isBlock.Store(true)
	index := s.index
	s.mu.Unlock()

	s.enqueueMu.Lock()
	s.ringMu.Lock()
	s.slots = nil
	s.writeQueue = nil
	s.readQueue = nil
	s.inFlight.Store(0)
	s.ringMu.Unlock()
	s.resampler = nil
	s.enqueueMu.Unlock()

	log.Debugf("Stream %d released", index)
	s.notify(OperationReleased)
	return nil
}

func (s *RendererStream) transition(name string, op Operation, to Status, block bool, from ...Status) error {
	s.mu.Lock()
	legal := false
	for _, st := range from {
		if s.status == st {
			legal = true
			break
		}
	}
	if !legal {
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s in %s", audio.ErrIllegalState, name, st)
	}
	s.status = to
	if block {
		s.isBlock.Store(true)
	}
	index := s.index
	s.mu.Unlock()

	log.Debugf("Stream %d -> %s", index, to)
	s.notify(op)
	return nil
}

// recycleReady returns every ready slot to the free queue
func (s *RendererStream) recycleReady() {
	s.ringMu.RLock()
	defer s.ringMu.RUnlock()
	if s.slots == nil {
		return
	}
	for {
		select {
		case idx := <-s.readQueue:
			s.writeQueue <- idx
		default:
			return
		}
	}
}

func (s *RendererStream) notify(op Operation) {
	s.cbMu.RLock()
	cb := s.statusCb
	s.cbMu.RUnlock()
	if cb != nil {
		cb.OnStatusUpdate(s.GetStreamIndex(), op)
	}
}

// EnqueueBuffer converts one producer span into a free slot and publishes it.
// Input shorter than a span is zero padded; longer input is rejected. When no
// slot is free it returns ErrWriteBuffer and leaves the ring untouched.
func (s *RendererStream) EnqueueBuffer(desc audio.BufferDesc) error {
	data := desc.Bytes()

	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()

	s.ringMu.RLock()
	defer s.ringMu.RUnlock()

	if s.slots == nil {
		return fmt.Errorf("%w: stream not initialized", audio.ErrIllegalState)
	}
	geo := s.geo.Load()
	if len(data) == 0 || len(data) > geo.minBufferSize {
		return fmt.Errorf("%w: enqueue of %d bytes, span is %d", audio.ErrInvalidParam, len(data), geo.minBufferSize)
	}

	var idx int
	select {
	case idx = <-s.writeQueue:
	default:
		return fmt.Errorf("%w: all %d slots busy", audio.ErrWriteBuffer, SlotCount)
	}

	src := data
	if len(data) < geo.minBufferSize {
		copy(s.padBuf, data)
		clear(s.padBuf[len(data):])
		src = s.padBuf
	}

	vol := s.GetLowPowerVolume()
	slot := s.slots[idx]
	if geo.needResample {
		convert.ToFloat(s.srcFloat, src, s.config.Format)
		if vol < 1 {
			for i := range s.srcFloat {
				s.srcFloat[i] *= vol
			}
		}
		if err := s.resampler.Process(s.srcFloat, s.dstFloat); err != nil {
			s.writeQueue <- idx
			return err
		}
		convert.FromFloat(slot, s.dstFloat, geo.destFormat)
	} else {
		copy(slot, src)
		if vol < 1 {
			convert.ApplyVolume(slot, geo.destFormat, vol)
		}
	}

	s.readQueue <- idx

	total := s.totalBytesWritten.Add(uint64(len(data)))
	s.timeModel.UpdateFrameStamp(total/uint64(geo.frameSize), s.clock.Now().UnixNano())
	log.Tracef("Enqueued %d bytes into slot %d", len(data), idx)
	return nil
}

// DequeueBuffer returns a producer staging buffer of up to one span. It is
// empty unless the stream is RUNNING. The buffer is reused on every call.
func (s *RendererStream) DequeueBuffer(length int) audio.BufferDesc {
	if s.Status() != StatusRunning {
		return audio.BufferDesc{}
	}
	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()
	if s.staging == nil {
		return audio.BufferDesc{}
	}
	if length <= 0 || length > len(s.staging) {
		length = len(s.staging)
	}
	return audio.BufferDesc{Buffer: s.staging[:length], DataLength: length}
}

// Peek copies the oldest ready span into out and returns its slot index. The
// slot stays in flight until ReturnIndex. If the ring is empty the write
// callback is asked for one span and the pop is retried once.
func (s *RendererStream) Peek(out []byte) (int, error) {
	if s.isBlock.Load() {
		return -1, fmt.Errorf("%w: stream %d blocked", audio.ErrWriteBuffer, s.GetStreamIndex())
	}
	st := s.Status()
	if st != StatusRunning && st != StatusDrain {
		return -1, fmt.Errorf("%w: Peek in %s", audio.ErrIllegalState, st)
	}

	if idx, ok := s.popReady(out); ok {
		return idx, nil
	}
	if st == StatusDrain {
		return -1, fmt.Errorf("%w: stream %d drained", audio.ErrWriteBuffer, s.GetStreamIndex())
	}

	s.cbMu.RLock()
	cb := s.writeCb
	s.cbMu.RUnlock()
	if cb == nil {
		return -1, fmt.Errorf("%w: ring empty", audio.ErrWriteBuffer)
	}
	if err := cb.OnWriteData(s.geo.Load().minBufferSize); err != nil {
		return -1, fmt.Errorf("write callback: %w", err)
	}

	if idx, ok := s.popReady(out); ok {
		return idx, nil
	}
	return -1, fmt.Errorf("%w: write callback produced no data", audio.ErrWriteBuffer)
}

func (s *RendererStream) popReady(out []byte) (int, bool) {
	s.ringMu.RLock()
	defer s.ringMu.RUnlock()
	if s.slots == nil {
		return -1, false
	}
	select {
	case idx := <-s.readQueue:
		copy(out, s.slots[idx])
		for {
			mask := s.inFlight.Load()
			if s.inFlight.CompareAndSwap(mask, mask|1<<idx) {
				break
			}
		}
		return idx, true
	default:
		return -1, false
	}
}

// ReturnIndex hands a slot from Peek back to the producer. A negative index
// is ignored so callers can return unconditionally after a failed Peek.
func (s *RendererStream) ReturnIndex(index int) error {
	if index < 0 {
		return nil
	}
	s.ringMu.RLock()
	defer s.ringMu.RUnlock()
	if index >= len(s.slots) {
		return fmt.Errorf("%w: slot %d", audio.ErrInvalidParam, index)
	}
	bit := uint32(1) << index
	for {
		mask := s.inFlight.Load()
		if mask&bit == 0 {
			return fmt.Errorf("%w: slot %d not in flight", audio.ErrInvalidParam, index)
		}
		if s.inFlight.CompareAndSwap(mask, mask&^bit) {
			break
		}
	}
	s.writeQueue <- index
	return nil
}

// SetWriteCallback installs the pull callback used when the ring runs dry
func (s *RendererStream) SetWriteCallback(cb WriteCallback) {
	s.cbMu.Lock()
	s.writeCb = cb
	s.cbMu.Unlock()
}

// SetStatusCallback installs the lifecycle observer
func (s *RendererStream) SetStatusCallback(cb StatusCallback) {
	s.cbMu.Lock()
	s.statusCb = cb
	s.cbMu.Unlock()
}

// Status returns the lifecycle state
func (s *RendererStream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Running reports whether the stream is in RUNNING
func (s *RendererStream) Running() bool {
	return s.Status() == StatusRunning
}

// Config returns the stream's immutable config
func (s *RendererStream) Config() audio.StreamConfig { return s.config }

// SetStreamIndex assigns the engine-facing stream id
func (s *RendererStream) SetStreamIndex(index uint32) {
	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
}

// GetStreamIndex returns the stream id
func (s *RendererStream) GetStreamIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// IsNeedResample reports whether enqueues go through the float path
func (s *RendererStream) IsNeedResample() bool { return s.geo.Load().needResample }

// DestinationFormat is the sample format of ring slots
func (s *RendererStream) DestinationFormat() audio.SampleFormat { return s.geo.Load().destFormat }

// DestinationRate is the sample rate of ring slots
func (s *RendererStream) DestinationRate() int { return s.geo.Load().destRate }

// SlotSize is the byte size of one converted span
func (s *RendererStream) SlotSize() int { return s.geo.Load().slotSize }

// GetMinimumBufferSize is the producer span size in bytes
func (s *RendererStream) GetMinimumBufferSize() int { return s.geo.Load().minBufferSize }

// GetByteSizePerFrame is the producer frame size
func (s *RendererStream) GetByteSizePerFrame() int { return s.geo.Load().frameSize }

// GetSpanSizePerFrame is the number of frames in one producer span
func (s *RendererStream) GetSpanSizePerFrame() int { return s.geo.Load().spanFrames }

// GetWritableSize is the number of producer bytes the ring can accept now
func (s *RendererStream) GetWritableSize() int {
	s.ringMu.RLock()
	defer s.ringMu.RUnlock()
	return len(s.writeQueue) * s.geo.Load().minBufferSize
}

// ReadyCount is the number of spans waiting for the consumer
func (s *RendererStream) ReadyCount() int {
	s.ringMu.RLock()
	defer s.ringMu.RUnlock()
	return len(s.readQueue)
}

// InFlightCount is the number of spans handed out by Peek and not yet returned
func (s *RendererStream) InFlightCount() int {
	return bits.OnesCount32(s.inFlight.Load())
}

// GetStreamFramesWritten is the number of producer frames accepted so far
func (s *RendererStream) GetStreamFramesWritten() uint64 {
	frameSize := s.geo.Load().frameSize
	if frameSize == 0 {
		return 0
	}
	return s.totalBytesWritten.Load() / uint64(frameSize)
}

// GetAudioTime returns the last written frame and the modeled nanosecond
// time at which it plays
func (s *RendererStream) GetAudioTime() (uint64, int64, error) {
	frames := s.GetStreamFramesWritten()
	t := s.timeModel.GetTimeOfPos(frames)
	if t == sync.InvalidTime {
		return frames, 0, fmt.Errorf("%w: no time stamp for frame %d", audio.ErrIllegalState, frames)
	}
	return frames, t + int64(audioTimeOffset), nil
}

// GetCurrentTimeStamp returns the modeled play time of the last written frame
func (s *RendererStream) GetCurrentTimeStamp() (int64, error) {
	_, t, err := s.GetAudioTime()
	return t, err
}

// GetCurrentPosition returns frames written and their modeled play time
func (s *RendererStream) GetCurrentPosition() (uint64, int64, error) {
	return s.GetAudioTime()
}

// GetLatency is the duration of audio queued but not yet rendered
func (s *RendererStream) GetLatency() time.Duration {
	rate := s.effectiveRate()
	if rate <= 0 {
		return 0
	}
	frames := int64(s.ReadyCount()) * int64(s.geo.Load().spanFrames)
	return time.Duration(frames * int64(time.Second) / int64(rate))
}

func (s *RendererStream) effectiveRate() int {
	s.paramMu.Lock()
	defer s.paramMu.Unlock()
	return scaleRate(s.config.SampleRate, s.renderRate)
}

func scaleRate(rate int, r RenderRate) int {
	switch r {
	case RateDouble:
		return rate * 2
	case RateHalf:
		return rate / 2
	default:
		return rate
	}
}

// SetRate changes the playback speed used by the time model
func (s *RendererStream) SetRate(rate RenderRate) error {
	switch rate {
	case RateNormal, RateDouble, RateHalf:
	default:
		return fmt.Errorf("%w: render rate %d", audio.ErrInvalidParam, int(rate))
	}
	s.paramMu.Lock()
	s.renderRate = rate
	s.paramMu.Unlock()

	if s.timeModel.SampleRate() > 0 {
		s.timeModel.UpdateSampleRate(scaleRate(s.config.SampleRate, rate))
	}
	log.Debugf("Stream %d rate %s", s.GetStreamIndex(), rate)
	return nil
}

// GetRate returns the playback speed
func (s *RendererStream) GetRate() RenderRate {
	s.paramMu.Lock()
	defer s.paramMu.Unlock()
	return s.renderRate
}

// SetLowPowerVolume sets the gain applied on enqueue, clamped to [0, 1]
func (s *RendererStream) SetLowPowerVolume(volume float32) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("%w: volume %v", audio.ErrInvalidParam, volume)
	}
	s.paramMu.Lock()
	s.lowPowerVolume = volume
	s.paramMu.Unlock()
	return nil
}

// GetLowPowerVolume returns the enqueue gain
func (s *RendererStream) GetLowPowerVolume() float32 {
	s.paramMu.Lock()
	defer s.paramMu.Unlock()
	return s.lowPowerVolume
}

// SetAudioEffectMode records the effect mode. Effects are not applied on this path.
func (s *RendererStream) SetAudioEffectMode(mode int) error {
	s.paramMu.Lock()
	s.effectMode = mode
	s.paramMu.Unlock()
	return nil
}

// GetAudioEffectMode returns the recorded effect mode
func (s *RendererStream) GetAudioEffectMode() int {
	s.paramMu.Lock()
	defer s.paramMu.Unlock()
	return s.effectMode
}

// SetPrivacyType records the capture policy
func (s *RendererStream) SetPrivacyType(p audio.PrivacyType) {
	s.paramMu.Lock()
	s.privacy = p
	s.paramMu.Unlock()
}

// GetPrivacyType returns the capture policy
func (s *RendererStream) GetPrivacyType() audio.PrivacyType {
	s.paramMu.Lock()
	defer s.paramMu.Unlock()
	return s.privacy
}

// AbortCallback counts producer aborts
func (s *RendererStream) AbortCallback(times int) {
	s.abortCount.Add(int32(times))
}

// AbortCount returns the accumulated abort count
func (s *RendererStream) AbortCount() int {
	return int(s.abortCount.Load())
}
