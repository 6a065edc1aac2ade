// ABOUTME: NoneMixEngine renders a single renderer stream straight to a sink without mixing
// ABOUTME: Paces a worker on absolute 20ms deadlines and trips a breaker after repeated failures
package engine

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-direct/internal/sync"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/output"
)

const (
	// Period is one render cycle
	Period = audio.SpanDurationMs * time.Millisecond

	// DeltaTime is slack added to every wake deadline
	DeltaTime = 4 * time.Millisecond

	// FadingDuration bounds how long Stop and Pause wait for a fade-out span
	FadingDuration = 20 * time.Millisecond

	// MaxErrorCount consecutive failures pause the worker
	MaxErrorCount = 5

	// AdapterName is the sink adapter the engine opens
	AdapterName = "primary"
)

// ErrNoSink is returned by Start when no stream has been bound yet
var ErrNoSink = errors.New("no sink initialized")

// Renderer is the stream side the engine pulls spans from
type Renderer interface {
	GetStreamIndex() uint32
	Config() audio.StreamConfig
	Running() bool
	SlotSize() int
	DestinationFormat() audio.SampleFormat
	DestinationRate() int
	Peek(out []byte) (int, error)
	ReturnIndex(index int) error
}

// Config wires an engine to its sinks
type Config struct {
	// Sinks resolves the direct and voip sinks
	Sinks output.Provider

	// Clock paces the worker. Defaults to the system clock.
	Clock sync.Clock

	// IsVoip selects the voip sink and rate table
	IsVoip bool

	// Device is reported to the sink on Init
	Device audio.DeviceInfo

	// OnBreakerPause is called on the worker when repeated failures pause
	// the engine. It must not block or call back into the engine.
	OnBreakerPause func(streamIndex uint32)
}

// NoneMixEngine binds one stream to one sink. Lifecycle calls are
// serialized by mu; the worker only touches the binding under bindMu.
type NoneMixEngine struct {
	sinks     output.Provider
	clock     sync.Clock
	device    audio.DeviceInfo
	onBreaker func(streamIndex uint32)

	mu     gosync.Mutex
	isVoip bool

	bindMu gosync.RWMutex
	stream Renderer
	sink   output.Sink
	attr   output.Attr
	buf    []byte

	task atomic.Pointer[ThreadTask]

	isStart atomic.Bool
	isPause atomic.Bool

	fadeIn   atomic.Bool
	fadeOut  atomic.Bool
	fadeDone chan struct{}

	syncMu      gosync.Mutex
	fwkSyncTime time.Time
	writeCount  atomic.Int64
	failedCount atomic.Int64
	rendered    atomic.Uint64
}

// New creates an idle engine
func New(cfg Config) *NoneMixEngine {
	clock := cfg.Clock
	if clock == nil {
		clock = sync.Default
	}
	return &NoneMixEngine{
		sinks:     cfg.Sinks,
		clock:     clock,
		device:    cfg.Device,
		onBreaker: cfg.OnBreakerPause,
		isVoip:    cfg.IsVoip,
		fadeDone:  make(chan struct{}, 1),
	}
}

func (e *NoneMixEngine) resetCounters() {
	e.syncMu.Lock()
	e.fwkSyncTime = e.clock.Now()
	e.syncMu.Unlock()
	e.writeCount.Store(0)
	e.failedCount.Store(0)
}

// Start opens the sink on first call and runs the worker. Calling Start on
// a paused engine resumes it with a fade-in.
func (e *NoneMixEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.bindMu.RLock()
	sink := e.sink
	e.bindMu.RUnlock()
	if sink == nil || !sink.IsInited() {
		return fmt.Errorf("%w: %w", audio.ErrIllegalState, ErrNoSink)
	}

	e.resetCounters()

	task := e.task.Load()
	if task == nil {
		task = NewThreadTask("NoneMixEngine", e.MixStreams)
		e.task.Store(task)
	}

	if !e.isStart.Load() {
		e.fadeIn.Store(true)
		e.fadeOut.Store(false)
		if err := sink.Start(); err != nil {
			return fmt.Errorf("%w: sink start: %w", audio.ErrDevice, err)
		}
		e.isStart.Store(true)
	} else if e.isPause.Load() {
		e.fadeIn.Store(true)
		e.fadeOut.Store(false)
	}
	e.isPause.Store(false)

	if !task.CheckThreadIsRunning() {
		task.Start()
	}
	log.Infof("Engine started")
	return nil
}

// Stop fades out, ends the worker and stops the sink
func (e *NoneMixEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

func (e *NoneMixEngine) stopLocked() error {
	e.resetCounters()

	if task := e.task.Load(); task != nil {
		e.waitFadeOut(task)
		task.Stop()
		e.task.Store(nil)
	}

	e.bindMu.RLock()
	sink := e.sink
	e.bindMu.RUnlock()

	var err error
	if sink != nil && sink.IsInited() {
		if serr := sink.Stop(); serr != nil {
			err = fmt.Errorf("%w: sink stop: %w", audio.ErrDevice, serr)
		}
	}
	e.isStart.Store(false)
	e.isPause.Store(false)
	log.Infof("Engine stopped")
	return err
}

// Pause fades out and parks the worker. The sink stays open.
func (e *NoneMixEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if task := e.task.Load(); task != nil {
		e.waitFadeOut(task)
		task.Pause()
	}
	e.isPause.Store(true)
	log.Infof("Engine paused")
	return nil
}

// PauseAsync parks the worker without waiting. It is safe to call from the
// worker itself.
func (e *NoneMixEngine) PauseAsync() {
	if task := e.task.Load(); task != nil {
		task.PauseAsync()
	}
	e.isPause.Store(true)
	log.Debugf("Engine pause requested")
}

// Flush has nothing to discard; spans live in the stream
func (e *NoneMixEngine) Flush() error {
	return nil
}

// waitFadeOut asks the worker to ramp the next span down and waits for it,
// at most FadingDuration
func (e *NoneMixEngine) waitFadeOut(task *ThreadTask) {
	if !task.CheckThreadIsRunning() {
		return
	}
	select {
	case <-e.fadeDone:
	default:
	}
	e.fadeIn.Store(false)
	e.fadeOut.Store(true)

	timer := time.NewTimer(FadingDuration)
	defer timer.Stop()
	select {
	case <-e.fadeDone:
	case <-timer.C:
		log.Debugf("Fade-out not rendered within %v", FadingDuration)
	}
}

// IsPlaybackEngineRunning reports started and not paused
func (e *NoneMixEngine) IsPlaybackEngineRunning() bool {
	return e.isStart.Load() && !e.isPause.Load()
}

// MixStreams is one worker cycle: pull a span, render it, sleep to the next
// deadline
func (e *NoneMixEngine) MixStreams(ctx context.Context) {
	e.bindMu.RLock()
	st, sink, attr, buf := e.stream, e.sink, e.attr, e.buf
	e.bindMu.RUnlock()

	if st == nil {
		e.writeCount.Add(1)
		e.StandbySleep(ctx)
		return
	}

	if n := e.failedCount.Load(); n >= MaxErrorCount {
		log.Warnf("Stream %d failed %d times in a row, pausing", st.GetStreamIndex(), n)
		e.PauseAsync()
		if e.onBreaker != nil {
			e.onBreaker(st.GetStreamIndex())
		}
		return
	}

	index, err := st.Peek(buf)
	e.writeCount.Add(1)
	if err != nil {
		_ = st.ReturnIndex(index)
		n := e.failedCount.Add(1)
		log.Debugf("Peek stream %d failed (%d): %v", st.GetStreamIndex(), n, err)
		e.StandbySleep(ctx)
		return
	}

	e.applyFade(buf, attr)

	if _, err := sink.RenderFrame(buf); err != nil {
		n := e.failedCount.Add(1)
		log.Warnf("Render failed (%d): %v", n, err)
	} else {
		e.failedCount.Store(0)
		e.rendered.Add(1)
	}

	if err := st.ReturnIndex(index); err != nil {
		log.Errorf("Return slot %d: %v", index, err)
	}
	e.StandbySleep(ctx)
}

func (e *NoneMixEngine) applyFade(buf []byte, attr output.Attr) {
	switch {
	case e.fadeOut.Load():
		convert.ApplyRamp(buf, attr.Format, attr.Channels, 1, 0)
		e.fadeOut.Store(false)
	case e.fadeIn.Load():
		convert.ApplyRamp(buf, attr.Format, attr.Channels, 0, 1)
		e.fadeIn.Store(false)
	default:
		return
	}
	select {
	case e.fadeDone <- struct{}{}:
	default:
	}
}

// StandbySleep sleeps to fwkSyncTime + writeCount*Period + DeltaTime
func (e *NoneMixEngine) StandbySleep(ctx context.Context) {
	e.syncMu.Lock()
	origin := e.fwkSyncTime
	e.syncMu.Unlock()

	deadline := sync.PeriodDeadline(origin, e.writeCount.Load(), Period, DeltaTime)
	if err := e.clock.SleepUntil(ctx, deadline); err != nil && !errors.Is(err, context.Canceled) {
		log.Debugf("Standby sleep: %v", err)
	}
}

// AddRenderer binds the first stream and opens the sink for it. A second,
// different stream is refused with ErrUnsupported. If the bound stream is
// already running the engine starts.
func (e *NoneMixEngine) AddRenderer(r Renderer) error {
	e.mu.Lock()

	e.bindMu.RLock()
	bound := e.stream
	e.bindMu.RUnlock()

	if bound != nil {
		e.mu.Unlock()
		if bound.GetStreamIndex() != r.GetStreamIndex() {
			return fmt.Errorf("%w: engine bound to stream %d, refusing %d",
				audio.ErrUnsupported, bound.GetStreamIndex(), r.GetStreamIndex())
		}
		return nil
	}

	e.bindMu.Lock()
	e.stream = r
	e.buf = make([]byte, r.SlotSize())
	e.bindMu.Unlock()

	if err := e.initSinkLocked(r); err != nil {
		e.bindMu.Lock()
		e.stream = nil
		e.buf = nil
		e.bindMu.Unlock()
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	log.Infof("Stream %d bound", r.GetStreamIndex())
	if r.Running() {
		return e.Start()
	}
	return nil
}

// RemoveRenderer stops the engine and closes the sink if r is bound
func (e *NoneMixEngine) RemoveRenderer(r Renderer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.bindMu.RLock()
	bound := e.stream
	e.bindMu.RUnlock()
	if bound == nil || bound.GetStreamIndex() != r.GetStreamIndex() {
		return nil
	}

	err := e.stopLocked()

	e.bindMu.Lock()
	if e.sink != nil {
		e.sink.DeInit()
	}
	e.stream = nil
	e.buf = nil
	e.bindMu.Unlock()

	log.Infof("Stream %d unbound", r.GetStreamIndex())
	return err
}

// InitSink opens the role's sink for the bound stream
func (e *NoneMixEngine) InitSink() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.bindMu.RLock()
	bound := e.stream
	e.bindMu.RUnlock()
	if bound == nil {
		return fmt.Errorf("%w: no stream bound", audio.ErrIllegalState)
	}
	return e.initSinkLocked(bound)
}

func (e *NoneMixEngine) initSinkLocked(r Renderer) error {
	if e.sinks == nil {
		return fmt.Errorf("%w: no sink provider", audio.ErrDevice)
	}
	role := output.RoleDirect
	if e.isVoip {
		role = output.RoleVoip
	}
	sink, err := e.sinks.Sink(role)
	if err != nil {
		return err
	}

	cfg := r.Config()
	attr := output.Attr{
		AdapterName:     AdapterName,
		SampleRate:      audio.SinkSampleRate(cfg.SampleRate, e.isVoip),
		Channels:        audio.SinkChannels(cfg.Channels),
		Format:          r.DestinationFormat(),
		ChannelLayout:   audio.SinkChannelLayout(cfg.Channels),
		Volume:          1,
		OpenMicSpeaker:  1,
		DeviceType:      e.device.Type,
		DeviceNetworkID: e.device.NetworkID,
	}
	if attr.SampleRate != r.DestinationRate() {
		log.Warnf("Sink rate %d differs from stream %d ring rate %d",
			attr.SampleRate, r.GetStreamIndex(), r.DestinationRate())
	}

	if sink.IsInited() {
		sink.DeInit()
	}
	if err := sink.Init(attr); err != nil {
		return fmt.Errorf("%w: sink init %s: %w", audio.ErrDevice, attr, err)
	}
	if err := sink.SetVolume(1, 1); err != nil {
		log.Warnf("Sink volume: %v", err)
	}

	e.bindMu.Lock()
	e.sink = sink
	e.attr = attr
	e.bindMu.Unlock()

	log.Infof("Sink %s opened: %s", role, attr)
	return nil
}

// SwitchSink stops the engine and reopens the sink for the voip or direct role
func (e *NoneMixEngine) SwitchSink(isVoip bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.stopLocked(); err != nil {
		log.Warnf("Stop before switch: %v", err)
	}

	e.bindMu.Lock()
	if e.sink != nil {
		e.sink.DeInit()
		e.sink = nil
	}
	bound := e.stream
	e.bindMu.Unlock()

	e.isVoip = isVoip
	if bound == nil {
		return nil
	}
	return e.initSinkLocked(bound)
}

// IsVoip reports which sink role is in use
func (e *NoneMixEngine) IsVoip() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isVoip
}

// SinkAttr returns the attributes the sink was opened with
func (e *NoneMixEngine) SinkAttr() output.Attr {
	e.bindMu.RLock()
	defer e.bindMu.RUnlock()
	return e.attr
}

// FailedCount returns the consecutive failure counter
func (e *NoneMixEngine) FailedCount() int {
	return int(e.failedCount.Load())
}

// RenderedCount is the number of spans the sink has accepted since New
func (e *NoneMixEngine) RenderedCount() uint64 {
	return e.rendered.Load()
}
