// ABOUTME: Main player application orchestration
// ABOUTME: Wires a PCM source through a renderer stream into a none-mix engine
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	gosync "sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Resonate-Protocol/resonate-direct/internal/engine"
	"github.com/Resonate-Protocol/resonate-direct/internal/stream"
	"github.com/Resonate-Protocol/resonate-direct/internal/sync"
	"github.com/Resonate-Protocol/resonate-direct/internal/ui"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/output"
)

const (
	// writePoll is how long the write loop waits when every slot is busy
	writePoll = 5 * time.Millisecond

	// maxIdleResumes is how many breaker trips in a row without a rendered
	// span the player tolerates before giving up on the sink
	maxIdleResumes = 3
)

// Config holds player configuration
type Config struct {
	// Sinks resolves the engine's direct and voip sinks
	Sinks output.Provider

	// SinkName is shown in the UI
	SinkName string

	// IsDirect renders 32-bit spans instead of 16-bit
	IsDirect bool

	// IsVoip tags the stream as voice communication and opens the voip sink
	IsVoip bool

	// StreamIndex identifies the stream in logs and events
	StreamIndex uint32

	// Quality is the resampler quality
	Quality int

	// Clock paces the engine and the write loop. Defaults to the system clock.
	Clock sync.Clock

	// Observers receive every stream status change
	Observers []stream.StatusCallback

	// Device is reported to the sink
	Device audio.DeviceInfo

	UseTUI bool
}

// Player represents the main player application
type Player struct {
	config Config
	clock  sync.Clock
	source decode.Source
	stream *stream.RendererStream
	engine *engine.NoneMixEngine

	fillMu gosync.Mutex
	eof    atomic.Bool

	// stalled is set by the engine worker when the breaker pauses it.
	// idleResumes and lastRendered belong to the write loop.
	stalled      atomic.Bool
	idleResumes  int
	lastRendered uint64

	state  atomic.Value
	errMu  gosync.Mutex
	err    error
	volume atomic.Value

	tuiProg *tea.Program

	ctx      context.Context
	cancel   context.CancelFunc
	wg       gosync.WaitGroup
	done     chan struct{}
	doneOnce gosync.Once
	stopOnce gosync.Once
}

var _ ui.Controller = (*Player)(nil)

// New creates a player for source. Nothing runs until Start.
func New(source decode.Source, config Config) *Player {
	clock := config.Clock
	if clock == nil {
		clock = sync.Default
	}

	sc := source.Config()
	if config.IsVoip {
		sc.Usage = audio.UsageVoiceCommunication
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		config: config,
		clock:  clock,
		source: source,
		stream: stream.NewRendererStream(sc, stream.Options{
			IsDirect: config.IsDirect,
			Clock:    clock,
			Quality:  config.Quality,
		}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.engine = engine.New(engine.Config{
		Sinks:          config.Sinks,
		Clock:          clock,
		IsVoip:         config.IsVoip,
		Device:         config.Device,
		OnBreakerPause: p.onBreakerPause,
	})
	p.state.Store("idle")
	p.volume.Store(float32(1))
	return p
}

// Stream exposes the renderer stream
func (p *Player) Stream() *stream.RendererStream {
	return p.stream
}

// Engine exposes the mix engine
func (p *Player) Engine() *engine.NoneMixEngine {
	return p.engine
}

// Done is closed when playback finishes or the player stops
func (p *Player) Done() <-chan struct{} {
	return p.done
}

// Err returns the error that ended playback, if any
func (p *Player) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Start prepares the stream, binds it to the engine and starts the write loop
func (p *Player) Start() error {
	p.stream.SetStreamIndex(p.config.StreamIndex)
	if err := p.stream.InitParams(); err != nil {
		return fmt.Errorf("stream init failed: %w", err)
	}

	observers := stream.MultiStatus{stream.StatusCallbackFunc(p.onStatus)}
	observers = append(observers, p.config.Observers...)
	p.stream.SetStatusCallback(observers)
	p.stream.SetWriteCallback(stream.WriteCallbackFunc(p.onWriteData))

	// Prime the ring so the first period has data
	for p.stream.GetWritableSize() > 0 {
		if err := p.fillOne(p.ctx); err != nil {
			break
		}
	}

	if err := p.stream.Start(); err != nil {
		p.stream.Release()
		return err
	}
	if err := p.engine.AddRenderer(p.stream); err != nil {
		p.stream.Release()
		return fmt.Errorf("engine bind failed: %w", err)
	}
	if p.eof.Load() {
		// Source ended while priming
		if err := p.stream.Drain(); err != nil {
			log.Debugf("Drain: %v", err)
		}
	}

	log.Infof("Playing %q: %s %dHz %dch", p.source.Title(),
		p.stream.Config().Format, p.stream.Config().SampleRate, p.stream.Config().Channels)

	p.wg.Add(1)
	go p.writeLoop()
	return nil
}

// Run starts playback and blocks until it finishes, the TUI quits or ctx is done
func (p *Player) Run(ctx context.Context) error {
	if err := p.Start(); err != nil {
		return err
	}
	defer p.Stop()

	if p.config.UseTUI {
		prog, err := ui.Run(p)
		if err != nil {
			return fmt.Errorf("failed to start TUI: %w", err)
		}
		p.tuiProg = prog

		tuiDone := make(chan error, 1)
		go func() {
			_, err := prog.Run()
			tuiDone <- err
		}()

		select {
		case err := <-tuiDone:
			if err != nil {
				return err
			}
		case <-p.done:
			prog.Quit()
			<-tuiDone
		case <-ctx.Done():
			prog.Quit()
			<-tuiDone
		}
		return p.Err()
	}

	select {
	case <-p.done:
	case <-ctx.Done():
	}
	return p.Err()
}

func (p *Player) onStatus(index uint32, op stream.Operation) {
	p.state.Store(op.String())
	log.Debugf("Stream %d %s", index, op)
}

// onBreakerPause runs on the engine worker after repeated failures parked
// it. The write loop resumes the engine once spans are queued again.
func (p *Player) onBreakerPause(index uint32) {
	log.Warnf("Stream %d starved, engine paused", index)
	p.state.Store("stalled")
	p.stalled.Store(true)
}

// resumeStalled restarts a breaker-paused engine once the ring holds data.
// A sink that keeps failing without rendering anything ends playback.
func (p *Player) resumeStalled() error {
	switch p.stream.Status() {
	case stream.StatusRunning, stream.StatusDrain:
	default:
		return nil
	}
	if p.stream.ReadyCount() == 0 {
		return nil
	}

	rendered := p.engine.RenderedCount()
	if rendered == p.lastRendered {
		p.idleResumes++
	} else {
		p.idleResumes = 0
	}
	if p.idleResumes >= maxIdleResumes {
		return fmt.Errorf("%w: nothing rendered after %d restarts", audio.ErrDevice, p.idleResumes)
	}
	p.lastRendered = rendered

	p.stalled.Store(false)
	log.Infof("Resuming engine (%d spans ready)", p.stream.ReadyCount())
	return p.engine.Start()
}

// onWriteData runs on the engine worker when the ring is empty. It must not
// block, so it gives up if the write loop is mid-read.
func (p *Player) onWriteData(length int) error {
	if !p.fillMu.TryLock() {
		return fmt.Errorf("%w: producer busy", audio.ErrWriteBuffer)
	}
	defer p.fillMu.Unlock()
	return p.fillLocked()
}

func (p *Player) fillOne(ctx context.Context) error {
	p.fillMu.Lock()
	defer p.fillMu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return p.fillLocked()
}

// fillLocked reads one span from the source and enqueues it. At end of
// source the stream is drained.
func (p *Player) fillLocked() error {
	if p.eof.Load() {
		return io.EOF
	}

	span := p.stream.GetMinimumBufferSize()
	desc := p.stream.DequeueBuffer(span)
	if desc.IsEmpty() {
		// Not running yet; read into a scratch buffer during priming
		if p.stream.Status() != stream.StatusInitialized {
			return fmt.Errorf("%w: stream %s", audio.ErrIllegalState, p.stream.Status())
		}
		desc = audio.BufferDesc{Buffer: make([]byte, span), DataLength: span}
	}

	n, err := io.ReadFull(p.source, desc.Buffer)
	frameSize := p.stream.GetByteSizePerFrame()
	n -= n % frameSize
	if n > 0 {
		desc.DataLength = n
		if qerr := p.stream.EnqueueBuffer(desc); qerr != nil {
			return qerr
		}
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		p.markEOF()
		if n > 0 {
			return nil
		}
		return io.EOF
	default:
		return fmt.Errorf("source read: %w", err)
	}
}

func (p *Player) markEOF() {
	if !p.eof.CompareAndSwap(false, true) {
		return
	}
	log.Infof("End of %q, draining", p.source.Title())
	if p.stream.Status() == stream.StatusRunning {
		if err := p.stream.Drain(); err != nil {
			log.Debugf("Drain: %v", err)
		}
	}
}

// writeLoop keeps the ring full from the source, then waits for it to drain
func (p *Player) writeLoop() {
	defer p.wg.Done()

	for {
		if p.ctx.Err() != nil {
			return
		}

		if p.stalled.Load() {
			if err := p.resumeStalled(); err != nil {
				log.Errorf("Engine resume failed: %v", err)
				p.finish(err)
				return
			}
		}

		if p.eof.Load() {
			if p.drained() {
				log.Infof("Playback complete")
				p.finish(nil)
				return
			}
			p.sleep(writePoll)
			continue
		}

		st := p.stream.Status()
		if st == stream.StatusRunning && p.stream.GetWritableSize() >= p.stream.GetMinimumBufferSize() {
			err := p.fillOne(p.ctx)
			switch {
			case err == nil, errors.Is(err, io.EOF), errors.Is(err, audio.ErrWriteBuffer):
			case errors.Is(err, context.Canceled):
				return
			default:
				log.Errorf("Write failed: %v", err)
				p.finish(err)
				return
			}
			continue
		}

		p.sleep(writePoll)
	}
}

// drained reports whether every queued span has been rendered
func (p *Player) drained() bool {
	switch p.stream.Status() {
	case stream.StatusStopped, stream.StatusReleased:
		return true
	}
	return p.stream.ReadyCount() == 0 && p.stream.InFlightCount() == 0
}

func (p *Player) sleep(d time.Duration) {
	_ = p.clock.SleepUntil(p.ctx, p.clock.Now().Add(d))
}

func (p *Player) finish(err error) {
	p.doneOnce.Do(func() {
		p.errMu.Lock()
		p.err = err
		p.errMu.Unlock()
		close(p.done)
	})
}

// TogglePause pauses a running stream or resumes a paused one
func (p *Player) TogglePause() error {
	switch p.stream.Status() {
	case stream.StatusRunning:
		if err := p.engine.Pause(); err != nil {
			return err
		}
		return p.stream.Pause()
	case stream.StatusPaused:
		if err := p.stream.Start(); err != nil {
			return err
		}
		p.stalled.Store(false)
		return p.engine.Start()
	default:
		return fmt.Errorf("%w: cannot pause in %s", audio.ErrIllegalState, p.stream.Status())
	}
}

// SetVolume applies a low-power volume to spans as they are enqueued
func (p *Player) SetVolume(volume float32) error {
	if err := p.stream.SetLowPowerVolume(volume); err != nil {
		return err
	}
	p.volume.Store(volume)
	return nil
}

// CycleRate steps the render rate normal -> double -> half -> normal
func (p *Player) CycleRate() error {
	next := stream.RateNormal
	switch p.stream.GetRate() {
	case stream.RateNormal:
		next = stream.RateDouble
	case stream.RateDouble:
		next = stream.RateHalf
	}
	return p.stream.SetRate(next)
}

// Snapshot reports the pipeline state for the UI
func (p *Player) Snapshot() ui.Snapshot {
	cfg := p.stream.Config()
	snap := ui.Snapshot{
		Title:         p.source.Title(),
		State:         p.state.Load().(string),
		Format:        cfg.Format.String(),
		SampleRate:    cfg.SampleRate,
		Channels:      cfg.Channels,
		SinkFormat:    p.stream.DestinationFormat().String(),
		SinkRate:      p.stream.DestinationRate(),
		Resample:      p.stream.IsNeedResample(),
		Sink:          p.config.SinkName,
		Volume:        p.volume.Load().(float32),
		Rate:          p.stream.GetRate().String(),
		Latency:       p.stream.GetLatency(),
		FramesWritten: p.stream.GetStreamFramesWritten(),
		Ready:         p.stream.ReadyCount(),
		Failed:        p.engine.FailedCount(),
		Err:           p.Err(),
	}
	if cfg.SampleRate > 0 {
		snap.Position = time.Duration(snap.FramesWritten) * time.Second / time.Duration(cfg.SampleRate)
	}
	select {
	case <-p.done:
		snap.Done = true
	default:
	}
	return snap
}

// Stop unbinds the engine, releases the stream and closes the source
func (p *Player) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()

		if err := p.engine.RemoveRenderer(p.stream); err != nil {
			log.Warnf("Engine stop: %v", err)
		}
		if err := p.stream.Stop(); err != nil {
			log.Debugf("Stream stop: %v", err)
		}
		p.stream.Release()

		if err := p.source.Close(); err != nil {
			log.Debugf("Source close: %v", err)
		}
		p.finish(nil)
		log.Infof("Player stopped")
	})
}
