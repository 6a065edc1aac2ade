// ABOUTME: Tests for the single-stream mix engine
// ABOUTME: Drives the worker with a fake clock and records sink output
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-direct/internal/audiotest"
	"github.com/Resonate-Protocol/resonate-direct/internal/stream"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/output"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const waitFor = 2 * time.Second

type fixture struct {
	clock  *audiotest.FakeClock
	sink   *audiotest.FakeSink
	engine *NoneMixEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, Config{})
}

func newFixtureWith(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		clock: audiotest.NewFakeClock(epoch),
		sink:  audiotest.NewFakeSink(),
	}
	cfg.Sinks = f.sink.Provider()
	cfg.Clock = f.clock
	f.engine = New(cfg)
	t.Cleanup(func() { _ = f.engine.Stop() })
	return f
}

func (f *fixture) runningStream(t *testing.T, index uint32, rate int) *stream.RendererStream {
	t.Helper()
	s := stream.NewRendererStream(audio.StreamConfig{
		Format:        audio.SampleS16LE,
		Channels:      2,
		SampleRate:    rate,
		ChannelLayout: audio.LayoutStereo,
	}, stream.Options{IsDirect: true, Clock: f.clock})
	s.SetStreamIndex(index)
	require.NoError(t, s.InitParams())
	require.NoError(t, s.Start())
	return s
}

func fullSpan(s *stream.RendererStream) audio.BufferDesc {
	buf := make([]byte, s.GetMinimumBufferSize())
	for i := range buf {
		buf[i] = 0x11
	}
	return audio.BufferDesc{Buffer: buf, DataLength: len(buf)}
}

// tick lets the worker finish its current sleep and enter the next one
func (f *fixture) tick(t *testing.T) {
	t.Helper()
	n := f.clock.Sleeps()
	f.clock.AdvanceToLastDeadline()
	require.Eventually(t, func() bool { return f.clock.Sleeps() > n }, waitFor, time.Millisecond)
}

func TestSingleSpanRendersOnce(t *testing.T) {
	f := newFixture(t)
	s := f.runningStream(t, 1, 44100)
	require.NoError(t, s.EnqueueBuffer(fullSpan(s)))

	require.NoError(t, f.engine.AddRenderer(s))
	assert.True(t, f.engine.IsPlaybackEngineRunning())

	attr := f.sink.Attr()
	assert.Equal(t, AdapterName, attr.AdapterName)
	assert.Equal(t, 48000, attr.SampleRate)
	assert.Equal(t, 2, attr.Channels)
	assert.Equal(t, audio.SampleS32LE, attr.Format)
	assert.Equal(t, audio.LayoutStereo, attr.ChannelLayout)
	assert.Equal(t, float32(1), attr.Volume)
	assert.Equal(t, 1, attr.OpenMicSpeaker)
	l, r := f.sink.Volume()
	assert.Equal(t, float32(1), l)
	assert.Equal(t, float32(1), r)

	require.Eventually(t, func() bool { return f.clock.Sleeps() == 1 }, waitFor, time.Millisecond)

	frames := f.sink.Frames()
	require.Len(t, frames, 1)
	assert.Len(t, frames[0], 7680)
	assert.Equal(t, []time.Time{epoch.Add(24 * time.Millisecond)}, f.clock.Deadlines())

	// every slot is back with the producer
	assert.Equal(t, stream.SlotCount*s.GetMinimumBufferSize(), s.GetWritableSize())
}

func TestSecondStreamRefused(t *testing.T) {
	f := newFixture(t)
	a := f.runningStream(t, 1, 48000)
	b := f.runningStream(t, 2, 48000)

	require.NoError(t, f.engine.AddRenderer(a))
	err := f.engine.AddRenderer(b)
	assert.True(t, errors.Is(err, audio.ErrUnsupported))

	assert.NoError(t, f.engine.AddRenderer(a), "re-adding the bound stream is fine")
	initCalls, _, _, _ := f.sink.Calls()
	assert.Equal(t, 1, initCalls)
}

func TestAddRendererIdleStreamDoesNotStart(t *testing.T) {
	f := newFixture(t)
	s := stream.NewRendererStream(audio.StreamConfig{
		Format: audio.SampleS16LE, Channels: 1, SampleRate: 16000,
	}, stream.Options{Clock: f.clock})
	require.NoError(t, s.InitParams())

	require.NoError(t, f.engine.AddRenderer(s))
	assert.False(t, f.engine.IsPlaybackEngineRunning())
	assert.True(t, f.sink.IsInited())
	assert.Equal(t, 1, f.sink.Attr().Channels)
	assert.Equal(t, audio.LayoutMono, f.sink.Attr().ChannelLayout)

	require.NoError(t, f.engine.Start())
	assert.True(t, f.engine.IsPlaybackEngineRunning())
}

func TestStartWithoutStream(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Start()
	assert.True(t, errors.Is(err, audio.ErrIllegalState))
	assert.True(t, errors.Is(err, ErrNoSink))
}

func TestAddRendererSinkInitFailure(t *testing.T) {
	f := newFixture(t)
	f.sink.InitErr = errors.New("no device")
	s := f.runningStream(t, 1, 48000)

	err := f.engine.AddRenderer(s)
	assert.True(t, errors.Is(err, audio.ErrDevice))

	f.sink.InitErr = nil
	require.NoError(t, f.engine.AddRenderer(s), "failed bind leaves the engine unbound")
}

func TestCircuitBreakerPausesAfterFiveFailures(t *testing.T) {
	var trips atomic.Int32
	var tripped atomic.Uint32
	f := newFixtureWith(t, Config{OnBreakerPause: func(index uint32) {
		tripped.Store(index)
		trips.Add(1)
	}})
	s := f.runningStream(t, 7, 48000)
	require.NoError(t, f.engine.AddRenderer(s))

	require.Eventually(t, func() bool { return f.clock.Sleeps() == 1 }, waitFor, time.Millisecond)
	for i := 2; i <= MaxErrorCount; i++ {
		f.tick(t)
	}
	assert.Equal(t, MaxErrorCount, f.engine.FailedCount())
	assert.True(t, f.engine.IsPlaybackEngineRunning())

	// data arrives, but the breaker trips before the sixth Peek
	require.NoError(t, s.EnqueueBuffer(fullSpan(s)))
	f.clock.AdvanceToLastDeadline()

	require.Eventually(t, func() bool { return !f.engine.IsPlaybackEngineRunning() }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return trips.Load() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, uint32(7), tripped.Load())
	assert.Equal(t, 0, f.sink.FrameCount())
	assert.Equal(t, 1, s.ReadyCount())
	assert.Equal(t, uint64(0), f.engine.RenderedCount())

	// restart clears the breaker and the queued span renders
	require.NoError(t, f.engine.Start())
	require.Eventually(t, func() bool { return f.sink.FrameCount() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, uint64(1), f.engine.RenderedCount())
	assert.Equal(t, int32(1), trips.Load(), "one trip, one callback")
}

func TestRenderFailuresTripBreaker(t *testing.T) {
	f := newFixture(t)
	f.sink.SetRenderErr(errors.New("underrun"))
	s := f.runningStream(t, 1, 48000)
	s.SetWriteCallback(stream.WriteCallbackFunc(func(int) error {
		return s.EnqueueBuffer(fullSpan(s))
	}))
	require.NoError(t, f.engine.AddRenderer(s))

	require.Eventually(t, func() bool { return f.clock.Sleeps() == 1 }, waitFor, time.Millisecond)
	for i := 2; i <= MaxErrorCount; i++ {
		f.tick(t)
	}
	f.clock.AdvanceToLastDeadline()

	require.Eventually(t, func() bool { return !f.engine.IsPlaybackEngineRunning() }, waitFor, time.Millisecond)
	assert.Equal(t, MaxErrorCount, f.engine.FailedCount())
	assert.Equal(t, 0, s.InFlightCount(), "failed renders still return their slot")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	f := newFixture(t)
	s := f.runningStream(t, 1, 48000)
	require.NoError(t, f.engine.AddRenderer(s))

	require.Eventually(t, func() bool { return f.clock.Sleeps() == 1 }, waitFor, time.Millisecond)
	f.tick(t)
	f.tick(t)
	assert.Equal(t, 3, f.engine.FailedCount())

	require.NoError(t, s.EnqueueBuffer(fullSpan(s)))
	f.tick(t)
	assert.Equal(t, 0, f.engine.FailedCount())
	assert.Equal(t, 1, f.sink.FrameCount())
}

func TestDeadlinesAreAbsolute(t *testing.T) {
	f := newFixture(t)
	s := f.runningStream(t, 1, 48000)
	require.NoError(t, f.engine.AddRenderer(s))

	require.Eventually(t, func() bool { return f.clock.Sleeps() == 1 }, waitFor, time.Millisecond)
	f.tick(t)
	f.tick(t)

	// the clock only ever lands exactly on a deadline, yet each deadline is
	// computed from the start time, not from when the worker woke
	assert.Equal(t, []time.Time{
		epoch.Add(24 * time.Millisecond),
		epoch.Add(44 * time.Millisecond),
		epoch.Add(64 * time.Millisecond),
	}, f.clock.Deadlines())
}

func TestFadeInOnFirstSpan(t *testing.T) {
	f := newFixture(t)
	s := f.runningStream(t, 1, 48000)
	require.NoError(t, s.EnqueueBuffer(fullSpan(s)))
	require.NoError(t, s.EnqueueBuffer(fullSpan(s)))
	require.NoError(t, f.engine.AddRenderer(s))

	require.Eventually(t, func() bool { return f.clock.Sleeps() == 1 }, waitFor, time.Millisecond)
	f.tick(t)

	frames := f.sink.Frames()
	require.Len(t, frames, 2)
	assert.NotEqual(t, frames[0], frames[1], "first span is ramped")
	last := len(frames[0]) - 4
	assert.Equal(t, frames[1][last:], frames[0][last:], "ramp ends at unity gain")
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	s := f.runningStream(t, 1, 48000)
	require.NoError(t, f.engine.AddRenderer(s))
	require.Eventually(t, func() bool { return f.clock.Sleeps() == 1 }, waitFor, time.Millisecond)

	require.NoError(t, f.engine.Pause())
	assert.False(t, f.engine.IsPlaybackEngineRunning())
	assert.True(t, f.sink.Started(), "pause keeps the sink open")

	require.NoError(t, f.engine.Start())
	assert.True(t, f.engine.IsPlaybackEngineRunning())
	_, startCalls, _, _ := f.sink.Calls()
	assert.Equal(t, 1, startCalls, "resume does not restart the sink")
}

func TestStopAndRemove(t *testing.T) {
	f := newFixture(t)
	s := f.runningStream(t, 1, 48000)
	require.NoError(t, f.engine.AddRenderer(s))

	other := f.runningStream(t, 9, 48000)
	require.NoError(t, f.engine.RemoveRenderer(other), "unbound stream is ignored")
	assert.True(t, f.engine.IsPlaybackEngineRunning())

	require.NoError(t, f.engine.RemoveRenderer(s))
	assert.False(t, f.engine.IsPlaybackEngineRunning())
	assert.False(t, f.sink.IsInited())
	_, _, stopCalls, deinitCalls := f.sink.Calls()
	assert.Equal(t, 1, stopCalls)
	assert.Equal(t, 1, deinitCalls)

	require.NoError(t, f.engine.AddRenderer(other), "engine accepts a new stream after remove")
}

func TestFlushIsNoop(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.engine.Flush())
}

func TestSwitchSink(t *testing.T) {
	direct := audiotest.NewFakeSink()
	voip := audiotest.NewFakeSink()
	reg := output.NewRegistry()
	reg.Register("fake-direct", func() output.Sink { return direct })
	reg.Register("fake-voip", func() output.Sink { return voip })
	reg.Bind(output.RoleDirect, "fake-direct")
	reg.Bind(output.RoleVoip, "fake-voip")

	clock := audiotest.NewFakeClock(epoch)
	e := New(Config{Sinks: reg, Clock: clock})
	t.Cleanup(func() { _ = e.Stop() })

	s := stream.NewRendererStream(audio.StreamConfig{
		Format: audio.SampleS16LE, Channels: 1, SampleRate: 8000,
	}, stream.Options{Clock: clock})
	require.NoError(t, s.InitParams())
	require.NoError(t, e.AddRenderer(s))
	assert.True(t, direct.IsInited())
	assert.Equal(t, 8000, direct.Attr().SampleRate)

	require.NoError(t, e.SwitchSink(true))
	assert.True(t, e.IsVoip())
	assert.False(t, direct.IsInited())
	assert.True(t, voip.IsInited())
	assert.Equal(t, 16000, voip.Attr().SampleRate)
	assert.False(t, e.IsPlaybackEngineRunning())
}

func TestStandbySleepWithoutStream(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.engine.MixStreams(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return f.clock.Sleeps() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, []time.Time{time.Time{}.Add(24 * time.Millisecond)}, f.clock.Deadlines())

	cancel()
	<-done
	assert.Equal(t, 0, f.sink.FrameCount())
}

func TestThreadTaskLifecycle(t *testing.T) {
	ticks := make(chan struct{}, 100)
	task := NewThreadTask("test", func(ctx context.Context) {
		select {
		case ticks <- struct{}{}:
		default:
		}
		<-ctx.Done()
	})

	assert.False(t, task.CheckThreadIsRunning())
	task.Start()
	assert.True(t, task.CheckThreadIsRunning())
	<-ticks

	task.Pause()
	assert.False(t, task.CheckThreadIsRunning())

	task.Start()
	<-ticks
	assert.True(t, task.CheckThreadIsRunning())

	task.PauseAsync()
	task.Stop()
	assert.False(t, task.CheckThreadIsRunning())
	task.Stop()
}
