// ABOUTME: Tests for player application orchestration
// ABOUTME: Plays bounded tones through the real stream and engine into a recording sink
package app

import (
	"context"
	"errors"
	"io"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-direct/internal/audiotest"
	"github.com/Resonate-Protocol/resonate-direct/internal/stream"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/decode"
)

var tone48k = audio.StreamConfig{
	Format:        audio.SampleS16LE,
	Channels:      2,
	SampleRate:    48000,
	ChannelLayout: audio.LayoutStereo,
}

type opRecorder struct {
	mu  gosync.Mutex
	ops []stream.Operation
}

func (r *opRecorder) OnStatusUpdate(_ uint32, op stream.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *opRecorder) Ops() []stream.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stream.Operation(nil), r.ops...)
}

func run(t *testing.T, p *Player) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	require.NoError(t, ctx.Err(), "playback should finish before the timeout")
}

func TestPlaysToneToCompletion(t *testing.T) {
	sink := audiotest.NewFakeSink()
	rec := &opRecorder{}
	p := New(decode.NewTone(tone48k, 440, 0.5, 100), Config{
		Sinks:       sink.Provider(),
		SinkName:    "fake",
		StreamIndex: 3,
		Observers:   []stream.StatusCallback{rec},
	})

	run(t, p)

	assert.Equal(t, 5, sink.FrameCount(), "100ms is five 20ms spans")
	for _, f := range sink.Frames() {
		assert.Len(t, f, 960*4)
	}
	assert.Equal(t, 48000, sink.Attr().SampleRate)
	assert.Equal(t, audio.SampleS16LE, sink.Attr().Format)

	ops := rec.Ops()
	require.NotEmpty(t, ops)
	assert.Equal(t, stream.OperationStarted, ops[0])
	assert.Contains(t, ops, stream.OperationDrained)
	assert.Equal(t, stream.OperationReleased, ops[len(ops)-1])

	assert.Equal(t, stream.StatusReleased, p.Stream().Status())
	_, _, _, deinit := sink.Calls()
	assert.Equal(t, 1, deinit)

	snap := p.Snapshot()
	assert.True(t, snap.Done)
	assert.Equal(t, uint64(4800), snap.FramesWritten)
	assert.Equal(t, 100*time.Millisecond, snap.Position)
}

func TestShortSourceDrainsAfterPriming(t *testing.T) {
	sink := audiotest.NewFakeSink()
	p := New(decode.NewTone(tone48k, 440, 0.5, 30), Config{Sinks: sink.Provider()})

	run(t, p)
	assert.Equal(t, 2, sink.FrameCount(), "30ms pads to two spans")
}

func TestDirectPathResamples(t *testing.T) {
	sink := audiotest.NewFakeSink()
	cfg := tone48k
	cfg.SampleRate = 44100
	p := New(decode.NewTone(cfg, 440, 0.5, 40), Config{Sinks: sink.Provider(), IsDirect: true})

	run(t, p)

	assert.Equal(t, 48000, sink.Attr().SampleRate)
	assert.Equal(t, audio.SampleS32LE, sink.Attr().Format)
	require.Equal(t, 2, sink.FrameCount())
	assert.Len(t, sink.Frames()[0], 7680)
	assert.True(t, p.Snapshot().Resample)
}

func TestVoipUsesVoipRate(t *testing.T) {
	sink := audiotest.NewFakeSink()
	cfg := tone48k
	cfg.SampleRate = 16000
	cfg.Channels = 1
	cfg.ChannelLayout = audio.LayoutMono
	p := New(decode.NewTone(cfg, 440, 0.5, 40), Config{Sinks: sink.Provider(), IsVoip: true})

	run(t, p)
	assert.Equal(t, 16000, sink.Attr().SampleRate)
	assert.True(t, p.Engine().IsVoip())
}

func TestStartFailsWithoutSink(t *testing.T) {
	sink := audiotest.NewFakeSink()
	sink.InitErr = errors.New("no device")
	p := New(decode.NewTone(tone48k, 440, 0.5, 100), Config{Sinks: sink.Provider()})

	err := p.Start()
	require.Error(t, err)
	assert.Equal(t, stream.StatusReleased, p.Stream().Status())
}

func TestStartRejectsBadSource(t *testing.T) {
	p := New(decode.NewTone(audio.StreamConfig{Format: audio.SampleS16LE}, 440, 0.5, 100),
		Config{Sinks: audiotest.NewFakeSink().Provider()})
	err := p.Start()
	assert.ErrorIs(t, err, audio.ErrInvalidParam)
}

func TestControls(t *testing.T) {
	sink := audiotest.NewFakeSink()
	p := New(decode.NewTone(tone48k, 440, 0.5, 0), Config{Sinks: sink.Provider()})
	require.NoError(t, p.Start())
	defer p.Stop()

	require.NoError(t, p.TogglePause())
	assert.Equal(t, stream.StatusPaused, p.Stream().Status())
	assert.False(t, p.Engine().IsPlaybackEngineRunning())

	require.NoError(t, p.TogglePause())
	assert.Equal(t, stream.StatusRunning, p.Stream().Status())
	assert.True(t, p.Engine().IsPlaybackEngineRunning())

	require.NoError(t, p.SetVolume(0.25))
	assert.Equal(t, float32(0.25), p.Snapshot().Volume)
	assert.ErrorIs(t, p.SetVolume(2), audio.ErrInvalidParam)

	require.NoError(t, p.CycleRate())
	assert.Equal(t, stream.RateDouble, p.Stream().GetRate())
	require.NoError(t, p.CycleRate())
	assert.Equal(t, stream.RateHalf, p.Stream().GetRate())
	require.NoError(t, p.CycleRate())
	assert.Equal(t, stream.RateNormal, p.Stream().GetRate())

	require.Eventually(t, func() bool { return sink.FrameCount() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	p := New(decode.NewTone(tone48k, 440, 0.5, 0), Config{Sinks: audiotest.NewFakeSink().Provider()})
	require.NoError(t, p.Start())
	p.Stop()
	p.Stop()

	select {
	case <-p.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
	assert.ErrorIs(t, p.TogglePause(), audio.ErrIllegalState)
}

type failingSource struct{ decode.Source }

func (failingSource) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestSourceErrorEndsPlayback(t *testing.T) {
	src := failingSource{decode.NewTone(tone48k, 440, 0.5, 0)}
	p := New(src, Config{Sinks: audiotest.NewFakeSink().Provider()})

	require.NoError(t, p.Start())
	defer p.Stop()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("player should stop on a source error")
	}
	assert.ErrorIs(t, p.Err(), io.ErrClosedPipe)
}

// stallingSource blocks once, for delay, after after bytes have been read
type stallingSource struct {
	decode.Source
	after int
	delay time.Duration

	read    int
	stalled bool
}

func (s *stallingSource) Read(p []byte) (int, error) {
	if !s.stalled && s.read >= s.after {
		s.stalled = true
		time.Sleep(s.delay)
	}
	n, err := s.Source.Read(p)
	s.read += n
	return n, err
}

func TestSourceStallResumesEngine(t *testing.T) {
	sink := audiotest.NewFakeSink()
	src := &stallingSource{
		Source: decode.NewTone(tone48k, 440, 0.5, 800),
		after:  8 * 960 * 4,
		delay:  250 * time.Millisecond,
	}
	p := New(src, Config{Sinks: sink.Provider()})

	run(t, p)

	assert.True(t, src.stalled)
	assert.Equal(t, 40, sink.FrameCount(), "every span renders after the stall")
	assert.Equal(t, uint64(40), p.Engine().RenderedCount())
	assert.NoError(t, p.Err())
}

func TestFailingSinkEndsPlayback(t *testing.T) {
	sink := audiotest.NewFakeSink()
	sink.SetRenderErr(errors.New("device gone"))
	p := New(decode.NewTone(tone48k, 440, 0.5, 0), Config{Sinks: sink.Provider()})

	require.NoError(t, p.Start())
	defer p.Stop()

	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("player should give up on a sink that renders nothing")
	}
	assert.ErrorIs(t, p.Err(), audio.ErrDevice)
	assert.Equal(t, uint64(0), p.Engine().RenderedCount())
}
