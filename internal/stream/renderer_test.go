// ABOUTME: Tests for the renderer stream ring, state machine and conversion path
// ABOUTME: Uses a fake clock so time model stamps are deterministic
package stream

import (
	"encoding/binary"
	"errors"
	"math/rand"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-direct/internal/audiotest"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func stereo16(rate int) audio.StreamConfig {
	return audio.StreamConfig{
		Format:        audio.SampleS16LE,
		Channels:      2,
		SampleRate:    rate,
		ChannelLayout: audio.LayoutStereo,
	}
}

func newStarted(t *testing.T, cfg audio.StreamConfig, opts Options) *RendererStream {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = audiotest.NewFakeClock(epoch)
	}
	s := NewRendererStream(cfg, opts)
	require.NoError(t, s.InitParams())
	require.NoError(t, s.Start())
	return s
}

func span(s *RendererStream, fill byte) audio.BufferDesc {
	buf := make([]byte, s.GetMinimumBufferSize())
	for i := range buf {
		buf[i] = fill
	}
	return audio.BufferDesc{Buffer: buf, DataLength: len(buf)}
}

func assertRing(t *testing.T, s *RendererStream) {
	t.Helper()
	free := s.GetWritableSize() / s.GetMinimumBufferSize()
	assert.Equal(t, SlotCount, free+s.ReadyCount()+s.InFlightCount(), "ring slots leaked")
}

func TestInitParamsSizing(t *testing.T) {
	s := NewRendererStream(stereo16(44100), Options{IsDirect: true})
	require.NoError(t, s.InitParams())

	assert.Equal(t, StatusInitialized, s.Status())
	assert.Equal(t, 882, s.GetSpanSizePerFrame())
	assert.Equal(t, 4, s.GetByteSizePerFrame())
	assert.Equal(t, 3528, s.GetMinimumBufferSize())
	assert.Equal(t, 48000, s.DestinationRate())
	assert.Equal(t, audio.SampleS32LE, s.DestinationFormat())
	assert.Equal(t, 7680, s.SlotSize())
	assert.True(t, s.IsNeedResample())
	assert.Equal(t, SlotCount*3528, s.GetWritableSize())
}

func TestInitParamsCopyPath(t *testing.T) {
	s := NewRendererStream(stereo16(48000), Options{})
	require.NoError(t, s.InitParams())
	assert.False(t, s.IsNeedResample())
	assert.Equal(t, s.GetMinimumBufferSize(), s.SlotSize())
}

func TestInitParamsResamplesRateOnly(t *testing.T) {
	s := NewRendererStream(stereo16(44100), Options{})
	require.NoError(t, s.InitParams())
	assert.Equal(t, audio.SampleS16LE, s.DestinationFormat())
	assert.Equal(t, 48000, s.DestinationRate())
	assert.True(t, s.IsNeedResample(), "same format at another rate still resamples")
	assert.Equal(t, 3840, s.SlotSize())
}

func TestInitParamsRejectsBadConfig(t *testing.T) {
	s := NewRendererStream(audio.StreamConfig{Format: audio.SampleS16LE, Channels: 0, SampleRate: 48000}, Options{})
	err := s.InitParams()
	assert.True(t, errors.Is(err, audio.ErrInvalidParam))
	assert.Equal(t, StatusReleased, s.Status())

	s = NewRendererStream(stereo16(48000), Options{})
	require.NoError(t, s.InitParams())
	assert.True(t, errors.Is(s.InitParams(), audio.ErrIllegalState))
}

func TestStateTransitions(t *testing.T) {
	s := NewRendererStream(stereo16(48000), Options{Clock: audiotest.NewFakeClock(epoch)})

	assert.True(t, errors.Is(s.Start(), audio.ErrIllegalState), "start before init")
	require.NoError(t, s.InitParams())

	assert.True(t, errors.Is(s.Pause(), audio.ErrIllegalState), "pause from initialized")
	assert.True(t, errors.Is(s.Stop(), audio.ErrIllegalState), "stop from initialized")

	require.NoError(t, s.Start())
	assert.True(t, errors.Is(s.Start(), audio.ErrIllegalState), "start while running")

	require.NoError(t, s.Pause())
	assert.Equal(t, StatusPaused, s.Status())
	assert.True(t, errors.Is(s.Drain(), audio.ErrIllegalState), "drain from paused")

	require.NoError(t, s.Flush())
	assert.Equal(t, StatusFlushed, s.Status())

	require.NoError(t, s.Start())
	require.NoError(t, s.Drain())
	assert.Equal(t, StatusDrain, s.Status())

	require.NoError(t, s.Stop())
	assert.Equal(t, StatusStopped, s.Status())
	assert.True(t, errors.Is(s.Flush(), audio.ErrIllegalState), "flush from stopped")

	require.NoError(t, s.Release())
	require.NoError(t, s.Release(), "release is idempotent")
	assert.Equal(t, StatusReleased, s.Status())

	require.NoError(t, s.InitParams(), "re-init after release")
}

func TestStatusCallbackOperations(t *testing.T) {
	var ops []Operation
	s := NewRendererStream(stereo16(48000), Options{Clock: audiotest.NewFakeClock(epoch)})
	s.SetStreamIndex(7)
	s.SetStatusCallback(StatusCallbackFunc(func(index uint32, op Operation) {
		assert.Equal(t, uint32(7), index)
		ops = append(ops, op)
	}))

	require.NoError(t, s.InitParams())
	require.NoError(t, s.Start())
	require.NoError(t, s.Pause())
	require.NoError(t, s.Flush())
	require.NoError(t, s.Start())
	require.NoError(t, s.Drain())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Release())
	require.NoError(t, s.Release())

	assert.Equal(t, []Operation{
		OperationStarted, OperationPaused, OperationFlushed, OperationStarted,
		OperationDrained, OperationStopped, OperationReleased,
	}, ops)
}

func TestMultiStatusFansOut(t *testing.T) {
	var a, b int
	m := MultiStatus{
		StatusCallbackFunc(func(uint32, Operation) { a++ }),
		nil,
		StatusCallbackFunc(func(uint32, Operation) { b++ }),
	}
	m.OnStatusUpdate(1, OperationStarted)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestEnqueueBackpressure(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})

	for i := 0; i < SlotCount; i++ {
		require.NoError(t, s.EnqueueBuffer(span(s, byte(i+1))))
		assertRing(t, s)
	}
	assert.Equal(t, 0, s.GetWritableSize())

	err := s.EnqueueBuffer(span(s, 9))
	assert.True(t, errors.Is(err, audio.ErrWriteBuffer))
	assert.Equal(t, SlotCount, s.ReadyCount(), "rejected enqueue must not change the ring")
	assertRing(t, s)
}

func TestEnqueueRejectsBadSizes(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})

	err := s.EnqueueBuffer(audio.BufferDesc{})
	assert.True(t, errors.Is(err, audio.ErrInvalidParam))

	big := make([]byte, s.GetMinimumBufferSize()+4)
	err = s.EnqueueBuffer(audio.BufferDesc{Buffer: big, DataLength: len(big)})
	assert.True(t, errors.Is(err, audio.ErrInvalidParam))

	assert.Equal(t, 0, s.ReadyCount())
}

func TestEnqueueShortSpanIsZeroPadded(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})

	short := []byte{1, 2, 3, 4}
	require.NoError(t, s.EnqueueBuffer(audio.BufferDesc{Buffer: short, DataLength: len(short)}))

	out := make([]byte, s.SlotSize())
	for i := range out {
		out[i] = 0xEE
	}
	idx, err := s.Peek(out)
	require.NoError(t, err)
	assert.Equal(t, short, out[:4])
	for i := 4; i < len(out); i++ {
		if out[i] != 0 {
			t.Fatalf("byte %d = %#x, want zero padding", i, out[i])
		}
	}
	require.NoError(t, s.ReturnIndex(idx))
	assert.Equal(t, uint64(1), s.GetStreamFramesWritten())
}

func TestPeekIsFIFO(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})

	for i := 0; i < 3; i++ {
		require.NoError(t, s.EnqueueBuffer(span(s, byte(0x10+i))))
	}

	out := make([]byte, s.SlotSize())
	for i := 0; i < 3; i++ {
		idx, err := s.Peek(out)
		require.NoError(t, err)
		assert.Equal(t, byte(0x10+i), out[0])
		assert.Equal(t, 1, s.InFlightCount())
		assertRing(t, s)
		require.NoError(t, s.ReturnIndex(idx))
		assertRing(t, s)
	}
}

func TestReturnIndexValidation(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})
	require.NoError(t, s.EnqueueBuffer(span(s, 1)))

	assert.NoError(t, s.ReturnIndex(-1))
	assert.True(t, errors.Is(s.ReturnIndex(SlotCount), audio.ErrInvalidParam))

	out := make([]byte, s.SlotSize())
	idx, err := s.Peek(out)
	require.NoError(t, err)
	require.NoError(t, s.ReturnIndex(idx))
	assert.True(t, errors.Is(s.ReturnIndex(idx), audio.ErrInvalidParam), "double return")
	assertRing(t, s)
}

func TestPeekPullsThroughWriteCallback(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})

	var requested int
	s.SetWriteCallback(WriteCallbackFunc(func(length int) error {
		requested = length
		return s.EnqueueBuffer(span(s, 0x42))
	}))

	out := make([]byte, s.SlotSize())
	idx, err := s.Peek(out)
	require.NoError(t, err)
	assert.Equal(t, s.GetMinimumBufferSize(), requested)
	assert.Equal(t, byte(0x42), out[0])
	require.NoError(t, s.ReturnIndex(idx))
}

func TestPeekEmptyRing(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})

	out := make([]byte, s.SlotSize())
	idx, err := s.Peek(out)
	assert.Equal(t, -1, idx)
	assert.True(t, errors.Is(err, audio.ErrWriteBuffer))

	s.SetWriteCallback(WriteCallbackFunc(func(int) error { return nil }))
	_, err = s.Peek(out)
	assert.True(t, errors.Is(err, audio.ErrWriteBuffer), "callback that writes nothing")

	boom := errors.New("boom")
	s.SetWriteCallback(WriteCallbackFunc(func(int) error { return boom }))
	_, err = s.Peek(out)
	assert.True(t, errors.Is(err, boom))
}

func TestPeekBlockedAfterPause(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})
	require.NoError(t, s.EnqueueBuffer(span(s, 1)))
	require.NoError(t, s.Pause())

	out := make([]byte, s.SlotSize())
	_, err := s.Peek(out)
	assert.True(t, errors.Is(err, audio.ErrWriteBuffer))

	require.NoError(t, s.Start())
	idx, err := s.Peek(out)
	require.NoError(t, err)
	require.NoError(t, s.ReturnIndex(idx))
}

func TestDrainServesRemainingSpans(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})
	called := false
	s.SetWriteCallback(WriteCallbackFunc(func(int) error {
		called = true
		return nil
	}))
	require.NoError(t, s.EnqueueBuffer(span(s, 5)))
	require.NoError(t, s.Drain())

	out := make([]byte, s.SlotSize())
	idx, err := s.Peek(out)
	require.NoError(t, err)
	require.NoError(t, s.ReturnIndex(idx))

	_, err = s.Peek(out)
	assert.True(t, errors.Is(err, audio.ErrWriteBuffer))
	assert.False(t, called, "drain must not pull new data")
}

func TestFlushRecyclesReadySlots(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})
	for i := 0; i < 3; i++ {
		require.NoError(t, s.EnqueueBuffer(span(s, 1)))
	}
	require.NoError(t, s.Flush())
	assert.Equal(t, 0, s.ReadyCount())
	assert.Equal(t, SlotCount*s.GetMinimumBufferSize(), s.GetWritableSize())
}

func TestReleaseDropsInFlightSlot(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})
	require.NoError(t, s.EnqueueBuffer(span(s, 1)))

	out := make([]byte, s.SlotSize())
	idx, err := s.Peek(out)
	require.NoError(t, err)

	require.NoError(t, s.Release())
	assert.True(t, errors.Is(s.ReturnIndex(idx), audio.ErrInvalidParam))
	assert.True(t, errors.Is(s.EnqueueBuffer(span(s, 1)), audio.ErrIllegalState))
}

func TestResamplePathProducesDestinationFormat(t *testing.T) {
	s := newStarted(t, stereo16(44100), Options{IsDirect: true})

	// constant half-scale signal
	buf := make([]byte, s.GetMinimumBufferSize())
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(16384))
	}

	out := make([]byte, s.SlotSize())
	for n := 0; n < 3; n++ {
		require.NoError(t, s.EnqueueBuffer(audio.BufferDesc{Buffer: buf, DataLength: len(buf)}))
		idx, err := s.Peek(out)
		require.NoError(t, err)
		require.NoError(t, s.ReturnIndex(idx))
	}

	// after history fills the output settles at half scale in S32
	mid := len(out) / 2 / 4 * 4
	got := int32(binary.LittleEndian.Uint32(out[mid:]))
	assert.InDelta(t, float64(1<<30), float64(got), float64(1<<16))
}

func TestLowPowerVolumeAppliedOnEnqueue(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})
	require.NoError(t, s.SetLowPowerVolume(0.5))
	assert.True(t, errors.Is(s.SetLowPowerVolume(1.5), audio.ErrInvalidParam))

	buf := make([]byte, s.GetMinimumBufferSize())
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(20000))
	}
	require.NoError(t, s.EnqueueBuffer(audio.BufferDesc{Buffer: buf, DataLength: len(buf)}))

	out := make([]byte, s.SlotSize())
	idx, err := s.Peek(out)
	require.NoError(t, err)
	require.NoError(t, s.ReturnIndex(idx))
	assert.InDelta(t, 10000, float64(int16(binary.LittleEndian.Uint16(out))), 1)
	assert.Equal(t, uint16(20000), binary.LittleEndian.Uint16(buf), "producer buffer untouched")
}

func TestLatencyAndRate(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})
	require.NoError(t, s.EnqueueBuffer(span(s, 1)))
	require.NoError(t, s.EnqueueBuffer(span(s, 1)))
	assert.Equal(t, 40*time.Millisecond, s.GetLatency())

	require.NoError(t, s.SetRate(RateDouble))
	assert.Equal(t, RateDouble, s.GetRate())
	assert.Equal(t, 20*time.Millisecond, s.GetLatency())

	require.NoError(t, s.SetRate(RateHalf))
	assert.Equal(t, 80*time.Millisecond, s.GetLatency())

	assert.True(t, errors.Is(s.SetRate(RenderRate(9)), audio.ErrInvalidParam))
}

func TestAudioTimeFollowsEnqueues(t *testing.T) {
	clock := audiotest.NewFakeClock(epoch)
	s := newStarted(t, stereo16(48000), Options{Clock: clock})

	frames, ts, err := s.GetAudioTime()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), frames)
	assert.Equal(t, epoch.UnixNano()+int64(20*time.Millisecond), ts)

	clock.Advance(5 * time.Millisecond)
	require.NoError(t, s.EnqueueBuffer(span(s, 1)))

	frames, ts, err = s.GetCurrentPosition()
	require.NoError(t, err)
	assert.Equal(t, uint64(960), frames)
	assert.Equal(t, epoch.Add(25*time.Millisecond).UnixNano(), ts)
}

func TestAudioTimeBeforeInit(t *testing.T) {
	s := NewRendererStream(stereo16(48000), Options{})
	_, err := s.GetCurrentTimeStamp()
	assert.True(t, errors.Is(err, audio.ErrIllegalState))
}

func TestDequeueBuffer(t *testing.T) {
	s := NewRendererStream(stereo16(48000), Options{Clock: audiotest.NewFakeClock(epoch)})
	require.NoError(t, s.InitParams())
	assert.True(t, s.DequeueBuffer(100).IsEmpty(), "not running")

	require.NoError(t, s.Start())
	desc := s.DequeueBuffer(100)
	assert.Equal(t, 100, desc.DataLength)

	desc = s.DequeueBuffer(1 << 20)
	assert.Equal(t, s.GetMinimumBufferSize(), desc.DataLength)
}

func TestParameterAccessors(t *testing.T) {
	s := NewRendererStream(stereo16(48000), Options{})
	require.NoError(t, s.SetAudioEffectMode(1))
	assert.Equal(t, 1, s.GetAudioEffectMode())

	s.SetPrivacyType(audio.PrivacyPrivate)
	assert.Equal(t, audio.PrivacyPrivate, s.GetPrivacyType())

	s.AbortCallback(2)
	s.AbortCallback(1)
	assert.Equal(t, 3, s.AbortCount())
}

func TestRandomWalkKeepsRing(t *testing.T) {
	s := newStarted(t, stereo16(48000), Options{})
	rng := rand.New(rand.NewSource(20240101))
	out := make([]byte, s.SlotSize())

	var ready []byte
	var held []int
	fill := byte(0)

	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(10); {
		case op < 4:
			fill++
			err := s.EnqueueBuffer(span(s, fill))
			if s.GetWritableSize() == 0 && err != nil {
				require.ErrorIs(t, err, audio.ErrWriteBuffer, "step %d", step)
				break
			}
			require.NoError(t, err, "step %d", step)
			ready = append(ready, fill)
		case op < 7:
			idx, err := s.Peek(out)
			if len(ready) == 0 {
				require.ErrorIs(t, err, audio.ErrWriteBuffer, "step %d", step)
				assert.Equal(t, -1, idx)
				break
			}
			require.NoError(t, err, "step %d", step)
			require.Equal(t, ready[0], out[0], "step %d: spans out of order", step)
			ready = ready[1:]
			held = append(held, idx)
		case op < 9:
			if len(held) == 0 {
				require.NoError(t, s.ReturnIndex(-1))
				break
			}
			i := rng.Intn(len(held))
			require.NoError(t, s.ReturnIndex(held[i]), "step %d", step)
			require.ErrorIs(t, s.ReturnIndex(held[i]), audio.ErrInvalidParam, "double return")
			held = append(held[:i], held[i+1:]...)
		default:
			require.NoError(t, s.Flush(), "step %d", step)
			ready = ready[:0]
			require.NoError(t, s.Start(), "step %d", step)
		}

		assertRing(t, s)
		require.Equal(t, len(ready), s.ReadyCount(), "step %d", step)
		require.Equal(t, len(held), s.InFlightCount(), "step %d", step)
	}
}

func TestReinitAlongsideReaders(t *testing.T) {
	s := NewRendererStream(stereo16(44100), Options{IsDirect: true, Clock: audiotest.NewFakeClock(epoch)})
	require.NoError(t, s.InitParams())

	stop := make(chan struct{})
	var wg gosync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = s.IsNeedResample()
			_ = s.DestinationFormat()
			_ = s.DestinationRate()
			_ = s.SlotSize()
			_ = s.GetSpanSizePerFrame()
			_ = s.GetByteSizePerFrame()
			_ = s.GetWritableSize()
			_ = s.GetStreamFramesWritten()
			_ = s.GetLatency()
			_, _, _ = s.GetAudioTime()
		}
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Start())
		require.NoError(t, s.EnqueueBuffer(span(s, 1)))
		require.NoError(t, s.Release())
		require.NoError(t, s.InitParams())
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 7680, s.SlotSize())
	assert.Equal(t, uint64(0), s.GetStreamFramesWritten())
}
