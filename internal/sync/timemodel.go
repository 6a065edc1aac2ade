// ABOUTME: Linear frame-position to time model
// ABOUTME: Maps a frame count to a nanosecond timestamp around a recent stamp
package sync

import (
	"sync"
)

const (
	nanosPerSecond = int64(1000000000)

	// MaxSampleRate is the highest rate the model accepts
	MaxSampleRate = 384000

	// InvalidTime is returned when a position cannot be mapped
	InvalidTime = int64(-1)
)

// LinearPosTimeModel assumes frames play at a constant rate from the last
// stamp. Positions more than one second of frames away from the stamp are
// rejected rather than extrapolated.
type LinearPosTimeModel struct {
	mu          sync.RWMutex
	configured  bool
	sampleRate  int64
	stampFrame  uint64
	stampNanos  int64
	spanInFrame uint64
}

// NewLinearPosTimeModel creates an unconfigured model
func NewLinearPosTimeModel() *LinearPosTimeModel {
	return &LinearPosTimeModel{}
}

// ConfigSampleRate sets the rate once. It returns false if already set or
// the rate is outside (0, MaxSampleRate].
func (m *LinearPosTimeModel) ConfigSampleRate(rate int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.configured {
		log.Warnf("Time model sample rate already set: %d", m.sampleRate)
		return false
	}
	if rate <= 0 || rate > MaxSampleRate {
		log.Errorf("Invalid time model sample rate: %d", rate)
		return false
	}
	m.sampleRate = int64(rate)
	m.configured = true
	return true
}

// Reset returns the model to its unconfigured state so a re-initialized
// stream can configure it again
func (m *LinearPosTimeModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configured = false
	m.sampleRate = 0
	m.stampFrame = 0
	m.stampNanos = 0
	m.spanInFrame = 0
}

// UpdateSampleRate changes the effective rate of a configured model, used
// when playback speed changes
func (m *LinearPosTimeModel) UpdateSampleRate(rate int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.configured || rate <= 0 || rate > MaxSampleRate {
		return false
	}
	m.sampleRate = int64(rate)
	return true
}

// SampleRate returns the configured rate, 0 if unset
func (m *LinearPosTimeModel) SampleRate() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(m.sampleRate)
}

// ResetFrameStamp pins frame to nanos, e.g. at start
func (m *LinearPosTimeModel) ResetFrameStamp(frame uint64, nanos int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.Debugf("Reset frame stamp %d at %d", frame, nanos)
	m.stampFrame = frame
	m.stampNanos = nanos
}

// UpdateFrameStamp moves the stamp forward as frames are written
func (m *LinearPosTimeModel) UpdateFrameStamp(frame uint64, nanos int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stampFrame = frame
	m.stampNanos = nanos
}

// SetSpanCount records the frames per span
func (m *LinearPosTimeModel) SetSpanCount(frames uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spanInFrame = frames
}

// SpanCount returns the frames per span
func (m *LinearPosTimeModel) SpanCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spanInFrame
}

// GetTimeOfPos returns the nanosecond time at which pos plays, or
// InvalidTime if unconfigured or pos is a second or more from the stamp
func (m *LinearPosTimeModel) GetTimeOfPos(pos uint64) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.configured {
		return InvalidTime
	}

	if pos >= m.stampFrame {
		delta := pos - m.stampFrame
		if delta >= uint64(m.sampleRate) {
			log.Debugf("Position %d too far past stamp %d", pos, m.stampFrame)
			return InvalidTime
		}
		return m.stampNanos + int64(delta)*nanosPerSecond/m.sampleRate
	}

	delta := m.stampFrame - pos
	if delta >= uint64(m.sampleRate) {
		log.Debugf("Position %d too far before stamp %d", pos, m.stampFrame)
		return InvalidTime
	}
	return m.stampNanos - int64(delta)*nanosPerSecond/m.sampleRate
}
