// ABOUTME: Audio type definitions
// ABOUTME: Defines sample formats, stream configuration and buffer descriptors
package audio

import "fmt"

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// SpanDurationMs is the amount of audio moved through the ring per period
	SpanDurationMs = 20
)

// SampleFormat identifies the wire representation of one interleaved sample
type SampleFormat int

const (
	SampleU8 SampleFormat = iota
	SampleS16LE
	SampleS24LE
	SampleS32LE
	SampleF32LE
)

// BytesPerSample returns the packed size of one sample in bytes
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleU8:
		return 1
	case SampleS16LE:
		return 2
	case SampleS24LE:
		return 3
	case SampleS32LE, SampleF32LE:
		return 4
	default:
		return 2
	}
}

// IsValid reports whether f is one of the known formats
func (f SampleFormat) IsValid() bool {
	return f >= SampleU8 && f <= SampleF32LE
}

func (f SampleFormat) String() string {
	switch f {
	case SampleU8:
		return "U8"
	case SampleS16LE:
		return "S16LE"
	case SampleS24LE:
		return "S24LE"
	case SampleS32LE:
		return "S32LE"
	case SampleF32LE:
		return "F32LE"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// ChannelLayout is a speaker-position bitmask
type ChannelLayout uint64

const (
	LayoutMono   ChannelLayout = 0x4
	LayoutStereo ChannelLayout = 0x3
)

// StreamUsage is the role metadata attached to a stream
type StreamUsage int

const (
	UsageMedia StreamUsage = iota
	UsageVoiceCommunication
	UsageAlarm
	UsageNotification
)

// PrivacyType controls whether a stream may be captured by playback recorders
type PrivacyType int

const (
	PrivacyPublic PrivacyType = iota
	PrivacyPrivate
)

// StreamConfig describes an application stream. It is fixed for the life of a stream.
type StreamConfig struct {
	Format        SampleFormat
	Channels      int
	SampleRate    int
	ChannelLayout ChannelLayout
	Usage         StreamUsage
	Privacy       PrivacyType
	AppUID        int
}

// Validate checks that the config can drive buffer sizing
func (c StreamConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("%w: sample format %d", ErrInvalidParam, int(c.Format))
	}
	if c.Channels <= 0 {
		return fmt.Errorf("%w: channel count %d", ErrInvalidParam, c.Channels)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidParam, c.SampleRate)
	}
	return nil
}

// FrameSize returns bytes per frame (one sample per channel)
func (c StreamConfig) FrameSize() int {
	return c.Format.BytesPerSample() * c.Channels
}

// SpanFrames returns the number of frames in one span at the native rate
func (c StreamConfig) SpanFrames() int {
	return c.SampleRate * SpanDurationMs / 1000
}

// IsVoip reports whether the stream carries a voice call
func (c StreamConfig) IsVoip() bool {
	return c.Usage == UsageVoiceCommunication
}

// BufferDesc hands a PCM byte region between producer and stream.
// DataLength is the number of valid bytes in Buffer.
type BufferDesc struct {
	Buffer     []byte
	DataLength int
}

// Bytes returns the valid region of the descriptor
func (d BufferDesc) Bytes() []byte {
	if d.DataLength <= 0 || d.DataLength > len(d.Buffer) {
		return d.Buffer
	}
	return d.Buffer[:d.DataLength]
}

// IsEmpty reports whether the descriptor carries no buffer
func (d BufferDesc) IsEmpty() bool {
	return len(d.Buffer) == 0
}

// DeviceType identifies the output device class a sink is opened for
type DeviceType int

const (
	DeviceSpeaker DeviceType = iota + 2
	DeviceWiredHeadset
	DeviceWiredHeadphones
	DeviceBluetoothSCO
	DeviceBluetoothA2DP
	DeviceUSBHeadset DeviceType = 22
)

// DeviceInfo describes the device an engine renders to
type DeviceInfo struct {
	Type      DeviceType
	Name      string
	NetworkID string
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	// Take lower 24 bits, pack little-endian
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	// Place the top byte at bit 24 so the arithmetic shift sign-extends
	return (int32(b[2])<<24 | int32(b[1])<<16 | int32(b[0])<<8) >> 8
}
