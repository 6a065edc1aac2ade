// ABOUTME: PCM sample format conversion between wire bytes and the float domain
// ABOUTME: Pure functions over caller-owned buffers, little-endian interleaved samples
package convert

import (
	"encoding/binary"
	"math"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
)

const (
	scale8  = 1.0 / 128.0
	scale16 = 1.0 / 32768.0
	scale32 = 1.0 / 2147483648.0

	full8  = 128.0
	full16 = 32768.0
	full24 = 8388608.0
	full32 = 2147483648.0
)

// ToFloat decodes interleaved samples from src into dst in [-1, 1).
// It converts min(len(dst), len(src)/bytesPerSample) samples and returns that count.
// Integer formats are scaled by 1/2^(bits-1); F32LE is reinterpreted bit for bit.
func ToFloat(dst []float32, src []byte, format audio.SampleFormat) int {
	bps := format.BytesPerSample()
	n := min(len(dst), len(src)/bps)

	switch format {
	case audio.SampleU8:
		for i := 0; i < n; i++ {
			dst[i] = float32(int32(src[i])-0x80) * scale8
		}
	case audio.SampleS16LE:
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(src[i*2:]))
			dst[i] = float32(v) * scale16
		}
	case audio.SampleS24LE:
		for i := 0; i < n; i++ {
			// top byte lands at bit 24 so the int32 carries the sign
			v := int32(uint32(src[i*3+2])<<24 | uint32(src[i*3+1])<<16 | uint32(src[i*3])<<8)
			dst[i] = float32(float64(v) * scale32)
		}
	case audio.SampleS32LE:
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(src[i*4:]))
			dst[i] = float32(float64(v) * scale32)
		}
	case audio.SampleF32LE:
		for i := 0; i < n; i++ {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
	}

	return n
}

// FromFloat encodes float samples from src into dst using format.
// Values outside [-1, 1) are clipped to the integer range.
// It converts min(len(src), len(dst)/bytesPerSample) samples and returns that count.
func FromFloat(dst []byte, src []float32, format audio.SampleFormat) int {
	bps := format.BytesPerSample()
	n := min(len(src), len(dst)/bps)

	switch format {
	case audio.SampleU8:
		for i := 0; i < n; i++ {
			v := quantize(src[i], full8, -128, 127)
			dst[i] = byte(v + 0x80)
		}
	case audio.SampleS16LE:
		for i := 0; i < n; i++ {
			v := quantize(src[i], full16, math.MinInt16, math.MaxInt16)
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(v)))
		}
	case audio.SampleS24LE:
		for i := 0; i < n; i++ {
			b := audio.SampleTo24Bit(int32(quantize(src[i], full24, audio.Min24Bit, audio.Max24Bit)))
			copy(dst[i*3:i*3+3], b[:])
		}
	case audio.SampleS32LE:
		for i := 0; i < n; i++ {
			v := quantize(src[i], full32, math.MinInt32, math.MaxInt32)
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(int32(v)))
		}
	case audio.SampleF32LE:
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(src[i]))
		}
	}

	return n
}

// To32Bit widens src samples to left-justified int32 with a volume factor applied.
func To32Bit(dst []int32, src []byte, format audio.SampleFormat, volume float32) int {
	bps := format.BytesPerSample()
	n := min(len(dst), len(src)/bps)
	vol := float64(volume)

	for i := 0; i < n; i++ {
		var v float64
		switch format {
		case audio.SampleU8:
			v = float64((int32(src[i]) - 0x80) << 24)
		case audio.SampleS16LE:
			v = float64(int32(int16(binary.LittleEndian.Uint16(src[i*2:]))) << 16)
		case audio.SampleS24LE:
			v = float64(int32(uint32(src[i*3+2])<<24 | uint32(src[i*3+1])<<16 | uint32(src[i*3])<<8))
		case audio.SampleS32LE:
			v = float64(int32(binary.LittleEndian.Uint32(src[i*4:])))
		case audio.SampleF32LE:
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))) * full32
		}
		dst[i] = int32(clamp(v*vol, math.MinInt32, math.MaxInt32))
	}

	return n
}

// To16Bit narrows src samples to int16 with a volume factor applied.
func To16Bit(dst []int16, src []byte, format audio.SampleFormat, volume float32) int {
	bps := format.BytesPerSample()
	n := min(len(dst), len(src)/bps)
	vol := float64(volume)

	for i := 0; i < n; i++ {
		var v float64
		switch format {
		case audio.SampleU8:
			v = float64((int32(src[i]) - 0x80) << 8)
		case audio.SampleS16LE:
			v = float64(int16(binary.LittleEndian.Uint16(src[i*2:])))
		case audio.SampleS24LE:
			b := [3]byte{src[i*3], src[i*3+1], src[i*3+2]}
			v = float64(audio.SampleFrom24Bit(b) >> 8)
		case audio.SampleS32LE:
			v = float64(int32(binary.LittleEndian.Uint32(src[i*4:])) >> 16)
		case audio.SampleF32LE:
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))) * full16
		}
		dst[i] = int16(clamp(v*vol, math.MinInt16, math.MaxInt16))
	}

	return n
}

// ApplyVolume scales every sample of buf in place.
func ApplyVolume(buf []byte, format audio.SampleFormat, volume float32) {
	if volume == 1 {
		return
	}
	bps := format.BytesPerSample()
	for off := 0; off+bps <= len(buf); off += bps {
		scaleAt(buf[off:off+bps], format, volume)
	}
}

// ApplyRamp scales buf in place with a per-frame gain moving linearly from
// `from` towards `to`; the last frame receives exactly `to`.
func ApplyRamp(buf []byte, format audio.SampleFormat, channels int, from, to float32) {
	if channels <= 0 {
		return
	}
	bps := format.BytesPerSample()
	frameSize := bps * channels
	frames := len(buf) / frameSize
	if frames == 0 {
		return
	}

	step := (to - from) / float32(frames)
	for i := 0; i < frames; i++ {
		gain := from + step*float32(i+1)
		base := i * frameSize
		for ch := 0; ch < channels; ch++ {
			off := base + ch*bps
			scaleAt(buf[off:off+bps], format, gain)
		}
	}
}

// ApplyChannelGains scales buf in place with gains[ch] applied to channel ch.
// Channels past the end of gains reuse the last gain.
func ApplyChannelGains(buf []byte, format audio.SampleFormat, channels int, gains []float32) {
	if channels <= 0 || len(gains) == 0 {
		return
	}
	bps := format.BytesPerSample()
	frameSize := bps * channels
	for base := 0; base+frameSize <= len(buf); base += frameSize {
		for ch := 0; ch < channels; ch++ {
			g := gains[min(ch, len(gains)-1)]
			if g == 1 {
				continue
			}
			off := base + ch*bps
			scaleAt(buf[off:off+bps], format, g)
		}
	}
}

// scaleAt multiplies one packed sample by gain
func scaleAt(b []byte, format audio.SampleFormat, gain float32) {
	g := float64(gain)
	switch format {
	case audio.SampleU8:
		v := float64(int32(b[0])-0x80) * g
		b[0] = byte(int32(clamp(v, -128, 127)) + 0x80)
	case audio.SampleS16LE:
		v := float64(int16(binary.LittleEndian.Uint16(b))) * g
		binary.LittleEndian.PutUint16(b, uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
	case audio.SampleS24LE:
		v := float64(audio.SampleFrom24Bit([3]byte{b[0], b[1], b[2]})) * g
		p := audio.SampleTo24Bit(int32(clamp(v, audio.Min24Bit, audio.Max24Bit)))
		copy(b, p[:])
	case audio.SampleS32LE:
		v := float64(int32(binary.LittleEndian.Uint32(b))) * g
		binary.LittleEndian.PutUint32(b, uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	case audio.SampleF32LE:
		v := math.Float32frombits(binary.LittleEndian.Uint32(b)) * gain
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	}
}

func quantize(f float32, fullScale, lo, hi float64) int64 {
	return int64(clamp(math.Round(float64(f)*fullScale), lo, hi))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
