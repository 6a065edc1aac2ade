// ABOUTME: Sink rate and format policy shared by streams and engines
// ABOUTME: Single remap table so stream output and sink attributes always agree
package audio

// directRateTable maps consumer-family rates onto the 48kHz family most
// hardware sinks support. Rates not listed pass through unchanged.
var directRateTable = map[int]int{
	44100:  48000,
	88200:  96000,
	176400: 192000,
}

// DirectSampleRate returns the sink rate used for a stream at sampleRate
func DirectSampleRate(sampleRate int) int {
	if mapped, ok := directRateTable[sampleRate]; ok {
		return mapped
	}
	return sampleRate
}

// DirectVoipSampleRate returns the sink rate for voice paths (16kHz or 48kHz)
func DirectVoipSampleRate(sampleRate int) int {
	if sampleRate <= 16000 {
		return 16000
	}
	return 48000
}

// SinkSampleRate picks the voip or direct table
func SinkSampleRate(sampleRate int, voip bool) int {
	if voip {
		return DirectVoipSampleRate(sampleRate)
	}
	return DirectSampleRate(sampleRate)
}

// DestinationFormat is the ring format for a stream: 32-bit on the direct
// hardware path, 16-bit otherwise.
func DestinationFormat(isDirect bool) SampleFormat {
	if isDirect {
		return SampleS32LE
	}
	return SampleS16LE
}

// SinkChannels clamps a stream channel count to what the sink is opened with
func SinkChannels(channels int) int {
	if channels >= 2 {
		return 2
	}
	return 1
}

// SinkChannelLayout returns the HDI layout code for a clamped channel count
func SinkChannelLayout(channels int) ChannelLayout {
	if channels >= 2 {
		return LayoutStereo
	}
	return LayoutMono
}
