// ABOUTME: Audio resampling package
// ABOUTME: Streaming float32 rate conversion with linear or cubic interpolation
// Package resample provides streaming sample rate conversion on interleaved
// float32 audio.
//
// Each call to Process maps one span of input onto exactly
// round(frames*dst/src) output frames, so a stream that enqueues fixed-size
// spans always produces fixed-size ring slots. Three frames of history are
// carried across calls so span boundaries are continuous.
//
// Quality 0 selects linear interpolation; anything higher selects a
// Catmull-Rom cubic.
//
// Example:
//
//	r, err := resample.New(2, 44100, 48000, resample.QualityCubic)
//	out := make([]float32, r.OutputSamples(len(in)))
//	err = r.Process(in, out)
package resample
