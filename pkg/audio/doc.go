// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines StreamConfig, SampleFormat, rate policy and the error taxonomy
// Package audio provides the fundamental types shared by renderer streams,
// playback engines and sinks.
//
// This package defines:
//   - SampleFormat: U8, S16LE, S24LE, S32LE and F32LE interleaved PCM
//   - StreamConfig: the immutable per-stream format that drives buffer sizing
//   - BufferDesc: a PCM byte region handed between producer and stream
//   - Rate policy: the 44.1kHz-family to 48kHz-family remap used by both
//     streams and sinks, and the voip 16k/48k table
//   - Sentinel errors: ErrIllegalState, ErrInvalidParam, ErrWriteBuffer,
//     ErrUnsupported, ErrDevice
//
// Example:
//
//	cfg := audio.StreamConfig{
//	    Format:     audio.SampleS16LE,
//	    Channels:   2,
//	    SampleRate: 44100,
//	}
//
//	span := cfg.SpanFrames()                        // 882 frames per 20ms
//	sinkRate := audio.DirectSampleRate(cfg.SampleRate) // 48000
package audio
