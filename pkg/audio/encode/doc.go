// ABOUTME: Audio encoding package
// ABOUTME: Encodes rendered sink spans for network delivery
// Package encode turns PCM spans in any sink sample format into a wire
// payload: 16/24-bit little-endian PCM or Opus packets.
//
// Example:
//
//	enc, err := encode.NewOpus(encode.Format{
//		Codec: encode.CodecOpus, SampleRate: 48000, Channels: 2,
//		Source: audio.SampleS32LE,
//	})
//	payload, err := enc.Encode(span)
package encode
