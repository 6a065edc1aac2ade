// ABOUTME: Audio decoding package
// ABOUTME: File sources that yield interleaved PCM bytes for playback
// Package decode opens audio files as PCM sources for a renderer stream.
//
// Each Source reports the StreamConfig of the bytes it yields: MP3 is S16LE
// stereo, FLAC and WAV keep their native bit depth, Ogg Vorbis is F32LE.
// Tone generates a sine wave in any format for tests and demos.
//
// Example:
//
//	src, err := decode.Open("track.flac")
//	cfg := src.Config()
//	n, err := src.Read(buf)
package decode
