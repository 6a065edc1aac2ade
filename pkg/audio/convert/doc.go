// ABOUTME: Sample conversion package
// ABOUTME: Converts PCM bytes to and from the canonical float32 domain
// Package convert turns interleaved little-endian PCM into float32 samples in
// [-1, 1) and back again. Mixing and resampling always run in the float domain
// so the rest of the pipeline never has to care about source bit depth.
//
// Integer formats are scaled by 1/2^(bits-1) (two's-complement full scale).
// 24-bit samples are unpacked with the top byte at bit 24 so the int32 carries
// the sign. F32LE samples are copied bit for bit with no scaling.
//
// Example:
//
//	floats := make([]float32, len(pcm)/2)
//	convert.ToFloat(floats, pcm, audio.SampleS16LE)
//	out := make([]byte, len(floats)*4)
//	convert.FromFloat(out, floats, audio.SampleS32LE)
//
// Every function writes into caller-owned buffers and never allocates.
package convert
