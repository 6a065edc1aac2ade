// ABOUTME: Audio output package for rendering PCM to devices
// ABOUTME: Provides the Sink boundary, a backend registry and concrete backends
// Package output is the hardware boundary of the playback core.
//
// A Sink is opened once with an Attr describing the exact PCM layout the
// engine will push, then receives one span at a time through RenderFrame.
// Backends:
//
//   - "null": discards audio, counts bytes (tests, headless runs)
//   - "oto": ebitengine/oto, S16LE or F32LE
//   - "malgo": miniaudio via malgo, S16/S24/S32/F32 callback device
//   - "pulse": PulseAudio via jfreymuth/pulse, float32 pull stream
//   - "portaudio": PortAudio blocking writes (build with -tags portaudio)
//   - "wav": writes a WAV file via go-audio/wav
//
// Engines ask a Registry for a sink by role ("direct" or "voip"); the registry
// maps roles to backends and hands back the same sink instance per role.
//
// Example:
//
//	reg := output.NewRegistry()
//	reg.Register(output.BackendNull, output.NewNull)
//	reg.Bind(output.RoleDirect, output.BackendNull)
//	sink, err := reg.Sink(output.RoleDirect)
//	err = sink.Init(attr)
package output
