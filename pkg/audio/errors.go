// ABOUTME: Error taxonomy shared by streams, engines and sinks
// ABOUTME: Sentinel errors compared with errors.Is
package audio

import "errors"

var (
	// ErrIllegalState is returned when a lifecycle call arrives in the wrong state
	ErrIllegalState = errors.New("illegal state")

	// ErrInvalidParam is returned for malformed sizes or formats
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrWriteBuffer is returned when no ring slot is available
	ErrWriteBuffer = errors.New("write buffer unavailable")

	// ErrUnsupported is returned when an engine already owns a different stream
	ErrUnsupported = errors.New("unsupported")

	// ErrDevice wraps sink init/start/render failures
	ErrDevice = errors.New("device error")

	ErrInvalidDstSize = errors.New("dst size must be multiple of channels")
)
