// ABOUTME: Renderer stream status, operations and callback capabilities
// ABOUTME: Status observers and the pull-based write callback used by Peek
package stream

import "fmt"

// Status is the lifecycle state of a renderer stream
type Status int

const (
	StatusReleased Status = iota
	StatusInitialized
	StatusRunning
	StatusPaused
	StatusFlushed
	StatusDrain
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusReleased:
		return "RELEASED"
	case StatusInitialized:
		return "INITIALIZED"
	case StatusRunning:
		return "RUNNING"
	case StatusPaused:
		return "PAUSED"
	case StatusFlushed:
		return "FLUSHED"
	case StatusDrain:
		return "DRAIN"
	case StatusStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Operation is reported to status observers after a lifecycle call succeeds
type Operation int

const (
	OperationStarted Operation = iota
	OperationPaused
	OperationFlushed
	OperationDrained
	OperationStopped
	OperationReleased
)

func (o Operation) String() string {
	switch o {
	case OperationStarted:
		return "started"
	case OperationPaused:
		return "paused"
	case OperationFlushed:
		return "flushed"
	case OperationDrained:
		return "drained"
	case OperationStopped:
		return "stopped"
	case OperationReleased:
		return "released"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// RenderRate is the playback speed multiplier
type RenderRate int

const (
	RateNormal RenderRate = iota
	RateDouble
	RateHalf
)

func (r RenderRate) String() string {
	switch r {
	case RateNormal:
		return "1x"
	case RateDouble:
		return "2x"
	case RateHalf:
		return "0.5x"
	default:
		return fmt.Sprintf("RenderRate(%d)", int(r))
	}
}

// WriteCallback is asked for more data when the consumer finds the ring
// empty. It runs on the consumer's goroutine and must not block for long.
type WriteCallback interface {
	OnWriteData(length int) error
}

// WriteCallbackFunc adapts a function to WriteCallback
type WriteCallbackFunc func(length int) error

func (f WriteCallbackFunc) OnWriteData(length int) error { return f(length) }

// StatusCallback observes lifecycle operations
type StatusCallback interface {
	OnStatusUpdate(index uint32, op Operation)
}

// StatusCallbackFunc adapts a function to StatusCallback
type StatusCallbackFunc func(index uint32, op Operation)

func (f StatusCallbackFunc) OnStatusUpdate(index uint32, op Operation) { f(index, op) }

// MultiStatus fans one update out to several observers
type MultiStatus []StatusCallback

func (m MultiStatus) OnStatusUpdate(index uint32, op Operation) {
	for _, cb := range m {
		if cb != nil {
			cb.OnStatusUpdate(index, op)
		}
	}
}
