// ABOUTME: Recording sink for engine tests
// ABOUTME: Captures attributes, lifecycle calls and rendered frames with injectable failures
package audiotest

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/output"
)

// FakeSink implements output.Sink and records every call
type FakeSink struct {
	mu sync.Mutex

	attr    output.Attr
	inited  bool
	started bool

	frames      [][]byte
	initCalls   int
	startCalls  int
	stopCalls   int
	deinitCalls int
	left, right float32

	// InitErr and RenderErr are returned by Init and RenderFrame when set
	InitErr   error
	RenderErr error
}

// NewFakeSink returns an idle recording sink
func NewFakeSink() *FakeSink {
	return &FakeSink{}
}

func (f *FakeSink) Init(attr output.Attr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.InitErr != nil {
		return f.InitErr
	}
	if err := attr.Validate(); err != nil {
		return err
	}
	f.attr = attr
	f.inited = true
	return nil
}

func (f *FakeSink) IsInited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inited
}

func (f *FakeSink) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.inited {
		return fmt.Errorf("%w: fake sink not inited", audio.ErrDevice)
	}
	f.startCalls++
	f.started = true
	return nil
}

func (f *FakeSink) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	f.started = false
	return nil
}

func (f *FakeSink) DeInit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deinitCalls++
	f.inited = false
	f.started = false
}

func (f *FakeSink) RenderFrame(data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RenderErr != nil {
		return 0, f.RenderErr
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return len(data), nil
}

func (f *FakeSink) SetVolume(left, right float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left, f.right = left, right
	return nil
}

// SetRenderErr swaps the injected render failure
func (f *FakeSink) SetRenderErr(err error) {
	f.mu.Lock()
	f.RenderErr = err
	f.mu.Unlock()
}

// Attr returns the attributes from the last successful Init
func (f *FakeSink) Attr() output.Attr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attr
}

// Frames returns copies of every rendered frame
func (f *FakeSink) Frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

// FrameCount returns the number of RenderFrame calls that succeeded
func (f *FakeSink) FrameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// Started reports whether Start was called without a later Stop
func (f *FakeSink) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Volume returns the last SetVolume arguments
func (f *FakeSink) Volume() (float32, float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.left, f.right
}

// Calls returns Init, Start, Stop and DeInit counts
func (f *FakeSink) Calls() (initCalls, startCalls, stopCalls, deinitCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls, f.startCalls, f.stopCalls, f.deinitCalls
}

// Provider returns an output.Provider that hands out this sink for every role
func (f *FakeSink) Provider() output.Provider {
	return providerFunc(func(string) (output.Sink, error) { return f, nil })
}

type providerFunc func(role string) (output.Sink, error)

func (p providerFunc) Sink(role string) (output.Sink, error) { return p(role) }
