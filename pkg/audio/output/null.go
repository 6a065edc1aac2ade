// ABOUTME: Null sink that discards rendered audio
// ABOUTME: Counts frames so headless runs and tests can observe progress
package output

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
)

// Null discards audio while tracking what it was asked to render
type Null struct {
	mu       sync.Mutex
	attr     Attr
	inited   bool
	started  bool
	rendered int64
	frames   int
	left     float32
	right    float32
}

// NewNull creates a null sink
func NewNull() Sink {
	return &Null{left: 1, right: 1}
}

func (n *Null) Init(attr Attr) error {
	if err := attr.Validate(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attr = attr
	n.inited = true
	log.Infof("Null sink initialized: %s", attr)
	return nil
}

func (n *Null) IsInited() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inited
}

func (n *Null) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.inited {
		return fmt.Errorf("%w: null sink not inited", audio.ErrDevice)
	}
	n.started = true
	return nil
}

func (n *Null) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = false
	return nil
}

func (n *Null) DeInit() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inited = false
	n.started = false
}

func (n *Null) RenderFrame(data []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return 0, fmt.Errorf("%w: null sink not started", audio.ErrDevice)
	}
	n.rendered += int64(len(data))
	n.frames++
	return len(data), nil
}

func (n *Null) SetVolume(left, right float32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.left, n.right = clampGain(left), clampGain(right)
	return nil
}

// Rendered returns total bytes and RenderFrame calls accepted
func (n *Null) Rendered() (bytes int64, frames int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rendered, n.frames
}
