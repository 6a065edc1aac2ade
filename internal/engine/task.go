// ABOUTME: ThreadTask runs a job repeatedly on one goroutine with pause and stop control
// ABOUTME: Pause and Stop cancel the job's context so pending sleeps return early
package engine

import (
	"context"
	"sync"
)

type taskState int

const (
	taskStopped taskState = iota
	taskRunning
	taskPaused
)

// ThreadTask drives a periodic job. The job is called back to back; pacing
// is the job's own responsibility.
type ThreadTask struct {
	name string
	job  func(ctx context.Context)

	mu     sync.Mutex
	cond   *sync.Cond
	state  taskState
	parked bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewThreadTask creates a stopped task
func NewThreadTask(name string, job func(ctx context.Context)) *ThreadTask {
	t := &ThreadTask{name: name, job: job}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Start launches the worker, or resumes it when paused
func (t *ThreadTask) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case taskRunning:
		return
	case taskPaused:
		t.ctx, t.cancel = context.WithCancel(context.Background())
		t.state = taskRunning
		t.cond.Broadcast()
		log.Debugf("%s resumed", t.name)
		return
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.state = taskRunning
	t.parked = false
	t.done = make(chan struct{})
	go t.loop(t.done)
	log.Debugf("%s started", t.name)
}

func (t *ThreadTask) loop(done chan struct{}) {
	defer close(done)
	for {
		t.mu.Lock()
		for t.state == taskPaused {
			t.parked = true
			t.cond.Broadcast()
			t.cond.Wait()
		}
		t.parked = false
		if t.state == taskStopped {
			t.mu.Unlock()
			return
		}
		ctx := t.ctx
		t.mu.Unlock()

		t.job(ctx)
	}
}

// Stop ends the worker and waits for the current job call to return. It
// must not be called from inside the job.
func (t *ThreadTask) Stop() {
	t.mu.Lock()
	if t.state == taskStopped {
		t.mu.Unlock()
		return
	}
	t.state = taskStopped
	if t.cancel != nil {
		t.cancel()
	}
	done := t.done
	t.cond.Broadcast()
	t.mu.Unlock()

	<-done
	log.Debugf("%s stopped", t.name)
}

// Pause parks the worker and waits until the current job call returns. It
// must not be called from inside the job; use PauseAsync there.
func (t *ThreadTask) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.pauseLocked() {
		return
	}
	for t.state == taskPaused && !t.parked {
		t.cond.Wait()
	}
	log.Debugf("%s paused", t.name)
}

// PauseAsync requests a pause without waiting for the worker to park
func (t *ThreadTask) PauseAsync() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pauseLocked() {
		log.Debugf("%s pause requested", t.name)
	}
}

func (t *ThreadTask) pauseLocked() bool {
	if t.state != taskRunning {
		return false
	}
	t.state = taskPaused
	if t.cancel != nil {
		t.cancel()
	}
	return true
}

// CheckThreadIsRunning reports whether the worker is started and not paused
func (t *ThreadTask) CheckThreadIsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == taskRunning
}
