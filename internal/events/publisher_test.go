// ABOUTME: Tests for the NATS status publisher
// ABOUTME: Uses an in-memory connection to capture published subjects and bodies
package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-direct/internal/stream"
)

type published struct {
	subject string
	data    []byte
}

type mockConn struct {
	mu      sync.Mutex
	msgs    []published
	err     error
	flushed bool
	closed  bool
}

func (m *mockConn) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, published{subject, data})
	return nil
}

func (m *mockConn) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed = true
	return nil
}

func (m *mockConn) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "audio.stream.7.status", Subject(7))
}

func TestPublishesStatus(t *testing.T) {
	conn := &mockConn{}
	p := NewPublisher(conn)
	p.now = func() time.Time { return time.UnixMicro(42) }

	p.OnStatusUpdate(3, stream.OperationStarted)
	p.OnStatusUpdate(3, stream.OperationDrained)

	require.Len(t, conn.msgs, 2)
	assert.Equal(t, "audio.stream.3.status", conn.msgs[0].subject)

	var ev StatusEvent
	require.NoError(t, json.Unmarshal(conn.msgs[1].data, &ev))
	assert.Equal(t, p.SessionID(), ev.SessionID)
	assert.Equal(t, uint32(3), ev.StreamIndex)
	assert.Equal(t, stream.OperationDrained.String(), ev.Operation)
	assert.Equal(t, int64(42), ev.Timestamp)
}

func TestPublishErrorIsSwallowed(t *testing.T) {
	conn := &mockConn{err: errors.New("nats: connection closed")}
	p := NewPublisher(conn)
	assert.NotPanics(t, func() { p.OnStatusUpdate(1, stream.OperationStopped) })
	assert.Empty(t, conn.msgs)
}

func TestChainsWithOtherObservers(t *testing.T) {
	conn := &mockConn{}
	var seen []stream.Operation
	chain := stream.MultiStatus{
		NewPublisher(conn),
		stream.StatusCallbackFunc(func(_ uint32, op stream.Operation) { seen = append(seen, op) }),
	}
	chain.OnStatusUpdate(0, stream.OperationPaused)
	assert.Len(t, conn.msgs, 1)
	assert.Equal(t, []stream.Operation{stream.OperationPaused}, seen)
}

func TestClose(t *testing.T) {
	conn := &mockConn{}
	p := NewPublisher(conn)
	p.Close()
	assert.True(t, conn.flushed)
	assert.True(t, conn.closed)
}
