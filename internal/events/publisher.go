// ABOUTME: Publishes renderer stream status changes to NATS
// ABOUTME: Implements stream.StatusCallback so it can be chained with other observers
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Resonate-Protocol/resonate-direct/internal/stream"
)

// SubjectPrefix is the root of every status subject
const SubjectPrefix = "audio.stream"

// Conn is the part of a NATS connection the publisher needs
type Conn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Close()
}

// StatusEvent is the JSON body of a status message
type StatusEvent struct {
	SessionID   string `json:"session_id"`
	StreamIndex uint32 `json:"stream_index"`
	Operation   string `json:"operation"`
	Timestamp   int64  `json:"timestamp"`
}

// Publisher forwards stream operations to NATS
type Publisher struct {
	conn      Conn
	sessionID string
	now       func() time.Time
}

var _ stream.StatusCallback = (*Publisher)(nil)

// Connect dials NATS with a few retries and returns a publisher on it
func Connect(url string) (*Publisher, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < 3; i++ {
		nc, err = nats.Connect(url, nats.Name("direct-play"))
		if err == nil {
			break
		}
		log.Warnf("Failed to connect to NATS (attempt %d/3): %v", i+1, err)
		time.Sleep(time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Infof("Connected to NATS at %s", url)
	return NewPublisher(nc), nil
}

// NewPublisher wraps an existing connection
func NewPublisher(conn Conn) *Publisher {
	return &Publisher{
		conn:      conn,
		sessionID: uuid.New().String(),
		now:       time.Now,
	}
}

// SessionID identifies this process in every event
func (p *Publisher) SessionID() string {
	return p.sessionID
}

// Subject returns the subject used for a stream
func Subject(index uint32) string {
	return fmt.Sprintf("%s.%d.status", SubjectPrefix, index)
}

// OnStatusUpdate publishes one event. Failures are logged; the stream is never blocked on them.
func (p *Publisher) OnStatusUpdate(index uint32, op stream.Operation) {
	event := StatusEvent{
		SessionID:   p.sessionID,
		StreamIndex: index,
		Operation:   op.String(),
		Timestamp:   p.now().UnixMicro(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal status event: %v", err)
		return
	}
	if err := p.conn.Publish(Subject(index), data); err != nil {
		log.Warnf("Failed to publish %s for stream %d: %v", op, index, err)
		return
	}
	log.Debugf("Published %s for stream %d", op, index)
}

// Close flushes pending events and closes the connection
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Flush(); err != nil {
		log.Debugf("Flush on close: %v", err)
	}
	p.conn.Close()
}
