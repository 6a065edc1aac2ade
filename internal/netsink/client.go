// ABOUTME: Speaker-side client for a network sink
// ABOUTME: Dials, negotiates a codec and exposes received chunks as a PCM source
package netsink

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Resonate-Protocol/resonate-direct/internal/discovery"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/encode"
)

const handshakeTimeout = 5 * time.Second

// ClientConfig configures a speaker connection
type ClientConfig struct {
	// Addr is host:port of the network sink
	Addr string

	// Path of the WebSocket endpoint (default /direct)
	Path string

	// ClientID defaults to a random UUID
	ClientID string

	// Name shown by the sink
	Name string

	// Formats offered to the sink, most preferred first. Defaults to 16-bit PCM.
	Formats []AudioFormat
}

// AudioChunk is one timestamped payload as received
type AudioChunk struct {
	Timestamp int64
	Data      []byte
}

// Client is a connected speaker. It implements decode.Source so received
// audio can feed a local renderer stream.
type Client struct {
	config     ClientConfig
	conn       *websocket.Conn
	serverName string

	mu      sync.Mutex
	start   StreamStart
	stream  audio.StreamConfig
	opus    *decode.OpusDecoder
	pending []byte

	chunks    chan AudioChunk
	times     chan ServerTime
	ended     chan struct{}
	endOnce   sync.Once
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

var _ decode.Source = (*Client)(nil)

// Dial connects to a network sink and waits for the first stream/start
func Dial(ctx context.Context, config ClientConfig) (*Client, error) {
	if config.Path == "" {
		config.Path = discovery.DefaultPath
	}
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if config.Name == "" {
		config.Name = "speaker"
	}
	if len(config.Formats) == 0 {
		config.Formats = []AudioFormat{{Codec: encode.CodecPCM, BitDepth: 16}}
	}

	u := url.URL{Scheme: "ws", Host: config.Addr, Path: config.Path}
	log.Infof("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c := &Client{
		config: config,
		conn:   conn,
		chunks: make(chan AudioChunk, 100),
		times:  make(chan ServerTime, 4),
		ended:  make(chan struct{}),
		closed: make(chan struct{}),
	}

	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	hello := ClientHello{
		ClientID:         c.config.ClientID,
		Name:             c.config.Name,
		Version:          ProtocolVersion,
		SupportedFormats: c.config.Formats,
	}
	if err := c.sendJSON(Message{Type: TypeClientHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send hello: %w", err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	// server/hello, then stream/start once the sink is opened
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return err
		}

		switch env.Type {
		case TypeServerHello:
			var sh ServerHello
			if err := decodePayload(env, &sh); err != nil {
				return err
			}
			c.serverName = sh.Name
			log.Infof("Connected to %s (%s)", sh.Name, sh.ServerID)
		case TypeStreamStart:
			var start StreamStart
			if err := decodePayload(env, &start); err != nil {
				return err
			}
			return c.applyStart(start)
		default:
			log.Debugf("Ignoring %s during handshake", env.Type)
		}
	}
}

func (c *Client) applyStart(start StreamStart) error {
	format := audio.SampleS16LE
	var dec *decode.OpusDecoder
	switch start.Codec {
	case encode.CodecPCM:
		if start.BitDepth == 24 {
			format = audio.SampleS24LE
		} else if start.BitDepth != 16 {
			return fmt.Errorf("%w: pcm bit depth %d", audio.ErrUnsupported, start.BitDepth)
		}
	case encode.CodecOpus:
		var err error
		dec, err = decode.NewOpus(start.SampleRate, start.Channels)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: codec %q", audio.ErrUnsupported, start.Codec)
	}

	c.mu.Lock()
	c.start = start
	c.opus = dec
	c.pending = nil
	c.stream = audio.StreamConfig{
		Format:        format,
		Channels:      start.Channels,
		SampleRate:    start.SampleRate,
		ChannelLayout: audio.SinkChannelLayout(start.Channels),
	}
	c.mu.Unlock()

	log.Infof("Stream: %s %dHz %dch %d-bit", start.Codec, start.SampleRate, start.Channels, start.BitDepth)
	return nil
}

func (c *Client) readMessages() {
	defer c.Close()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				log.Debugf("Read error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			ts, payload, err := DecodeChunk(data)
			if err != nil {
				log.Debugf("Bad chunk: %v", err)
				continue
			}
			select {
			case c.chunks <- AudioChunk{Timestamp: ts, Data: payload}:
			case <-c.closed:
				return
			}
		case websocket.TextMessage:
			c.handleJSON(data)
		}
	}
}

func (c *Client) handleJSON(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debugf("Bad message: %v", err)
		return
	}

	switch env.Type {
	case TypeServerTime:
		var st ServerTime
		if err := decodePayload(env, &st); err != nil {
			return
		}
		select {
		case c.times <- st:
		default:
		}
	case TypeStreamEnd:
		log.Infof("Stream ended")
		c.endOnce.Do(func() { close(c.ended) })
	case TypeStreamStart:
		var start StreamStart
		if err := decodePayload(env, &start); err != nil {
			return
		}
		if err := c.applyStart(start); err != nil {
			log.Warnf("Stream restart: %v", err)
		}
	default:
		log.Debugf("Unknown message type: %s", env.Type)
	}
}

// Config returns the PCM format Read produces
func (c *Client) Config() audio.StreamConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Title is the sink name
func (c *Client) Title() string {
	return c.serverName
}

// Chunks exposes raw chunks. Do not mix with Read.
func (c *Client) Chunks() <-chan AudioChunk {
	return c.chunks
}

// Read fills p with decoded PCM, blocking until a chunk arrives. It returns
// io.EOF once the sink ends the stream or the connection closes.
func (c *Client) Read(p []byte) (int, error) {
	for {
		c.mu.Lock()
		if len(c.pending) > 0 {
			n := copy(p, c.pending)
			c.pending = c.pending[n:]
			c.mu.Unlock()
			return n, nil
		}
		c.mu.Unlock()

		var chunk AudioChunk
		select {
		case chunk = <-c.chunks:
		case <-c.ended:
			return 0, io.EOF
		case <-c.closed:
			return 0, io.EOF
		}

		pcm, err := c.decodeChunk(chunk.Data)
		if err != nil {
			return 0, err
		}
		c.mu.Lock()
		c.pending = pcm
		c.mu.Unlock()
	}
}

func (c *Client) decodeChunk(payload []byte) ([]byte, error) {
	c.mu.Lock()
	dec := c.opus
	c.mu.Unlock()

	if dec == nil {
		return payload, nil
	}
	samples, err := dec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}

// SyncTime performs one client/time exchange and returns the estimated
// offset of the sink clock from the local clock and the round trip
func (c *Client) SyncTime(ctx context.Context) (offset, rtt time.Duration, err error) {
	t1 := time.Now().UnixMicro()
	if err := c.sendJSON(Message{Type: TypeClientTime, Payload: ClientTime{ClientTransmitted: t1}}); err != nil {
		return 0, 0, err
	}

	select {
	case st := <-c.times:
		t4 := time.Now().UnixMicro()
		off := ((st.ServerReceived - st.ClientTransmitted) + (st.ServerTransmitted - t4)) / 2
		round := (t4 - st.ClientTransmitted) - (st.ServerTransmitted - st.ServerReceived)
		return time.Duration(off) * time.Microsecond, time.Duration(round) * time.Microsecond, nil
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	case <-c.closed:
		return 0, 0, errors.New("connection closed")
	}
}

func (c *Client) sendJSON(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Close says goodbye and closes the connection
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.sendJSON(Message{Type: TypeClientGoodbye, Payload: ClientGoodbye{Reason: "shutdown"}})
		close(c.closed)
		err = c.conn.Close()
		c.mu.Lock()
		c.opus = nil
		c.mu.Unlock()
	})
	return err
}
