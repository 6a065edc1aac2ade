// ABOUTME: Wire messages exchanged between a network sink and remote speakers
// ABOUTME: JSON control envelopes plus the binary audio chunk framing
package netsink

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

const (
	// ProtocolVersion is the control protocol revision
	ProtocolVersion = 1

	// AudioChunkMessageType tags binary audio frames
	AudioChunkMessageType = 4

	// ChunkHeaderSize is the type byte plus the int64 timestamp
	ChunkHeaderSize = 1 + 8
)

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeServerHello   = "server/hello"
	TypeStreamStart   = "stream/start"
	TypeStreamEnd     = "stream/end"
	TypeClientTime    = "client/time"
	TypeServerTime    = "server/time"
	TypeClientGoodbye = "client/goodbye"
)

// Message is the envelope for every control message
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// envelope is Message with the payload left undecoded
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AudioFormat is one format a speaker can play
type AudioFormat struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
}

// ClientHello opens a speaker session
type ClientHello struct {
	ClientID         string        `json:"client_id"`
	Name             string        `json:"name"`
	Version          int           `json:"version"`
	SupportedFormats []AudioFormat `json:"supported_formats,omitempty"`
}

// ServerHello answers ClientHello
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
	Software string `json:"software,omitempty"`
}

// StreamStart announces the format of the chunks that follow
type StreamStart struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// StreamEnd tells speakers no more chunks follow until the next StreamStart
type StreamEnd struct {
	Reason string `json:"reason,omitempty"`
}

// ClientTime is sent for clock synchronization
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
}

// ServerTime is the response to client/time
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
	ServerReceived    int64 `json:"server_received"`
	ServerTransmitted int64 `json:"server_transmitted"`
}

// ClientGoodbye is sent before a speaker disconnects
type ClientGoodbye struct {
	Reason string `json:"reason"`
}

// EncodeChunk frames payload as [type][big-endian int64 µs][payload]
func EncodeChunk(timestamp int64, payload []byte) []byte {
	return AppendChunk(nil, timestamp, payload)
}

// AppendChunk frames payload into dst[:0], growing it only when too small
func AppendChunk(dst []byte, timestamp int64, payload []byte) []byte {
	n := ChunkHeaderSize + len(payload)
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	chunk := dst[:n]
	chunk[0] = AudioChunkMessageType
	binary.BigEndian.PutUint64(chunk[1:ChunkHeaderSize], uint64(timestamp))
	copy(chunk[ChunkHeaderSize:], payload)
	return chunk
}

// DecodeChunk splits a binary frame into timestamp and payload
func DecodeChunk(data []byte) (int64, []byte, error) {
	if len(data) < ChunkHeaderSize {
		return 0, nil, fmt.Errorf("chunk too short: %d bytes", len(data))
	}
	if data[0] != AudioChunkMessageType {
		return 0, nil, fmt.Errorf("unknown binary message type %d", data[0])
	}
	ts := int64(binary.BigEndian.Uint64(data[1:ChunkHeaderSize]))
	return ts, data[ChunkHeaderSize:], nil
}

func decodePayload(env envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}
