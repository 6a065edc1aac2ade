// ABOUTME: Network sink that streams rendered spans to WebSocket speakers
// ABOUTME: Implements output.Sink so a mix engine can render to remote devices
package netsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Resonate-Protocol/resonate-direct/internal/discovery"
	"github.com/Resonate-Protocol/resonate-direct/internal/version"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/output"
)

const (
	DefaultPort        = 8928
	DefaultBufferAhead = 100 * time.Millisecond

	sendQueueDepth = 100

	// maxChunkPayload fits one 20ms span of 48kHz stereo 24-bit PCM
	maxChunkPayload = 960 * 2 * 3
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
)

// Config configures a network sink
type Config struct {
	// Name identifies the sink to speakers and on mDNS
	Name string

	// Port to listen on (default 8928)
	Port int

	// Path of the WebSocket endpoint (default /direct)
	Path string

	// EnableMDNS advertises the sink while serving
	EnableMDNS bool

	// BufferAhead is added to the sink clock to form chunk play times
	BufferAhead time.Duration

	// BitDepth of PCM chunks (16 or 24). Defaults to 24 for 32-bit spans, else 16.
	BitDepth int
}

// Server accepts speaker connections and broadcasts every rendered span
type Server struct {
	config   Config
	serverID string
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	clients   map[string]*client
	clientsMu sync.RWMutex

	clockStart time.Time

	mu      sync.Mutex
	attr    output.Attr
	inited  bool
	started bool
	gains   []float32

	// renderMu serializes RenderFrame and guards its reusable buffers
	renderMu sync.Mutex
	scratch  []byte
	payloads map[encode.Format][]byte
	chunks   sync.Pool

	wg sync.WaitGroup
}

// client is one connected speaker
type client struct {
	ID      string
	Name    string
	Conn    *websocket.Conn
	Formats []AudioFormat

	mu      sync.Mutex
	Codec   string
	encoder encode.Encoder

	sendChan chan interface{}
	closed   bool
}

// ClientInfo describes a connected speaker
type ClientInfo struct {
	ID    string
	Name  string
	Codec string
}

// NewServer creates a network sink. Call Handler or ListenAndServe to accept speakers.
func NewServer(config Config) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Name == "" {
		config.Name = "Direct Output"
	}
	if config.Path == "" {
		config.Path = discovery.DefaultPath
	}
	if config.BufferAhead == 0 {
		config.BufferAhead = DefaultBufferAhead
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Speakers live on the local network
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[string]*client),
		clockStart: time.Now(),
		payloads:   make(map[encode.Format][]byte, 2),
	}
	s.chunks.New = func() interface{} {
		b := make([]byte, 0, ChunkHeaderSize+maxChunkPayload)
		return &b
	}
	s.mux.HandleFunc(config.Path, s.handleWebSocket)
	return s
}

// Factory returns an output.Factory handing out this server
func (s *Server) Factory() output.Factory {
	return func() output.Sink { return s }
}

// Handler returns the HTTP handler serving the WebSocket endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves speakers until ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	var mdnsManager *discovery.Manager
	if s.config.EnableMDNS {
		mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        s.config.Path,
		})
		if err := mdnsManager.Advertise(); err != nil {
			log.Warnf("Failed to start mDNS advertisement: %v", err)
		}
		defer mdnsManager.Stop()
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Infof("Network sink %q listening on %s%s", s.config.Name, httpServer.Addr, s.config.Path)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errChan:
		return fmt.Errorf("network sink: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	s.closeClients()
	s.wg.Wait()
	log.Infof("Network sink stopped")
	return nil
}

// Init records the span format and (re)negotiates every connected speaker
func (s *Server) Init(attr output.Attr) error {
	if err := attr.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.attr = attr
	s.inited = true
	s.gains = nil
	s.mu.Unlock()

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		s.startClientStream(c, attr)
	}
	log.Infof("Network sink opened: %s", attr)
	return nil
}

func (s *Server) IsInited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inited
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inited {
		return fmt.Errorf("%w: network sink not initialized", audio.ErrDevice)
	}
	s.started = true
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	wasStarted := s.started
	s.started = false
	s.mu.Unlock()

	if wasStarted {
		s.broadcast(Message{Type: TypeStreamEnd, Payload: StreamEnd{Reason: "stopped"}})
	}
	return nil
}

func (s *Server) DeInit() {
	s.mu.Lock()
	s.inited = false
	s.started = false
	s.mu.Unlock()

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.mu.Lock()
		if c.encoder != nil {
			c.encoder.Close()
			c.encoder = nil
		}
		c.mu.Unlock()
	}
}

// RenderFrame encodes data once per speaker codec and queues it to every
// speaker. Slow speakers drop chunks rather than stall the engine.
func (s *Server) RenderFrame(data []byte) (int, error) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: network sink not started", audio.ErrDevice)
	}
	span := data
	if s.gains != nil {
		if cap(s.scratch) < len(data) {
			s.scratch = make([]byte, len(data))
		}
		span = s.scratch[:len(data)]
		copy(span, data)
		convert.ApplyChannelGains(span, s.attr.Format, s.attr.Channels, s.gains)
	}
	s.mu.Unlock()

	playAt := s.clockMicros() + s.config.BufferAhead.Microseconds()

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	// PCM speakers with the same format share one payload; Opus encoders
	// carry state and run per speaker
	payloads := s.payloads
	clear(payloads)
	for _, c := range s.clients {
		c.mu.Lock()
		enc := c.encoder
		c.mu.Unlock()
		if enc == nil {
			continue
		}

		format := enc.Format()
		payload, ok := payloads[format]
		if !ok || format.Codec == encode.CodecOpus {
			var err error
			payload, err = enc.Encode(span)
			if err != nil {
				log.Warnf("Encode %s for %s: %v", format.Codec, c.Name, err)
				continue
			}
			payloads[format] = payload
		}

		buf := s.chunks.Get().(*[]byte)
		*buf = AppendChunk(*buf, playAt, payload)
		if err := s.send(c, buf); err != nil {
			s.chunks.Put(buf)
			log.Debugf("Drop chunk for %s: %v", c.Name, err)
		}
	}
	return len(data), nil
}

// SetVolume scales the left and right channels of outgoing spans
func (s *Server) SetVolume(left, right float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if left == 1 && right == 1 {
		s.gains = nil
		return nil
	}
	s.gains = []float32{left, right}
	return nil
}

// Clients returns the connected speakers
func (s *Server) Clients() []ClientInfo {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	infos := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		c.mu.Lock()
		infos = append(infos, ClientInfo{ID: c.ID, Name: c.Name, Codec: c.Codec})
		c.mu.Unlock()
	}
	return infos
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	log.Debugf("New speaker connection from %s", r.RemoteAddr)
	s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(writeDeadline))
	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Debugf("Error reading hello: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warnf("Bad hello: %v", err)
		return
	}
	if env.Type != TypeClientHello {
		log.Warnf("Expected %s, got %s", TypeClientHello, env.Type)
		return
	}

	var hello ClientHello
	if err := decodePayload(env, &hello); err != nil {
		log.Warnf("Bad hello: %v", err)
		return
	}
	if hello.ClientID == "" || hello.Name == "" {
		log.Warnf("Speaker hello missing id or name")
		return
	}

	c := &client{
		ID:       hello.ClientID,
		Name:     hello.Name,
		Conn:     conn,
		Formats:  hello.SupportedFormats,
		sendChan: make(chan interface{}, sendQueueDepth),
	}

	s.clientsMu.Lock()
	if _, exists := s.clients[c.ID]; exists {
		s.clientsMu.Unlock()
		log.Warnf("Speaker %s already connected, rejecting duplicate", c.ID)
		return
	}
	s.clients[c.ID] = c
	s.clientsMu.Unlock()

	defer func() {
		s.removeClient(c)
		log.Infof("Speaker disconnected: %s", c.Name)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()

	s.send(c, Message{Type: TypeServerHello, Payload: ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  ProtocolVersion,
		Software: version.String(),
	}})
	log.Infof("Speaker connected: %s (%s)", c.Name, c.ID)

	s.mu.Lock()
	attr, inited := s.attr, s.inited
	s.mu.Unlock()
	if inited {
		s.startClientStream(c, attr)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugf("WebSocket error: %v", err)
			}
			return
		}
		if s.handleClientMessage(c, data) {
			return
		}
	}
}

// handleClientMessage returns true when the speaker said goodbye
func (s *Server) handleClientMessage(c *client, data []byte) bool {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debugf("Bad message from %s: %v", c.Name, err)
		return false
	}

	switch env.Type {
	case TypeClientTime:
		recv := s.clockMicros()
		var ct ClientTime
		if err := decodePayload(env, &ct); err != nil {
			return false
		}
		s.send(c, Message{Type: TypeServerTime, Payload: ServerTime{
			ClientTransmitted: ct.ClientTransmitted,
			ServerReceived:    recv,
			ServerTransmitted: s.clockMicros(),
		}})
	case TypeClientGoodbye:
		var bye ClientGoodbye
		_ = decodePayload(env, &bye)
		log.Infof("Speaker %s goodbye: %s", c.Name, bye.Reason)
		return true
	default:
		log.Debugf("Unknown message type from %s: %s", c.Name, env.Type)
	}
	return false
}

// startClientStream picks a codec for c and announces it
func (s *Server) startClientStream(c *client, attr output.Attr) {
	format := s.negotiate(c, attr)
	enc, err := encode.New(format)
	if err != nil && format.Codec == encode.CodecOpus {
		log.Warnf("Opus unavailable for %s, falling back to PCM: %v", c.Name, err)
		format.Codec = encode.CodecPCM
		enc, err = encode.New(format)
	}
	if err != nil {
		log.Errorf("No encoder for %s: %v", c.Name, err)
		return
	}

	c.mu.Lock()
	if c.encoder != nil {
		c.encoder.Close()
	}
	c.Codec = format.Codec
	c.encoder = enc
	c.mu.Unlock()

	bitDepth := format.BitDepth
	if format.Codec == encode.CodecOpus {
		bitDepth = 16
	}
	s.send(c, Message{Type: TypeStreamStart, Payload: StreamStart{
		Codec:      format.Codec,
		SampleRate: attr.SampleRate,
		Channels:   attr.Channels,
		BitDepth:   bitDepth,
	}})
	log.Infof("Streaming %s %dHz/%dch to %s", format.Codec, attr.SampleRate, attr.Channels, c.Name)
}

// negotiate prefers PCM at the sink rate, then Opus when libopus accepts it
func (s *Server) negotiate(c *client, attr output.Attr) encode.Format {
	bitDepth := s.config.BitDepth
	if bitDepth == 0 {
		bitDepth = 16
		if attr.Format.BytesPerSample() > 2 {
			bitDepth = 24
		}
	}
	format := encode.Format{
		Codec:      encode.CodecPCM,
		SampleRate: attr.SampleRate,
		Channels:   attr.Channels,
		Source:     attr.Format,
		BitDepth:   bitDepth,
	}

	if len(c.Formats) == 0 {
		return format
	}
	for _, f := range c.Formats {
		if f.Codec == encode.CodecPCM && (f.SampleRate == 0 || f.SampleRate == attr.SampleRate) {
			if f.BitDepth == 16 || f.BitDepth == 24 {
				format.BitDepth = f.BitDepth
			}
			return format
		}
	}
	for _, f := range c.Formats {
		if f.Codec == encode.CodecOpus && encode.SupportsOpus(attr.SampleRate) {
			format.Codec = encode.CodecOpus
			return format
		}
	}
	return format
}

func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sendChan:
			if !ok {
				return
			}

			c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			switch v := msg.(type) {
			case *[]byte:
				err := c.Conn.WriteMessage(websocket.BinaryMessage, *v)
				s.chunks.Put(v)
				if err != nil {
					return
				}
			default:
				if err := c.Conn.WriteJSON(v); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

func (s *Server) send(c *client, msg interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	select {
	case c.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("send queue full")
	}
}

func (s *Server) broadcast(msg Message) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		s.send(c, msg)
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c.ID)
	s.clientsMu.Unlock()

	c.mu.Lock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if !c.closed {
		c.closed = true
		close(c.sendChan)
	}
	c.mu.Unlock()
}

func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.Conn.Close()
	}
}

// clockMicros is the sink clock in microseconds since creation
func (s *Server) clockMicros() int64 {
	return time.Since(s.clockStart).Microseconds()
}
