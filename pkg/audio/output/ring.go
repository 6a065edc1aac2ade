// ABOUTME: Byte ring buffer between RenderFrame and device callbacks
// ABOUTME: Thread-safe, zero-fills reads on underrun
package output

import "sync"

// RingBuffer is a fixed-capacity FIFO of PCM bytes
type RingBuffer struct {
	buffer   []byte
	readPos  int
	writePos int
	size     int
	count    int
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer with capacity bytes
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, capacity),
		size:   capacity,
	}
}

// Write appends as much of p as fits and returns the bytes stored
func (rb *RingBuffer) Write(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(p), rb.size-rb.count)
	for written := 0; written < n; {
		chunk := min(n-written, rb.size-rb.writePos)
		copy(rb.buffer[rb.writePos:rb.writePos+chunk], p[written:written+chunk])
		rb.writePos = (rb.writePos + chunk) % rb.size
		written += chunk
	}
	rb.count += n
	return n
}

// Read fills p from the buffer, zero-filling any shortfall, and returns the
// bytes that came from the buffer
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(p), rb.count)
	for read := 0; read < n; {
		chunk := min(n-read, rb.size-rb.readPos)
		copy(p[read:read+chunk], rb.buffer[rb.readPos:rb.readPos+chunk])
		rb.readPos = (rb.readPos + chunk) % rb.size
		read += chunk
	}
	rb.count -= n

	clear(p[n:])
	return n
}

// Available returns the bytes waiting to be read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the bytes that can be written without loss
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.count
}

// Reset drops buffered data
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos, rb.writePos, rb.count = 0, 0, 0
}
