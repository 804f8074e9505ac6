package audio

import (
	"io"
	"sync"
)

// Channel is a unidirectional in-memory byte pipe between the capture
// producer and the network consumer.
//
// Unlike io.Pipe, writes never block: chunks are queued until read. The
// writer may Close at any time and the reader sees io.EOF once the queue is
// drained, including when nothing was ever written. A reader that stops
// consuming calls Abandon, after which writes are silently discarded.
type Channel struct {
	mu        sync.Mutex
	cond      *sync.Cond
	chunks    [][]byte
	closed    bool
	abandoned bool
	written   int64
}

// NewChannel returns an empty open channel.
func NewChannel() *Channel {
	c := &Channel{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Write queues a copy of p.
func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.abandoned {
		return len(p), nil
	}
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) == 0 {
		return 0, nil
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	c.chunks = append(c.chunks, chunk)
	c.written += int64(len(p))
	c.cond.Broadcast()
	return len(p), nil
}

// Close signals that no more data will be written. It is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
	return nil
}

// Abandon is called by the reader when it will not read any further. Pending
// data is dropped, blocked reads return io.EOF and later writes are discarded.
func (c *Channel) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandoned = true
	c.chunks = nil
	c.cond.Broadcast()
}

// Read blocks until data is available or the channel is closed.
func (c *Channel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.chunks) == 0 {
		if c.closed || c.abandoned {
			return 0, io.EOF
		}
		c.cond.Wait()
	}
	if len(p) == 0 {
		return 0, nil
	}

	n := copy(p, c.chunks[0])
	if n == len(c.chunks[0]) {
		c.chunks[0] = nil
		c.chunks = c.chunks[1:]
	} else {
		c.chunks[0] = c.chunks[0][n:]
	}
	return n, nil
}

// ReadChunk returns the next queued chunk whole, as written.
func (c *Channel) ReadChunk() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.chunks) == 0 {
		if c.closed || c.abandoned {
			return nil, io.EOF
		}
		c.cond.Wait()
	}
	chunk := c.chunks[0]
	c.chunks[0] = nil
	c.chunks = c.chunks[1:]
	return chunk, nil
}

// Written returns the number of bytes accepted so far.
func (c *Channel) Written() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}
