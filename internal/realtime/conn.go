// Package realtime holds the live side of the chat core: connections, the
// room/user index, fan-out, sessions, membership sync and signaling.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Conn is one live client connection. The outbound queue is bounded and never
// closed; Close cancels the connection context and the writer exits on Done.
type Conn struct {
	ID     string
	UserID string
	// Name is the display name at handshake time, used in typing and call
	// payloads.
	Name string

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	rooms    map[string]struct{}
	detached bool
}

func NewConn(parent context.Context, userID string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 64
	}
	ctx, cancel := context.WithCancel(parent)
	return &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		send:   make(chan []byte, buffer),
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]struct{}),
	}
}

// Enqueue queues b without blocking. It reports false when the connection is
// closed or its queue is full.
func (c *Conn) Enqueue(b []byte) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Conn) Outbound() <-chan []byte { return c.send }
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }
func (c *Conn) Context() context.Context { return c.ctx }
func (c *Conn) Close() { c.cancel() }
func (c *Conn) Closed() bool { return c.ctx.Err() != nil }

func (c *Conn) InRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}
