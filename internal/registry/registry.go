// Package registry tracks live connections for the event loop. The loop
// goroutine owns all connection state exclusively; the only member safe to
// touch from other goroutines is Registry.Len, which the health endpoint
// reads.
package registry

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"signoffws/pkg/types"
)

// Conn is the per-connection mutable state. A connection is either
// pre-handshake (no identity, no subscriptions) or post-handshake, where
// identity and subscriptions are fixed for its remaining lifetime. Both
// cursors only ever move forward.
type Conn struct {
	ID   string
	sock net.Conn

	// Buf accumulates raw bytes awaiting header or frame parsing.
	Buf []byte

	Handshaked bool
	AcceptedAt time.Time

	User           *types.User
	Channels       []string
	ChangeChannels []string
	TAEnabled      bool

	CourseID int64
	RoomID   int64
	QueueIDs []int64

	ChangeCursor   int64
	TACursor       int64
	LastChangePoll time.Time
	LastTAPoll     time.Time
}

// NewConn wraps a freshly accepted socket in its pre-handshake state.
func NewConn(sock net.Conn) *Conn {
	return &Conn{
		ID:         uuid.NewString(),
		sock:       sock,
		AcceptedAt: time.Now(),
	}
}

// Socket returns the underlying network connection.
func (c *Conn) Socket() net.Conn {
	return c.sock
}

// Append adds freshly read bytes to the receive buffer.
func (c *Conn) Append(p []byte) {
	c.Buf = append(c.Buf, p...)
}

// Discard drops n consumed bytes from the front of the receive buffer.
func (c *Conn) Discard(n int) {
	c.Buf = c.Buf[n:]
}

// ResetBuffer clears the receive buffer. Called once after the handshake
// response is written; any residual bytes are dropped.
func (c *Conn) ResetBuffer() {
	c.Buf = nil
}

// Registry holds live connections keyed by connection id. Removal is
// idempotent and closes the socket, so a connection removed mid-tick is
// skipped by subsequent per-connection steps via Has.
type Registry struct {
	conns map[string]*Conn
	count atomic.Int64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Add registers a connection.
func (r *Registry) Add(c *Conn) {
	r.conns[c.ID] = c
	r.count.Store(int64(len(r.conns)))
}

// Remove closes the connection's socket and drops it from the registry.
// Removing an unknown id, or the same id twice, is a no-op.
func (r *Registry) Remove(id string) {
	c, ok := r.conns[id]
	if !ok {
		return
	}
	delete(r.conns, id)
	r.count.Store(int64(len(r.conns)))
	if c.sock != nil {
		_ = c.sock.Close()
	}
}

// Has reports whether the connection is still registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.conns[id]
	return ok
}

// Snapshot returns the current connections as a slice, so iteration
// tolerates removals while multi-step per-connection work is in progress.
func (r *Registry) Snapshot() []*Conn {
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Len returns the number of live connections. Safe from any goroutine.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// CloseAll removes every connection. Used at shutdown.
func (r *Registry) CloseAll() {
	for id := range r.conns {
		r.Remove(id)
	}
}
