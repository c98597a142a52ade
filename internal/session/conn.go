// internal/session/conn.go
package session

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/google/uuid"
)

// Conn is one client's presence in the session manager. The session ID is
// assigned at accept time and is the only identity the manager keys on; the
// underlying websocket stays owned by the transport layer.
type Conn struct {
	ID      uuid.UUID
	Cancel  context.CancelFunc // stops the connection's read/write pumps
	OutChan chan map[string]interface{}

	closed atomic.Bool
}

// NewConn allocates a Conn with a fresh session ID and a buffered outbound
// channel drained by the connection's write pump.
func NewConn(cancel context.CancelFunc) *Conn {
	return &Conn{
		ID:      uuid.New(),
		Cancel:  cancel,
		OutChan: make(chan map[string]interface{}, 16),
	}
}

// MarkClosed flips the liveness flag. Called once by the transport layer when
// the read pump exits; Write becomes a drop afterwards.
func (c *Conn) MarkClosed() {
	c.closed.Store(true)
}

// IsOpen reports whether the transport is still believed live. Every relay
// and matchmaking path re-checks this before writing.
func (c *Conn) IsOpen() bool {
	return !c.closed.Load()
}

// Write pushes a message onto the outbound channel non-blockingly. Messages
// to closed or backed-up connections are dropped with a log line rather than
// stalling the caller.
func (c *Conn) Write(msg map[string]interface{}) {
	if c.closed.Load() {
		return
	}
	select {
	case c.OutChan <- msg:
	default:
		msgType, _ := msg["type"].(string)
		log.Printf("session.Conn Write WARNING: OutChan for session %s closed or full. Dropped message type '%s'.", c.ID, msgType)
	}
}

// WriteError is a convenience to send an error object.
func (c *Conn) WriteError(msg string) {
	c.Write(map[string]interface{}{
		"type":    "error",
		"message": msg,
	})
}
