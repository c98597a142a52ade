// internal/session/room.go
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Player slots within a room. The creator always holds SlotPlayer1, the
// joiner SlotPlayer2.
const (
	SlotPlayer1 = "player1"
	SlotPlayer2 = "player2"
)

// Seat binds one connection to a slot within a Room.
type Seat struct {
	Conn *Conn
	Slot string
}

// Room is a two-seat gameplay session identified by a short operator-typeable
// code. Rooms are ephemeral: they exist only while at least one seat is
// occupied and never outlive the process.
type Room struct {
	ID        string
	Players   []Seat
	CreatedAt time.Time

	// MatchID is a stable identifier for the history pipeline. Room codes
	// recycle once a room dies; this does not.
	MatchID uuid.UUID
}

// NormalizeCode uppercases a client-supplied room code so lookups are
// case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// seatOf returns the seat index occupied by conn, or -1.
func (r *Room) seatOf(conn *Conn) int {
	for i, s := range r.Players {
		if s.Conn == conn {
			return i
		}
	}
	return -1
}

// view copies the room's identity and seating into a RoomView. Caller must
// hold the manager lock.
func (r *Room) view() RoomView {
	seats := make([]Seat, len(r.Players))
	copy(seats, r.Players)
	return RoomView{ID: r.ID, MatchID: r.MatchID, Seats: seats}
}

// RoomView is a consistent copy of a room's identity and seating, taken under
// the manager lock. The live seat slice never leaves the Manager; callers
// read a view freely after the lock is released and re-check each
// connection's liveness before writing.
type RoomView struct {
	ID      string
	MatchID uuid.UUID
	Seats   []Seat
}

// Opponent returns the other occupant's connection, or nil if conn sat
// alone (or does not sit here at all).
func (v RoomView) Opponent(conn *Conn) *Conn {
	for _, s := range v.Seats {
		if s.Conn != conn {
			return s.Conn
		}
	}
	return nil
}

// SlotOf returns the slot conn occupies in this view, or "" if unseated.
func (v RoomView) SlotOf(conn *Conn) string {
	for _, s := range v.Seats {
		if s.Conn == conn {
			return s.Slot
		}
	}
	return ""
}
