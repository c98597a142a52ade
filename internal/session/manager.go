// internal/session/manager.go
package session

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Room lookup failures surfaced to the protocol layer.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
)

// Manager owns the only two pieces of shared mutable state in the service:
// the live room map and the match queue. Every operation below is a critical
// section under one mutex, so a FindMatch can never race another FindMatch or
// a Cancel over the same queue head, and relay addressing always sees a
// consistent room map.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room // room code -> room
	queue matchQueue
}

// NewManager initializes an empty Manager.
func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// CreateRoom allocates a fresh unique code and registers a one-seat room with
// conn as player1. It always succeeds.
func (m *Manager) CreateRoom(conn *Conn) RoomView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createRoomLocked(conn).view()
}

// createRoomLocked is the shared implementation for CreateRoom and FindMatch.
// Caller must hold m.mu.
func (m *Manager) createRoomLocked(creator *Conn) *Room {
	room := &Room{
		ID:        m.newRoomCode(),
		Players:   []Seat{{Conn: creator, Slot: SlotPlayer1}},
		CreatedAt: time.Now(),
		MatchID:   uuid.New(),
	}
	m.rooms[room.ID] = room
	return room
}

// JoinRoom seats conn in the room addressed by code. The code is compared
// case-insensitively. Returns ErrRoomNotFound or ErrRoomFull on failure; the
// room is untouched in either case. A fresh room's joiner takes player2; if
// the surviving occupant of a once-full room holds player2, the joiner takes
// the vacant player1 so a room never carries two seats of the same slot.
func (m *Manager) JoinRoom(conn *Conn, code string) (RoomView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[NormalizeCode(code)]
	if !ok {
		return RoomView{}, ErrRoomNotFound
	}
	if len(room.Players) >= 2 {
		return RoomView{}, ErrRoomFull
	}
	slot := SlotPlayer2
	if len(room.Players) == 1 && room.Players[0].Slot == SlotPlayer2 {
		slot = SlotPlayer1
	}
	room.Players = append(room.Players, Seat{Conn: conn, Slot: slot})
	return room.view(), nil
}

// FindRoomFor returns a view of the room conn currently occupies. This is
// the session directory: derived by scanning seats, never stored
// independently.
func (m *Manager) FindRoomFor(conn *Conn) (RoomView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.findRoomLocked(conn)
	if room == nil {
		return RoomView{}, false
	}
	return room.view(), true
}

func (m *Manager) findRoomLocked(conn *Conn) *Room {
	for _, room := range m.rooms {
		if room.seatOf(conn) >= 0 {
			return room
		}
	}
	return nil
}

// RemovePlayer vacates conn's seat in whatever room holds it, all in one
// critical section. If another occupant remains, their connection is
// returned so the caller can notify them; an emptied room is deleted on the
// spot (a nil opponent with seated=true means the room is gone). The view
// reflects the room after removal. Idempotent: a second call for the same
// connection finds no seat and reports seated=false.
func (m *Manager) RemovePlayer(conn *Conn) (opponent *Conn, view RoomView, seated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.findRoomLocked(conn)
	if room == nil {
		return nil, RoomView{}, false
	}

	i := room.seatOf(conn)
	room.Players = append(room.Players[:i], room.Players[i+1:]...)

	if len(room.Players) == 0 {
		delete(m.rooms, room.ID)
		log.Printf("session.Manager: room %s emptied, deleted.", room.ID)
		return nil, room.view(), true
	}
	return room.Players[0].Conn, room.view(), true
}

// Enqueue appends conn to the match queue tail; no-op if already waiting.
func (m *Manager) Enqueue(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.push(conn)
}

// FindMatch pairs conn with the longest-waiting still-live queued connection.
// On a pairing it creates a room with the waiter as player1 and conn as
// player2 and returns its view. Queue heads whose transport has since closed
// are discarded as they surface. If no live waiter exists, conn itself is
// enqueued and paired=false is returned. A conn already in the queue gets
// paired=false back without being touched.
func (m *Manager) FindMatch(conn *Conn) (RoomView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.contains(conn) {
		return RoomView{}, false
	}

	// Iterative skip over stale entries so a pile of dead waiters cannot
	// grow the stack.
	for {
		opponent := m.queue.pop()
		if opponent == nil {
			m.queue.push(conn)
			return RoomView{}, false
		}
		if !opponent.IsOpen() {
			log.Printf("session.Manager: skipping closed session %s in match queue.", opponent.ID)
			continue
		}

		room := m.createRoomLocked(opponent)
		room.Players = append(room.Players, Seat{Conn: conn, Slot: SlotPlayer2})
		return room.view(), true
	}
}

// Cancel removes conn from the match queue if present.
func (m *Manager) Cancel(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.remove(conn)
}

// Stats reports the live room count and queue length for the health surface.
func (m *Manager) Stats() (rooms, queued int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms), m.queue.len()
}
