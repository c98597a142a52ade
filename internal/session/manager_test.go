// internal/session/manager_test.go
package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn() *Conn {
	return NewConn(func() {})
}

func TestCreateRoomCodesDistinct(t *testing.T) {
	m := NewManager()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		view := m.CreateRoom(newTestConn())
		require.Len(t, view.ID, 4)
		assert.False(t, seen[view.ID], "room code %s allocated twice among live rooms", view.ID)
		seen[view.ID] = true
	}
}

func TestCreateRoomSeatsCreatorAsPlayer1(t *testing.T) {
	m := NewManager()
	a := newTestConn()

	view := m.CreateRoom(a)
	require.Len(t, view.Seats, 1)
	assert.Equal(t, SlotPlayer1, view.Seats[0].Slot)
	assert.Same(t, a, view.Seats[0].Conn)
	assert.Equal(t, SlotPlayer1, view.SlotOf(a))
}

func TestJoinRoom(t *testing.T) {
	m := NewManager()
	a, b, c := newTestConn(), newTestConn(), newTestConn()

	_, err := m.JoinRoom(b, "ZZZZ")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	created := m.CreateRoom(a)

	// case-insensitive lookup
	joined, err := m.JoinRoom(b, lower(created.ID))
	require.NoError(t, err)
	assert.Equal(t, created.ID, joined.ID)
	require.Len(t, joined.Seats, 2)
	assert.Equal(t, SlotPlayer1, joined.Seats[0].Slot)
	assert.Equal(t, SlotPlayer2, joined.Seats[1].Slot)

	_, err = m.JoinRoom(c, created.ID)
	assert.ErrorIs(t, err, ErrRoomFull)

	after, ok := m.FindRoomFor(a)
	require.True(t, ok)
	assert.Len(t, after.Seats, 2, "failed join must not mutate the room")
}

func lower(s string) string {
	out := []byte(s)
	for i, ch := range out {
		if ch >= 'A' && ch <= 'Z' {
			out[i] = ch + 'a' - 'A'
		}
	}
	return string(out)
}

// A survivor can be left holding player2; the next joiner must take the
// vacant player1, never a duplicate slot.
func TestJoinRoomAfterPlayer1LeftAssignsVacantSlot(t *testing.T) {
	m := NewManager()
	a, b, c := newTestConn(), newTestConn(), newTestConn()

	created := m.CreateRoom(a)
	_, err := m.JoinRoom(b, created.ID)
	require.NoError(t, err)

	opponent, _, seated := m.RemovePlayer(a)
	require.True(t, seated)
	assert.Same(t, b, opponent)

	rejoined, err := m.JoinRoom(c, created.ID)
	require.NoError(t, err)
	require.Len(t, rejoined.Seats, 2)
	assert.Equal(t, SlotPlayer1, rejoined.SlotOf(c))
	assert.Equal(t, SlotPlayer2, rejoined.SlotOf(b))

	slots := map[string]int{}
	for _, s := range rejoined.Seats {
		slots[s.Slot]++
	}
	assert.Equal(t, 1, slots[SlotPlayer1], "room must have exactly one player1")
	assert.Equal(t, 1, slots[SlotPlayer2], "room must have exactly one player2")
}

func TestFindRoomFor(t *testing.T) {
	m := NewManager()
	a, b, stranger := newTestConn(), newTestConn(), newTestConn()

	created := m.CreateRoom(a)
	_, err := m.JoinRoom(b, created.ID)
	require.NoError(t, err)

	viewA, ok := m.FindRoomFor(a)
	require.True(t, ok)
	assert.Equal(t, created.ID, viewA.ID)

	viewB, ok := m.FindRoomFor(b)
	require.True(t, ok)
	assert.Equal(t, created.ID, viewB.ID)
	assert.Same(t, a, viewB.Opponent(b))

	_, ok = m.FindRoomFor(stranger)
	assert.False(t, ok)
}

func TestRemovePlayerIdempotent(t *testing.T) {
	m := NewManager()
	a, b := newTestConn(), newTestConn()

	created := m.CreateRoom(a)
	_, err := m.JoinRoom(b, created.ID)
	require.NoError(t, err)

	opponent, after, seated := m.RemovePlayer(b)
	require.True(t, seated)
	assert.Same(t, a, opponent)
	assert.Len(t, after.Seats, 1)

	// double-close: second removal is a no-op
	_, _, seated = m.RemovePlayer(b)
	assert.False(t, seated)

	// last member leaving deletes the room entirely
	opponent, after, seated = m.RemovePlayer(a)
	require.True(t, seated)
	assert.Nil(t, opponent)
	assert.Empty(t, after.Seats)

	_, ok := m.FindRoomFor(a)
	assert.False(t, ok)
	_, err = m.JoinRoom(newTestConn(), created.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestFindMatchPairsFIFO(t *testing.T) {
	m := NewManager()
	a, b, c, d := newTestConn(), newTestConn(), newTestConn(), newTestConn()

	m.Enqueue(a)
	m.Enqueue(b)

	view, paired := m.FindMatch(c)
	require.True(t, paired)
	assert.Same(t, a, view.Seats[0].Conn, "longest waiter pairs first")
	assert.Equal(t, SlotPlayer1, view.Seats[0].Slot)
	assert.Same(t, c, view.Seats[1].Conn)
	assert.Equal(t, SlotPlayer2, view.Seats[1].Slot)

	view2, paired := m.FindMatch(d)
	require.True(t, paired)
	assert.Same(t, b, view2.Seats[0].Conn, "next waiter pairs next")
	assert.Same(t, d, view2.Seats[1].Conn)
}

func TestFindMatchPairsHeadImmediately(t *testing.T) {
	m := NewManager()
	a, b := newTestConn(), newTestConn()

	_, paired := m.FindMatch(a)
	assert.False(t, paired, "first caller waits")

	view, paired := m.FindMatch(b)
	require.True(t, paired, "second caller pairs with the waiting head")
	assert.Same(t, a, view.Seats[0].Conn)
	assert.Same(t, b, view.Seats[1].Conn)

	_, queued := m.Stats()
	assert.Zero(t, queued)
}

func TestFindMatchWhileQueuedIsNoop(t *testing.T) {
	m := NewManager()
	a := newTestConn()

	_, paired := m.FindMatch(a)
	assert.False(t, paired)
	_, paired = m.FindMatch(a)
	assert.False(t, paired, "repeat call must not self-pair or duplicate")

	_, queued := m.Stats()
	assert.Equal(t, 1, queued)
}

func TestFindMatchSkipsClosedWaiters(t *testing.T) {
	m := NewManager()
	stale1, stale2, live, caller := newTestConn(), newTestConn(), newTestConn(), newTestConn()

	m.Enqueue(stale1)
	m.Enqueue(stale2)
	m.Enqueue(live)
	stale1.MarkClosed()
	stale2.MarkClosed()

	view, paired := m.FindMatch(caller)
	require.True(t, paired)
	assert.Same(t, live, view.Seats[0].Conn, "closed waiters are skipped, not paired")

	_, queued := m.Stats()
	assert.Equal(t, 0, queued, "stale entries are discarded during the scan")
}

func TestFindMatchExhaustedQueueEnqueuesCaller(t *testing.T) {
	m := NewManager()
	stale, caller, next := newTestConn(), newTestConn(), newTestConn()

	m.Enqueue(stale)
	stale.MarkClosed()

	_, paired := m.FindMatch(caller)
	assert.False(t, paired, "all-stale queue leaves caller waiting")

	view, paired := m.FindMatch(next)
	require.True(t, paired)
	assert.Same(t, caller, view.Seats[0].Conn)
}

func TestCancel(t *testing.T) {
	m := NewManager()
	a, b := newTestConn(), newTestConn()

	m.Enqueue(a)
	m.Cancel(a)
	m.Cancel(a) // no-op when absent

	_, paired := m.FindMatch(b)
	assert.False(t, paired, "cancelled waiter must not be paired")
}

func TestStats(t *testing.T) {
	m := NewManager()
	rooms, queued := m.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, queued)

	m.CreateRoom(newTestConn())
	m.Enqueue(newTestConn())

	rooms, queued = m.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, queued)
}
