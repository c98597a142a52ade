// internal/session/queue.go
package session

// matchQueue is the FIFO of connections awaiting anonymous pairing. It has no
// lock of its own: the owning Manager serializes every access.
type matchQueue struct {
	waiting []*Conn
}

// contains reports whether conn is already queued.
func (q *matchQueue) contains(conn *Conn) bool {
	for _, c := range q.waiting {
		if c == conn {
			return true
		}
	}
	return false
}

// push appends conn to the tail unless it is already queued.
func (q *matchQueue) push(conn *Conn) {
	if q.contains(conn) {
		return
	}
	q.waiting = append(q.waiting, conn)
}

// pop removes and returns the head, or nil when empty.
func (q *matchQueue) pop() *Conn {
	if len(q.waiting) == 0 {
		return nil
	}
	head := q.waiting[0]
	q.waiting = q.waiting[1:]
	return head
}

// remove drops conn from wherever it sits in the queue; no-op if absent.
func (q *matchQueue) remove(conn *Conn) {
	for i, c := range q.waiting {
		if c == conn {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

func (q *matchQueue) len() int {
	return len(q.waiting)
}
