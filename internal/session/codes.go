// internal/session/codes.go
package session

import (
	"crypto/rand"
	"math/big"
)

// codeAlphabet omits 0/O, 1/I and other glyphs players reliably mistype when
// reading a code off an opponent's screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// codeLength is fixed by the client protocol.
const codeLength = 4

// randomCode draws one candidate code. Uniqueness against live rooms is the
// caller's job.
func randomCode() string {
	out := make([]byte, codeLength)
	for i := range out {
		x, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			// crypto/rand only fails if the platform entropy source is
			// broken; there is no useful recovery at this layer.
			panic(err)
		}
		out[i] = codeAlphabet[x.Int64()]
	}
	return string(out)
}

// newRoomCode loops until the drawn code collides with no live room. The
// keyspace (32^4) dwarfs any plausible concurrent room count, so this settles
// in one draw almost always, but the collision check is never skipped.
// Caller must hold the manager lock.
func (m *Manager) newRoomCode() string {
	for {
		code := randomCode()
		if _, taken := m.rooms[code]; !taken {
			return code
		}
	}
}
