// internal/session/codes_test.go
package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomCodeShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := randomCode()
		assert.Len(t, code, codeLength)
		for _, ch := range code {
			assert.Contains(t, codeAlphabet, string(ch))
		}
	}
}

func TestCodeAlphabetExcludesAmbiguousGlyphs(t *testing.T) {
	for _, bad := range []string{"0", "O", "1", "I"} {
		assert.NotContains(t, codeAlphabet, bad)
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "ABCD", NormalizeCode("abcd"))
	assert.Equal(t, "AB2D", NormalizeCode("  ab2d "))
}

func TestNewRoomCodeRedrawsOnCollision(t *testing.T) {
	m := NewManager()

	// Pre-register a large slice of the keyspace prefix to force at least
	// occasional redraws; every returned code must still be free.
	for i := 0; i < 64; i++ {
		m.rooms[randomCode()] = &Room{}
	}
	for i := 0; i < 64; i++ {
		code := m.newRoomCode()
		_, taken := m.rooms[code]
		assert.False(t, taken)
		assert.False(t, strings.ContainsAny(code, "0O1I"))
		m.rooms[code] = &Room{}
	}
}
