package types

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
)

const (
	// DefaultRoomIdLength is the number of decimal digits in a conversation id.
	DefaultRoomIdLength = 8
	maxRoomIdLength     = 18
)

// RoomIdGenerator samples conversation ids uniformly from the space of
// fixed-length zero-padded decimal strings, "00000000" to "99999999" by default.
// Uniqueness is not guaranteed: callers re-sample on collision.
type RoomIdGenerator struct {
	mu     sync.Mutex
	length int
	space  uint64
	rnd    *rand.Rand
}

// NewRoomIdGenerator creates a generator of ids with the given number of digits.
// A nil source means a randomly seeded PCG source.
func NewRoomIdGenerator(length int, src rand.Source) *RoomIdGenerator {
	if length <= 0 || length > maxRoomIdLength {
		length = DefaultRoomIdLength
	}
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	space := uint64(1)
	for i := 0; i < length; i++ {
		space *= 10
	}
	return &RoomIdGenerator{length: length, space: space, rnd: rand.New(src)}
}

// Length returns the number of digits in generated ids.
func (g *RoomIdGenerator) Length() int {
	return g.length
}

// Next returns a random id.
func (g *RoomIdGenerator) Next() string {
	g.mu.Lock()
	n := g.rnd.Uint64N(g.space)
	g.mu.Unlock()

	id := strconv.FormatUint(n, 10)
	if pad := g.length - len(id); pad > 0 {
		id = strings.Repeat("0", pad) + id
	}
	return id
}

// IsRoomId checks if the string looks like a conversation id of the given length.
func IsRoomId(id string, length int) bool {
	if len(id) != length {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
