// Package chat implements pairwise conversations: resolving two users to their shared
// conversation, appending to its log, soft-leaving it and delivering notifications
// through per-user mailboxes which clients drain by polling.
//
// The package is transport-agnostic: callers pass plain user identifiers and profiles,
// all state lives behind the store package.
package chat

import (
	"math/rand/v2"
	"time"

	"github.com/chemi/chat/server/store/types"
)

const (
	// defaultMaxIdAttempts is how many conversation ids are sampled before giving up.
	defaultMaxIdAttempts = 16
	// defaultMaxMessageLength is the maximum message length in grapheme clusters.
	defaultMaxMessageLength = 4096
)

// Config is the configuration of the chat service.
type Config struct {
	// Number of digits in a conversation id.
	RoomIdLength int `json:"room_id_length"`
	// Number of id samples before reporting the id space as exhausted.
	MaxIdAttempts int `json:"max_id_attempts"`
	// Maximum length of a message in user-perceived characters.
	MaxMessageLength int `json:"max_message_length"`
}

// Service performs chat operations on top of the store.
type Service struct {
	ids              *types.RoomIdGenerator
	maxIdAttempts    int
	maxMessageLength int

	// Clock, replaceable in tests.
	now func() time.Time
}

// NewService creates a chat service. A nil config means all defaults.
func NewService(config *Config) *Service {
	if config == nil {
		config = &Config{}
	}
	return newService(types.NewRoomIdGenerator(config.RoomIdLength, nil),
		config.MaxIdAttempts, config.MaxMessageLength)
}

func newService(ids *types.RoomIdGenerator, maxIdAttempts, maxMessageLength int) *Service {
	if maxIdAttempts <= 0 {
		maxIdAttempts = defaultMaxIdAttempts
	}
	if maxMessageLength <= 0 {
		maxMessageLength = defaultMaxMessageLength
	}
	return &Service{
		ids:              ids,
		maxIdAttempts:    maxIdAttempts,
		maxMessageLength: maxMessageLength,
		now:              types.TimeNow,
	}
}

// withSource is used by tests to make id sampling deterministic.
func withSource(s *Service, length int, src rand.Source) *Service {
	s.ids = types.NewRoomIdGenerator(length, src)
	return s
}
