package chat

import (
	"errors"

	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store"
	"github.com/chemi/chat/server/store/types"
)

// lookup finds the conversation between two users, nil if there is none.
func lookup(a, b string) (*types.Conversation, error) {
	key := types.PairKey(a, b)
	if key == "" {
		return nil, nil
	}
	conv, err := store.Conversations.Get(key)
	if err != nil {
		return nil, errStorage("find chatroom", err)
	}
	return conv, nil
}

// Find returns id of the conversation between users a and b or an empty string if they
// have none. The order of arguments does not matter.
func (s *Service) Find(a, b string) (string, error) {
	conv, err := lookup(a, b)
	if err != nil || conv == nil {
		return "", err
	}
	return conv.Id, nil
}

// ResolveOrCreate creates a conversation between sender and receiver. It is not
// idempotent: if the two users already have a conversation it fails with ErrAlreadyExists.
//
// The conversation, its first system message, memberships of both users and the
// invite in the receiver's mailbox are written by the store in one atomic step. Concurrent
// attempts to create the same conversation are settled by the uniqueness of the pair-key.
func (s *Service) ResolveOrCreate(sender, receiver types.Profile) (*types.Conversation, error) {
	if sender.Email == receiver.Email {
		return nil, ErrSelfConversation
	}

	key := types.PairKey(sender.Email, receiver.Email)
	if key == "" {
		return nil, errValidation("sender and receiver are required")
	}

	existing, err := lookup(sender.Email, receiver.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyExists
	}

	users, err := profiles(sender.Email, receiver.Email)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.maxIdAttempts; attempt++ {
		now := s.now()
		conv := &types.Conversation{
			PairKey:   key,
			Id:        s.ids.Next(),
			Users:     types.PairUsers(sender.Email, receiver.Email),
			CreatedAt: now,
		}
		err := store.Conversations.Create(conv, types.NewSystemMessage(conv.Id, now),
			receiver.Email, types.NewRoomTask(users[sender.Email], conv.Id))
		if err == nil {
			logs.Info.Printf("chat: chatroom %s created for '%s'", conv.Id, key)
			return conv, nil
		}
		if !errors.Is(err, types.ErrDuplicate) {
			return nil, errStorage("create chatroom", err)
		}

		// Either the pair-key or the id is taken. A concurrent request may have created
		// the same conversation.
		existing, err := lookup(sender.Email, receiver.Email)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrAlreadyExists
		}
		logs.Warn.Printf("chat: chatroom id %s is taken, attempt %d", conv.Id, attempt+1)
	}

	logs.Err.Printf("chat: no free chatroom id for '%s' after %d attempts", key, s.maxIdAttempts)
	return nil, ErrIdSpaceExhausted
}
