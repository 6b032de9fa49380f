package chat

import (
	"errors"
	"time"

	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store"
	"github.com/chemi/chat/server/store/types"
)

// PeerLeftNotice is the response to a message sent into a conversation the receiver has left.
const PeerLeftNotice = "Opponent has left the chatroom"

// AppendResult is the outcome of Append.
type AppendResult struct {
	// The stored message.
	Message *types.Message
	// Delivered is false if the receiver has left the conversation: the message was
	// saved but the receiver was not notified.
	Delivered bool
}

// Append saves a message from sender to receiver in their conversation and notifies the
// receiver. The message is saved even if the receiver has left the conversation.
func (s *Service) Append(sender, receiver types.Profile, body string, ts time.Time) (*AppendResult, error) {
	if sender.Email == receiver.Email {
		return nil, ErrSelfConversation
	}
	conv, err := lookup(sender.Email, receiver.Email)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}

	if ts.IsZero() {
		ts = s.now()
	}
	msg := &types.Message{
		Topic:        conv.Id,
		Sender:       sender.Email,
		SenderName:   sender.Name,
		Receiver:     receiver.Email,
		ReceiverName: receiver.Name,
		Time:         ts,
		Content:      body,
	}
	if err := store.Messages.Save(msg); err != nil {
		return nil, errStorage("save message", err)
	}

	active, err := store.Users.HasChatroom(receiver.Email, conv.Id)
	if err != nil {
		return nil, errStorage("check membership", err)
	}
	if !active {
		return &AppendResult{Message: msg}, nil
	}

	if err := enqueue(receiver.Email, types.NewMessageTask(sender, body, ts)); err != nil {
		return nil, err
	}
	return &AppendResult{Message: msg, Delivered: true}, nil
}

// Leave removes the conversation with peer from the user's active set and tells the peer
// about it. The conversation, its log and the peer's membership are kept.
func (s *Service) Leave(user, peer types.Profile) (*types.Conversation, error) {
	conv, err := lookup(user.Email, peer.Email)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}

	if err := store.Users.LeaveChatroom(user.Email, conv.Id); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, errWithDetail(ErrUserNotFound, user.Email)
		}
		return nil, errStorage("leave chatroom", err)
	}

	// The peer is notified even if the peer has also left.
	if err := enqueue(peer.Email, types.PeerLeftTask(user)); err != nil {
		return nil, err
	}

	logs.Info.Printf("chat: '%s' left chatroom %s", user.Email, conv.Id)
	return conv, nil
}

// GetLog returns the complete log of the conversation between a and b in insertion order,
// starting with the system message.
func (s *Service) GetLog(a, b string) ([]types.Message, error) {
	if _, err := profiles(a, b); err != nil {
		return nil, err
	}
	conv, err := lookup(a, b)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}

	// The adapter may cap the page size. Read pages until the log is exhausted.
	var log []types.Message
	opts := &types.QueryOpt{Since: 1}
	for {
		page, err := store.Messages.GetAll(conv.Id, opts)
		if err != nil {
			return nil, errStorage("read chatroom", err)
		}
		if len(page) == 0 {
			break
		}
		log = append(log, page...)
		last := page[len(page)-1].SeqId
		if last >= conv.SeqId {
			break
		}
		opts.Since = last + 1
	}
	if log == nil {
		log = []types.Message{}
	}
	return log, nil
}

// Summary describes one conversation in a user's listing.
type Summary struct {
	RoomId      string     `json:"room_id"`
	LastMessage string     `json:"lastMessage"`
	LastTime    *time.Time `json:"lastTime,omitempty"`

	OpponentEmail string `json:"opponentEmail"`
	OpponentName  string `json:"opponentName,omitempty"`
	OpponentUrl   string `json:"opponentUrl,omitempty"`

	// Error is set if this entry could not be fully resolved.
	Error string `json:"error,omitempty"`
}

// ListConversations summarizes conversations in the user's active set. Entries follow
// the order of the active set, which is the order of joining, not recency.
// A failure to resolve one entry is reported in that entry and does not fail the listing.
func (s *Service) ListConversations(user string) ([]Summary, error) {
	u, err := store.Users.Get(user)
	if err != nil {
		return nil, errStorage("load user", err)
	}
	if u == nil {
		return nil, errWithDetail(ErrUserNotFound, user)
	}

	list := make([]Summary, 0, len(u.Chatrooms))
	var opponents []string
	for _, id := range u.Chatrooms {
		item := Summary{RoomId: id}
		if err := summarize(&item, user); err != nil {
			logs.Warn.Printf("chat: failed to summarize chatroom %s for '%s': %s", id, user, err)
			item.Error = "failed to read chatroom " + id
		} else if item.OpponentEmail != "" {
			opponents = append(opponents, item.OpponentEmail)
		}
		list = append(list, item)
	}
	if len(opponents) == 0 {
		return list, nil
	}

	found := make(map[string]types.Profile)
	users, err := store.Users.GetAll(opponents...)
	if err != nil {
		logs.Warn.Printf("chat: failed to load opponents of '%s': %s", user, err)
	}
	for i := range users {
		found[users[i].Email] = users[i].Profile()
	}
	for i := range list {
		item := &list[i]
		if item.Error != "" {
			continue
		}
		if p, ok := found[item.OpponentEmail]; ok {
			item.OpponentName = p.Name
			item.OpponentUrl = p.ProfileUrl
		} else {
			item.Error = "could not find user with the following email address: " + item.OpponentEmail
		}
	}
	return list, nil
}

// summarize fills the latest message and the opponent of one conversation.
func summarize(item *Summary, user string) error {
	msg, err := store.Messages.GetLatest(item.RoomId)
	if err != nil {
		return err
	}
	if msg != nil {
		item.LastMessage = msg.Content
		ts := msg.Time
		item.LastTime = &ts
		if msg.Sender == user {
			item.OpponentEmail = msg.Receiver
		} else {
			item.OpponentEmail = msg.Sender
		}
		return nil
	}

	// Only the system message so far: take the opponent from the index record.
	conv, err := store.Conversations.GetById(item.RoomId)
	if err != nil {
		return err
	}
	if conv == nil {
		return types.ErrNotFound
	}
	item.OpponentEmail = conv.Opponent(user)
	return nil
}
