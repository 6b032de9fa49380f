// Package types provides data types for persisting objects in the databases.
package types

import (
	"strings"
	"time"
)

// StoreError satisfies Error interface but allows constant values for
// direct comparison.
type StoreError string

// Error is required by error interface.
func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrInternal means DB or other internal failure.
	ErrInternal = StoreError("internal")
	// ErrMalformed means the object is malformed.
	ErrMalformed = StoreError("malformed")
	// ErrDuplicate means duplicate value, i.e. a unique key was violated.
	ErrDuplicate = StoreError("duplicate value")
	// ErrNotFound means the object was not found.
	ErrNotFound = StoreError("not found")
)

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

const (
	// PairKeySeparator joins the two participant ids in a pair-key.
	PairKeySeparator = "&"

	// SystemSender is the sender and receiver id of synthetic messages.
	SystemSender = "system"
	// ConversationCreatedText is the body of the first message in every conversation.
	ConversationCreatedText = "conversation created"
)

// Ids may contain the separator, so it is escaped, along with the escape character.
var pairKeyEscaper = strings.NewReplacer("%", "%25", PairKeySeparator, "%26")

// PairUsers orders two participant ids the way they appear in the pair-key.
func PairUsers(a, b string) []string {
	if a > b {
		a, b = b, a
	}
	return []string{a, b}
}

// PairKey derives the canonical key of a conversation between two users.
// The key does not depend on the order of arguments and distinct pairs never share
// a key. Returns an empty string if either id is empty or both ids are the same:
// no conversations with self.
func PairKey(a, b string) string {
	if a == "" || b == "" || a == b {
		return ""
	}
	users := PairUsers(a, b)
	return pairKeyEscaper.Replace(users[0]) + PairKeySeparator + pairKeyEscaper.Replace(users[1])
}

// Profile is the public part of a user record: what clients send about themselves.
type Profile struct {
	Name       string `json:"name" bson:"name"`
	Email      string `json:"email" bson:"email"`
	ProfileUrl string `json:"profileUrl" bson:"profileurl"`
}

// User is a representation of a DB-stored user record.
type User struct {
	// Email is the unique and stable user id.
	Email      string    `bson:"_id"`
	Name       string    `bson:"name"`
	ProfileUrl string    `bson:"profileurl"`
	CreatedAt  time.Time `bson:"createdat"`

	// Ids of conversations the user considers active, in the order of joining.
	Chatrooms []string `bson:"chatrooms"`
	// Pending notifications, oldest first.
	Tasks []Task `bson:"tasks"`
}

// Profile returns user's public profile.
func (u *User) Profile() Profile {
	return Profile{Name: u.Name, Email: u.Email, ProfileUrl: u.ProfileUrl}
}

// Conversation is the index record mapping a pair-key to a conversation id.
type Conversation struct {
	// PairKey is the unique key derived from the participants' ids.
	PairKey string `bson:"_id"`
	// Id is the fixed-length numeric conversation id, also unique.
	Id string `bson:"roomid"`
	// Participants ordered as in the pair-key.
	Users     []string  `bson:"users"`
	CreatedAt time.Time `bson:"createdat"`
	// SeqId is the sequence id of the last message in the log.
	SeqId int `bson:"seqid"`
}

// Opponent returns the participant which is not the given user.
func (c *Conversation) Opponent(user string) string {
	for _, u := range c.Users {
		if u != user {
			return u
		}
	}
	return ""
}

// Message is a stored entry of a conversation log.
type Message struct {
	// Conversation id.
	Topic string `json:"-" bson:"topic"`
	// Position in the log, starting with 1.
	SeqId int `json:"seq" bson:"seqid"`

	Sender       string    `json:"sender" bson:"sender"`
	SenderName   string    `json:"sender_name" bson:"sendername"`
	Receiver     string    `json:"receiver" bson:"receiver"`
	ReceiverName string    `json:"receiver_name" bson:"receivername"`
	Time         time.Time `json:"time" bson:"time"`
	Content      string    `json:"message" bson:"content"`
}

// IsSystem checks if the message was generated by the server.
func (m *Message) IsSystem() bool {
	return m.Sender == SystemSender
}

// NewSystemMessage creates the message which opens every conversation log.
func NewSystemMessage(topic string, ts time.Time) *Message {
	return &Message{
		Topic:        topic,
		SeqId:        1,
		Sender:       SystemSender,
		SenderName:   SystemSender,
		Receiver:     SystemSender,
		ReceiverName: SystemSender,
		Time:         ts,
		Content:      ConversationCreatedText,
	}
}

// TaskKind is the tag of a mailbox task.
type TaskKind string

const (
	// TaskNewRoom tells the user that a peer opened a conversation with them.
	TaskNewRoom TaskKind = "newChatRoomCreated"
	// TaskNewMessage tells the user about a new message.
	TaskNewMessage TaskKind = "newMessage"
	// TaskPeerLeft tells the user that the peer left the conversation.
	TaskPeerLeft TaskKind = "CHATROOM_DELETED"
)

// Task is a pending notification in a user's mailbox. Which fields are set
// depends on the Task tag.
type Task struct {
	Task TaskKind `json:"task" bson:"task"`

	// TaskNewRoom: the user who created the conversation.
	Peer   *Profile `json:"peer,omitempty" bson:"peer,omitempty"`
	RoomId string   `json:"room_id,omitempty" bson:"roomid,omitempty"`

	// TaskNewMessage.
	Sender     string     `json:"sender,omitempty" bson:"sender,omitempty"`
	SenderName string     `json:"sender_name,omitempty" bson:"sendername,omitempty"`
	ProfileUrl string     `json:"profileUrl,omitempty" bson:"profileurl,omitempty"`
	Message    string     `json:"message,omitempty" bson:"message,omitempty"`
	Time       *time.Time `json:"time,omitempty" bson:"time,omitempty"`

	// TaskPeerLeft: the user who left.
	Opponent *Profile `json:"opponent,omitempty" bson:"opponent,omitempty"`
}

// NewRoomTask creates a task announcing a new conversation started by peer.
func NewRoomTask(peer Profile, roomId string) *Task {
	return &Task{Task: TaskNewRoom, Peer: &peer, RoomId: roomId}
}

// NewMessageTask creates a task announcing a message from sender.
func NewMessageTask(sender Profile, body string, ts time.Time) *Task {
	return &Task{
		Task:       TaskNewMessage,
		Sender:     sender.Email,
		SenderName: sender.Name,
		ProfileUrl: sender.ProfileUrl,
		Message:    body,
		Time:       &ts,
	}
}

// PeerLeftTask creates a task announcing that peer left the conversation.
func PeerLeftTask(peer Profile) *Task {
	return &Task{Task: TaskPeerLeft, Opponent: &peer}
}

// QueryOpt is options of a message query: sequence ids in [Since, Before).
type QueryOpt struct {
	Since  int
	Before int
	Limit  int
}
