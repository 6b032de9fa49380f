// Package adapter contains the interfaces to be implemented by the database adapter
package adapter

import (
	"encoding/json"

	t "github.com/chemi/chat/server/store/types"
)

// Adapter is the interface that must be implemented by a database
// adapter. The current schema supports a single connection by database type.
type Adapter interface {
	// General

	// Open and configure the adapter
	Open(config json.RawMessage) error
	// Close the adapter
	Close() error
	// IsOpen checks if the adapter is ready for use
	IsOpen() bool
	// GetDbVersion returns current database version.
	GetDbVersion() (int, error)
	// CheckDbVersion checks if the actual database version matches adapter version.
	CheckDbVersion() error
	// GetName returns the name of the adapter
	GetName() string
	// SetMaxResults configures how many results can be returned in a single DB call.
	SetMaxResults(val int) error
	// SetMaxMailbox configures how many pending tasks a mailbox may hold. Oldest
	// tasks are dropped on overflow.
	SetMaxMailbox(val int) error
	// CreateDb creates the database optionally dropping an existing database first.
	CreateDb(reset bool) error
	// Version returns adapter version
	Version() int
	// DB connection stats object.
	Stats() any

	// User management

	// UserCreate creates user record. Returns types.ErrDuplicate if the user exists.
	UserCreate(user *t.User) error
	// UserGet returns record for a given user email. Returns (nil, nil) if not found.
	// Mailbox is not loaded.
	UserGet(email string) (*t.User, error)
	// UserGetAll returns user records for a given list of emails. Mailboxes are not loaded.
	UserGetAll(emails ...string) ([]t.User, error)
	// UserLeaveChatroom removes the conversation from the user's active set.
	// Returns types.ErrNotFound if the user does not exist.
	UserLeaveChatroom(email, roomId string) error
	// UserHasChatroom checks if the conversation is in the user's active set.
	UserHasChatroom(email, roomId string) (bool, error)

	// Conversation management

	// ConvCreate atomically writes the first message of the log, the pair-key to id
	// mapping, adds the conversation to both participants' active sets and pushes the
	// invite into the mailbox of inviteFor. Returns types.ErrDuplicate if either the
	// pair-key or the conversation id is already taken, in which case nothing is written.
	ConvCreate(conv *t.Conversation, first *t.Message, inviteFor string, invite *t.Task) error
	// ConvGet returns conversation by pair-key. Returns (nil, nil) if not found.
	ConvGet(pairKey string) (*t.Conversation, error)
	// ConvGetById returns conversation by id. Returns (nil, nil) if not found.
	ConvGetById(roomId string) (*t.Conversation, error)

	// Messages

	// MessageSave appends message to the log, assigning msg.SeqId.
	MessageSave(msg *t.Message) error
	// MessageGetAll returns messages of the conversation in log order.
	MessageGetAll(roomId string, opts *t.QueryOpt) ([]t.Message, error)
	// MessageGetLatest returns the most recent non-system message. Returns (nil, nil)
	// if the log has no user messages.
	MessageGetLatest(roomId string) (*t.Message, error)

	// Mailbox

	// MailboxPush appends the task to the user's mailbox.
	// Returns types.ErrNotFound if the user does not exist.
	MailboxPush(email string, task *t.Task) error
	// MailboxDrain returns all pending tasks oldest first and clears the mailbox in one
	// atomic operation. Returns types.ErrNotFound if the user does not exist.
	MailboxDrain(email string) ([]t.Task, error)
}
