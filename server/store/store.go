// Package store provides methods for registering and accessing database adapters.
package store

import (
	"encoding/json"
	"errors"

	adapter "github.com/chemi/chat/server/db"
	"github.com/chemi/chat/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

// Unique ID generator
var uGen types.UidGenerator

type configType struct {
	// 16-byte key for XTEA. Used to initialize types.UidGenerator.
	UidKey []byte `json:"uid_key"`
	// Maximum number of results to return from adapter.
	MaxResults int `json:"max_results"`
	// Maximum number of pending tasks in a mailbox.
	MaxMailbox int `json:"max_mailbox"`
	// DB adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

func openAdapter(workerId int, jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("store: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
	}

	if adp == nil || (config.UseAdapter != "" && adp.GetName() != config.UseAdapter) {
		if len(config.UseAdapter) > 0 {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only entry in availableAdapters.
			for _, v := range availableAdapters {
				adp = v
			}
		} else {
			return errors.New("store: db adapter is not specified. Please set `store_config.use_adapter` in `chat.conf`")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	// Initialize snowflake.
	if workerId < 0 || workerId > 1023 {
		return errors.New("store: invalid worker ID")
	}

	if err := uGen.Init(uint(workerId), config.UidKey); err != nil {
		return errors.New("store: failed to init snowflake: " + err.Error())
	}

	if err := adp.SetMaxResults(config.MaxResults); err != nil {
		return err
	}
	if err := adp.SetMaxMailbox(config.MaxMailbox); err != nil {
		return err
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}

	return adp.Open(adapterConfig)
}

// PersistentStorageInterface defines methods used for interation with persistent storage.
type PersistentStorageInterface interface {
	Open(workerId int, jsonconf json.RawMessage) error
	Close() error
	IsOpen() bool
	GetAdapterName() string
	GetAdapterVersion() int
	GetDbVersion() int
	InitDb(jsonconf json.RawMessage, reset bool) error
	GetUidString() string
	DbStats() func() any
}

// Store is the main object for interacting with persistent storage.
var Store PersistentStorageInterface

type storeObj struct{}

// Open initializes the persistence system. Adapter holds a connection pool for a database instance.
//
//	workerId - snowflake worker id of this server instance
//	jsonconf - configuration string
func (storeObj) Open(workerId int, jsonconf json.RawMessage) error {
	if err := openAdapter(workerId, jsonconf); err != nil {
		return err
	}

	return adp.CheckDbVersion()
}

// Close terminates connection to persistent storage.
func (storeObj) Close() error {
	if adp != nil && adp.IsOpen() {
		return adp.Close()
	}

	return nil
}

// IsOpen checks if persistent storage connection has been initialized.
func (storeObj) IsOpen() bool {
	if adp != nil {
		return adp.IsOpen()
	}

	return false
}

// GetAdapterName returns the name of the current adater.
func (storeObj) GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}

	return ""
}

// GetAdapterVersion returns version of the current adater.
func (storeObj) GetAdapterVersion() int {
	if adp != nil {
		return adp.Version()
	}

	return -1
}

// GetDbVersion returns version of the underlying database.
func (storeObj) GetDbVersion() int {
	if adp != nil {
		vers, _ := adp.GetDbVersion()
		return vers
	}

	return -1
}

// InitDb creates and configures a new database instance. If 'reset' is true it will first
// attempt to drop an existing database. If the adapter is not open, it will use the config
// string to open the adapter first.
func (s storeObj) InitDb(jsonconf json.RawMessage, reset bool) error {
	if !s.IsOpen() {
		if err := openAdapter(1, jsonconf); err != nil {
			return err
		}
	}
	return adp.CreateDb(reset)
}

// GetUidString generates a unique ID as string.
func (storeObj) GetUidString() string {
	return uGen.GetStr()
}

// DbStats returns a callback returning db connection stats object.
func (s storeObj) DbStats() func() any {
	if !s.IsOpen() {
		return nil
	}
	return adp.Stats
}

// RegisterAdapter makes a persistence adapter available.
// If Register is called twice or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: Register adapter is nil")
	}

	adapterName := a.GetName()
	if _, ok := availableAdapters[adapterName]; ok {
		panic("store: adapter '" + adapterName + "' is already registered")
	}
	availableAdapters[adapterName] = a
}

// UsersPersistenceInterface is an interface which defines methods for persistent storage of user records.
type UsersPersistenceInterface interface {
	Create(user *types.User) error
	Get(email string) (*types.User, error)
	GetAll(emails ...string) ([]types.User, error)
	LeaveChatroom(email, roomId string) error
	HasChatroom(email, roomId string) (bool, error)
}

// usersMapper is a users struct to hold methods for persistence mapping for the User object.
type usersMapper struct{}

// Users is the ancor for storing/retrieving User objects
var Users UsersPersistenceInterface

// Create inserts User object into a database. Chatrooms and mailbox start empty.
func (usersMapper) Create(user *types.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = types.TimeNow()
	}
	user.Chatrooms = []string{}
	user.Tasks = []types.Task{}
	return adp.UserCreate(user)
}

// Get returns a user object for the given email or nil if the user does not exist.
func (usersMapper) Get(email string) (*types.User, error) {
	return adp.UserGet(email)
}

// GetAll returns a slice of user objects for the given emails.
func (usersMapper) GetAll(emails ...string) ([]types.User, error) {
	return adp.UserGetAll(emails...)
}

// LeaveChatroom removes conversation from the user's active set.
func (usersMapper) LeaveChatroom(email, roomId string) error {
	return adp.UserLeaveChatroom(email, roomId)
}

// HasChatroom checks if the user considers the conversation active.
func (usersMapper) HasChatroom(email, roomId string) (bool, error) {
	return adp.UserHasChatroom(email, roomId)
}

// ConversationsPersistenceInterface is an interface which defines methods for persistent storage of
// pair-key to conversation mappings.
type ConversationsPersistenceInterface interface {
	Create(conv *types.Conversation, first *types.Message, inviteFor string, invite *types.Task) error
	Get(pairKey string) (*types.Conversation, error)
	GetById(roomId string) (*types.Conversation, error)
}

type conversationsMapper struct{}

// Conversations is the anchor for storing/retrieving conversation index records.
var Conversations ConversationsPersistenceInterface

// Create registers a new conversation together with its first message, memberships of both
// participants and the invite for the peer. Either everything is written or nothing.
func (conversationsMapper) Create(conv *types.Conversation, first *types.Message, inviteFor string,
	invite *types.Task) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = types.TimeNow()
	}
	first.Topic = conv.Id
	first.SeqId = 1
	conv.SeqId = 1
	return adp.ConvCreate(conv, first, inviteFor, invite)
}

// Get finds conversation by pair-key.
func (conversationsMapper) Get(pairKey string) (*types.Conversation, error) {
	return adp.ConvGet(pairKey)
}

// GetById finds conversation by id.
func (conversationsMapper) GetById(roomId string) (*types.Conversation, error) {
	return adp.ConvGetById(roomId)
}

// MessagesPersistenceInterface is an interface which defines methods for persistent storage of messages.
type MessagesPersistenceInterface interface {
	Save(msg *types.Message) error
	GetAll(roomId string, opts *types.QueryOpt) ([]types.Message, error)
	GetLatest(roomId string) (*types.Message, error)
}

type messagesMapper struct{}

// Messages is the anchor for storing/retrieving conversation logs.
var Messages MessagesPersistenceInterface

// Save appends the message to the conversation log.
func (messagesMapper) Save(msg *types.Message) error {
	if msg.Time.IsZero() {
		msg.Time = types.TimeNow()
	}
	return adp.MessageSave(msg)
}

// GetAll returns the log in insertion order.
func (messagesMapper) GetAll(roomId string, opts *types.QueryOpt) ([]types.Message, error) {
	return adp.MessageGetAll(roomId, opts)
}

// GetLatest returns the most recent non-system message or nil.
func (messagesMapper) GetLatest(roomId string) (*types.Message, error) {
	return adp.MessageGetLatest(roomId)
}

// MailboxPersistenceInterface is an interface which defines methods for persistent per-user task queues.
type MailboxPersistenceInterface interface {
	Push(email string, task *types.Task) error
	Drain(email string) ([]types.Task, error)
}

type mailboxMapper struct{}

// Mailbox is the anchor for enqueuing and draining user tasks.
var Mailbox MailboxPersistenceInterface

// Push enqueues the task at the tail of the user's mailbox.
func (mailboxMapper) Push(email string, task *types.Task) error {
	return adp.MailboxPush(email, task)
}

// Drain returns all pending tasks oldest first and clears the mailbox.
func (mailboxMapper) Drain(email string) ([]types.Task, error) {
	tasks, err := adp.MailboxDrain(email)
	if err == nil && tasks == nil {
		tasks = []types.Task{}
	}
	return tasks, err
}

func init() {
	Store = storeObj{}
	Users = usersMapper{}
	Conversations = conversationsMapper{}
	Messages = messagesMapper{}
	Mailbox = mailboxMapper{}
}
