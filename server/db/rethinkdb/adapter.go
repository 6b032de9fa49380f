// Package rethinkdb is a database adapter for RethinkDB.
package rethinkdb

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	rdb "gopkg.in/rethinkdb/rethinkdb-go.v6"
	"gopkg.in/rethinkdb/rethinkdb-go.v6/encoding"

	"github.com/chemi/chat/server/db/common"
	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store"
	t "github.com/chemi/chat/server/store/types"
)

// adapter holds RethinkDb connection data.
type adapter struct {
	conn       *rdb.Session
	dbName     string
	maxResults int
	maxMailbox int
	version    int
}

const (
	defaultHost     = "localhost:28015"
	defaultDatabase = "chat"

	adpVersion  = 100
	adapterName = "rethinkdb"

	defaultMaxResults = 1024
	defaultMaxMailbox = 256

	// Index of messages by conversation and position in the log.
	messageIndex = "topic_seqid"
)

// See https://godoc.org/github.com/rethinkdb/rethinkdb-go#ConnectOpts for explanations.
type configType struct {
	Database          string `json:"database,omitempty"`
	Addresses         any    `json:"addresses,omitempty"`
	Username          string `json:"username,omitempty"`
	Password          string `json:"password,omitempty"`
	AuthKey           string `json:"authkey,omitempty"`
	Timeout           int    `json:"timeout,omitempty"`
	WriteTimeout      int    `json:"write_timeout,omitempty"`
	ReadTimeout       int    `json:"read_timeout,omitempty"`
	KeepAlivePeriod   int    `json:"keep_alive_timeout,omitempty"`
	NumRetries        int    `json:"num_retries,omitempty"`
	InitialCap        int    `json:"initial_cap,omitempty"`
	MaxOpen           int    `json:"max_open,omitempty"`
	DiscoverHosts     bool   `json:"discover_hosts,omitempty"`
	HostDecayDuration int    `json:"host_decay_duration,omitempty"`
}

// Stored records. Field names are the ones used in queries.

type userDoc struct {
	Email      string    `rethinkdb:"id"`
	Name       string    `rethinkdb:"name"`
	ProfileUrl string    `rethinkdb:"profileurl"`
	CreatedAt  time.Time `rethinkdb:"createdat"`
	Chatrooms  []string  `rethinkdb:"chatrooms"`
	Tasks      []t.Task  `rethinkdb:"tasks"`
}

func (d *userDoc) user() *t.User {
	return &t.User{
		Email:      d.Email,
		Name:       d.Name,
		ProfileUrl: d.ProfileUrl,
		CreatedAt:  d.CreatedAt,
		Chatrooms:  d.Chatrooms,
	}
}

type convDoc struct {
	PairKey   string    `rethinkdb:"id"`
	RoomId    string    `rethinkdb:"roomid"`
	Users     []string  `rethinkdb:"users"`
	CreatedAt time.Time `rethinkdb:"createdat"`
	SeqId     int       `rethinkdb:"seqid"`
}

func (d *convDoc) conversation() *t.Conversation {
	return &t.Conversation{
		PairKey:   d.PairKey,
		Id:        d.RoomId,
		Users:     d.Users,
		CreatedAt: d.CreatedAt,
		SeqId:     d.SeqId,
	}
}

type messageDoc struct {
	// Topic and SeqId joined: the primary key makes the position in the log unique.
	Id           string    `rethinkdb:"id"`
	Topic        string    `rethinkdb:"topic"`
	SeqId        int       `rethinkdb:"seqid"`
	Sender       string    `rethinkdb:"sender"`
	SenderName   string    `rethinkdb:"sendername"`
	Receiver     string    `rethinkdb:"receiver"`
	ReceiverName string    `rethinkdb:"receivername"`
	Time         time.Time `rethinkdb:"time"`
	Content      string    `rethinkdb:"content"`
}

func messageId(topic string, seq int) string {
	return topic + ":" + strconv.Itoa(seq)
}

func newMessageDoc(msg *t.Message) *messageDoc {
	return &messageDoc{
		Id:           messageId(msg.Topic, msg.SeqId),
		Topic:        msg.Topic,
		SeqId:        msg.SeqId,
		Sender:       msg.Sender,
		SenderName:   msg.SenderName,
		Receiver:     msg.Receiver,
		ReceiverName: msg.ReceiverName,
		Time:         msg.Time,
		Content:      msg.Content,
	}
}

func (d *messageDoc) message() t.Message {
	return t.Message{
		Topic:        d.Topic,
		SeqId:        d.SeqId,
		Sender:       d.Sender,
		SenderName:   d.SenderName,
		Receiver:     d.Receiver,
		ReceiverName: d.ReceiverName,
		Time:         d.Time,
		Content:      d.Content,
	}
}

// Open initializes rethinkdb session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter rethinkdb is already connected")
	}

	var err error
	var config configType
	if len(jsonconfig) > 0 {
		if err = json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("adapter rethinkdb failed to parse config: " + err.Error())
		}
	}

	var opts rdb.ConnectOpts

	switch addr := config.Addresses.(type) {
	case nil:
		opts.Address = defaultHost
	case string:
		opts.Address = addr
	case []any:
		for _, h := range addr {
			host, ok := h.(string)
			if !ok {
				return errors.New("adapter rethinkdb failed to parse config.Addresses")
			}
			opts.Addresses = append(opts.Addresses, host)
		}
	default:
		return errors.New("adapter rethinkdb failed to parse config.Addresses")
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}
	if a.maxMailbox <= 0 {
		a.maxMailbox = defaultMaxMailbox
	}

	opts.Database = a.dbName
	opts.Username = config.Username
	opts.Password = config.Password
	opts.AuthKey = config.AuthKey
	opts.Timeout = time.Duration(config.Timeout) * time.Second
	opts.WriteTimeout = time.Duration(config.WriteTimeout) * time.Second
	opts.ReadTimeout = time.Duration(config.ReadTimeout) * time.Second
	opts.KeepAlivePeriod = time.Duration(config.KeepAlivePeriod) * time.Second
	opts.NumRetries = config.NumRetries
	opts.InitialCap = config.InitialCap
	opts.MaxOpen = config.MaxOpen
	opts.DiscoverHosts = config.DiscoverHosts
	opts.HostDecayDuration = time.Duration(config.HostDecayDuration) * time.Second

	a.conn, err = rdb.Connect(opts)
	if err != nil {
		a.conn = nil
		return err
	}

	a.version = -1

	return nil
}

// Close closes the underlying database connection
func (a *adapter) Close() error {
	var err error
	if a.conn != nil {
		// Close will wait for all outstanding requests to finish
		err = a.conn.Close()
		a.conn = nil
		a.version = -1
	}
	return err
}

// IsOpen returns true if connection to database has been established. It does not check if
// connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	cursor, err := rdb.DB(a.dbName).Table("kvmeta").Get("version").Field("value").Run(a.conn)
	if err != nil {
		if isMissingDb(err) {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}
	defer cursor.Close()

	if cursor.IsNil() {
		return -1, errors.New("Database not initialized")
	}

	var vers int
	if err = cursor.One(&vers); err != nil {
		return -1, err
	}

	a.version = vers
	return vers, nil
}

// CheckDbVersion checks whether the actual DB version matches the expected version of this adapter.
func (a *adapter) CheckDbVersion() error {
	version, err := a.GetDbVersion()
	if err != nil {
		return err
	}

	if version != adpVersion {
		return errors.New("Invalid database version " + strconv.Itoa(version) +
			". Expected " + strconv.Itoa(adpVersion))
	}

	return nil
}

// Version returns adapter version.
func (adapter) Version() int {
	return adpVersion
}

// Stats is not supported.
func (a *adapter) Stats() any {
	return nil
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// SetMaxResults configures how many results can be returned in a single DB call.
func (a *adapter) SetMaxResults(val int) error {
	if val <= 0 {
		a.maxResults = defaultMaxResults
	} else {
		a.maxResults = val
	}
	return nil
}

// SetMaxMailbox configures how many tasks a mailbox may hold.
func (a *adapter) SetMaxMailbox(val int) error {
	if val < 0 {
		return errors.New("adapter rethinkdb: negative mailbox size")
	}
	if val == 0 {
		val = defaultMaxMailbox
	}
	a.maxMailbox = val
	return nil
}

func (a *adapter) table(name string) rdb.Term {
	return rdb.DB(a.dbName).Table(name)
}

// CreateDb initializes the storage. If reset is true, the database is dropped first.
func (a *adapter) CreateDb(reset bool) error {
	if reset {
		logs.Info.Print("Dropping database...")
		if _, err := rdb.DBDrop(a.dbName).RunWrite(a.conn); err != nil && !isMissingDb(err) {
			return err
		}
	}

	if _, err := rdb.DBCreate(a.dbName).RunWrite(a.conn); err != nil {
		return err
	}

	for _, name := range []string{"kvmeta", "users", "conversations", "messages"} {
		if _, err := rdb.DB(a.dbName).TableCreate(name).RunWrite(a.conn); err != nil {
			return err
		}
	}

	// Conversations by id.
	if _, err := a.table("conversations").IndexCreate("roomid").RunWrite(a.conn); err != nil {
		return err
	}
	// Messages in log order.
	if _, err := a.table("messages").IndexCreateFunc(messageIndex,
		func(row rdb.Term) any {
			return []any{row.Field("topic"), row.Field("seqid")}
		}).RunWrite(a.conn); err != nil {
		return err
	}
	for _, name := range []string{"conversations", "messages"} {
		if _, err := a.table(name).IndexWait().RunWrite(a.conn); err != nil {
			return err
		}
	}

	if _, err := a.table("kvmeta").Insert(map[string]any{"id": "version", "value": adpVersion}).RunWrite(a.conn); err != nil {
		return err
	}

	a.version = -1
	return nil
}

// User management

// UserCreate creates user record.
func (a *adapter) UserCreate(user *t.User) error {
	doc := &userDoc{
		Email:      user.Email,
		Name:       user.Name,
		ProfileUrl: user.ProfileUrl,
		CreatedAt:  user.CreatedAt,
		Chatrooms:  []string{},
		Tasks:      []t.Task{},
	}
	_, err := a.table("users").Insert(doc).RunWrite(a.conn)
	if rdb.IsConflictErr(err) {
		return t.ErrDuplicate
	}
	return err
}

// UserGet fetches a single user by email with the list of active conversations.
func (a *adapter) UserGet(email string) (*t.User, error) {
	cursor, err := a.table("users").Get(email).Without("tasks").Run(a.conn)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	if cursor.IsNil() {
		return nil, nil
	}

	var doc userDoc
	if err = cursor.One(&doc); err != nil {
		return nil, err
	}
	user := doc.user()
	if user.Chatrooms == nil {
		user.Chatrooms = []string{}
	}
	return user, nil
}

// UserGetAll returns user records for a given list of emails.
func (a *adapter) UserGetAll(emails ...string) ([]t.User, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	keys := make([]any, 0, len(emails))
	for _, email := range emails {
		keys = append(keys, email)
	}

	cursor, err := a.table("users").GetAll(keys...).Without("tasks", "chatrooms").Run(a.conn)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var docs []userDoc
	if err = cursor.All(&docs); err != nil {
		return nil, err
	}

	var users []t.User
	for i := range docs {
		users = append(users, *docs[i].user())
	}
	return users, nil
}

// UserLeaveChatroom removes the conversation from the user's active set.
func (a *adapter) UserLeaveChatroom(email, roomId string) error {
	resp, err := a.table("users").Get(email).Update(map[string]any{
		"chatrooms": rdb.Row.Field("chatrooms").SetDifference([]string{roomId}),
	}).RunWrite(a.conn)
	if err != nil {
		return err
	}
	if resp.Skipped > 0 {
		return t.ErrNotFound
	}
	return nil
}

// UserHasChatroom checks if the conversation is in the user's active set.
func (a *adapter) UserHasChatroom(email, roomId string) (bool, error) {
	cursor, err := a.table("users").Get(email).Field("chatrooms").Contains(roomId).Default(false).Run(a.conn)
	if err != nil {
		return false, err
	}
	defer cursor.Close()

	var found bool
	err = cursor.One(&found)
	return found, err
}

// Conversation management

// ConvCreate creates the conversation. RethinkDB has no multi-document transactions: the first
// message is inserted first and claims the conversation id through its primary key. It is
// removed if the pair-key turns out to be taken.
func (a *adapter) ConvCreate(conv *t.Conversation, first *t.Message, inviteFor string, invite *t.Task) error {
	if len(conv.Users) != 2 {
		return t.ErrMalformed
	}

	msg := newMessageDoc(first)
	if _, err := a.table("messages").Insert(msg).RunWrite(a.conn); err != nil {
		if rdb.IsConflictErr(err) {
			return t.ErrDuplicate
		}
		return err
	}

	doc := &convDoc{
		PairKey:   conv.PairKey,
		RoomId:    conv.Id,
		Users:     conv.Users,
		CreatedAt: conv.CreatedAt,
		SeqId:     first.SeqId,
	}
	if _, err := a.table("conversations").Insert(doc).RunWrite(a.conn); err != nil {
		// Release the id claimed above.
		if _, derr := a.table("messages").Get(msg.Id).Delete().RunWrite(a.conn); derr != nil {
			logs.Warn.Println("rethinkdb: failed to release conversation id", conv.Id, derr)
		}
		if rdb.IsConflictErr(err) {
			return t.ErrDuplicate
		}
		return err
	}

	for _, email := range conv.Users {
		if _, err := a.table("users").Get(email).Update(map[string]any{
			"chatrooms": rdb.Row.Field("chatrooms").SetInsert(conv.Id),
		}).RunWrite(a.conn); err != nil {
			return err
		}
	}

	if invite != nil {
		return a.MailboxPush(inviteFor, invite)
	}
	return nil
}

func (a *adapter) convGet(term rdb.Term) (*t.Conversation, error) {
	cursor, err := term.Run(a.conn)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	if cursor.IsNil() {
		return nil, nil
	}

	var doc convDoc
	if err = cursor.One(&doc); err != nil {
		if err == rdb.ErrEmptyResult {
			return nil, nil
		}
		return nil, err
	}
	return doc.conversation(), nil
}

// ConvGet returns conversation by pair-key.
func (a *adapter) ConvGet(pairKey string) (*t.Conversation, error) {
	return a.convGet(a.table("conversations").Get(pairKey))
}

// ConvGetById returns conversation by id.
func (a *adapter) ConvGetById(roomId string) (*t.Conversation, error) {
	return a.convGet(a.table("conversations").GetAllByIndex("roomid", roomId).Limit(1))
}

// Messages

// MessageSave saves message to database, assigning the next sequence id of the conversation.
// Update of a single document is atomic.
func (a *adapter) MessageSave(msg *t.Message) error {
	resp, err := a.table("conversations").GetAllByIndex("roomid", msg.Topic).
		Update(map[string]any{"seqid": rdb.Row.Field("seqid").Add(1)},
			rdb.UpdateOpts{ReturnChanges: true}).RunWrite(a.conn)
	if err != nil {
		return err
	}
	if resp.Replaced == 0 || len(resp.Changes) == 0 {
		return t.ErrNotFound
	}

	var conv convDoc
	if err = encoding.Decode(&conv, resp.Changes[0].NewValue); err != nil {
		return err
	}

	msg.SeqId = conv.SeqId
	_, err = a.table("messages").Insert(newMessageDoc(msg)).RunWrite(a.conn)
	return err
}

func (a *adapter) messages(term rdb.Term) ([]t.Message, error) {
	cursor, err := term.Run(a.conn)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var docs []messageDoc
	if err = cursor.All(&docs); err != nil {
		return nil, err
	}

	msgs := make([]t.Message, 0, len(docs))
	for i := range docs {
		msgs = append(msgs, docs[i].message())
	}
	return msgs, nil
}

// MessageGetAll returns messages matching the query in log order.
func (a *adapter) MessageGetAll(roomId string, opts *t.QueryOpt) ([]t.Message, error) {
	since, before := common.SeqRange(opts)
	var upper any = rdb.MaxVal
	if before > 0 {
		upper = before
	}

	return a.messages(a.table("messages").
		Between([]any{roomId, since}, []any{roomId, upper}, rdb.BetweenOpts{Index: messageIndex}).
		OrderBy(rdb.OrderByOpts{Index: messageIndex}).
		Limit(common.QueryLimit(opts, a.maxResults)))
}

// MessageGetLatest returns the most recent message not sent by the system.
func (a *adapter) MessageGetLatest(roomId string) (*t.Message, error) {
	msgs, err := a.messages(a.table("messages").
		Between([]any{roomId, rdb.MinVal}, []any{roomId, rdb.MaxVal}, rdb.BetweenOpts{Index: messageIndex}).
		OrderBy(rdb.OrderByOpts{Index: rdb.Desc(messageIndex)}).
		Filter(rdb.Row.Field("sender").Ne(t.SystemSender)).
		Limit(1))
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// Mailbox

// MailboxPush appends the task to the user's mailbox dropping the oldest tasks above the limit.
func (a *adapter) MailboxPush(email string, task *t.Task) error {
	max := a.maxMailbox
	resp, err := a.table("users").Get(email).Update(func(user rdb.Term) any {
		tasks := user.Field("tasks").Default([]any{}).Append(task)
		if max <= 0 {
			return map[string]any{"tasks": tasks}
		}
		return map[string]any{
			"tasks": rdb.Branch(tasks.Count().Gt(max), tasks.Slice(tasks.Count().Sub(max)), tasks),
		}
	}).RunWrite(a.conn)
	if err != nil {
		return err
	}
	if resp.Skipped > 0 {
		return t.ErrNotFound
	}
	return nil
}

// MailboxDrain clears the mailbox and returns its previous content in a single update.
func (a *adapter) MailboxDrain(email string) ([]t.Task, error) {
	resp, err := a.table("users").Get(email).
		Update(map[string]any{"tasks": []any{}}, rdb.UpdateOpts{ReturnChanges: true}).
		RunWrite(a.conn)
	if err != nil {
		return nil, err
	}
	if resp.Skipped > 0 {
		return nil, t.ErrNotFound
	}
	if resp.Replaced == 0 || len(resp.Changes) == 0 {
		// Mailbox was empty.
		return []t.Task{}, nil
	}

	var old userDoc
	if err = encoding.Decode(&old, resp.Changes[0].OldValue); err != nil {
		return nil, err
	}
	if old.Tasks == nil {
		return []t.Task{}, nil
	}
	return old.Tasks, nil
}

func isMissingDb(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "Database `") && strings.Contains(msg, "` does not exist")
}

// GetAdapter returns an unconnected adapter. Required for running adapter tests.
func GetAdapter() *adapter {
	return &adapter{}
}

func init() {
	store.RegisterAdapter(&adapter{})
}
