// Package sqlite is a database adapter for SQLite, an embedded database. Suitable for
// a single server instance and for tests.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/chemi/chat/server/db/common"
	"github.com/chemi/chat/server/store"
	t "github.com/chemi/chat/server/store/types"
)

// adapter holds SQLite connection data.
type adapter struct {
	db   *sqlx.DB
	path string
	// Maximum number of records to return
	maxResults int
	// Maximum number of tasks in a mailbox
	maxMailbox int
	version    int
}

const (
	defaultPath        = "./chat.db"
	defaultBusyTimeout = 5000

	adpVersion  = 100
	adapterName = "sqlite"

	defaultMaxResults = 1024
	defaultMaxMailbox = 256
)

type configType struct {
	// Path to the database file. Use ":memory:" for a transient in-memory database.
	Path string `json:"path,omitempty"`
	// How long to wait for a locked database, milliseconds.
	BusyTimeout int `json:"busy_timeout,omitempty"`
}

// Open initializes database session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.db != nil {
		return errors.New("sqlite adapter is already connected")
	}

	var config configType
	if len(jsonconfig) > 0 {
		if err := json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("sqlite adapter failed to parse config: " + err.Error())
		}
	}

	a.path = config.Path
	if a.path == "" {
		a.path = defaultPath
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = defaultBusyTimeout
	}

	dsn := a.path + "?_pragma=busy_timeout(" + strconv.Itoa(config.BusyTimeout) + ")&_pragma=foreign_keys(1)"
	if a.path != ":memory:" {
		dsn += "&_pragma=journal_mode(wal)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return err
	}
	// SQLite allows one writer at a time. A single connection also keeps an in-memory
	// database alive between calls.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err = db.Ping(); err != nil {
		db.Close()
		return err
	}

	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}
	if a.maxMailbox <= 0 {
		a.maxMailbox = defaultMaxMailbox
	}
	a.db = db
	a.version = -1

	return nil
}

// Close closes the underlying database connection
func (a *adapter) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
		a.db = nil
		a.version = -1
	}
	return err
}

// IsOpen returns true if connection to database has been established. It does not check if
// connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	var vers string
	err := a.db.Get(&vers, "SELECT value FROM kvmeta WHERE key='version'")
	if err != nil {
		if isMissingTable(err) || errors.Is(err, sql.ErrNoRows) {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}

	a.version, _ = strconv.Atoi(vers)
	return a.version, nil
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

// Stats returns DB connection stats object.
func (a *adapter) Stats() any {
	if a.db == nil {
		return nil
	}
	return a.db.Stats()
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
		return errors.New("sqlite adapter: negative mailbox size")
	}
	if val == 0 {
		val = defaultMaxMailbox
	}
	a.maxMailbox = val
	return nil
}

var schema = []string{
	`CREATE TABLE kvmeta(
		key   TEXT NOT NULL,
		value TEXT,
		PRIMARY KEY(key)
	)`,
	`INSERT INTO kvmeta(key, value) VALUES('version', '` + strconv.Itoa(adpVersion) + `')`,
	`CREATE TABLE users(
		email      TEXT NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		profileurl TEXT NOT NULL DEFAULT '',
		createdat  TEXT NOT NULL,
		PRIMARY KEY(email)
	)`,
	// Active conversations of users. The id keeps the order of joining.
	`CREATE TABLE chatrooms(
		id     INTEGER PRIMARY KEY AUTOINCREMENT,
		email  TEXT NOT NULL REFERENCES users(email),
		roomid TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX chatrooms_email_roomid ON chatrooms(email, roomid)`,
	// Pair-key to conversation id index.
	`CREATE TABLE conversations(
		pairkey   TEXT NOT NULL,
		roomid    TEXT NOT NULL,
		user1     TEXT NOT NULL,
		user2     TEXT NOT NULL,
		createdat TEXT NOT NULL,
		seqid     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY(pairkey)
	)`,
	`CREATE UNIQUE INDEX conversations_roomid ON conversations(roomid)`,
	`CREATE TABLE messages(
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		topic        TEXT NOT NULL,
		seqid        INTEGER NOT NULL,
		sender       TEXT NOT NULL,
		sendername   TEXT NOT NULL DEFAULT '',
		receiver     TEXT NOT NULL,
		receivername TEXT NOT NULL DEFAULT '',
		createdat    TEXT NOT NULL,
		content      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX messages_topic_seqid ON messages(topic, seqid)`,
	// Mailboxes. The id keeps the order of enqueuing.
	`CREATE TABLE tasks(
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL REFERENCES users(email),
		task  TEXT NOT NULL
	)`,
	`CREATE INDEX tasks_email ON tasks(email, id)`,
}

// CreateDb initializes the storage.
func (a *adapter) CreateDb(reset bool) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if reset {
		for _, table := range []string{"tasks", "messages", "conversations", "chatrooms", "users", "kvmeta"} {
			if _, err = tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return err
			}
		}
	}

	for _, stmt := range schema {
		if _, err = tx.Exec(stmt); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	a.version = -1
	return nil
}

// User management

// UserCreate creates user record.
func (a *adapter) UserCreate(user *t.User) error {
	_, err := a.db.Exec("INSERT INTO users(email,name,profileurl,createdat) VALUES(?,?,?,?)",
		user.Email, user.Name, user.ProfileUrl, timeToString(user.CreatedAt))
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

type userRow struct {
	Email      string
	Name       string
	ProfileUrl string
	CreatedAt  string
}

func (r *userRow) user() t.User {
	return t.User{
		Email:      r.Email,
		Name:       r.Name,
		ProfileUrl: r.ProfileUrl,
		CreatedAt:  stringToTime(r.CreatedAt),
	}
}

// UserGet fetches a single user by email with the list of active conversations.
func (a *adapter) UserGet(email string) (*t.User, error) {
	var row userRow
	err := a.db.Get(&row, "SELECT email,name,profileurl,createdat FROM users WHERE email=?", email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	user := row.user()
	user.Chatrooms = []string{}
	if err = a.db.Select(&user.Chatrooms, "SELECT roomid FROM chatrooms WHERE email=? ORDER BY id", email); err != nil {
		return nil, err
	}
	return &user, nil
}

// UserGetAll returns user records for a given list of emails.
func (a *adapter) UserGetAll(emails ...string) ([]t.User, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In("SELECT email,name,profileurl,createdat FROM users WHERE email IN (?)", emails)
	if err != nil {
		return nil, err
	}
	var rows []userRow
	if err = a.db.Select(&rows, query, args...); err != nil {
		return nil, err
	}

	users := make([]t.User, 0, len(rows))
	for i := range rows {
		users = append(users, rows[i].user())
	}
	return users, nil
}

// UserLeaveChatroom removes the conversation from the user's active set.
func (a *adapter) UserLeaveChatroom(email, roomId string) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = userExists(tx, email); err != nil {
		return err
	}
	if _, err = tx.Exec("DELETE FROM chatrooms WHERE email=? AND roomid=?", email, roomId); err != nil {
		return err
	}
	return tx.Commit()
}

// UserHasChatroom checks if the conversation is in the user's active set.
func (a *adapter) UserHasChatroom(email, roomId string) (bool, error) {
	var count int
	err := a.db.Get(&count, "SELECT COUNT(*) FROM chatrooms WHERE email=? AND roomid=?", email, roomId)
	return count > 0, err
}

// Conversation management

// ConvCreate creates the conversation in a single transaction.
func (a *adapter) ConvCreate(conv *t.Conversation, first *t.Message, inviteFor string, invite *t.Task) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if len(conv.Users) != 2 {
		err = t.ErrMalformed
		return err
	}

	_, err = tx.Exec("INSERT INTO conversations(pairkey,roomid,user1,user2,createdat,seqid) VALUES(?,?,?,?,?,?)",
		conv.PairKey, conv.Id, conv.Users[0], conv.Users[1], timeToString(conv.CreatedAt), first.SeqId)
	if err != nil {
		if isDupe(err) {
			err = t.ErrDuplicate
		}
		return err
	}

	if err = insertMessage(tx, first); err != nil {
		return err
	}

	for _, email := range conv.Users {
		if _, err = tx.Exec("INSERT INTO chatrooms(email,roomid) VALUES(?,?)", email, conv.Id); err != nil {
			return err
		}
	}

	if invite != nil {
		if err = a.pushTask(tx, inviteFor, invite); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type convRow struct {
	PairKey   string
	RoomId    string
	User1     string
	User2     string
	CreatedAt string
	SeqId     int
}

func (a *adapter) convGet(where string, arg string) (*t.Conversation, error) {
	var row convRow
	err := a.db.Get(&row, "SELECT pairkey,roomid,user1,user2,createdat,seqid FROM conversations WHERE "+where+"=?", arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t.Conversation{
		PairKey:   row.PairKey,
		Id:        row.RoomId,
		Users:     []string{row.User1, row.User2},
		CreatedAt: stringToTime(row.CreatedAt),
		SeqId:     row.SeqId,
	}, nil
}

// ConvGet returns conversation by pair-key.
func (a *adapter) ConvGet(pairKey string) (*t.Conversation, error) {
	return a.convGet("pairkey", pairKey)
}

// ConvGetById returns conversation by id.
func (a *adapter) ConvGetById(roomId string) (*t.Conversation, error) {
	return a.convGet("roomid", roomId)
}

// Messages

type messageRow struct {
	Topic        string
	SeqId        int
	Sender       string
	SenderName   string
	Receiver     string
	ReceiverName string
	CreatedAt    string
	Content      string
}

func (r *messageRow) message() t.Message {
	return t.Message{
		Topic:        r.Topic,
		SeqId:        r.SeqId,
		Sender:       r.Sender,
		SenderName:   r.SenderName,
		Receiver:     r.Receiver,
		ReceiverName: r.ReceiverName,
		Time:         stringToTime(r.CreatedAt),
		Content:      r.Content,
	}
}

const messageColumns = "topic,seqid,sender,sendername,receiver,receivername,createdat,content"

func insertMessage(tx *sqlx.Tx, msg *t.Message) error {
	_, err := tx.Exec("INSERT INTO messages("+messageColumns+") VALUES(?,?,?,?,?,?,?,?)",
		msg.Topic, msg.SeqId, msg.Sender, msg.SenderName, msg.Receiver, msg.ReceiverName,
		timeToString(msg.Time), msg.Content)
	return err
}

// MessageSave saves message to database, assigning the next sequence id of the conversation.
func (a *adapter) MessageSave(msg *t.Message) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var seq int
	if err = tx.Get(&seq, "UPDATE conversations SET seqid=seqid+1 WHERE roomid=? RETURNING seqid", msg.Topic); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = t.ErrNotFound
		}
		return err
	}

	msg.SeqId = seq
	if err = insertMessage(tx, msg); err != nil {
		return err
	}
	return tx.Commit()
}

// MessageGetAll returns messages matching the query in log order.
func (a *adapter) MessageGetAll(roomId string, opts *t.QueryOpt) ([]t.Message, error) {
	since, before := common.SeqRange(opts)
	limit := common.QueryLimit(opts, a.maxResults)

	query := "SELECT " + messageColumns + " FROM messages WHERE topic=? AND seqid>=?"
	args := []any{roomId, since}
	if before > 0 {
		query += " AND seqid<?"
		args = append(args, before)
	}
	query += " ORDER BY seqid ASC LIMIT ?"
	args = append(args, limit)

	var rows []messageRow
	if err := a.db.Select(&rows, query, args...); err != nil {
		return nil, err
	}

	msgs := make([]t.Message, 0, len(rows))
	for i := range rows {
		msgs = append(msgs, rows[i].message())
	}
	return msgs, nil
}

// MessageGetLatest returns the most recent message not sent by the system.
func (a *adapter) MessageGetLatest(roomId string) (*t.Message, error) {
	var row messageRow
	err := a.db.Get(&row, "SELECT "+messageColumns+" FROM messages WHERE topic=? AND sender<>? "+
		"ORDER BY seqid DESC LIMIT 1", roomId, t.SystemSender)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	msg := row.message()
	return &msg, nil
}

// Mailbox

// pushTask appends the task and drops the oldest tasks above the limit.
func (a *adapter) pushTask(tx *sqlx.Tx, email string, task *t.Task) error {
	if _, err := tx.Exec("INSERT INTO tasks(email,task) VALUES(?,?)", email, string(common.EncodeTask(task))); err != nil {
		return err
	}
	if a.maxMailbox > 0 {
		_, err := tx.Exec("DELETE FROM tasks WHERE email=? AND id<=(SELECT id FROM tasks WHERE email=? "+
			"ORDER BY id DESC LIMIT 1 OFFSET ?)", email, email, a.maxMailbox)
		return err
	}
	return nil
}

// MailboxPush appends the task to the user's mailbox.
func (a *adapter) MailboxPush(email string, task *t.Task) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = userExists(tx, email); err != nil {
		return err
	}
	if err = a.pushTask(tx, email, task); err != nil {
		return err
	}
	return tx.Commit()
}

type taskRow struct {
	Id   int64
	Task string
}

// MailboxDrain deletes and returns all tasks of the user in one statement.
func (a *adapter) MailboxDrain(email string) ([]t.Task, error) {
	var rows []taskRow
	if err := a.db.Select(&rows, "DELETE FROM tasks WHERE email=? RETURNING id,task", email); err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		var count int
		if err := a.db.Get(&count, "SELECT COUNT(*) FROM users WHERE email=?", email); err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, t.ErrNotFound
		}
		return []t.Task{}, nil
	}

	// The order of RETURNING rows is not defined.
	sort.Slice(rows, func(i, j int) bool { return rows[i].Id < rows[j].Id })
	raw := make([][]byte, len(rows))
	for i := range rows {
		raw[i] = []byte(rows[i].Task)
	}
	return common.DecodeTasks(email, raw), nil
}

// Helper functions

func userExists(tx *sqlx.Tx, email string) error {
	var count int
	if err := tx.Get(&count, "SELECT COUNT(*) FROM users WHERE email=?", email); err != nil {
		return err
	}
	if count == 0 {
		return t.ErrNotFound
	}
	return nil
}

// Check if SQLite error is a violation of a unique constraint.
func isDupe(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "no such table")
}

// Times are stored as RFC 3339 text.
func timeToString(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func stringToTime(src string) time.Time {
	ts, _ := time.Parse(time.RFC3339Nano, src)
	return ts
}

// GetAdapter returns an unconnected adapter. Required for running adapter tests.
func GetAdapter() *adapter {
	return &adapter{}
}

func init() {
	store.RegisterAdapter(&adapter{})
}
