// Package mysql is a database adapter for MySQL.
package mysql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	ms "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/chemi/chat/server/db/common"
	"github.com/chemi/chat/server/store"
	t "github.com/chemi/chat/server/store/types"
)

// adapter holds MySQL connection data.
type adapter struct {
	db     *sqlx.DB
	dsn    *ms.Config
	dbName string
	// Maximum number of records to return
	maxResults int
	// Maximum number of tasks in a mailbox
	maxMailbox int
	version    int
}

const (
	defaultDSN      = "root:@tcp(localhost:3306)/chat?parseTime=true"
	defaultDatabase = "chat"

	adpVersion  = 100
	adapterName = "mysql"

	defaultMaxResults = 1024
	defaultMaxMailbox = 256
)

type configType struct {
	// Connection string, see https://github.com/go-sql-driver/mysql#dsn-data-source-name
	DSN    string `json:"dsn,omitempty"`
	DBName string `json:"database,omitempty"`

	// Connection pool settings.
	//
	// Maximum number of open connections to the database.
	MaxOpenConns int `json:"max_open_conns,omitempty"`
	// Maximum number of connections in the idle connection pool.
	MaxIdleConns int `json:"max_idle_conns,omitempty"`
	// Maximum amount of time a connection may be reused (in seconds).
	ConnMaxLifetime int `json:"conn_max_lifetime,omitempty"`
}

func (a *adapter) connect(withDb bool) error {
	cfg := a.dsn.Clone()
	if withDb {
		cfg.DBName = a.dbName
	} else {
		cfg.DBName = ""
	}

	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return err
	}
	// sql.Open does not open the network connection.
	// Force network connection here.
	if err = db.Ping(); err != nil {
		db.Close()
		return err
	}
	a.db = db
	return nil
}

// Open initializes database session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.db != nil {
		return errors.New("mysql adapter is already connected")
	}

	var err error
	var config configType
	if len(jsonconfig) > 0 {
		if err = json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("mysql adapter failed to parse config: " + err.Error())
		}
	}

	dsn := config.DSN
	if dsn == "" {
		dsn = defaultDSN
	}
	if a.dsn, err = ms.ParseDSN(dsn); err != nil {
		return errors.New("mysql adapter failed to parse dsn: " + err.Error())
	}
	// Times are stored in UTC.
	a.dsn.ParseTime = true
	a.dsn.Loc = time.UTC

	a.dbName = config.DBName
	if a.dbName == "" {
		a.dbName = a.dsn.DBName
	}
	if a.dbName == "" {
		a.dbName = defaultDatabase
	}

	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}
	if a.maxMailbox <= 0 {
		a.maxMailbox = defaultMaxMailbox
	}

	err = a.connect(true)
	if isMissingDb(err) {
		// Missing DB is OK if we are initializing the database.
		err = a.connect(false)
	}
	if err != nil {
		return err
	}

	if config.MaxOpenConns > 0 {
		a.db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		a.db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		a.db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}

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

	var vers int
	err := a.db.Get(&vers, "SELECT `value` FROM kvmeta WHERE `key`='version'")
	if err != nil {
		if isMissingDb(err) || isMissingTable(err) || errors.Is(err, sql.ErrNoRows) {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}

	a.version = vers
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
		return errors.New("adapter mysql: negative mailbox size")
	}
	if val == 0 {
		val = defaultMaxMailbox
	}
	a.maxMailbox = val
	return nil
}

var schema = []string{
	"CREATE TABLE kvmeta(" +
		"`key`   CHAR(32)," +
		"`value` TEXT," +
		"PRIMARY KEY(`key`)" +
		")",
	"INSERT INTO kvmeta(`key`, `value`) VALUES('version', '" + strconv.Itoa(adpVersion) + "')",
	`CREATE TABLE users(
		email      VARCHAR(255) NOT NULL,
		name       VARCHAR(255) NOT NULL DEFAULT '',
		profileurl VARCHAR(2048) NOT NULL DEFAULT '',
		createdat  DATETIME(3) NOT NULL,
		PRIMARY KEY(email)
	)`,
	// Active conversations of users. The id keeps the order of joining.
	`CREATE TABLE chatrooms(
		id     INT NOT NULL AUTO_INCREMENT,
		email  VARCHAR(255) NOT NULL,
		roomid VARCHAR(32) NOT NULL,
		PRIMARY KEY(id),
		FOREIGN KEY(email) REFERENCES users(email),
		UNIQUE INDEX chatrooms_email_roomid(email, roomid)
	)`,
	// Pair-key to conversation id index.
	`CREATE TABLE conversations(
		pairkey   VARCHAR(512) NOT NULL,
		roomid    VARCHAR(32) NOT NULL,
		user1     VARCHAR(255) NOT NULL,
		user2     VARCHAR(255) NOT NULL,
		createdat DATETIME(3) NOT NULL,
		seqid     INT NOT NULL DEFAULT 0,
		PRIMARY KEY(pairkey),
		UNIQUE INDEX conversations_roomid(roomid)
	)`,
	`CREATE TABLE messages(
		id           INT NOT NULL AUTO_INCREMENT,
		topic        VARCHAR(32) NOT NULL,
		seqid        INT NOT NULL,
		sender       VARCHAR(255) NOT NULL,
		sendername   VARCHAR(255) NOT NULL DEFAULT '',
		receiver     VARCHAR(255) NOT NULL,
		receivername VARCHAR(255) NOT NULL DEFAULT '',
		createdat    DATETIME(3) NOT NULL,
		content      TEXT,
		PRIMARY KEY(id),
		UNIQUE INDEX messages_topic_seqid(topic, seqid)
	)`,
	// Mailboxes. The id keeps the order of enqueuing.
	`CREATE TABLE tasks(
		id    INT NOT NULL AUTO_INCREMENT,
		email VARCHAR(255) NOT NULL,
		task  JSON NOT NULL,
		PRIMARY KEY(id),
		FOREIGN KEY(email) REFERENCES users(email),
		INDEX tasks_email_id(email, id)
	)`,
}

// CreateDb initializes the storage.
func (a *adapter) CreateDb(reset bool) error {
	var err error
	var tx *sqlx.Tx

	// Can't use an existing connection because it's configured with a database name which may not exist.
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
	if err = a.connect(false); err != nil {
		return err
	}

	if tx, err = a.db.Beginx(); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			// MySQL auto-commits on every CREATE TABLE. Rollback only releases the connection.
			tx.Rollback()
		}
	}()

	if reset {
		if _, err = tx.Exec("DROP DATABASE IF EXISTS " + a.dbName); err != nil {
			return err
		}
	}
	if _, err = tx.Exec("CREATE DATABASE " + a.dbName + " CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"); err != nil {
		return err
	}
	if _, err = tx.Exec("USE " + a.dbName); err != nil {
		return err
	}

	for _, stmt := range schema {
		if _, err = tx.Exec(stmt); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	// Reconnect so that every connection in the pool uses the new database.
	a.db.Close()
	a.db = nil
	a.version = -1
	return a.connect(true)
}

// User management

// UserCreate creates user record.
func (a *adapter) UserCreate(user *t.User) error {
	_, err := a.db.Exec("INSERT INTO users(email,name,profileurl,createdat) VALUES(?,?,?,?)",
		user.Email, user.Name, user.ProfileUrl, user.CreatedAt.UTC())
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

const userColumns = "email,name,profileurl,createdat"

// UserGet fetches a single user by email with the list of active conversations.
func (a *adapter) UserGet(email string) (*t.User, error) {
	var user t.User
	err := a.db.QueryRowx("SELECT "+userColumns+" FROM users WHERE email=?", email).
		Scan(&user.Email, &user.Name, &user.ProfileUrl, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

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

	query, args, err := sqlx.In("SELECT "+userColumns+" FROM users WHERE email IN (?)", emails)
	if err != nil {
		return nil, err
	}
	rows, err := a.db.Queryx(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []t.User
	for rows.Next() {
		var user t.User
		if err = rows.Scan(&user.Email, &user.Name, &user.ProfileUrl, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
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
	if len(conv.Users) != 2 {
		return t.ErrMalformed
	}

	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("INSERT INTO conversations(pairkey,roomid,user1,user2,createdat,seqid) VALUES(?,?,?,?,?,?)",
		conv.PairKey, conv.Id, conv.Users[0], conv.Users[1], conv.CreatedAt.UTC(), first.SeqId)
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

func (a *adapter) convGet(column string, arg string) (*t.Conversation, error) {
	var conv t.Conversation
	var user1, user2 string
	err := a.db.QueryRowx("SELECT pairkey,roomid,user1,user2,createdat,seqid FROM conversations WHERE "+
		column+"=?", arg).Scan(&conv.PairKey, &conv.Id, &user1, &user2, &conv.CreatedAt, &conv.SeqId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	conv.Users = []string{user1, user2}
	return &conv, nil
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

const messageColumns = "topic,seqid,sender,sendername,receiver,receivername,createdat,content"

func insertMessage(tx *sqlx.Tx, msg *t.Message) error {
	_, err := tx.Exec("INSERT INTO messages("+messageColumns+") VALUES(?,?,?,?,?,?,?,?)",
		msg.Topic, msg.SeqId, msg.Sender, msg.SenderName, msg.Receiver, msg.ReceiverName,
		msg.Time.UTC(), msg.Content)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (t.Message, error) {
	var msg t.Message
	err := row.Scan(&msg.Topic, &msg.SeqId, &msg.Sender, &msg.SenderName, &msg.Receiver, &msg.ReceiverName,
		&msg.Time, &msg.Content)
	return msg, err
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
	if err = tx.Get(&seq, "SELECT seqid FROM conversations WHERE roomid=? FOR UPDATE", msg.Topic); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = t.ErrNotFound
		}
		return err
	}
	seq++
	if _, err = tx.Exec("UPDATE conversations SET seqid=? WHERE roomid=?", seq, msg.Topic); err != nil {
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
	if before <= 0 {
		before = 1<<31 - 1
	}
	limit := common.QueryLimit(opts, a.maxResults)

	rows, err := a.db.Queryx("SELECT "+messageColumns+" FROM messages WHERE topic=? AND seqid>=? AND seqid<? "+
		"ORDER BY seqid ASC LIMIT ?", roomId, since, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]t.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// MessageGetLatest returns the most recent message not sent by the system.
func (a *adapter) MessageGetLatest(roomId string) (*t.Message, error) {
	msg, err := scanMessage(a.db.QueryRowx("SELECT "+messageColumns+" FROM messages WHERE topic=? AND sender<>? "+
		"ORDER BY seqid DESC LIMIT 1", roomId, t.SystemSender))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// Mailbox

// pushTask appends the task and drops the oldest tasks above the limit.
func (a *adapter) pushTask(tx *sqlx.Tx, email string, task *t.Task) error {
	if _, err := tx.Exec("INSERT INTO tasks(email,task) VALUES(?,?)", email, common.EncodeTask(task)); err != nil {
		return err
	}
	if a.maxMailbox > 0 {
		// MySQL cannot select from the table being deleted from without a derived table.
		_, err := tx.Exec("DELETE FROM tasks WHERE email=? AND id<=(SELECT id FROM (SELECT id FROM tasks "+
			"WHERE email=? ORDER BY id DESC LIMIT 1 OFFSET ?) AS cutoff)", email, email, a.maxMailbox)
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
	Task []byte
}

// MailboxDrain locks the user's tasks, reads and deletes them in one transaction.
func (a *adapter) MailboxDrain(email string) ([]t.Task, error) {
	tx, err := a.db.Beginx()
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// Lock the user row first: concurrent drains of the same mailbox are serialized.
	var found string
	if err = tx.Get(&found, "SELECT email FROM users WHERE email=? FOR UPDATE", email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = t.ErrNotFound
		}
		return nil, err
	}

	var rows []taskRow
	if err = tx.Select(&rows, "SELECT id,task FROM tasks WHERE email=? ORDER BY id ASC", email); err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return []t.Task{}, tx.Commit()
	}

	ids := make([]int64, len(rows))
	raw := make([][]byte, len(rows))
	for i := range rows {
		ids[i] = rows[i].Id
		raw[i] = rows[i].Task
	}

	var query string
	var args []any
	if query, args, err = sqlx.In("DELETE FROM tasks WHERE id IN (?)", ids); err != nil {
		return nil, err
	}
	if _, err = tx.Exec(query, args...); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
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

func mysqlErrNo(err error) uint16 {
	var myerr *ms.MySQLError
	if errors.As(err, &myerr) {
		return myerr.Number
	}
	return 0
}

// Check if MySQL error is a Error Code: 1062. Duplicate entry ... for key ...
func isDupe(err error) bool {
	return mysqlErrNo(err) == 1062
}

// Error 1146: Table doesn't exist.
func isMissingTable(err error) bool {
	return mysqlErrNo(err) == 1146
}

// Error 1049: Unknown database.
func isMissingDb(err error) bool {
	if err == nil {
		return false
	}
	return mysqlErrNo(err) == 1049 || strings.Contains(err.Error(), "Unknown database")
}

// GetAdapter returns an unconnected adapter. Required for running adapter tests.
func GetAdapter() *adapter {
	return &adapter{}
}

func init() {
	store.RegisterAdapter(&adapter{})
}
