// Package mongodb is a database adapter for MongoDB.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/chemi/chat/server/db/common"
	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store"
	t "github.com/chemi/chat/server/store/types"
	b "go.mongodb.org/mongo-driver/bson"
	mdb "go.mongodb.org/mongo-driver/mongo"
	mdbopts "go.mongodb.org/mongo-driver/mongo/options"
)

// adapter holds MongoDB connection data.
type adapter struct {
	conn            *mdb.Client
	db              *mdb.Database
	dbName          string
	maxResults      int
	maxMailbox      int
	version         int
	ctx             context.Context
	useTransactions bool
}

const (
	defaultHost     = "localhost:27017"
	defaultDatabase = "chat"

	adpVersion  = 100
	adapterName = "mongodb"

	defaultMaxResults = 1024
	defaultMaxMailbox = 256
)

// See https://godoc.org/go.mongodb.org/mongo-driver/mongo/options#ClientOptions for explanations.
type configType struct {
	Addresses      any `json:"addresses,omitempty"`
	ConnectTimeout int `json:"timeout,omitempty"`

	// Options separately from ClientOptions (custom options):
	Database   string `json:"database,omitempty"`
	ReplicaSet string `json:"replica_set,omitempty"`

	AuthSource string `json:"auth_source,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

// Open initializes mongodb session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter mongodb is already connected")
	}

	var err error
	var config configType
	if len(jsonconfig) > 0 {
		if err = json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("adapter mongodb failed to parse config: " + err.Error())
		}
	}

	var opts mdbopts.ClientOptions

	switch addr := config.Addresses.(type) {
	case nil:
		opts.SetHosts([]string{defaultHost})
	case string:
		opts.SetHosts([]string{addr})
	case []any:
		var hosts []string
		for _, h := range addr {
			host, ok := h.(string)
			if !ok {
				return errors.New("adapter mongodb failed to parse config.Addresses")
			}
			hosts = append(hosts, host)
		}
		opts.SetHosts(hosts)
	default:
		return errors.New("adapter mongodb failed to parse config.Addresses")
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	if config.ReplicaSet == "" {
		logs.Info.Println("MongoDB configured as standalone or replica_set option not set. Transaction support is disabled.")
	} else {
		opts.SetReplicaSet(config.ReplicaSet)
		a.useTransactions = true
	}

	if config.Username != "" {
		if config.AuthSource == "" {
			config.AuthSource = "admin"
		}
		opts.SetAuth(
			mdbopts.Credential{
				AuthMechanism: "SCRAM-SHA-256",
				AuthSource:    config.AuthSource,
				Username:      config.Username,
				Password:      config.Password,
				PasswordSet:   config.Password != "",
			})
	}

	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}
	if a.maxMailbox <= 0 {
		a.maxMailbox = defaultMaxMailbox
	}

	a.ctx = context.Background()
	a.conn, err = mdb.Connect(a.ctx, &opts)
	if err != nil {
		a.conn = nil
		return err
	}
	a.db = a.conn.Database(a.dbName)
	a.version = -1

	return nil
}

// Close the adapter
func (a *adapter) Close() error {
	var err error
	if a.conn != nil {
		err = a.conn.Disconnect(a.ctx)
		a.conn = nil
		a.version = -1
	}
	return err
}

// IsOpen checks if the adapter is ready for use
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	var result struct {
		Key   string `bson:"_id"`
		Value int
	}
	if err := a.db.Collection("kvmeta").FindOne(a.ctx, b.M{"_id": "version"}).Decode(&result); err != nil {
		if err == mdb.ErrNoDocuments {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}

	a.version = result.Value
	return result.Value, nil
}

// CheckDbVersion checks if the actual database version matches adapter version.
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

// Version returns adapter version
func (a *adapter) Version() int {
	return adpVersion
}

// Stats is not supported by the mongodb driver.
func (a *adapter) Stats() any {
	return nil
}

// GetName returns the name of the adapter
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
		return errors.New("adapter mongodb: negative mailbox size")
	}
	if val == 0 {
		val = defaultMaxMailbox
	}
	a.maxMailbox = val
	return nil
}

// CreateDb creates the database optionally dropping an existing database first.
func (a *adapter) CreateDb(reset bool) error {
	if reset {
		logs.Info.Print("Dropping database...")
		if err := a.db.Drop(a.ctx); err != nil {
			return err
		}
	} else if a.isDbInitialized() {
		return errors.New("Database already initialized")
	}
	// Collections (tables) do not need to be explicitly created since MongoDB creates them with first write operation

	indexes := []struct {
		Collection string
		IndexOpts  mdb.IndexModel
	}{
		// Conversation ids are unique. The pair-key is the primary key.
		{
			Collection: "conversations",
			IndexOpts:  mdb.IndexModel{Keys: b.M{"roomid": 1}, Options: mdbopts.Index().SetUnique(true)},
		},
		// Compound index of 'topic - seqid' for reading the log in order. The first message
		// of a conversation claims the conversation id.
		{
			Collection: "messages",
			IndexOpts: mdb.IndexModel{
				Keys:    b.D{{Key: "topic", Value: 1}, {Key: "seqid", Value: 1}},
				Options: mdbopts.Index().SetUnique(true),
			},
		},
	}

	for _, idx := range indexes {
		if _, err := a.db.Collection(idx.Collection).Indexes().CreateOne(a.ctx, idx.IndexOpts); err != nil {
			return err
		}
	}

	// Collection "kvmeta" with metadata key-value pairs.
	// Key in "_id" field.
	// Record current DB version.
	if _, err := a.db.Collection("kvmeta").InsertOne(a.ctx, b.M{"_id": "version", "value": adpVersion}); err != nil {
		return err
	}
	a.version = -1

	return nil
}

func (a *adapter) maybeStartTransaction(sess mdb.Session) error {
	if a.useTransactions {
		return sess.StartTransaction()
	}
	return nil
}

func (a *adapter) maybeCommitTransaction(ctx context.Context, sess mdb.Session) error {
	if a.useTransactions {
		return sess.CommitTransaction(ctx)
	}
	return nil
}

func (a *adapter) maybeAbortTransaction(ctx context.Context, sess mdb.Session) {
	if a.useTransactions {
		sess.AbortTransaction(ctx)
	}
}

// withSession runs f in a session, inside a transaction if the server supports them.
func (a *adapter) withSession(f func(sc mdb.SessionContext) error) error {
	sess, err := a.conn.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(a.ctx)

	if err = a.maybeStartTransaction(sess); err != nil {
		return err
	}
	return mdb.WithSession(a.ctx, sess, func(sc mdb.SessionContext) error {
		if err := f(sc); err != nil {
			a.maybeAbortTransaction(sc, sess)
			return err
		}
		return a.maybeCommitTransaction(sc, sess)
	})
}

// User management

// UserCreate creates user record
func (a *adapter) UserCreate(user *t.User) error {
	if _, err := a.db.Collection("users").InsertOne(a.ctx, user); err != nil {
		if isDuplicateErr(err) {
			return t.ErrDuplicate
		}
		return err
	}
	return nil
}

// UserGet fetches a single user by email. Mailbox is not loaded.
func (a *adapter) UserGet(email string) (*t.User, error) {
	var user t.User
	findOpts := mdbopts.FindOne().SetProjection(b.M{"tasks": 0})
	if err := a.db.Collection("users").FindOne(a.ctx, b.M{"_id": email}, findOpts).Decode(&user); err != nil {
		if err == mdb.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	if user.Chatrooms == nil {
		user.Chatrooms = []string{}
	}
	return &user, nil
}

// UserGetAll returns user records for a given list of emails
func (a *adapter) UserGetAll(emails ...string) ([]t.User, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	findOpts := mdbopts.Find().SetProjection(b.M{"tasks": 0, "chatrooms": 0})
	cur, err := a.db.Collection("users").Find(a.ctx, b.M{"_id": b.M{"$in": emails}}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(a.ctx)

	var users []t.User
	for cur.Next(a.ctx) {
		var user t.User
		if err := cur.Decode(&user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, cur.Err()
}

// UserLeaveChatroom removes the conversation from the user's active set.
func (a *adapter) UserLeaveChatroom(email, roomId string) error {
	res, err := a.db.Collection("users").UpdateOne(a.ctx,
		b.M{"_id": email},
		b.M{"$pull": b.M{"chatrooms": roomId}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return t.ErrNotFound
	}
	return nil
}

// UserHasChatroom checks if the conversation is in the user's active set.
func (a *adapter) UserHasChatroom(email, roomId string) (bool, error) {
	count, err := a.db.Collection("users").CountDocuments(a.ctx, b.M{"_id": email, "chatrooms": roomId})
	return count > 0, err
}

// Conversation management

// ConvCreate creates the conversation. With transactions disabled the writes are ordered so
// that a failure leaves no pair-key mapping without its log: the first message claims the
// conversation id, the mapping claims the pair-key, memberships and the invite go last.
func (a *adapter) ConvCreate(conv *t.Conversation, first *t.Message, inviteFor string, invite *t.Task) error {
	err := a.withSession(func(sc mdb.SessionContext) error {
		// Unique (topic, seqid) index rejects the message if the id is taken.
		if _, err := a.db.Collection("messages").InsertOne(sc, first); err != nil {
			return err
		}

		if _, err := a.db.Collection("conversations").InsertOne(sc, conv); err != nil {
			if !a.useTransactions {
				// Release the id claimed above.
				a.db.Collection("messages").DeleteOne(a.ctx, b.M{"topic": first.Topic, "seqid": first.SeqId})
			}
			return err
		}

		if _, err := a.db.Collection("users").UpdateMany(sc,
			b.M{"_id": b.M{"$in": conv.Users}},
			b.M{"$addToSet": b.M{"chatrooms": conv.Id}}); err != nil {
			return err
		}

		if invite != nil {
			return a.pushTask(sc, inviteFor, invite)
		}
		return nil
	})

	if isDuplicateErr(err) || isWriteConflict(err) {
		// A concurrent transaction touching the same keys is reported the same way as a
		// duplicate: the caller checks what exists and retries.
		return t.ErrDuplicate
	}
	return err
}

// ConvGet returns conversation by pair-key.
func (a *adapter) ConvGet(pairKey string) (*t.Conversation, error) {
	return a.convGet(b.M{"_id": pairKey})
}

// ConvGetById returns conversation by id.
func (a *adapter) ConvGetById(roomId string) (*t.Conversation, error) {
	return a.convGet(b.M{"roomid": roomId})
}

func (a *adapter) convGet(filter b.M) (*t.Conversation, error) {
	var conv t.Conversation
	if err := a.db.Collection("conversations").FindOne(a.ctx, filter).Decode(&conv); err != nil {
		if err == mdb.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// Messages

// MessageSave saves message to database, assigning the next sequence id of the conversation.
func (a *adapter) MessageSave(msg *t.Message) error {
	return a.withSession(func(sc mdb.SessionContext) error {
		var conv t.Conversation
		updOpts := mdbopts.FindOneAndUpdate().SetReturnDocument(mdbopts.After)
		if err := a.db.Collection("conversations").FindOneAndUpdate(sc,
			b.M{"roomid": msg.Topic},
			b.M{"$inc": b.M{"seqid": 1}}, updOpts).Decode(&conv); err != nil {
			if err == mdb.ErrNoDocuments {
				return t.ErrNotFound
			}
			return err
		}

		msg.SeqId = conv.SeqId
		_, err := a.db.Collection("messages").InsertOne(sc, msg)
		return err
	})
}

// MessageGetAll returns messages matching the query in log order.
func (a *adapter) MessageGetAll(roomId string, opts *t.QueryOpt) ([]t.Message, error) {
	since, before := common.SeqRange(opts)
	seqFilter := b.M{"$gte": since}
	if before > 0 {
		seqFilter["$lt"] = before
	}

	findOpts := mdbopts.Find().
		SetSort(b.D{{Key: "seqid", Value: 1}}).
		SetLimit(int64(common.QueryLimit(opts, a.maxResults)))
	cur, err := a.db.Collection("messages").Find(a.ctx, b.M{"topic": roomId, "seqid": seqFilter}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(a.ctx)

	msgs := []t.Message{}
	for cur.Next(a.ctx) {
		var msg t.Message
		if err = cur.Decode(&msg); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, cur.Err()
}

// MessageGetLatest returns the most recent message not sent by the system.
func (a *adapter) MessageGetLatest(roomId string) (*t.Message, error) {
	var msg t.Message
	findOpts := mdbopts.FindOne().SetSort(b.D{{Key: "seqid", Value: -1}})
	err := a.db.Collection("messages").FindOne(a.ctx,
		b.M{"topic": roomId, "sender": b.M{"$ne": t.SystemSender}}, findOpts).Decode(&msg)
	if err != nil {
		if err == mdb.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// Mailbox

// pushTask appends the task to the mailbox dropping the oldest tasks above the limit.
func (a *adapter) pushTask(ctx context.Context, email string, task *t.Task) error {
	push := b.M{"$each": []*t.Task{task}}
	if a.maxMailbox > 0 {
		push["$slice"] = -a.maxMailbox
	}
	res, err := a.db.Collection("users").UpdateOne(ctx,
		b.M{"_id": email},
		b.M{"$push": b.M{"tasks": push}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return t.ErrNotFound
	}
	return nil
}

// MailboxPush appends the task to the user's mailbox.
func (a *adapter) MailboxPush(email string, task *t.Task) error {
	return a.pushTask(a.ctx, email, task)
}

// MailboxDrain clears the mailbox returning its previous content in one atomic update.
func (a *adapter) MailboxDrain(email string) ([]t.Task, error) {
	var user t.User
	updOpts := mdbopts.FindOneAndUpdate().
		SetReturnDocument(mdbopts.Before).
		SetProjection(b.M{"tasks": 1})
	err := a.db.Collection("users").FindOneAndUpdate(a.ctx,
		b.M{"_id": email},
		b.M{"$set": b.M{"tasks": []t.Task{}}}, updOpts).Decode(&user)
	if err != nil {
		if err == mdb.ErrNoDocuments {
			return nil, t.ErrNotFound
		}
		return nil, err
	}
	if user.Tasks == nil {
		return []t.Task{}, nil
	}
	return user.Tasks, nil
}

func (a *adapter) isDbInitialized() bool {
	var result map[string]int

	findOpts := mdbopts.FindOneOptions{Projection: b.M{"value": 1, "_id": 0}}
	if err := a.db.Collection("kvmeta").FindOne(a.ctx, b.M{"_id": "version"}, &findOpts).Decode(&result); err != nil {
		return false
	}
	return true
}

// GetAdapter returns an unconnected adapter. Required for running adapter tests.
func GetAdapter() *adapter {
	return &adapter{}
}

func init() {
	store.RegisterAdapter(&adapter{})
}

func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "duplicate key error")
}

func isWriteConflict(err error) bool {
	if err == nil {
		return false
	}

	var cmdErr mdb.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.HasErrorLabel("TransientTransactionError")
	}
	return strings.Contains(err.Error(), "WriteConflict")
}
