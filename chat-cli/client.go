package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store/types"
)

// Socket events.
const (
	evProfile         = "profile"
	evAddUser         = "addUser"
	evSendMessage     = "sendMessage"
	evDeleteChatroom  = "deleteChatroom"
	evCreateChatroom  = "createChatroom"
	evCheckUpdate     = "checkUpdate"
	evGetConversation = "getConversation"
	evGetChatrooms    = "getChatrooms"

	evProfileCheck         = "profileCheck"
	evRetrieveConversation = "retrieveConversation"
	evChatRoomList         = "chatRoomList"
	evError                = "error"
)

// frameConn is the part of *websocket.Conn used by the client.
type frameConn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type request struct {
	Sender   *types.Profile `json:"sender,omitempty"`
	Receiver *types.Profile `json:"receiver,omitempty"`
	Message  string         `json:"message,omitempty"`
	Time     int64          `json:"time,omitempty"`
}

type summary struct {
	RoomId        string `json:"room_id"`
	LastMessage   string `json:"lastMessage"`
	OpponentEmail string `json:"opponentEmail"`
	OpponentName  string `json:"opponentName"`
	Error         string `json:"error"`
}

type serverError struct {
	Event string `json:"event"`
	Code  int    `json:"code"`
	Text  string `json:"text"`
}

type client struct {
	conn    frameConn
	me      types.Profile
	out     io.Writer
	verbose bool

	// Serializes writes: gorilla connections support one concurrent writer.
	wlock sync.Mutex
	// Serializes output.
	olock sync.Mutex

	now func() time.Time
}

func newClient(conn frameConn, me types.Profile, out io.Writer, verbose bool) *client {
	return &client{conn: conn, me: me, out: out, verbose: verbose, now: time.Now}
}

func (c *client) send(event string, data any) error {
	c.wlock.Lock()
	defer c.wlock.Unlock()

	if c.verbose {
		raw, _ := json.Marshal(data)
		logs.Info.Printf("out: %s %s", event, raw)
	}
	return c.conn.WriteJSON(map[string]any{"event": event, "data": data})
}

// command parses one line of user input and sends the matching event.
func (c *client) command(line string) error {
	parts := strings.SplitN(line, " ", 3)
	cmd := parts[0]

	peer := func() (*types.Profile, error) {
		if len(parts) < 2 || parts[1] == "" {
			return nil, errors.New(cmd + ": email required")
		}
		return &types.Profile{Email: parts[1]}, nil
	}

	switch cmd {
	case "add":
		return c.send(evAddUser, &request{Sender: &c.me})
	case "rooms":
		return c.send(evGetChatrooms, &request{Sender: &c.me})
	case "poll":
		return c.send(evCheckUpdate, &c.me)
	case "open", "leave", "log":
		receiver, err := peer()
		if err != nil {
			return err
		}
		event := map[string]string{
			"open":  evCreateChatroom,
			"leave": evDeleteChatroom,
			"log":   evGetConversation,
		}[cmd]
		return c.send(event, &request{Sender: &c.me, Receiver: receiver})
	case "send":
		receiver, err := peer()
		if err != nil {
			return err
		}
		if len(parts) < 3 || strings.TrimSpace(parts[2]) == "" {
			return errors.New("send: message required")
		}
		return c.send(evSendMessage, &request{
			Sender:   &c.me,
			Receiver: receiver,
			Message:  parts[2],
			Time:     c.now().UnixMilli(),
		})
	}
	return fmt.Errorf("unknown command '%s'", cmd)
}

// readLoop prints server events until the connection fails.
func (c *client) readLoop() error {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return err
		}
		if c.verbose {
			logs.Info.Printf("in: %s %s", f.Event, f.Data)
		}
		c.print(&f)
	}
}

func (c *client) printf(format string, args ...any) {
	c.olock.Lock()
	fmt.Fprintf(c.out, format, args...)
	c.olock.Unlock()
}

func (c *client) print(f *frame) {
	switch f.Event {
	case evProfileCheck:
		c.printf("connected as %s\n", c.me.Email)
		return
	case evRetrieveConversation:
		var msgs []types.Message
		if json.Unmarshal(f.Data, &msgs) == nil {
			for _, m := range msgs {
				c.printf("[%s] %s: %s\n", m.Time.Local().Format(time.DateTime), m.Sender, m.Content)
			}
			return
		}
	case evChatRoomList:
		var rooms []summary
		if json.Unmarshal(f.Data, &rooms) == nil {
			if len(rooms) == 0 {
				c.printf("no chatrooms\n")
			}
			for _, r := range rooms {
				if r.Error != "" {
					c.printf("%s: %s\n", r.RoomId, r.Error)
					continue
				}
				c.printf("%s %s (%s): %s\n", r.RoomId, r.OpponentEmail, r.OpponentName, r.LastMessage)
			}
			return
		}
	case evError:
		var e serverError
		if json.Unmarshal(f.Data, &e) == nil {
			c.printf("error %d on '%s': %s\n", e.Code, e.Event, e.Text)
			return
		}
	case string(types.TaskNewRoom), string(types.TaskNewMessage), string(types.TaskPeerLeft):
		var task types.Task
		if json.Unmarshal(f.Data, &task) == nil && c.printTask(&task) {
			return
		}
	}
	c.printf("%s %s\n", f.Event, f.Data)
}

// printTask reports false if the task lacks the fields of its kind.
func (c *client) printTask(task *types.Task) bool {
	switch {
	case task.Task == types.TaskNewRoom && task.Peer != nil:
		c.printf("%s opened chatroom %s\n", task.Peer.Email, task.RoomId)
	case task.Task == types.TaskNewMessage:
		c.printf("%s: %s\n", task.Sender, task.Message)
	case task.Task == types.TaskPeerLeft && task.Opponent != nil:
		c.printf("%s left the chatroom\n", task.Opponent.Email)
	default:
		return false
	}
	return true
}
