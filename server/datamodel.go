/******************************************************************************
 *
 *  Description :
 *
 *  Socket frames: client events, server events and their payloads.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"time"

	"github.com/chemi/chat/server/chat"
	"github.com/chemi/chat/server/store/types"
)

// Events sent by clients.
const (
	evProfile         = "profile"
	evAddUser         = "addUser"
	evSendMessage     = "sendMessage"
	evDeleteChatroom  = "deleteChatroom"
	evCreateChatroom  = "createChatroom"
	evCheckUpdate     = "checkUpdate"
	evGetConversation = "getConversation"
	evGetChatrooms    = "getChatrooms"
)

// Events sent by the server. Drained tasks are sent as events named by the task tag.
const (
	evProfileCheck         = "profileCheck"
	evRetrieveConversation = "retrieveConversation"
	evChatRoomList         = "chatRoomList"
	evError                = "error"
)

// ClientComMessage is a frame received from the client.
type ClientComMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`

	// Time when the message was received by the server.
	timestamp time.Time
}

// ServerComMessage is a frame sent to the client.
type ServerComMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// MsgServerError is the payload of the 'error' event and of failed HTTP requests.
type MsgServerError struct {
	// Event which caused the error, if any.
	Event string `json:"event,omitempty"`
	// HTTP-like status code.
	Code int `json:"code"`
	// Human-readable error text.
	Text      string    `json:"text"`
	Timestamp time.Time `json:"ts"`
}

// signalForEvent maps client events to service signals.
var signalForEvent = map[string]chat.Signal{
	evAddUser:         chat.SignalAddUser,
	evSendMessage:     chat.SignalUpdateConversation,
	evDeleteChatroom:  chat.SignalDeleteChatroom,
	evCreateChatroom:  chat.SignalCreateChatroom,
	evGetConversation: chat.SignalGetConversation,
	evGetChatrooms:    chat.SignalGetAllChatrooms,
}

func errFrame(event string, code int, text string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Event: evError, Data: &MsgServerError{
		Event:     event,
		Code:      code,
		Text:      text,
		Timestamp: ts,
	}}
}

// ErrMalformed is a response to a frame which cannot be parsed.
func ErrMalformed(event string, ts time.Time) *ServerComMessage {
	return errFrame(event, 400, "malformed", ts)
}

// ErrUnknownEvent is a response to a frame with an unrecognized event name.
func ErrUnknownEvent(event string, ts time.Time) *ServerComMessage {
	return errFrame(event, 400, "unknown event", ts)
}

// ErrProfileRequired is a response to an event which needs a profile when the
// session has none.
func ErrProfileRequired(event string, ts time.Time) *ServerComMessage {
	return errFrame(event, 401, "profile required", ts)
}

// ErrRequestFailed reports a failed signal.
func ErrRequestFailed(event string, res *chat.Result, ts time.Time) *ServerComMessage {
	if res.Error == nil {
		return errFrame(event, 500, "internal error", ts)
	}
	return errFrame(event, 400, *res.Error, ts)
}

// ErrAPIKeyRequired is sent when the API key is missing or invalid.
func ErrAPIKeyRequired(ts time.Time) *MsgServerError {
	return &MsgServerError{Code: 403, Text: "valid API key required", Timestamp: ts}
}

// ErrOperationNotAllowed is sent in response to an unsupported HTTP method.
func ErrOperationNotAllowed(ts time.Time) *MsgServerError {
	return &MsgServerError{Code: 405, Text: "method not allowed", Timestamp: ts}
}

// NoErrShutdown tells connected clients that the server is going away.
func NoErrShutdown(ts time.Time) *ServerComMessage {
	return &ServerComMessage{Event: evError, Data: &MsgServerError{
		Code:      503,
		Text:      "server shutdown",
		Timestamp: ts,
	}}
}

// taskFrame converts a drained task to an event named by its tag.
func taskFrame(task *types.Task) *ServerComMessage {
	return &ServerComMessage{Event: string(task.Task), Data: task}
}
