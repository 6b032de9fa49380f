package chat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store/types"
	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"
)

// Signal is the kind of request.
type Signal string

// Request signals.
const (
	SignalAddUser            Signal = "ADD_USER"
	SignalCreateChatroom     Signal = "CREATE_CHATROOM"
	SignalUpdateConversation Signal = "UPDATE_CONVERSATION"
	SignalDeleteChatroom     Signal = "DELETE_CHATROOM"
	SignalGetConversation    Signal = "GET_CONVERSATION"
	SignalGetAllChatrooms    Signal = "GET_ALL_CHATROOMS"
)

// Response signals tell the caller what kind of payload the response carries.
const (
	RespCreateRoom       = 2000
	RespUpdateMessage    = 2001
	RespShowConversation = 2002
	RespShowAllChatrooms = 2003
)

// AddedUserText and ExistingUserText are responses to ADD_USER.
const (
	AddedUserText    = "Added email: "
	ExistingUserText = "User already exists"
)

// Timestamp is the client-provided time of a message. It is decoded from
// milliseconds since the epoch, either a number or a string of digits, or from an
// RFC 3339 string. It is encoded as milliseconds.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	src := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &src); err != nil {
			return err
		}
		if src == "" {
			return nil
		}
	}

	if ms, err := strconv.ParseInt(src, 10, 64); err == nil {
		ts.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, src)
	if err != nil {
		return errValidation("invalid time '%s'", src)
	}
	ts.Time = t.UTC().Round(time.Millisecond)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(ts.UnixMilli(), 10)), nil
}

// Request is an inbound signal.
type Request struct {
	Signal   Signal         `json:"signal"`
	Sender   *types.Profile `json:"sender"`
	Receiver *types.Profile `json:"receiver,omitempty"`
	Message  *string        `json:"message,omitempty"`
	Time     *Timestamp     `json:"time,omitempty"`
	// Route tags the origin of the request. Not used by the service.
	Route string `json:"route,omitempty"`
}

// Result is the uniform response to a signal. When Error is set, Response holds
// the same error text.
type Result struct {
	Error    *string `json:"error"`
	Signal   *int    `json:"signal"`
	Response any     `json:"response"`
}

// IsError checks if the result reports a failure.
func (r *Result) IsError() bool {
	return r.Error != nil
}

// CreateResponse is the payload of RespCreateRoom.
type CreateResponse struct {
	RoomId string        `json:"room_id"`
	User1  types.Profile `json:"user_1"`
	User2  types.Profile `json:"user_2"`
}

// DeliveryResponse is the payload of RespUpdateMessage.
type DeliveryResponse struct {
	Sender   types.Profile `json:"sender"`
	Receiver types.Profile `json:"receiver"`
	Message  string        `json:"message"`
}

// ConversationResponse is the payload of RespShowConversation.
type ConversationResponse struct {
	User         types.Profile   `json:"user"`
	Conversation []types.Message `json:"conversation"`
}

// ChatroomsResponse is the payload of RespShowAllChatrooms.
type ChatroomsResponse struct {
	User      types.Profile `json:"user"`
	Chatrooms []Summary     `json:"chatrooms"`
}

type handlerFunc func(s *Service, req *Request) (*Result, error)

type route struct {
	needReceiver bool
	needMessage  bool
	handle       handlerFunc
}

var routes = map[Signal]route{
	SignalAddUser:            {handle: handleAddUser},
	SignalCreateChatroom:     {needReceiver: true, handle: handleCreate},
	SignalUpdateConversation: {needReceiver: true, needMessage: true, handle: handleAppend},
	SignalDeleteChatroom:     {needReceiver: true, handle: handleLeave},
	SignalGetConversation:    {needReceiver: true, handle: handleGetLog},
	SignalGetAllChatrooms:    {handle: handleList},
}

// Dispatch validates the request and routes it to the matching operation. It always
// returns a result: failures are reported in the result, never returned.
func (s *Service) Dispatch(req *Request) *Result {
	rt, err := s.validate(req)
	if err != nil {
		logs.Info.Println("chat: invalid request:", err)
		return ErrorResult(err)
	}
	normalize(req)

	res, err := rt.handle(s, req)
	if err != nil {
		if KindOf(err) == KindStorage || KindOf(err) == KindIdSpaceExhausted {
			logs.Err.Printf("chat: %s from '%s' failed: %s", req.Signal, req.Sender.Email, err)
		} else {
			logs.Info.Printf("chat: %s from '%s' rejected: %s", req.Signal, req.Sender.Email, err)
		}
		return ErrorResult(err)
	}
	return res
}

// ErrorResult wraps the error into a result.
func ErrorResult(err error) *Result {
	msg := err.Error()
	return &Result{Error: &msg, Response: msg}
}

func okResult(signal int, resp any) *Result {
	return &Result{Signal: &signal, Response: resp}
}

func textResult(text string) *Result {
	return &Result{Response: text}
}

// validate checks that the request has everything its signal requires. It does not
// touch the store.
func (s *Service) validate(req *Request) (*route, error) {
	if req == nil {
		return nil, errValidation("request is empty")
	}
	if req.Signal == "" {
		return nil, errValidation("signal is missing")
	}
	rt, ok := routes[req.Signal]
	if !ok {
		return nil, errValidation("unknown signal '%s'", req.Signal)
	}
	if req.Sender == nil || strings.TrimSpace(req.Sender.Email) == "" {
		return nil, errValidation("sender is missing")
	}
	if rt.needReceiver && (req.Receiver == nil || strings.TrimSpace(req.Receiver.Email) == "") {
		return nil, errValidation("receiver is missing")
	}
	if rt.needMessage {
		if req.Message == nil || *req.Message == "" {
			return nil, errValidation("message is missing")
		}
		if n := uniseg.GraphemeClusterCount(*req.Message); n > s.maxMessageLength {
			return nil, errValidation("message is too long (%d > %d)", n, s.maxMessageLength)
		}
	}
	return &rt, nil
}

// normalize trims emails and brings text to Unicode NFC. Emails are not case-folded.
func normalize(req *Request) {
	normProfile := func(p *types.Profile) {
		if p == nil {
			return
		}
		p.Email = strings.TrimSpace(p.Email)
		p.Name = norm.NFC.String(p.Name)
	}
	normProfile(req.Sender)
	normProfile(req.Receiver)
	if req.Message != nil {
		msg := norm.NFC.String(*req.Message)
		req.Message = &msg
	}
}

func handleAddUser(s *Service, req *Request) (*Result, error) {
	created, err := s.AddUser(*req.Sender)
	if err != nil {
		return nil, err
	}
	if !created {
		return textResult(ExistingUserText), nil
	}
	return textResult(AddedUserText + req.Sender.Email), nil
}

func handleCreate(s *Service, req *Request) (*Result, error) {
	conv, err := s.ResolveOrCreate(*req.Sender, *req.Receiver)
	if err != nil {
		return nil, err
	}
	return okResult(RespCreateRoom, &CreateResponse{
		RoomId: conv.Id,
		User1:  *req.Sender,
		User2:  *req.Receiver,
	}), nil
}

func handleAppend(s *Service, req *Request) (*Result, error) {
	var ts time.Time
	if req.Time != nil {
		ts = req.Time.Time
	}
	res, err := s.Append(*req.Sender, *req.Receiver, *req.Message, ts)
	if err != nil {
		return nil, err
	}
	if !res.Delivered {
		return textResult(PeerLeftNotice), nil
	}
	return okResult(RespUpdateMessage, &DeliveryResponse{
		Sender:   *req.Sender,
		Receiver: *req.Receiver,
		Message:  res.Message.Content,
	}), nil
}

func handleLeave(s *Service, req *Request) (*Result, error) {
	conv, err := s.Leave(*req.Sender, *req.Receiver)
	if err != nil {
		return nil, err
	}
	return textResult("Deleted chatroom " + conv.Id), nil
}

func handleGetLog(s *Service, req *Request) (*Result, error) {
	log, err := s.GetLog(req.Sender.Email, req.Receiver.Email)
	if err != nil {
		return nil, err
	}
	return okResult(RespShowConversation, &ConversationResponse{User: *req.Sender, Conversation: log}), nil
}

func handleList(s *Service, req *Request) (*Result, error) {
	list, err := s.ListConversations(req.Sender.Email)
	if err != nil {
		return nil, err
	}
	return okResult(RespShowAllChatrooms, &ChatroomsResponse{User: *req.Sender, Chatrooms: list}), nil
}
