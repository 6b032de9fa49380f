/******************************************************************************
 *
 *  Description :
 *
 *  Handling of a single socket session: decoding client events, running them
 *  against the chat service and queuing server events.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/chemi/chat/server/chat"
	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store/types"
	"github.com/gorilla/websocket"
)

// Maximum number of queued outbound frames. Frames which do not fit are dropped,
// except drained tasks which wait for room.
const sendQueueLimit = 128

// Session represents a single WS connection.
type Session struct {
	// Websocket. Could be nil in tests.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// Outbound frames, serialized.
	send chan []byte

	// Channel for shutting down the session, buffer 1.
	// Content in the same format as for 'send'
	stop chan []byte

	// Closed when the writer exits and nothing more is sent to the client.
	done     chan struct{}
	doneOnce sync.Once

	// Session ID
	sid string

	// Time when the session received the last frame.
	lastTouched time.Time

	// Protects profile.
	lock sync.Mutex
	// Profile sent by the client in the 'profile' event.
	profile *types.Profile
}

func (s *Session) getProfile() *types.Profile {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.profile
}

func (s *Session) setProfile(p *types.Profile) {
	s.lock.Lock()
	s.profile = p
	s.lock.Unlock()
}

// serialize converts the frame to JSON. It never fails for frames built by the server.
func serialize(msg *ServerComMessage) []byte {
	out, err := json.Marshal(msg)
	if err != nil {
		logs.Err.Println("s.serialize:", msg.Event, err)
		return nil
	}
	return out
}

// queueOut attempts to send a frame to the client. Returns false if the outbound
// queue is full.
func (s *Session) queueOut(msg *ServerComMessage) bool {
	if s == nil {
		return true
	}

	data := serialize(msg)
	if data == nil {
		return true
	}
	select {
	case s.send <- data:
	default:
		logs.Err.Println("s.queueOut: session's send queue full", s.sid)
		return false
	}
	return true
}

// queueOutWait queues the frame, waiting for room in the queue. Returns false if the
// session terminated before the frame was queued.
func (s *Session) queueOutWait(msg *ServerComMessage) bool {
	data := serialize(msg)
	if data == nil {
		return true
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// cleanUp is called when the session is terminated to perform resource cleanup.
func (s *Session) cleanUp() {
	count := globals.sessionStore.Delete(s)
	logs.Info.Println("ws: session stopped", s.sid, count)
}

// Message received, convert bytes to ClientComMessage and dispatch
func (s *Session) dispatchRaw(raw []byte) {
	now := types.TimeNow()
	var msg ClientComMessage

	if len(raw) == 1 && raw[0] == '1' {
		// Heartbeat.
		return
	}

	logs.Info.Printf("in: '%s' sid='%s'", raw, s.sid)

	if err := json.Unmarshal(raw, &msg); err != nil {
		logs.Warn.Println("s.dispatch", err, s.sid)
		s.queueOut(ErrMalformed("", now))
		return
	}

	msg.timestamp = now
	s.dispatch(&msg)
}

func (s *Session) dispatch(msg *ClientComMessage) {
	s.lastTouched = msg.timestamp
	statsInc(statIncomingEvents, 1)

	switch msg.Event {
	case evProfile:
		s.bindProfile(msg)
	case evCheckUpdate:
		s.checkUpdate(msg)
	default:
		sig, ok := signalForEvent[msg.Event]
		if !ok {
			logs.Warn.Println("s.dispatch: unknown event", msg.Event, s.sid)
			s.queueOut(ErrUnknownEvent(msg.Event, msg.timestamp))
			return
		}
		s.signal(msg, sig)
	}
}

// bindProfile handles the 'profile' event.
func (s *Session) bindProfile(msg *ClientComMessage) {
	var profile types.Profile
	if err := json.Unmarshal(msg.Data, &profile); err != nil || profile.Email == "" {
		logs.Warn.Println("s.profile: invalid profile", s.sid)
		s.queueOut(ErrMalformed(msg.Event, msg.timestamp))
		return
	}

	globals.sessionStore.Bind(s, profile)
	logs.Info.Printf("s.profile: user connected '%s' <%s> sid='%s'", profile.Name, profile.Email, s.sid)
	s.queueOut(&ServerComMessage{Event: evProfileCheck, Data: ""})
}

// profileOrBound decodes an optional profile from the event data. If none is given,
// the profile bound to the session is used.
func (s *Session) profileOrBound(data json.RawMessage) (*types.Profile, bool) {
	if len(data) > 0 && string(data) != "null" {
		var profile types.Profile
		if err := json.Unmarshal(data, &profile); err != nil {
			return nil, false
		}
		if profile.Email != "" {
			return &profile, true
		}
	}
	return s.getProfile(), true
}

// checkUpdate handles the 'checkUpdate' event: drains the mailbox and sends every
// task as an event named by its tag, oldest first.
func (s *Session) checkUpdate(msg *ClientComMessage) {
	profile, ok := s.profileOrBound(msg.Data)
	if !ok {
		s.queueOut(ErrMalformed(msg.Event, msg.timestamp))
		return
	}
	if profile == nil {
		s.queueOut(ErrProfileRequired(msg.Event, msg.timestamp))
		return
	}

	tasks, err := globals.chat.Drain(profile.Email)
	if err != nil {
		logs.Warn.Println("s.checkUpdate:", err, s.sid)
		s.queueOut(errFrame(msg.Event, 400, err.Error(), msg.timestamp))
		return
	}
	for i := range tasks {
		if !s.queueOutWait(taskFrame(&tasks[i])) {
			statsInc(statTasksDelivered, i)
			s.requeue(profile.Email, tasks[i:])
			return
		}
	}
	logs.Info.Printf("s.checkUpdate: %d tasks for '%s' sid='%s'", len(tasks), profile.Email, s.sid)
	statsInc(statTasksDelivered, len(tasks))
}

// requeue returns tasks the terminated session could not send to the mailbox.
func (s *Session) requeue(email string, tasks []types.Task) {
	if err := globals.chat.Requeue(email, tasks); err != nil {
		logs.Err.Printf("s.checkUpdate: lost %d tasks for '%s': %v", len(tasks), email, err)
		return
	}
	logs.Warn.Printf("s.checkUpdate: session closed, %d tasks for '%s' returned to mailbox", len(tasks), email)
}

// signal runs the event as a service signal.
func (s *Session) signal(msg *ClientComMessage, sig chat.Signal) {
	var req chat.Request
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			logs.Warn.Println("s.signal:", err, s.sid)
			s.queueOut(ErrMalformed(msg.Event, msg.timestamp))
			return
		}
	}
	req.Signal = sig
	if req.Sender == nil {
		if p := s.getProfile(); p != nil {
			sender := *p
			req.Sender = &sender
		}
	}
	if req.Route == "" {
		req.Route = "socket"
	}

	res := globals.chat.Dispatch(&req)
	if res.IsError() {
		s.queueOut(ErrRequestFailed(msg.Event, res, msg.timestamp))
		return
	}
	statsIncKey(statSignalsBySignal, string(sig))

	switch resp := res.Response.(type) {
	case *chat.ConversationResponse:
		s.queueOut(&ServerComMessage{Event: evRetrieveConversation, Data: resp.Conversation})
	case *chat.ChatroomsResponse:
		logs.Info.Printf("s.signal: sent %d chatrooms sid='%s'", len(resp.Chatrooms), s.sid)
		s.queueOut(&ServerComMessage{Event: evChatRoomList, Data: resp.Chatrooms})
	default:
		// Other signals have no socket response: results reach peers through mailboxes.
		logs.Info.Printf("s.signal: %s from '%s' ok", sig, req.Sender.Email)
	}
}
