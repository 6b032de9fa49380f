package main

import (
	"encoding/json"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/chemi/chat/server/store/types"
)

// boundSids lists ids of sessions bound to the email, sorted.
func boundSids(ss *SessionStore, email string) []string {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	var out []string
	for sid := range ss.byEmail[email] {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out
}

func TestSessionStoreBind(t *testing.T) {
	ss := NewSessionStore()
	s1, _ := ss.NewSession(nil, "s1")
	s2, count := ss.NewSession(nil, "s2")
	if count != 2 {
		t.Fatalf("expected 2 sessions, got %d", count)
	}
	if ss.Get("s1") != s1 || ss.Get("nope") != nil {
		t.Error("Get returned a wrong session")
	}

	ss.Bind(s1, alice)
	ss.Bind(s2, alice)
	if got := boundSids(ss, alice.Email); len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Errorf("expected both sessions bound to alice, got %v", got)
	}

	// Rebinding moves the session to the new profile.
	ss.Bind(s2, bob)
	if got := boundSids(ss, alice.Email); len(got) != 1 || got[0] != "s1" {
		t.Errorf("expected only s1 bound to alice, got %v", got)
	}
	if got := boundSids(ss, bob.Email); len(got) != 1 || got[0] != "s2" {
		t.Errorf("expected s2 bound to bob, got %v", got)
	}
	if p := s2.getProfile(); p == nil || *p != bob {
		t.Errorf("unexpected profile %+v", p)
	}

	if count := ss.Delete(s1); count != 1 {
		t.Errorf("expected 1 session left, got %d", count)
	}
	if got := boundSids(ss, alice.Email); len(got) != 0 {
		t.Errorf("deleted session must be unbound, got %v", got)
	}
	if _, ok := ss.byEmail[alice.Email]; ok {
		t.Error("empty binding must be removed")
	}
}

func TestSessionStoreShutdown(t *testing.T) {
	ss := NewSessionStore()
	s, _ := ss.NewSession(nil, "s1")
	ss.Bind(s, types.Profile{Email: "c@x"})

	ss.Shutdown()
	select {
	case msg := <-s.stop:
		if len(msg) == 0 {
			t.Error("shutdown frame is empty")
		}
	default:
		t.Error("session was not told to stop")
	}

	// Repeated shutdown must not block.
	ss.Shutdown()
	ss.Shutdown()
}

func TestQueueOutLimit(t *testing.T) {
	ss := NewSessionStore()
	s, _ := ss.NewSession(nil, "s1")

	frame := &ServerComMessage{Event: evProfileCheck, Data: ""}
	for i := 0; i < cap(s.send); i++ {
		if !s.queueOut(frame) {
			t.Fatalf("frame %d rejected before the queue is full", i)
		}
	}
	if s.queueOut(frame) {
		t.Error("frame accepted by a full queue")
	}
}

// fillMailbox leaves 1+n tasks in bob's mailbox: the invite and n messages from alice.
func fillMailbox(t *testing.T, n int) {
	t.Helper()
	for _, p := range []types.Profile{alice, bob} {
		if _, err := globals.chat.AddUser(p); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := globals.chat.ResolveOrCreate(alice, bob); err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		if _, err := globals.chat.Append(alice, bob, strconv.Itoa(i), ts); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCheckUpdateLargeMailbox(t *testing.T) {
	startServer(t)
	const total = 2 * sendQueueLimit
	fillMailbox(t, total-1)

	s, _ := globals.sessionStore.NewSession(nil, "")
	globals.sessionStore.Bind(s, bob)

	frames := make(chan []ServerComMessage)
	go func() {
		var got []ServerComMessage
		for len(got) < total {
			select {
			case raw := <-s.send:
				var f ServerComMessage
				json.Unmarshal(raw, &f)
				got = append(got, f)
			case <-time.After(5 * time.Second):
				frames <- got
				return
			}
		}
		frames <- got
	}()

	s.checkUpdate(&ClientComMessage{Event: evCheckUpdate, timestamp: types.TimeNow()})
	got := <-frames

	if len(got) != total {
		t.Fatalf("expected %d task frames, got %d", total, len(got))
	}
	if got[0].Event != string(types.TaskNewRoom) || got[total-1].Event != string(types.TaskNewMessage) {
		t.Errorf("unexpected order: first '%s', last '%s'", got[0].Event, got[total-1].Event)
	}
	if tasks, err := globals.chat.Drain(bob.Email); err != nil || len(tasks) != 0 {
		t.Errorf("mailbox must be empty, got %d tasks %v", len(tasks), err)
	}
}

func TestCheckUpdateClosedSession(t *testing.T) {
	startServer(t)
	const total = 2 * sendQueueLimit
	fillMailbox(t, total-1)

	s, _ := globals.sessionStore.NewSession(nil, "")
	globals.sessionStore.Bind(s, bob)

	// The writer takes a few frames and exits.
	const taken = 10
	go func() {
		for i := 0; i < taken; i++ {
			<-s.send
		}
		s.markDone()
	}()

	s.checkUpdate(&ClientComMessage{Event: evCheckUpdate, timestamp: types.TimeNow()})

	left, err := globals.chat.Drain(bob.Email)
	if err != nil {
		t.Fatal(err)
	}
	if sent := taken + len(s.send); sent+len(left) != total {
		t.Errorf("tasks lost: %d sent, %d returned, %d total", sent, len(left), total)
	}
	if len(left) == 0 {
		t.Error("undelivered tasks must be returned to the mailbox")
	}
	for _, task := range left {
		if task.Task != types.TaskNewMessage {
			t.Errorf("unexpected returned task %+v", task)
		}
	}
}
