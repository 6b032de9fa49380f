package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"

	"github.com/chemi/chat/server/store/types"
)

func strPtr(s string) *string {
	return &s
}

func TestDispatchValidation(t *testing.T) {
	// No expectations: validation must not touch the store.
	useMockStore(t)
	s := testService(4)

	cases := []struct {
		name string
		req  *Request
		want string
	}{
		{"nil", nil, "request is empty"},
		{"no signal", &Request{Sender: &alice}, "signal is missing"},
		{"unknown signal", &Request{Signal: "DROP_TABLE", Sender: &alice}, "unknown signal 'DROP_TABLE'"},
		{"no sender", &Request{Signal: SignalAddUser}, "sender is missing"},
		{"blank sender", &Request{Signal: SignalAddUser, Sender: &types.Profile{Email: "  "}}, "sender is missing"},
		{"create no receiver", &Request{Signal: SignalCreateChatroom, Sender: &alice}, "receiver is missing"},
		{"leave no receiver", &Request{Signal: SignalDeleteChatroom, Sender: &alice}, "receiver is missing"},
		{"log no receiver", &Request{Signal: SignalGetConversation, Sender: &alice,
			Receiver: &types.Profile{Name: "Bob"}}, "receiver is missing"},
		{"append no message", &Request{Signal: SignalUpdateConversation, Sender: &alice, Receiver: &bob},
			"message is missing"},
		{"append empty message", &Request{Signal: SignalUpdateConversation, Sender: &alice, Receiver: &bob,
			Message: strPtr("")}, "message is missing"},
		{"append too long", &Request{Signal: SignalUpdateConversation, Sender: &alice, Receiver: &bob,
			Message: strPtr(strings.Repeat("x", 17))}, "message is too long (17 > 16)"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := s.Dispatch(tc.req)
			if !res.IsError() {
				t.Fatalf("expected an error, got %+v", res)
			}
			if *res.Error != tc.want {
				t.Errorf("expected error '%s', got '%s'", tc.want, *res.Error)
			}
			if res.Response != tc.want {
				t.Errorf("response expected to repeat the error, got %v", res.Response)
			}
			if res.Signal != nil {
				t.Errorf("error result must not carry a signal, got %d", *res.Signal)
			}
		})
	}
}

func TestValidateGraphemes(t *testing.T) {
	s := testService(4)
	// 16 user-perceived characters, many more code points.
	thumbs := strings.Repeat("👍🏽", 16)
	req := &Request{Signal: SignalUpdateConversation, Sender: &alice, Receiver: &bob, Message: &thumbs}
	if _, err := s.validate(req); err != nil {
		t.Errorf("message of 16 graphemes must pass: %v", err)
	}

	thumbs += "👍🏽"
	if _, err := s.validate(req); !IsValidation(err) {
		t.Errorf("message of 17 graphemes must fail, got %v", err)
	}
}

func TestValidateOptionalReceiver(t *testing.T) {
	s := testService(4)
	for _, sig := range []Signal{SignalAddUser, SignalGetAllChatrooms} {
		if _, err := s.validate(&Request{Signal: sig, Sender: &alice}); err != nil {
			t.Errorf("%s: receiver must be optional: %v", sig, err)
		}
	}
}

func TestDispatchAddUser(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	gomock.InOrder(
		m.users.EXPECT().Create(gomock.Any()).Return(nil),
		m.users.EXPECT().Create(gomock.Any()).Return(types.ErrDuplicate),
	)

	req := &Request{Signal: SignalAddUser, Sender: &types.Profile{Name: "Alice", Email: " a@x "}}
	res := s.Dispatch(req)
	if res.IsError() || res.Response != "Added email: a@x" {
		t.Errorf("unexpected result %+v", res)
	}

	res = s.Dispatch(req)
	if res.IsError() || res.Response != ExistingUserText || res.Signal != nil {
		t.Errorf("existing user expected to be reported without error, got %+v", res)
	}
}

func TestDispatchCreate(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	m.convs.EXPECT().Get(abKey).Return(nil, nil)
	m.users.EXPECT().GetAll(alice.Email, bob.Email).Return([]types.User{userRec(alice), userRec(bob)}, nil)
	m.convs.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(conv *types.Conversation, _ *types.Message, _ string, _ *types.Task) error {
			conv.Id = "00000123"
			return nil
		})

	res := s.Dispatch(&Request{Signal: SignalCreateChatroom, Sender: &alice, Receiver: &bob})
	if res.IsError() {
		t.Fatal(*res.Error)
	}
	if res.Signal == nil || *res.Signal != RespCreateRoom {
		t.Fatalf("expected signal %d, got %v", RespCreateRoom, res.Signal)
	}
	want := &CreateResponse{RoomId: "00000123", User1: alice, User2: bob}
	if diff := cmp.Diff(want, res.Response); diff != "" {
		t.Error(diff)
	}
}

func TestDispatchSelf(t *testing.T) {
	useMockStore(t)
	s := testService(4)

	res := s.Dispatch(&Request{Signal: SignalCreateChatroom, Sender: &alice, Receiver: &alice})
	if !res.IsError() || *res.Error != ErrSelfConversation.Msg {
		t.Errorf("expected self conversation error, got %+v", res)
	}
}

func TestDispatchAppendPeerLeft(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	m.convs.EXPECT().Get(abKey).Return(&types.Conversation{PairKey: abKey, Id: "00000007"}, nil)
	m.msgs.EXPECT().Save(gomock.Any()).Return(nil)
	m.users.EXPECT().HasChatroom(bob.Email, "00000007").Return(false, nil)

	res := s.Dispatch(&Request{Signal: SignalUpdateConversation, Sender: &alice, Receiver: &bob,
		Message: strPtr("hello?")})
	if res.IsError() || res.Signal != nil || res.Response != PeerLeftNotice {
		t.Errorf("expected peer left notice, got %+v", res)
	}
}

func TestDispatchAppendNormalized(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)
	ts := time.UnixMilli(1714567890123).UTC()

	m.convs.EXPECT().Get(abKey).Return(&types.Conversation{PairKey: abKey, Id: "00000007"}, nil)
	m.msgs.EXPECT().Save(gomock.Any()).Return(nil)
	m.users.EXPECT().HasChatroom(bob.Email, "00000007").Return(true, nil)
	// Decomposed "é" is stored composed.
	m.mbox.EXPECT().Push(bob.Email, types.NewMessageTask(alice, "café", ts)).Return(nil)

	var req Request
	raw := `{"signal":"UPDATE_CONVERSATION","route":"mobile","time":"1714567890123",
		"sender":{"name":"Alice","email":"a@x","profileUrl":"https://x/a.png"},
		"receiver":{"name":"Bob","email":"b@x","profileUrl":"https://x/b.png"},
		"message":"cafe\u0301"}`
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatal(err)
	}

	res := s.Dispatch(&req)
	if res.IsError() {
		t.Fatal(*res.Error)
	}
	want := &DeliveryResponse{Sender: alice, Receiver: bob, Message: "café"}
	if diff := cmp.Diff(want, res.Response); diff != "" {
		t.Error(diff)
	}
}

func TestResultJSON(t *testing.T) {
	out, err := json.Marshal(ErrorResult(ErrConversationNotFound))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"error":"chatroom does not exist","signal":null,"response":"chatroom does not exist"}`
	if string(out) != want {
		t.Errorf("expected %s, got %s", want, out)
	}

	out, _ = json.Marshal(textResult(ExistingUserText))
	want = `{"error":null,"signal":null,"response":"User already exists"}`
	if string(out) != want {
		t.Errorf("expected %s, got %s", want, out)
	}
}

func TestTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 51, 30, 123000000, time.UTC)
	for _, src := range []string{`1714567890123`, `"1714567890123"`, `"2024-05-01T12:51:30.123Z"`,
		`"2024-05-01T14:51:30.123+02:00"`} {
		var ts Timestamp
		if err := json.Unmarshal([]byte(src), &ts); err != nil {
			t.Errorf("%s: %v", src, err)
			continue
		}
		if !ts.Equal(want) {
			t.Errorf("%s: expected %v, got %v", src, want, ts.Time)
		}
	}

	var ts Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Error("invalid time must fail")
	}
	if err := json.Unmarshal([]byte(`null`), &ts); err != nil || !ts.IsZero() {
		t.Errorf("null must leave time unset: %v", err)
	}

	out, _ := json.Marshal(Timestamp{want})
	if string(out) != "1714567890123" {
		t.Errorf("expected milliseconds, got %s", out)
	}
}
