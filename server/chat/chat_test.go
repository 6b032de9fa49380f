package chat

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"

	"github.com/chemi/chat/server/store"
	"github.com/chemi/chat/server/store/mock_store"
	"github.com/chemi/chat/server/store/types"
)

var (
	alice = types.Profile{Name: "Alice", Email: "a@x", ProfileUrl: "https://x/a.png"}
	bob   = types.Profile{Name: "Bob", Email: "b@x", ProfileUrl: "https://x/b.png"}
	carol = types.Profile{Name: "Carol", Email: "c@x"}

	abKey = "a@x&b@x"
)

type mockStore struct {
	users *mock_store.MockUsersPersistenceInterface
	convs *mock_store.MockConversationsPersistenceInterface
	msgs  *mock_store.MockMessagesPersistenceInterface
	mbox  *mock_store.MockMailboxPersistenceInterface
}

// useMockStore replaces store mappers with mocks for the duration of the test.
// Any call without an expectation fails the test.
func useMockStore(t *testing.T) *mockStore {
	ctrl := gomock.NewController(t)
	m := &mockStore{
		users: mock_store.NewMockUsersPersistenceInterface(ctrl),
		convs: mock_store.NewMockConversationsPersistenceInterface(ctrl),
		msgs:  mock_store.NewMockMessagesPersistenceInterface(ctrl),
		mbox:  mock_store.NewMockMailboxPersistenceInterface(ctrl),
	}

	users, convs, msgs, mbox := store.Users, store.Conversations, store.Messages, store.Mailbox
	store.Users, store.Conversations, store.Messages, store.Mailbox = m.users, m.convs, m.msgs, m.mbox
	t.Cleanup(func() {
		ctrl.Finish()
		store.Users, store.Conversations, store.Messages, store.Mailbox = users, convs, msgs, mbox
	})
	return m
}

func testService(maxIdAttempts int) *Service {
	s := withSource(newService(nil, maxIdAttempts, 16), 8, rand.NewPCG(1, 2))
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func userRec(p types.Profile, chatrooms ...string) types.User {
	return types.User{Email: p.Email, Name: p.Name, ProfileUrl: p.ProfileUrl, Chatrooms: chatrooms}
}

func expectKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if k := KindOf(err); k != kind {
		t.Fatalf("expected %s error, got %s: %v", kind, k, err)
	}
}

func TestResolveOrCreateSelf(t *testing.T) {
	useMockStore(t)
	s := testService(4)

	_, err := s.ResolveOrCreate(alice, alice)
	if !errors.Is(err, ErrSelfConversation) {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}
}

func TestResolveOrCreateExisting(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	m.convs.EXPECT().Get(abKey).Return(&types.Conversation{PairKey: abKey, Id: "00000001"}, nil)

	// Order of participants does not matter.
	_, err := s.ResolveOrCreate(bob, alice)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestResolveOrCreateMissingUser(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	m.convs.EXPECT().Get(abKey).Return(nil, nil)
	m.users.EXPECT().GetAll(alice.Email, bob.Email).Return([]types.User{userRec(alice)}, nil)

	_, err := s.ResolveOrCreate(alice, bob)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestResolveOrCreate(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	m.convs.EXPECT().Get(abKey).Return(nil, nil)
	m.users.EXPECT().GetAll(alice.Email, bob.Email).
		Return([]types.User{userRec(bob), userRec(alice)}, nil)
	m.convs.EXPECT().Create(gomock.Any(), gomock.Any(), bob.Email, gomock.Any()).DoAndReturn(
		func(conv *types.Conversation, first *types.Message, inviteFor string, invite *types.Task) error {
			if conv.PairKey != abKey {
				t.Errorf("pair key: expected '%s', got '%s'", abKey, conv.PairKey)
			}
			if !types.IsRoomId(conv.Id, 8) {
				t.Errorf("invalid room id '%s'", conv.Id)
			}
			if diff := cmp.Diff([]string{alice.Email, bob.Email}, conv.Users); diff != "" {
				t.Error(diff)
			}
			if !first.IsSystem() || first.Topic != conv.Id || first.Content != types.ConversationCreatedText {
				t.Errorf("unexpected first message %+v", first)
			}
			if diff := cmp.Diff(types.NewRoomTask(alice, conv.Id), invite); diff != "" {
				t.Error(diff)
			}
			return nil
		})

	conv, err := s.ResolveOrCreate(alice, bob)
	if err != nil {
		t.Fatal(err)
	}
	if conv.PairKey != abKey {
		t.Errorf("expected pair key '%s', got '%s'", abKey, conv.PairKey)
	}
}

func TestResolveOrCreateIdCollision(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	var ids []string
	m.convs.EXPECT().Get(abKey).Return(nil, nil).Times(3)
	m.users.EXPECT().GetAll(alice.Email, bob.Email).Return([]types.User{userRec(alice), userRec(bob)}, nil)
	m.convs.EXPECT().Create(gomock.Any(), gomock.Any(), bob.Email, gomock.Any()).DoAndReturn(
		func(conv *types.Conversation, _ *types.Message, _ string, _ *types.Task) error {
			ids = append(ids, conv.Id)
			if len(ids) < 3 {
				return types.ErrDuplicate
			}
			return nil
		}).Times(3)

	conv, err := s.ResolveOrCreate(alice, bob)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Id != ids[2] {
		t.Errorf("expected id of the last attempt '%s', got '%s'", ids[2], conv.Id)
	}
}

func TestResolveOrCreateExhausted(t *testing.T) {
	m := useMockStore(t)
	s := testService(3)

	m.convs.EXPECT().Get(abKey).Return(nil, nil).Times(4)
	m.users.EXPECT().GetAll(alice.Email, bob.Email).Return([]types.User{userRec(alice), userRec(bob)}, nil)
	m.convs.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(types.ErrDuplicate).Times(3)

	_, err := s.ResolveOrCreate(alice, bob)
	if !errors.Is(err, ErrIdSpaceExhausted) {
		t.Fatalf("expected ErrIdSpaceExhausted, got %v", err)
	}
}

func TestResolveOrCreateLostRace(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	gomock.InOrder(
		m.convs.EXPECT().Get(abKey).Return(nil, nil),
		m.users.EXPECT().GetAll(alice.Email, bob.Email).Return([]types.User{userRec(alice), userRec(bob)}, nil),
		m.convs.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(types.ErrDuplicate),
		m.convs.EXPECT().Get(abKey).Return(&types.Conversation{PairKey: abKey, Id: "12345678"}, nil),
	)

	_, err := s.ResolveOrCreate(alice, bob)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestResolveOrCreateStorageError(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	m.convs.EXPECT().Get(abKey).Return(nil, nil)
	m.users.EXPECT().GetAll(alice.Email, bob.Email).Return([]types.User{userRec(alice), userRec(bob)}, nil)
	m.convs.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("connection reset"))

	_, err := s.ResolveOrCreate(alice, bob)
	expectKind(t, err, KindStorage)
}

func TestFind(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	m.convs.EXPECT().Get(abKey).Return(&types.Conversation{PairKey: abKey, Id: "00000042"}, nil)
	m.convs.EXPECT().Get("a@x&c@x").Return(nil, nil)

	if id, err := s.Find(bob.Email, alice.Email); err != nil || id != "00000042" {
		t.Errorf("expected '00000042', got '%s' (%v)", id, err)
	}
	if id, err := s.Find(alice.Email, carol.Email); err != nil || id != "" {
		t.Errorf("expected no conversation, got '%s' (%v)", id, err)
	}
	// No conversations with self, store is not consulted.
	if id, err := s.Find(alice.Email, alice.Email); err != nil || id != "" {
		t.Errorf("expected no conversation with self, got '%s' (%v)", id, err)
	}
}

func TestAppendDelivered(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)
	ts := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)

	m.convs.EXPECT().Get(abKey).Return(&types.Conversation{PairKey: abKey, Id: "00000007"}, nil)
	m.msgs.EXPECT().Save(gomock.Any()).DoAndReturn(func(msg *types.Message) error {
		msg.SeqId = 2
		return nil
	})
	m.users.EXPECT().HasChatroom(bob.Email, "00000007").Return(true, nil)
	m.mbox.EXPECT().Push(bob.Email, types.NewMessageTask(alice, "hi", ts)).Return(nil)

	res, err := s.Append(alice, bob, "hi", ts)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Delivered {
		t.Error("message expected to be delivered")
	}
	want := &types.Message{
		Topic:        "00000007",
		SeqId:        2,
		Sender:       alice.Email,
		SenderName:   alice.Name,
		Receiver:     bob.Email,
		ReceiverName: bob.Name,
		Time:         ts,
		Content:      "hi",
	}
	if diff := cmp.Diff(want, res.Message); diff != "" {
		t.Error(diff)
	}
}

func TestAppendPeerLeft(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	m.convs.EXPECT().Get(abKey).Return(&types.Conversation{PairKey: abKey, Id: "00000007"}, nil)
	m.msgs.EXPECT().Save(gomock.Any()).Return(nil)
	m.users.EXPECT().HasChatroom(bob.Email, "00000007").Return(false, nil)
	// No Push expected.

	res, err := s.Append(alice, bob, "anyone?", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Delivered {
		t.Error("message must not be delivered to a peer who left")
	}
	if !res.Message.Time.Equal(s.now()) {
		t.Errorf("missing time expected to default to now, got %v", res.Message.Time)
	}
}

func TestAppendNoConversation(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	m.convs.EXPECT().Get(abKey).Return(nil, nil)

	_, err := s.Append(alice, bob, "hi", time.Time{})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestLeave(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	m.convs.EXPECT().Get(abKey).Return(&types.Conversation{PairKey: abKey, Id: "00000007"}, nil)
	m.users.EXPECT().LeaveChatroom(bob.Email, "00000007").Return(nil)
	m.mbox.EXPECT().Push(alice.Email, types.PeerLeftTask(bob)).Return(nil)

	conv, err := s.Leave(bob, alice)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Id != "00000007" {
		t.Errorf("expected chatroom '00000007', got '%s'", conv.Id)
	}
}

func TestLeaveMissingUser(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	m.convs.EXPECT().Get(abKey).Return(&types.Conversation{PairKey: abKey, Id: "00000007"}, nil)
	m.users.EXPECT().LeaveChatroom(bob.Email, "00000007").Return(types.ErrNotFound)

	_, err := s.Leave(bob, alice)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGetLogPaged(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	page1 := []types.Message{{SeqId: 1, Sender: types.SystemSender}, {SeqId: 2, Content: "one"}}
	page2 := []types.Message{{SeqId: 3, Content: "two"}}

	m.users.EXPECT().GetAll(alice.Email, bob.Email).Return([]types.User{userRec(alice), userRec(bob)}, nil)
	m.convs.EXPECT().Get(abKey).Return(&types.Conversation{PairKey: abKey, Id: "00000007", SeqId: 3}, nil)
	gomock.InOrder(
		m.msgs.EXPECT().GetAll("00000007", &types.QueryOpt{Since: 1}).Return(page1, nil),
		m.msgs.EXPECT().GetAll("00000007", &types.QueryOpt{Since: 3}).Return(page2, nil),
	)

	log, err := s.GetLog(alice.Email, bob.Email)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(append(page1, page2...), log); diff != "" {
		t.Error(diff)
	}
}

func TestListConversations(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)
	ts := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)

	m.users.EXPECT().Get(alice.Email).Return(&types.User{Email: alice.Email, Chatrooms: []string{"3", "1", "2"}}, nil)
	// Latest message sent by alice: opponent is the receiver.
	m.msgs.EXPECT().GetLatest("3").Return(&types.Message{Sender: alice.Email, Receiver: bob.Email, Content: "bye", Time: ts}, nil)
	// No user messages yet: opponent comes from the index record.
	m.msgs.EXPECT().GetLatest("1").Return(nil, nil)
	m.convs.EXPECT().GetById("1").Return(&types.Conversation{Id: "1", Users: []string{alice.Email, carol.Email}}, nil)
	m.msgs.EXPECT().GetLatest("2").Return(nil, errors.New("timeout"))
	// Carol is not resolved.
	m.users.EXPECT().GetAll(bob.Email, carol.Email).Return([]types.User{userRec(bob)}, nil)

	list, err := s.ListConversations(alice.Email)
	if err != nil {
		t.Fatal(err)
	}
	want := []Summary{
		{RoomId: "3", LastMessage: "bye", LastTime: &ts, OpponentEmail: bob.Email,
			OpponentName: bob.Name, OpponentUrl: bob.ProfileUrl},
		{RoomId: "1", OpponentEmail: carol.Email,
			Error: "could not find user with the following email address: c@x"},
		{RoomId: "2", Error: "failed to read chatroom 2"},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Error(diff)
	}
}

func TestListConversationsMissingUser(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	m.users.EXPECT().Get(alice.Email).Return(nil, nil)

	_, err := s.ListConversations(alice.Email)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDrain(t *testing.T) {
	m := useMockStore(t)
	s := testService(4)

	tasks := []types.Task{*types.NewRoomTask(alice, "00000001"), *types.PeerLeftTask(alice)}
	m.mbox.EXPECT().Drain(bob.Email).Return(tasks, nil)
	m.mbox.EXPECT().Drain(carol.Email).Return(nil, types.ErrNotFound)

	got, err := s.Drain(bob.Email)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(tasks, got); diff != "" {
		t.Error(diff)
	}

	if _, err := s.Drain(carol.Email); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := s.Drain(""); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
