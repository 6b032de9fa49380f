// Package test_data contains the records shared by the adapter test suites.
package test_data

import (
	"time"

	"github.com/chemi/chat/server/store/types"
)

type TestData struct {
	Users []*types.User
	// Conversations and their first messages, index-aligned.
	Convs  []*types.Conversation
	Firsts []*types.Message
	// User messages of Convs[0], in log order after the first message.
	Msgs  []*types.Message
	Tasks []*types.Task
	Now   time.Time
}

func initUsers(now time.Time) []*types.User {
	users := []*types.User{
		{Email: "alice@example.com", Name: "Alice", ProfileUrl: "https://example.com/alice.png"},
		{Email: "bob@example.com", Name: "Bob", ProfileUrl: "https://example.com/bob.png"},
		{Email: "carol@example.com", Name: "Carol"},
	}
	for i, user := range users {
		user.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		user.Chatrooms = []string{}
		user.Tasks = []types.Task{}
	}
	return users
}

func initConvs(users []*types.User, now time.Time) ([]*types.Conversation, []*types.Message) {
	pairs := []struct {
		a, b *types.User
		id   string
	}{
		{users[0], users[1], "10000001"},
		{users[2], users[0], "10000002"},
	}

	var convs []*types.Conversation
	var firsts []*types.Message
	for i, p := range pairs {
		key := types.PairKey(p.a.Email, p.b.Email)
		ts := now.Add(time.Duration(10+i) * time.Minute)
		convs = append(convs, &types.Conversation{
			PairKey:   key,
			Id:        p.id,
			Users:     types.PairUsers(p.a.Email, p.b.Email),
			CreatedAt: ts,
			SeqId:     1,
		})
		firsts = append(firsts, types.NewSystemMessage(p.id, ts))
	}
	return convs, firsts
}

func initMessages(users []*types.User, conv *types.Conversation, now time.Time) []*types.Message {
	var msgs []*types.Message
	bodies := []string{"hi", "hello", "how are you?", "fine"}
	for i, body := range bodies {
		from, to := users[i%2], users[(i+1)%2]
		msgs = append(msgs, &types.Message{
			Topic:        conv.Id,
			Sender:       from.Email,
			SenderName:   from.Name,
			Receiver:     to.Email,
			ReceiverName: to.Name,
			Time:         now.Add(time.Duration(20+i) * time.Minute),
			Content:      body,
		})
	}
	return msgs
}

func initTasks(users []*types.User, now time.Time) []*types.Task {
	return []*types.Task{
		types.NewRoomTask(users[0].Profile(), "10000001"),
		types.NewMessageTask(users[0].Profile(), "hi", now.Add(30*time.Minute)),
		types.PeerLeftTask(users[0].Profile()),
	}
}

// InitTestData creates a fresh set of records.
func InitTestData() *TestData {
	now := types.TimeNow()
	users := initUsers(now)
	convs, firsts := initConvs(users, now)
	return &TestData{
		Users:  users,
		Convs:  convs,
		Firsts: firsts,
		Msgs:   initMessages(users, convs[0], now),
		Tasks:  initTasks(users, now),
		Now:    now,
	}
}
