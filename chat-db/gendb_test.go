package main

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"testing"

	"github.com/chemi/chat/server/chat"
	"github.com/chemi/chat/server/store"
	"github.com/chemi/chat/server/store/types"
)

const sqliteConfig = `{
	"uid_key": "la6YsO+bNX/+XIkOqc5Svw==",
	"use_adapter": "sqlite",
	"adapters": {
		"sqlite": {"path": ":memory:"}
	}
}`

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func initDb(t *testing.T) {
	t.Helper()
	if err := store.Store.InitDb(json.RawMessage(sqliteConfig), true); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Store.Close() })
}

func TestGenDb(t *testing.T) {
	initDb(t)

	data, err := loadData("data.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := genDb(data, false); err != nil {
		t.Fatal(err)
	}

	svc := chat.NewService(nil)
	msgs, err := svc.GetLog("bob@example.com", "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 || !msgs[0].IsSystem() || msgs[3].Sender != "alice@example.com" {
		t.Errorf("unexpected log %+v", msgs)
	}

	rooms, err := svc.ListConversations("alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 {
		t.Errorf("alice must be in 2 chatrooms, got %d", len(rooms))
	}

	// Dave left his only conversation.
	rooms, err = svc.ListConversations("dave@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 0 {
		t.Errorf("dave must have no chatrooms, got %+v", rooms)
	}

	for _, email := range []string{"alice@example.com", "bob@example.com", "carol@example.com"} {
		if tasks, err := svc.Drain(email); err != nil || len(tasks) != 0 {
			t.Errorf("%s: mailbox must be cleared, got %+v %v", email, tasks, err)
		}
	}
}

func TestGenDbKeepTasks(t *testing.T) {
	initDb(t)

	data := &Data{
		Users: []types.Profile{{Name: "A", Email: "a@x"}, {Name: "B", Email: "b@x"}},
		Conversations: []Conversation{{
			Users:    []string{"a@x", "b@x"},
			Messages: []Message{{From: "a@x", Text: "hi", At: "-1m"}},
		}},
	}
	if err := genDb(data, true); err != nil {
		t.Fatal(err)
	}

	tasks, err := chat.NewService(nil).Drain("b@x")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 || tasks[0].Task != types.TaskNewRoom || tasks[1].Task != types.TaskNewMessage {
		t.Errorf("unexpected tasks %+v", tasks)
	}
}

func TestValidateData(t *testing.T) {
	users := []types.Profile{{Email: "a@x"}, {Email: "b@x"}}
	cases := map[string]*Data{
		"no email": {Users: []types.Profile{{Name: "A"}}},
		"one user": {Users: users, Conversations: []Conversation{{Users: []string{"a@x"}}}},
		"unknown":  {Users: users, Conversations: []Conversation{{Users: []string{"a@x", "c@x"}}}},
		"outsider": {Users: users, Conversations: []Conversation{{
			Users:    []string{"a@x", "b@x"},
			Messages: []Message{{From: "c@x", Text: "hi"}},
		}}},
		"bad offset": {Users: users, Conversations: []Conversation{{
			Users:    []string{"a@x", "b@x"},
			Messages: []Message{{From: "a@x", Text: "hi", At: "yesterday"}},
		}}},
		"left outsider": {Users: users, Conversations: []Conversation{{
			Users: []string{"a@x", "b@x"},
			Left:  []string{"c@x"},
		}}},
	}
	for name, data := range cases {
		if err := data.validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	ok := &Data{Users: users, Conversations: []Conversation{{Users: []string{"a@x", "b@x"}}}}
	if err := ok.validate(); err != nil {
		t.Errorf("valid data rejected: %v", err)
	}
}
