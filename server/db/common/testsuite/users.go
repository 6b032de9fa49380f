// Package testsuite contains adapter tests shared by all database backends. Each backend
// runs the suite against a freshly created database.
package testsuite

import (
	"fmt"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	adapter "github.com/chemi/chat/server/db"
	"github.com/chemi/chat/server/db/common/test_data"
	types "github.com/chemi/chat/server/store/types"
)

// Run executes the suite. Tests depend on each other and run in order.
func Run(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	steps := []struct {
		name string
		run  func(*testing.T, adapter.Adapter, *test_data.TestData)
	}{
		{"UserCreate", RunUserCreate},
		{"UserGet", RunUserGet},
		{"UserGetAll", RunUserGetAll},
		{"ConvCreate", RunConvCreate},
		{"ConvCreateDuplicate", RunConvCreateDuplicate},
		{"ConvGet", RunConvGet},
		{"MessageSave", RunMessageSave},
		{"MessageGetAll", RunMessageGetAll},
		{"MessageGetLatest", RunMessageGetLatest},
		{"MailboxPushDrain", RunMailboxPushDrain},
		{"MailboxOverflow", RunMailboxOverflow},
		{"MailboxConcurrentDrain", RunMailboxConcurrentDrain},
		{"UserLeaveChatroom", RunUserLeaveChatroom},
	}
	for _, step := range steps {
		if !t.Run(step.name, func(t *testing.T) { step.run(t, adp, td) }) {
			// Later steps rely on the state created by this one.
			t.FailNow()
		}
	}
}

var userOpts = []cmp.Option{cmpopts.IgnoreFields(types.User{}, "Tasks"), cmpopts.EquateEmpty()}

func mismatchErrorString(key string, got, want any) string {
	return fmt.Sprintf("%s mismatch:\nGot  = %+v\nWant = %+v", key, got, want)
}

func RunUserCreate(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	for _, user := range td.Users {
		if err := adp.UserCreate(user); err != nil {
			t.Fatal(err)
		}
	}

	impostor := *td.Users[0]
	impostor.Name = "Impostor"
	if err := adp.UserCreate(&impostor); err != types.ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := adp.UserGet(td.Users[0].Email)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != td.Users[0].Name {
		t.Error(mismatchErrorString("Name", got.Name, td.Users[0].Name))
	}
}

func RunUserGet(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	// Test not found
	got, err := adp.UserGet("nobody@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("user should be nil.")
	}

	got, err = adp.UserGet(td.Users[0].Email)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(td.Users[0], got, userOpts...); diff != "" {
		t.Error(diff)
	}
}

func RunUserGetAll(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	// Test not found
	got, err := adp.UserGetAll("nobody@example.com", "noone@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) > 0 {
		t.Error("result users should be zero length, got", len(got))
	}

	got, err = adp.UserGetAll(td.Users[1].Email, "nobody@example.com", td.Users[0].Email)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("result users length mismatch: got %d want 2", len(got))
	}
	sort.Slice(got, func(i, j int) bool { return got[i].Email < got[j].Email })
	for i, usr := range got {
		want := *td.Users[i]
		// Chatrooms are not loaded.
		usr.Chatrooms = nil
		want.Chatrooms = nil
		if diff := cmp.Diff(want, usr, userOpts...); diff != "" {
			t.Error(diff)
		}
	}
}

func RunUserLeaveChatroom(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	alice, bob := td.Users[0].Email, td.Users[1].Email
	roomId := td.Convs[0].Id

	if err := adp.UserLeaveChatroom(alice, roomId); err != nil {
		t.Fatal(err)
	}
	// Leaving twice is not an error.
	if err := adp.UserLeaveChatroom(alice, roomId); err != nil {
		t.Fatal(err)
	}
	if err := adp.UserLeaveChatroom("nobody@example.com", roomId); err != types.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if active, err := adp.UserHasChatroom(alice, roomId); err != nil || active {
		t.Errorf("chatroom expected to be inactive for %s: %v %v", alice, active, err)
	}
	if active, err := adp.UserHasChatroom(bob, roomId); err != nil || !active {
		t.Errorf("chatroom expected to remain active for %s: %v %v", bob, active, err)
	}

	got, err := adp.UserGet(alice)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{td.Convs[1].Id}, got.Chatrooms); diff != "" {
		t.Error(diff)
	}

	// The conversation and its log survive.
	conv, err := adp.ConvGetById(roomId)
	if err != nil || conv == nil {
		t.Fatalf("conversation must survive leaving: %v", err)
	}
	msgs, err := adp.MessageGetAll(roomId, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != len(td.Msgs)+1 {
		t.Errorf("log length mismatch: got %d want %d", len(msgs), len(td.Msgs)+1)
	}
}
