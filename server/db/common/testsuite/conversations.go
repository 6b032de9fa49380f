package testsuite

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	adapter "github.com/chemi/chat/server/db"
	"github.com/chemi/chat/server/db/common/test_data"
	types "github.com/chemi/chat/server/store/types"
)

// invitee is the participant who did not start the conversation: the second user
// of the fixture pair.
func invitee(td *test_data.TestData, i int) (string, *types.Task) {
	inviter, invited := td.Users[0], td.Users[1]
	if i == 1 {
		inviter, invited = td.Users[2], td.Users[0]
	}
	return invited.Email, types.NewRoomTask(inviter.Profile(), td.Convs[i].Id)
}

func RunConvCreate(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	for i, conv := range td.Convs {
		inviteFor, invite := invitee(td, i)
		if err := adp.ConvCreate(conv, td.Firsts[i], inviteFor, invite); err != nil {
			t.Fatal(err)
		}
	}

	wantRooms := map[string][]string{
		td.Users[0].Email: {td.Convs[0].Id, td.Convs[1].Id},
		td.Users[1].Email: {td.Convs[0].Id},
		td.Users[2].Email: {td.Convs[1].Id},
	}
	for email, want := range wantRooms {
		got, err := adp.UserGet(email)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got.Chatrooms); diff != "" {
			t.Errorf("chatrooms of %s: %s", email, diff)
		}
	}

	// Each invitee got exactly one invite, the inviters got nothing.
	for i := range td.Convs {
		inviteFor, invite := invitee(td, i)
		tasks, err := adp.MailboxDrain(inviteFor)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]types.Task{*invite}, tasks); diff != "" {
			t.Errorf("mailbox of %s: %s", inviteFor, diff)
		}
	}
	tasks, err := adp.MailboxDrain(td.Users[2].Email)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("inviter's mailbox must be empty, got %+v", tasks)
	}

	msgs, err := adp.MessageGetAll(td.Convs[0].Id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]types.Message{*td.Firsts[0]}, msgs); diff != "" {
		t.Errorf("log must start with the system message: %s", diff)
	}
}

func RunConvCreateDuplicate(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	alice, bob, carol := td.Users[0], td.Users[1], td.Users[2]

	// Same pair, fresh id.
	conv := &types.Conversation{
		PairKey:   td.Convs[0].PairKey,
		Id:        "10000003",
		Users:     td.Convs[0].Users,
		CreatedAt: td.Now,
		SeqId:     1,
	}
	err := adp.ConvCreate(conv, types.NewSystemMessage(conv.Id, td.Now), bob.Email,
		types.NewRoomTask(alice.Profile(), conv.Id))
	if err != types.ErrDuplicate {
		t.Fatalf("duplicate pair-key: expected ErrDuplicate, got %v", err)
	}
	if got, err := adp.ConvGetById(conv.Id); err != nil || got != nil {
		t.Errorf("rejected conversation must not be stored: %+v %v", got, err)
	}
	if msgs, err := adp.MessageGetAll(conv.Id, nil); err != nil || len(msgs) != 0 {
		t.Errorf("rejected conversation must have no log: %+v %v", msgs, err)
	}

	// Fresh pair, taken id.
	key := types.PairKey(bob.Email, carol.Email)
	conv = &types.Conversation{
		PairKey:   key,
		Id:        td.Convs[0].Id,
		Users:     types.PairUsers(bob.Email, carol.Email),
		CreatedAt: td.Now,
		SeqId:     1,
	}
	err = adp.ConvCreate(conv, types.NewSystemMessage(conv.Id, td.Now), carol.Email,
		types.NewRoomTask(bob.Profile(), conv.Id))
	if err != types.ErrDuplicate {
		t.Fatalf("duplicate id: expected ErrDuplicate, got %v", err)
	}
	if got, err := adp.ConvGet(key); err != nil || got != nil {
		t.Errorf("rejected conversation must not be stored: %+v %v", got, err)
	}

	// Nothing else changed.
	for _, email := range []string{bob.Email, carol.Email} {
		tasks, err := adp.MailboxDrain(email)
		if err != nil {
			t.Fatal(err)
		}
		if len(tasks) != 0 {
			t.Errorf("rejected conversation must not notify %s: %+v", email, tasks)
		}
	}
	got, err := adp.UserGet(carol.Email)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{td.Convs[1].Id}, got.Chatrooms); diff != "" {
		t.Error(diff)
	}
	msgs, err := adp.MessageGetAll(td.Convs[0].Id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]types.Message{*td.Firsts[0]}, msgs); diff != "" {
		t.Errorf("log of the existing conversation must be intact: %s", diff)
	}
}

func RunConvGet(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	for _, conv := range td.Convs {
		got, err := adp.ConvGet(conv.PairKey)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(conv, got, cmpopts.IgnoreFields(types.Conversation{}, "SeqId")); diff != "" {
			t.Error(diff)
		}

		got, err = adp.ConvGetById(conv.Id)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || got.PairKey != conv.PairKey {
			t.Error(mismatchErrorString("Conversation", got, conv))
		}
	}

	if got, err := adp.ConvGet("nobody@example.com&noone@example.com"); err != nil || got != nil {
		t.Errorf("expected (nil, nil), got (%+v, %v)", got, err)
	}
	if got, err := adp.ConvGetById("99999999"); err != nil || got != nil {
		t.Errorf("expected (nil, nil), got (%+v, %v)", got, err)
	}
}
