package testsuite

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	adapter "github.com/chemi/chat/server/db"
	"github.com/chemi/chat/server/db/common/test_data"
	types "github.com/chemi/chat/server/store/types"
)

func seqIds(msgs []types.Message) []int {
	ids := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SeqId)
	}
	return ids
}

func RunMessageSave(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	for i, msg := range td.Msgs {
		if err := adp.MessageSave(msg); err != nil {
			t.Fatal(err)
		}
		// The system message is the first one.
		if msg.SeqId != i+2 {
			t.Errorf("message %d: expected seq %d, got %d", i, i+2, msg.SeqId)
		}
	}

	conv, err := adp.ConvGetById(td.Convs[0].Id)
	if err != nil {
		t.Fatal(err)
	}
	if conv.SeqId != len(td.Msgs)+1 {
		t.Error(mismatchErrorString("SeqId", conv.SeqId, len(td.Msgs)+1))
	}

	msg := &types.Message{Topic: "99999999", Sender: "x", Receiver: "y", Time: td.Now, Content: "lost"}
	if err := adp.MessageSave(msg); err == nil {
		t.Error("saving into a missing conversation must fail")
	}
}

func RunMessageGetAll(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	roomId := td.Convs[0].Id
	got, err := adp.MessageGetAll(roomId, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []types.Message{*td.Firsts[0]}
	for _, m := range td.Msgs {
		want = append(want, *m)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}

	cases := []struct {
		opts *types.QueryOpt
		want []int
	}{
		{&types.QueryOpt{Since: 2, Before: 4}, []int{2, 3}},
		{&types.QueryOpt{Since: 4}, []int{4, 5}},
		{&types.QueryOpt{Limit: 2}, []int{1, 2}},
		{&types.QueryOpt{Since: 100}, []int{}},
	}
	for _, tc := range cases {
		got, err := adp.MessageGetAll(roomId, tc.opts)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(tc.want, seqIds(got)); diff != "" {
			t.Errorf("query %+v: %s", *tc.opts, diff)
		}
	}

	// The adapter cap wins over the query.
	adp.SetMaxResults(3)
	defer adp.SetMaxResults(0)
	got, err = adp.MessageGetAll(roomId, &types.QueryOpt{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, seqIds(got)); diff != "" {
		t.Error(diff)
	}
}

func RunMessageGetLatest(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	got, err := adp.MessageGetLatest(td.Convs[0].Id)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(td.Msgs[len(td.Msgs)-1], got); diff != "" {
		t.Error(diff)
	}

	// Only the system message.
	got, err = adp.MessageGetLatest(td.Convs[1].Id)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected no user messages, got %+v", got)
	}
}
