package common

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	t "github.com/chemi/chat/server/store/types"
)

func TestQueryLimit(tt *testing.T) {
	cases := []struct {
		opts *t.QueryOpt
		max  int
		want int
	}{
		{nil, 1024, 1024},
		{&t.QueryOpt{}, 1024, 1024},
		{&t.QueryOpt{Limit: 10}, 1024, 10},
		{&t.QueryOpt{Limit: 5000}, 1024, 1024},
	}
	for i, tc := range cases {
		if got := QueryLimit(tc.opts, tc.max); got != tc.want {
			tt.Errorf("case %d: expected %d, got %d", i, tc.want, got)
		}
	}
}

func TestSeqRange(tt *testing.T) {
	if since, before := SeqRange(nil); since != 1 || before != 0 {
		tt.Errorf("nil options: expected [1, 0), got [%d, %d)", since, before)
	}
	if since, before := SeqRange(&t.QueryOpt{Since: 5, Before: 9}); since != 5 || before != 9 {
		tt.Errorf("expected [5, 9), got [%d, %d)", since, before)
	}
}

func TestTrimMailbox(tt *testing.T) {
	tasks := []t.Task{
		*t.NewRoomTask(t.Profile{Email: "a@x"}, "00000001"),
		*t.NewMessageTask(t.Profile{Email: "a@x"}, "one", time.Unix(1, 0).UTC()),
		*t.NewMessageTask(t.Profile{Email: "a@x"}, "two", time.Unix(2, 0).UTC()),
	}

	if got := TrimMailbox(tasks, 0); len(got) != 3 {
		tt.Errorf("unbounded mailbox must not be trimmed, got %d", len(got))
	}
	if got := TrimMailbox(tasks, 5); len(got) != 3 {
		tt.Errorf("mailbox under the limit must not be trimmed, got %d", len(got))
	}
	if diff := cmp.Diff(tasks[1:], TrimMailbox(tasks, 2)); diff != "" {
		tt.Errorf("oldest task expected to be dropped: %s", diff)
	}
}

func TestEncodeTask(tt *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	task := t.NewMessageTask(t.Profile{Name: "A", Email: "a@x", ProfileUrl: "u"}, "hi", ts)

	got, err := DecodeTask(EncodeTask(task))
	if err != nil {
		tt.Fatal(err)
	}
	if diff := cmp.Diff(*task, got); diff != "" {
		tt.Error(diff)
	}

	if _, err := DecodeTask(nil); err != t.ErrMalformed {
		tt.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeTasks(tt *testing.T) {
	first := t.NewRoomTask(t.Profile{Email: "a@x"}, "00000001")
	second := t.PeerLeftTask(t.Profile{Email: "a@x"})

	got := DecodeTasks("b@x", [][]byte{EncodeTask(first), []byte("{broken"), nil, EncodeTask(second)})
	if diff := cmp.Diff([]t.Task{*first, *second}, got); diff != "" {
		tt.Errorf("malformed rows must be skipped (-want +got):\n%s", diff)
	}
	if got := DecodeTasks("b@x", nil); got == nil || len(got) != 0 {
		tt.Errorf("expected empty slice, got %#v", got)
	}
}
