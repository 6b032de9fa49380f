package testsuite

import (
	"strconv"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	adapter "github.com/chemi/chat/server/db"
	"github.com/chemi/chat/server/db/common/test_data"
	types "github.com/chemi/chat/server/store/types"
)

func RunMailboxPushDrain(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	email := td.Users[2].Email
	var want []types.Task
	for _, task := range td.Tasks {
		if err := adp.MailboxPush(email, task); err != nil {
			t.Fatal(err)
		}
		want = append(want, *task)
	}

	got, err := adp.MailboxDrain(email)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}

	// Second drain finds the mailbox empty.
	got, err = adp.MailboxDrain(email)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("mailbox expected to be empty, got %+v", got)
	}

	if err := adp.MailboxPush("nobody@example.com", td.Tasks[0]); err != types.ErrNotFound {
		t.Errorf("push: expected ErrNotFound, got %v", err)
	}
	if _, err := adp.MailboxDrain("nobody@example.com"); err != types.ErrNotFound {
		t.Errorf("drain: expected ErrNotFound, got %v", err)
	}
}

func RunMailboxOverflow(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	if err := adp.SetMaxMailbox(2); err != nil {
		t.Fatal(err)
	}
	defer adp.SetMaxMailbox(0)

	email := td.Users[2].Email
	for _, task := range td.Tasks {
		if err := adp.MailboxPush(email, task); err != nil {
			t.Fatal(err)
		}
	}

	got, err := adp.MailboxDrain(email)
	if err != nil {
		t.Fatal(err)
	}
	// The oldest task is dropped.
	want := []types.Task{*td.Tasks[1], *td.Tasks[2]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}
}

// RunMailboxConcurrentDrain pushes and drains from several goroutines at once. Every task
// must be received exactly once, in the order of pushing within each drain.
func RunMailboxConcurrentDrain(t *testing.T, adp adapter.Adapter, td *test_data.TestData) {
	t.Helper()

	const pushers = 4
	const perPusher = 25

	email := td.Users[1].Email
	sender := td.Users[0].Profile()

	var received sync.Map
	var dupes, misordered int
	var mu sync.Mutex
	collect := func(tasks []types.Task) {
		last := make(map[int]int)
		for _, task := range tasks {
			if _, loaded := received.LoadOrStore(task.Message, true); loaded {
				mu.Lock()
				dupes++
				mu.Unlock()
			}
			// Message is "pusher.n": n must grow within a drain for the same pusher.
			p, _ := strconv.Atoi(task.Message[:1])
			n, _ := strconv.Atoi(task.Message[2:])
			if prev, ok := last[p]; ok && prev >= n {
				mu.Lock()
				misordered++
				mu.Unlock()
			}
			last[p] = n
		}
	}

	var pushWg, drainWg sync.WaitGroup
	done := make(chan struct{})
	errs := make(chan error, pushers*perPusher+8)

	for d := 0; d < 2; d++ {
		drainWg.Add(1)
		go func() {
			defer drainWg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				tasks, err := adp.MailboxDrain(email)
				if err != nil {
					errs <- err
					return
				}
				collect(tasks)
			}
		}()
	}

	for p := 0; p < pushers; p++ {
		pushWg.Add(1)
		go func(p int) {
			defer pushWg.Done()
			for n := 10; n < 10+perPusher; n++ {
				body := strconv.Itoa(p) + "." + strconv.Itoa(n)
				if err := adp.MailboxPush(email, types.NewMessageTask(sender, body, td.Now)); err != nil {
					errs <- err
				}
			}
		}(p)
	}

	pushWg.Wait()
	close(done)
	drainWg.Wait()

	// Whatever is left after the drainers stopped.
	tasks, err := adp.MailboxDrain(email)
	if err != nil {
		t.Fatal(err)
	}
	collect(tasks)

	close(errs)
	for err := range errs {
		t.Error(err)
	}

	count := 0
	received.Range(func(_, _ any) bool {
		count++
		return true
	})
	if count != pushers*perPusher {
		t.Errorf("expected %d tasks, received %d", pushers*perPusher, count)
	}
	if dupes > 0 {
		t.Errorf("%d tasks were received more than once", dupes)
	}
	if misordered > 0 {
		t.Errorf("%d tasks were received out of order", misordered)
	}
}
