package sqlite

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chemi/chat/server/db/common/test_data"
	"github.com/chemi/chat/server/db/common/testsuite"
	"github.com/chemi/chat/server/store/types"
)

func openMemory(t *testing.T) *adapter {
	t.Helper()

	adp := GetAdapter()
	if err := adp.Open([]byte(`{"path": ":memory:"}`)); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { adp.Close() })

	if err := adp.SetMaxMailbox(0); err != nil {
		t.Fatal(err)
	}
	if err := adp.CreateDb(true); err != nil {
		t.Fatal(err)
	}
	return adp
}

func TestAdapter(t *testing.T) {
	testsuite.Run(t, openMemory(t), test_data.InitTestData())
}

func TestDbVersion(t *testing.T) {
	adp := openMemory(t)

	if err := adp.CheckDbVersion(); err != nil {
		t.Fatal(err)
	}
	if _, err := adp.db.Exec("UPDATE kvmeta SET value='1' WHERE key='version'"); err != nil {
		t.Fatal(err)
	}
	adp.version = -1
	if err := adp.CheckDbVersion(); err == nil {
		t.Error("expected version mismatch")
	}
}

func TestNotInitialized(t *testing.T) {
	adp := GetAdapter()
	if err := adp.Open([]byte(`{"path": ":memory:"}`)); err != nil {
		t.Fatal(err)
	}
	defer adp.Close()

	if _, err := adp.GetDbVersion(); err == nil || err.Error() != "Database not initialized" {
		t.Errorf("expected 'Database not initialized', got %v", err)
	}
}

func TestOpenTwice(t *testing.T) {
	adp := openMemory(t)
	if err := adp.Open(nil); err == nil {
		t.Error("second Open must fail")
	}
}

func TestTimeRoundTrip(t *testing.T) {
	td := test_data.InitTestData()
	if got := stringToTime(timeToString(td.Now)); !got.Equal(td.Now) {
		t.Errorf("time mismatch: got %v want %v", got, td.Now)
	}
}

func TestMailboxDrainSkipsMalformed(t *testing.T) {
	adp := openMemory(t)
	td := test_data.InitTestData()
	user := td.Users[0]
	if err := adp.UserCreate(user); err != nil {
		t.Fatal(err)
	}

	first := types.NewRoomTask(td.Users[1].Profile(), "00000001")
	second := types.PeerLeftTask(td.Users[1].Profile())
	if err := adp.MailboxPush(user.Email, first); err != nil {
		t.Fatal(err)
	}
	if _, err := adp.db.Exec("INSERT INTO tasks(email,task) VALUES(?,?)", user.Email, "{broken"); err != nil {
		t.Fatal(err)
	}
	if err := adp.MailboxPush(user.Email, second); err != nil {
		t.Fatal(err)
	}

	got, err := adp.MailboxDrain(user.Email)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]types.Task{*first, *second}, got); diff != "" {
		t.Errorf("drain mismatch (-want +got):\n%s", diff)
	}
	if got, err := adp.MailboxDrain(user.Email); err != nil || len(got) != 0 {
		t.Errorf("mailbox must be empty, got %+v %v", got, err)
	}
}
