package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/chemi/chat/server/store/types"
	"github.com/google/go-cmp/cmp"
)

type fakeConn struct {
	written []map[string]any
	frames  []string
}

func (f *fakeConn) WriteJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	f.written = append(f.written, m)
	return nil
}

func (f *fakeConn) ReadJSON(v any) error {
	if len(f.frames) == 0 {
		return io.EOF
	}
	raw := f.frames[0]
	f.frames = f.frames[1:]
	return json.Unmarshal([]byte(raw), v)
}

func newTestClient(frames ...string) (*client, *fakeConn, *bytes.Buffer) {
	conn := &fakeConn{frames: frames}
	out := &bytes.Buffer{}
	cli := newClient(conn, types.Profile{Name: "Alice", Email: "alice@example.com"}, out, false)
	cli.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return cli, conn, out
}

func TestCommand(t *testing.T) {
	me := map[string]any{"name": "Alice", "email": "alice@example.com", "profileUrl": ""}
	bob := map[string]any{"name": "", "email": "bob@example.com", "profileUrl": ""}

	cases := []struct {
		line string
		want map[string]any
	}{
		{"add", map[string]any{"event": evAddUser, "data": map[string]any{"sender": me}}},
		{"rooms", map[string]any{"event": evGetChatrooms, "data": map[string]any{"sender": me}}},
		{"poll", map[string]any{"event": evCheckUpdate, "data": me}},
		{"open bob@example.com", map[string]any{"event": evCreateChatroom,
			"data": map[string]any{"sender": me, "receiver": bob}}},
		{"leave bob@example.com", map[string]any{"event": evDeleteChatroom,
			"data": map[string]any{"sender": me, "receiver": bob}}},
		{"log bob@example.com", map[string]any{"event": evGetConversation,
			"data": map[string]any{"sender": me, "receiver": bob}}},
		{"send bob@example.com hello there", map[string]any{"event": evSendMessage,
			"data": map[string]any{"sender": me, "receiver": bob, "message": "hello there", "time": float64(1700000000000)}}},
	}
	for _, tc := range cases {
		cli, conn, _ := newTestClient()
		if err := cli.command(tc.line); err != nil {
			t.Errorf("'%s': %v", tc.line, err)
			continue
		}
		if len(conn.written) != 1 {
			t.Errorf("'%s': expected one frame, got %d", tc.line, len(conn.written))
			continue
		}
		if diff := cmp.Diff(tc.want, conn.written[0]); diff != "" {
			t.Errorf("'%s' mismatch (-want +got):\n%s", tc.line, diff)
		}
	}
}

func TestCommandErrors(t *testing.T) {
	for _, line := range []string{"open", "leave ", "send bob@example.com", "send bob@example.com  ", "dance"} {
		cli, conn, _ := newTestClient()
		if err := cli.command(line); err == nil {
			t.Errorf("'%s': expected error", line)
		}
		if len(conn.written) != 0 {
			t.Errorf("'%s': nothing must be sent, got %v", line, conn.written)
		}
	}
}

func TestReadLoop(t *testing.T) {
	cli, _, out := newTestClient(
		`{"event":"profileCheck","data":""}`,
		`{"event":"retrieveConversation","data":[{"seq":2,"sender":"bob@example.com","time":"2024-01-02T03:04:05Z","message":"hi"}]}`,
		`{"event":"chatRoomList","data":[{"room_id":"12345678","lastMessage":"hi","opponentEmail":"bob@example.com","opponentName":"Bob"},{"room_id":"87654321","error":"not found"}]}`,
		`{"event":"chatRoomList","data":[]}`,
		`{"event":"error","data":{"event":"sendMessage","code":400,"text":"receiver is missing"}}`,
		`{"event":"newChatRoomCreated","data":{"task":"newChatRoomCreated","peer":{"email":"bob@example.com"},"room_id":"12345678"}}`,
		`{"event":"newMessage","data":{"task":"newMessage","sender":"bob@example.com","message":"ping"}}`,
		`{"event":"CHATROOM_DELETED","data":{"task":"CHATROOM_DELETED","opponent":{"email":"bob@example.com"}}}`,
		`{"event":"CHATROOM_DELETED","data":{"task":"CHATROOM_DELETED"}}`,
		`{"event":"surprise","data":{"x":1}}`,
	)
	if err := cli.readLoop(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	want := []string{
		"connected as alice@example.com",
		"bob@example.com: hi",
		"12345678 bob@example.com (Bob): hi",
		"87654321: not found",
		"no chatrooms",
		"error 400 on 'sendMessage': receiver is missing",
		"bob@example.com opened chatroom 12345678",
		"bob@example.com: ping",
		"bob@example.com left the chatroom",
		`CHATROOM_DELETED {"task":"CHATROOM_DELETED"}`,
		`surprise {"x":1}`,
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d:\n%s", len(want), len(lines), out.String())
	}
	for i := range want {
		// Conversation lines are prefixed with the local time.
		if !strings.HasSuffix(lines[i], want[i]) {
			t.Errorf("line %d: expected '%s', got '%s'", i, want[i], lines[i])
		}
	}
}
