package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startManager(t *testing.T, maxConn int) (*Manager, *httptest.Server) {
	t.Helper()

	m := NewManager(maxConn, time.Second, time.Minute, 50*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(r.URL.Query().Get("user"), r.URL.Query().Get("device"), conn, m).Serve()
	}))

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return m, srv
}

func dial(t *testing.T, srv *httptest.Server, user, device string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user + "&device=" + device
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, m *Manager, user string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.Connections(user) != want {
		if time.Now().After(deadline) {
			t.Fatalf("connections for %s = %d, want %d", user, m.Connections(user), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return &msg
}

func TestManager_NotifyUserSkipsOriginDevice(t *testing.T) {
	m, srv := startManager(t, 5)

	origin := dial(t, srv, "field_worker", "tablet-1")
	other := dial(t, srv, "field_worker", "tablet-2")
	waitForConnections(t, m, "field_worker", 2)

	msg, err := NewMessage(TypeRecordUpdate, &RecordUpdatePayload{ID: "abc", Rev: "2-x", UniqueID: "u-1", DeviceID: "tablet-1"})
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if err := m.NotifyUser("field_worker", msg, "tablet-1"); err != nil {
		t.Fatalf("NotifyUser() error = %v", err)
	}

	got := readMessage(t, other)
	if got.Type != TypeRecordUpdate {
		t.Fatalf("type = %s, want %s", got.Type, TypeRecordUpdate)
	}
	var payload RecordUpdatePayload
	if err := got.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("UnmarshalPayload() error = %v", err)
	}
	if payload.ID != "abc" || payload.Rev != "2-x" {
		t.Errorf("payload = %+v", payload)
	}

	origin.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := origin.ReadMessage(); err == nil {
		t.Error("origin device should not be notified")
	}
}

func TestManager_PingPong(t *testing.T) {
	m, srv := startManager(t, 5)
	conn := dial(t, srv, "field_worker", "tablet-1")
	waitForConnections(t, m, "field_worker", 1)

	if err := conn.WriteJSON(Message{Type: TypePing, Timestamp: time.Now()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readMessage(t, conn); got.Type != TypePong {
		t.Errorf("type = %s, want %s", got.Type, TypePong)
	}
}

func TestManager_ConnectionLimit(t *testing.T) {
	m, srv := startManager(t, 1)

	dial(t, srv, "field_worker", "tablet-1")
	waitForConnections(t, m, "field_worker", 1)

	extra := dial(t, srv, "field_worker", "tablet-2")
	extra.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := extra.ReadMessage(); err == nil {
		t.Error("connection over the limit should be closed")
	}
	if n := m.Connections("field_worker"); n != 1 {
		t.Errorf("Connections() = %d, want 1", n)
	}
}

func TestManager_Disconnect(t *testing.T) {
	m, srv := startManager(t, 5)
	conn := dial(t, srv, "field_worker", "tablet-1")
	waitForConnections(t, m, "field_worker", 1)

	conn.Close()
	waitForConnections(t, m, "field_worker", 0)
}
