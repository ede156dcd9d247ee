package restapi

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaostunnel/chaostunnel/internal/ruleset"
)

func Test_feed_broadcasts_log_entries_to_connected_clients(t *testing.T) {
	srv, _ := newTestServer()
	httpSrv := httptest.NewServer(srv.Mux())
	defer httpSrv.Close()

	wsURL := "ws" + httpSrv.URL[len("http"):] + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing feed: %v", err)
	}
	defer conn.Close()

	// give the hub a moment to register the new connection.
	time.Sleep(50 * time.Millisecond)

	entry := ruleset.LogEntry{RequestID: "req-1", Method: "GET", Path: "/hello", Status: 200}
	srv.BroadcastLogEntry(entry)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading feed message: %v", err)
	}

	var got ruleset.LogEntry
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decoding feed message: %v", err)
	}
	if got.RequestID != "req-1" || got.Path != "/hello" {
		t.Errorf("unexpected feed entry: %+v", got)
	}
}
