package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"rendezvous/pkg/interfaces"
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Architectural Validation Tests
func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

// Functional Validation Tests
func TestConnection_NewConnectionInitialization(t *testing.T) {
	wsConn, _ := createTestWebSocketPair(t)

	conn := NewConnection(wsConn, "alice", "bob", DefaultConnectionOptions())
	defer conn.Close()

	if conn.writeCh == nil {
		t.Error("Write channel not initialized")
	}
	if cap(conn.writeCh) != 100 {
		t.Errorf("Expected write channel buffer of 100, got %d", cap(conn.writeCh))
	}
	if conn.ChannelKey() != "alice" {
		t.Errorf("Expected channel key 'alice', got '%s'", conn.ChannelKey())
	}
	if conn.Participant() != "bob" {
		t.Errorf("Expected participant 'bob', got '%s'", conn.Participant())
	}
	if conn.ID() == "" {
		t.Error("Connection id should be assigned")
	}
}

func TestConnection_UniqueIDs(t *testing.T) {
	a, _ := createTestWebSocketPair(t)
	b, _ := createTestWebSocketPair(t)

	c1 := NewConnection(a, "k", "p", DefaultConnectionOptions())
	defer c1.Close()
	c2 := NewConnection(b, "k", "p", DefaultConnectionOptions())
	defer c2.Close()

	if c1.ID() == c2.ID() {
		t.Error("Two connections must not share an id")
	}
}

func TestConnection_WriteJSONDelivers(t *testing.T) {
	wsConn, peer := createTestWebSocketPair(t)

	conn := NewConnection(wsConn, "alice", "alice", DefaultConnectionOptions())
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"event": "start_game"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("Peer failed to read: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Peer received invalid JSON: %v", err)
	}
	if got["event"] != "start_game" {
		t.Errorf("Expected start_game event, got %v", got)
	}
}

func TestConnection_WriteJSONInvalidData(t *testing.T) {
	wsConn, _ := createTestWebSocketPair(t)

	conn := NewConnection(wsConn, "alice", "alice", DefaultConnectionOptions())
	defer conn.Close()

	// Function type cannot be marshaled to JSON
	err := conn.WriteJSON(map[string]interface{}{"func": func() {}})
	if err != ErrInvalidJSON {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	wsConn, _ := createTestWebSocketPair(t)
	conn := NewConnection(wsConn, "alice", "alice", DefaultConnectionOptions())

	if err := conn.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	wsConn, _ := createTestWebSocketPair(t)
	conn := NewConnection(wsConn, "alice", "alice", DefaultConnectionOptions())
	_ = conn.Close()

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel not closed after Close")
	}

	if err := conn.WriteJSON(map[string]string{"event": "result"}); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

// Technical Validation Tests (Race Detection)
func TestConnection_ConcurrentWrites(t *testing.T) {
	wsConn, _ := createTestWebSocketPair(t)
	conn := NewConnection(wsConn, "alice", "alice", DefaultConnectionOptions())
	defer conn.Close()

	const numGoroutines = 10
	const messagesPerGoroutine = 10

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < messagesPerGoroutine; j++ {
				_ = conn.WriteJSON(map[string]interface{}{"worker": id, "message": j})
			}
		}(i)
	}
	wg.Wait()
}

// createTestWebSocketPair returns the server side of an upgraded websocket
// and the client side that reads what the server writes
func createTestWebSocketPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	serverSide := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-serverSide:
		t.Cleanup(func() { _ = conn.Close() })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for server side of websocket")
		return nil, nil
	}
}

func TestConnection_CloseWithFlushesFinalMessage(t *testing.T) {
	wsConn, peer := createTestWebSocketPair(t)
	conn := NewConnection(wsConn, "alice", "carol", DefaultConnectionOptions())

	if err := conn.CloseWith(map[string]string{"event": "rejected"}); err != nil {
		t.Fatalf("CloseWith failed: %v", err)
	}

	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("final message not delivered: %v", err)
	}
	if !strings.Contains(string(data), "rejected") {
		t.Errorf("unexpected final message %s", data)
	}
	if _, _, err := peer.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("expected policy violation close, got %v", err)
	}
	select {
	case <-conn.Done():
	default:
		t.Error("connection should be done after CloseWith")
	}
}
