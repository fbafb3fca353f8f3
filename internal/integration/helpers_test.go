package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rendezvous/internal/app"
	"rendezvous/internal/auth"
	"rendezvous/internal/config"
	"rendezvous/internal/database"
	"rendezvous/internal/pairing"
	dbconfig "rendezvous/pkg/database"
	"rendezvous/pkg/types"
)

const testAuthSecret = "integration-secret-0123456789abcdef"

// testServer is a running application bound to a loopback port
type testServer struct {
	baseURL string
	issuer  *auth.Authenticator
}

// InitializeTestDatabase applies the embedded migrations and seeds players
func InitializeTestDatabase(t *testing.T, dbPath string, players ...types.PlayerRecord) {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = dbPath

	manager, err := database.NewManager(cfg, database.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
	}()

	if _, err := dbconfig.NewMigrationManager(manager.GetDB(), nil).ApplyMigrations(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	for i := range players {
		if err := manager.UpsertPlayer(context.Background(), &players[i]); err != nil {
			t.Fatalf("Failed to seed player %s: %v", players[i].ID, err)
		}
	}
}

// startServer runs the full application against a fresh database
func startServer(t *testing.T, players ...types.PlayerRecord) *testServer {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "rendezvous.db")
	InitializeTestDatabase(t, dbPath, players...)

	pairingKey, err := pairing.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate pairing key: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Database.Path = dbPath
	cfg.Pairing.Secret = pairingKey
	cfg.Auth.Secret = testAuthSecret

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	if err := application.Serve(context.Background(), listener); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
	})

	issuer, err := auth.New(auth.Config{Secret: []byte(testAuthSecret), Issuer: cfg.Auth.Issuer}, nil)
	if err != nil {
		t.Fatalf("Failed to create issuer: %v", err)
	}
	return &testServer{baseURL: "http://" + application.Addr(), issuer: issuer}
}

// credential signs a credential the server accepts for playerID
func (s *testServer) credential(t *testing.T, playerID string) string {
	t.Helper()
	token, err := s.issuer.IssueCredential(playerID)
	if err != nil {
		t.Fatalf("Failed to issue credential: %v", err)
	}
	return token
}

// postJSON posts body and decodes the response into out, returning the status code
func (s *testServer) postJSON(t *testing.T, path, token string, body, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, s.baseURL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.do(t, req, out)
}

func (s *testServer) getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	return s.do(t, req, out)
}

func (s *testServer) do(t *testing.T, req *http.Request, out interface{}) int {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s response: %v", req.URL.Path, err)
		}
	}
	return resp.StatusCode
}

// dial opens a websocket on path, authenticating with token when given
func (s *testServer) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.baseURL, "http") + path
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitForConnections polls /api/stats until the named registry holds n connections
func (s *testServer) waitForConnections(t *testing.T, registry string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var stats map[string]map[string]interface{}
		s.getJSON(t, "/api/stats", &stats)
		if total, ok := stats[registry]["total_connections"].(float64); ok && int(total) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never reached %d connections", registry, n)
}

// readEvent reads one JSON frame into v
func readEvent(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
}
