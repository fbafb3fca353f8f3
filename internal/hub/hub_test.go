package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"rendezvous/internal/websocket"
	"rendezvous/pkg/types"
)

// recordingPusher stands in for the player registry
type recordingPusher struct {
	mu    sync.Mutex
	keys  []string
	known map[string]bool
	block chan struct{}
}

func (p *recordingPusher) PushTo(key string, message interface{}) (int, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.known != nil && !p.known[key] {
		return 0, websocket.ErrNoRecipient
	}
	p.keys = append(p.keys, key)
	return 1, nil
}

func (p *recordingPusher) pushed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func waitForStat(t *testing.T, h *Hub, name string, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.GetStats()[name].(int64) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never reached %d (stats %v)", name, want, h.GetStats())
}

// TestHub_StartStop tests functional validation - hub lifecycle management
func TestHub_StartStop(t *testing.T) {
	hub := NewHub(&recordingPusher{}, 0, nil)
	ctx := context.Background()

	if err := hub.Start(ctx); err != nil {
		t.Errorf("Expected no error starting hub, got %v", err)
	}
	if err := hub.Start(ctx); err != ErrHubAlreadyRunning {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}
	if !hub.IsRunning() {
		t.Error("hub should report running")
	}
	if err := hub.Stop(); err != nil {
		t.Errorf("Expected no error stopping hub, got %v", err)
	}
	if err := hub.Stop(); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
}

func TestHub_NotifyRequiresRunningHub(t *testing.T) {
	hub := NewHub(&recordingPusher{}, 0, nil)
	if err := hub.Notify("alice", "x"); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
	if err := hub.Notify("", "x"); err != ErrMissingKey {
		t.Errorf("Expected ErrMissingKey, got %v", err)
	}
}

func TestHub_DeliversThroughPusher(t *testing.T) {
	pusher := &recordingPusher{known: map[string]bool{"alice": true}}
	hub := NewHub(pusher, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	event := types.PeerPairingSuccessEvent{Event: types.EventPeerPairingSuccess, PeerID: "bob"}
	if err := hub.Notify("alice", event); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if err := hub.Notify("offline", event); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	waitForStat(t, hub, "delivered", 1)
	waitForStat(t, hub, "undelivered", 1)
	if got := pusher.pushed(); len(got) != 1 || got[0] != "alice" {
		t.Errorf("unexpected pushes %v", got)
	}
}

func TestHub_FullQueueRejects(t *testing.T) {
	pusher := &recordingPusher{block: make(chan struct{})}
	hub := NewHub(pusher, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// The first notification is picked up and blocks in PushTo; the
	// second fills the single buffer slot
	_ = hub.Notify("alice", 1)
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetStats()["queued"].(int) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := hub.Notify("alice", 2); err != nil {
		t.Fatalf("second notify failed: %v", err)
	}
	if err := hub.Notify("alice", 3); err != ErrNotifyChannelFull {
		t.Errorf("Expected ErrNotifyChannelFull, got %v", err)
	}
	close(pusher.block)
	waitForStat(t, hub, "delivered", 2)
}

func TestHub_ContextCancellationStopsLoop(t *testing.T) {
	pusher := &recordingPusher{}
	hub := NewHub(pusher, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)

	// Still flagged running, but nothing drains the queue any more
	_ = hub.Notify("alice", 1)
	time.Sleep(20 * time.Millisecond)
	if len(pusher.pushed()) != 0 {
		t.Error("cancelled hub must not deliver")
	}
}
