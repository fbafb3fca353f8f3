package cache

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"rendezvous/pkg/types"
)

// memoryStore is an in-memory record store that counts cooldown lookups
type memoryStore struct {
	mu          sync.Mutex
	records     []*types.PairedScanRecord
	players     map[string]*types.PlayerRecord
	lookups     int
	closed      bool
	insertError error
}

func (m *memoryStore) FindCooldown(ctx context.Context, a, b string, asOf time.Time) (*types.PairedScanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	for _, r := range m.records {
		samePair := (r.PlayerID == a && r.PeerID == b) || (r.PlayerID == b && r.PeerID == a)
		if samePair && r.NextEligibleAt.After(asOf) {
			return r, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) InsertScanRecord(ctx context.Context, record *types.PairedScanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertError != nil {
		return m.insertError
	}
	m.records = append(m.records, record)
	return nil
}

func (m *memoryStore) LookupPlayer(ctx context.Context, playerID string) (*types.PlayerRecord, error) {
	return m.players[playerID], nil
}

func (m *memoryStore) HealthCheck(ctx context.Context) error { return nil }

func (m *memoryStore) Close() error {
	m.closed = true
	return nil
}

func (m *memoryStore) lookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

type CooldownIndexSuite struct {
	suite.Suite
	mini  *miniredis.Miniredis
	store *memoryStore
	index *CooldownIndex
	ctx   context.Context
	now   time.Time
}

func TestCooldownIndexSuite(t *testing.T) {
	suite.Run(t, new(CooldownIndexSuite))
}

func (s *CooldownIndexSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.mini.Addr()})

	s.store = &memoryStore{players: map[string]*types.PlayerRecord{
		"alice": {ID: "alice", DisplayName: "Alice"},
	}}
	s.index = NewWithClient(s.store, client, "", nil)
	s.ctx = context.Background()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *CooldownIndexSuite) TearDownTest() {
	if s.index != nil {
		_ = s.index.Close()
	}
}

func (s *CooldownIndexSuite) record(player, peer string) *types.PairedScanRecord {
	return &types.PairedScanRecord{
		ID:             player + "-" + peer,
		PlayerID:       player,
		PeerID:         peer,
		ScanType:       types.ScanTypePeer,
		Proximity:      types.ProximityFar,
		ScannedAt:      s.now,
		NextEligibleAt: s.now.Add(5 * time.Minute),
	}
}

func (s *CooldownIndexSuite) TestInsertIndexesUnorderedPair() {
	s.Require().NoError(s.index.InsertScanRecord(s.ctx, s.record("bob", "alice")))

	s.True(s.mini.Exists("rendezvous:cooldown:alice:bob"))
	s.Equal(5*time.Minute, s.mini.TTL("rendezvous:cooldown:alice:bob"))

	before := s.store.lookupCount()
	record, err := s.index.FindCooldown(s.ctx, "alice", "bob", s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.Equal(s.now.Add(5*time.Minute), record.NextEligibleAt)
	s.Equal(before, s.store.lookupCount(), "index hit must not reach the store")
}

func (s *CooldownIndexSuite) TestElapsedIndexValueFallsThrough() {
	s.Require().NoError(s.index.InsertScanRecord(s.ctx, s.record("alice", "bob")))

	record, err := s.index.FindCooldown(s.ctx, "alice", "bob", s.now.Add(5*time.Minute))
	s.Require().NoError(err)
	s.Nil(record)
	s.Equal(1, s.store.lookupCount())
}

func (s *CooldownIndexSuite) TestExpiredKeyFallsBackToStore() {
	s.Require().NoError(s.index.InsertScanRecord(s.ctx, s.record("alice", "bob")))
	s.mini.FastForward(6 * time.Minute)
	s.False(s.mini.Exists("rendezvous:cooldown:alice:bob"))

	// The store still reports a cooldown for an earlier asOf and is backfilled
	record, err := s.index.FindCooldown(s.ctx, "alice", "bob", s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.Equal(1, s.store.lookupCount())
	s.True(s.mini.Exists("rendezvous:cooldown:alice:bob"))
}

func (s *CooldownIndexSuite) TestRedisOutageFallsBackToStore() {
	s.Require().NoError(s.store.InsertScanRecord(s.ctx, s.record("alice", "bob")))
	s.mini.Close()

	record, err := s.index.FindCooldown(s.ctx, "alice", "bob", s.now)
	s.Require().NoError(err)
	s.NotNil(record)

	s.Require().NoError(s.index.InsertScanRecord(s.ctx, s.record("alice", "carol")))
	s.Error(s.index.HealthCheck(s.ctx))
}

func (s *CooldownIndexSuite) TestStoreFailureIsNotIndexed() {
	s.store.insertError = context.DeadlineExceeded
	err := s.index.InsertScanRecord(s.ctx, s.record("alice", "bob"))
	s.ErrorIs(err, context.DeadlineExceeded)
	s.False(s.mini.Exists("rendezvous:cooldown:alice:bob"))
}

func (s *CooldownIndexSuite) TestLaterCooldownIsNotShortened() {
	long := s.record("alice", "bob")
	long.NextEligibleAt = s.now.Add(10 * time.Minute)
	s.Require().NoError(s.index.InsertScanRecord(s.ctx, long))
	s.Require().NoError(s.index.InsertScanRecord(s.ctx, s.record("bob", "alice")))

	record, err := s.index.FindCooldown(s.ctx, "bob", "alice", s.now.Add(7*time.Minute))
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.Equal(s.now.Add(10*time.Minute), record.NextEligibleAt)
}

func (s *CooldownIndexSuite) TestClaimPairFirstClaimWins() {
	until := s.now.Add(5 * time.Minute)

	claimed, _, err := s.index.ClaimPair(s.ctx, "alice", "bob", until, s.now)
	s.Require().NoError(err)
	s.True(claimed)
	s.Equal(5*time.Minute, s.mini.TTL("rendezvous:cooldown:alice:bob"))

	claimed, heldUntil, err := s.index.ClaimPair(s.ctx, "bob", "alice", s.now.Add(6*time.Minute), s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.False(claimed)
	s.True(until.Equal(heldUntil), "held until %v", heldUntil)

	// The claim is visible to cooldown lookups before any record exists
	record, err := s.index.FindCooldown(s.ctx, "alice", "bob", s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.Equal(0, s.store.lookupCount())
}

func (s *CooldownIndexSuite) TestClaimPairReplacesElapsedValue() {
	s.Require().NoError(s.mini.Set("rendezvous:cooldown:alice:bob", "1"))

	claimed, _, err := s.index.ClaimPair(s.ctx, "alice", "bob", s.now.Add(5*time.Minute), s.now)
	s.Require().NoError(err)
	s.True(claimed)
	got, err := s.mini.Get("rendezvous:cooldown:alice:bob")
	s.Require().NoError(err)
	s.Equal(strconv.FormatInt(s.now.Add(5*time.Minute).UnixMilli(), 10), got)
}

func (s *CooldownIndexSuite) TestReleasePairOnlyDropsOwnClaim() {
	mine := s.now.Add(5 * time.Minute)
	claimed, _, err := s.index.ClaimPair(s.ctx, "alice", "bob", mine, s.now)
	s.Require().NoError(err)
	s.Require().True(claimed)

	s.Require().NoError(s.index.ReleasePair(s.ctx, "alice", "bob", s.now.Add(time.Minute)))
	s.True(s.mini.Exists("rendezvous:cooldown:alice:bob"))

	s.Require().NoError(s.index.ReleasePair(s.ctx, "bob", "alice", mine))
	s.False(s.mini.Exists("rendezvous:cooldown:alice:bob"))
}

func (s *CooldownIndexSuite) TestConcurrentClaimsHaveOneWinner() {
	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			claimed, _, err := s.index.ClaimPair(s.ctx, a, b, s.now.Add(5*time.Minute), s.now)
			s.NoError(err)
			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	s.Equal(1, wins)
}

func (s *CooldownIndexSuite) TestClaimPairSucceedsWhenRedisIsDown() {
	s.mini.Close()
	claimed, _, err := s.index.ClaimPair(s.ctx, "alice", "bob", s.now.Add(5*time.Minute), s.now)
	s.NoError(err)
	s.True(claimed)
}

func (s *CooldownIndexSuite) TestDelegatesPlayerLookupAndHealth() {
	player, err := s.index.LookupPlayer(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("Alice", player.DisplayName)
	s.NoError(s.index.HealthCheck(s.ctx))
}

func (s *CooldownIndexSuite) TestCloseClosesStore() {
	s.Require().NoError(s.index.Close())
	s.True(s.store.closed)
	s.index = nil
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(&memoryStore{}, Config{URL: "://bad"}, nil)
	if err == nil {
		t.Fatal("expected invalid url error")
	}
}
