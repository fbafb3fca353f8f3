package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dbconfig "rendezvous/pkg/database"
	"rendezvous/pkg/interfaces"
	"rendezvous/pkg/types"
)

// ErrManagerClosed is returned by writes issued after Close
var ErrManagerClosed = errors.New("database manager is closed")

// ErrWriteTimeout is returned when the writer goroutine does not accept a write in time
var ErrWriteTimeout = errors.New("write operation timeout")

// Options tunes the single-writer loop
type Options struct {
	RetryDelay   time.Duration
	QueueTimeout time.Duration
}

// DefaultOptions returns the production write policy
func DefaultOptions() Options {
	return Options{
		RetryDelay:   5 * time.Second,
		QueueTimeout: 30 * time.Second,
	}
}

// Manager is the SQLite record store for players and paired scans
type Manager struct {
	db           *sql.DB
	opts         Options
	logger       *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database described by config and starts the writer
func NewManager(config *dbconfig.Config, opts Options, logger *slog.Logger) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}
	return newManager(db, opts, logger), nil
}

// NewManagerWithDB wraps an already opened database
func NewManagerWithDB(db *sql.DB, opts Options, logger *slog.Logger) *Manager {
	return newManager(db, opts, logger)
}

func newManager(db *sql.DB, opts Options, logger *slog.Logger) *Manager {
	def := DefaultOptions()
	if opts.RetryDelay < 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = def.QueueTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	manager := &Manager{
		db:           db,
		opts:         opts,
		logger:       logger.With(slog.String("component", "database")),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: A failed write is retried exactly once after the retry delay
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying",
					slog.Duration("delay", m.opts.RetryDelay),
					slog.String("error", err.Error()))
				time.Sleep(m.opts.RetryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error("database write failed after retry", slog.String("error", err.Error()))
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.opts.QueueTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// FindCooldown returns a peer scan between the unordered pair (a, b) whose
// next-eligible time lies after asOf, or nil when the pair may pair again
func (m *Manager) FindCooldown(ctx context.Context, a, b string, asOf time.Time) (*types.PairedScanRecord, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	query := `
		SELECT id, player_id, peer_id, scan_type, proximity, distance_meters, scanned_at, next_eligible_at
		FROM paired_scans
		WHERE scan_type = ?
		  AND ((player_id = ? AND peer_id = ?) OR (player_id = ? AND peer_id = ?))
		  AND next_eligible_at > ?
		ORDER BY next_eligible_at DESC
		LIMIT 1
	`
	row := m.db.QueryRowContext(ctx, query, types.ScanTypePeer, a, b, b, a, asOf.UnixMilli())

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to query cooldown: %v", interfaces.ErrStoreUnavailable, err)
	}
	return record, nil
}

// InsertScanRecord persists one paired scan record
func (m *Manager) InsertScanRecord(ctx context.Context, record *types.PairedScanRecord) error {
	if record == nil {
		return errors.New("scan record cannot be nil")
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO paired_scans (id, player_id, peer_id, scan_type, proximity, distance_meters, scanned_at, next_eligible_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			record.ID,
			record.PlayerID,
			record.PeerID,
			record.ScanType,
			record.Proximity,
			record.DistanceMeters,
			record.ScannedAt.UnixMilli(),
			record.NextEligibleAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert paired scan: %w", err)
		}
		return nil
	})
}

// LookupPlayer returns the player, or nil when no such player exists
func (m *Manager) LookupPlayer(ctx context.Context, playerID string) (*types.PlayerRecord, error) {
	query := `SELECT id, display_name, created_at FROM players WHERE id = ?`

	var player types.PlayerRecord
	err := m.db.QueryRowContext(ctx, query, playerID).Scan(&player.ID, &player.DisplayName, &player.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to query player: %v", interfaces.ErrStoreUnavailable, err)
	}
	return &player, nil
}

// UpsertPlayer creates the player or updates its display name
func (m *Manager) UpsertPlayer(ctx context.Context, player *types.PlayerRecord) error {
	if player == nil || !types.IsValidPlayerID(player.ID) {
		return types.ErrInvalidPlayerID
	}
	createdAt := player.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO players (id, display_name, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name
		`
		if _, err := db.ExecContext(ctx, query, player.ID, player.DisplayName, createdAt); err != nil {
			return fmt.Errorf("failed to upsert player: %w", err)
		}
		return nil
	})
}

// ListScans returns the most recent paired scans recorded for a player
func (m *Manager) ListScans(ctx context.Context, playerID string, limit int) ([]*types.PairedScanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	// FUNCTIONAL DISCOVERY: Order by scanned_at DESC so the newest pairing comes first
	query := `
		SELECT id, player_id, peer_id, scan_type, proximity, distance_meters, scanned_at, next_eligible_at
		FROM paired_scans
		WHERE player_id = ?
		ORDER BY scanned_at DESC
		LIMIT ?
	`
	rows, err := m.db.QueryContext(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query paired scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.PairedScanRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan paired scan row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating paired scan rows: %w", err)
	}
	return records, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord decodes one paired_scans row; times are stored as unix milliseconds
func scanRecord(row rowScanner) (*types.PairedScanRecord, error) {
	var record types.PairedScanRecord
	var scannedAt, nextEligibleAt int64
	err := row.Scan(
		&record.ID,
		&record.PlayerID,
		&record.PeerID,
		&record.ScanType,
		&record.Proximity,
		&record.DistanceMeters,
		&scannedAt,
		&nextEligibleAt,
	)
	if err != nil {
		return nil, err
	}
	record.ScannedAt = time.UnixMilli(scannedAt).UTC()
	record.NextEligibleAt = time.UnixMilli(nextEligibleAt).UTC()
	return &record, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Test read operation to verify the schema is in place
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM paired_scans").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

var _ interfaces.RecordStore = (*Manager)(nil)
