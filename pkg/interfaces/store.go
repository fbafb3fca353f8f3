package interfaces

import (
	"context"
	"time"

	"rendezvous/pkg/types"
)

// RecordStore is the external record store the pairing core depends on
// ARCHITECTURAL DISCOVERY: Only the three operations the pairing flow needs
// are exposed; player/QR CRUD lives outside this module
type RecordStore interface {
	// FindCooldown returns a peer scan record between the unordered pair
	// (a, b) whose next-eligible time is after asOf, or nil if none exists
	FindCooldown(ctx context.Context, a, b string, asOf time.Time) (*types.PairedScanRecord, error)

	// InsertScanRecord persists one paired scan record
	InsertScanRecord(ctx context.Context, record *types.PairedScanRecord) error

	// LookupPlayer returns the player record, or nil if it does not exist
	LookupPlayer(ctx context.Context, playerID string) (*types.PlayerRecord, error)

	// HealthCheck verifies store connectivity
	HealthCheck(ctx context.Context) error

	// Close releases store resources
	Close() error
}

// IdentityResolver maps an opaque credential to a player id
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, credential string) (string, error)
}

// CredentialIssuer mints a credential for a player
type CredentialIssuer interface {
	IssueCredential(playerID string) (string, error)
}
