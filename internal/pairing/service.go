package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"rendezvous/internal/clock"
	"rendezvous/internal/geo"
	"rendezvous/pkg/interfaces"
	"rendezvous/pkg/types"
)

// Status is the outcome kind of a validation attempt
type Status string

// Validation outcomes. StatusTampered is the single externally visible kind
// for every decode failure.
const (
	StatusPaired          Status = "paired"
	StatusInvalidFormat   Status = "invalid_format"
	StatusTampered        Status = "invalid_token"
	StatusInvalidLocation Status = "invalid_location"
	StatusSelfScan        Status = "self_scan"
	StatusExpired         Status = "expired"
	StatusCooldown        Status = "cooldown"
	StatusPeerNotFound    Status = "peer_not_found"
)

// Outcome is the typed result of Validate
type Outcome struct {
	Status            Status  `json:"status"`
	PeerID            string  `json:"peer_id,omitempty"`
	PeerDisplayName   string  `json:"peer_display_name,omitempty"`
	Proximity         string  `json:"proximity,omitempty"`
	DistanceMeters    float64 `json:"distance_meters"`
	RetryAfterMinutes int     `json:"retry_after_minutes,omitempty"`
}

// Notifier pushes an event to a player's notification channel
type Notifier interface {
	Notify(key string, event interface{}) error
}

// Config tunes the pairing policy
type Config struct {
	TokenTTL            time.Duration
	Cooldown            time.Duration
	NearThresholdMeters float64
	ClockSkew           time.Duration
}

// DefaultConfig returns the production pairing policy
func DefaultConfig() Config {
	return Config{
		TokenTTL:            300 * time.Second,
		Cooldown:            300 * time.Second,
		NearThresholdMeters: 50,
		ClockSkew:           30 * time.Second,
	}
}

// Service issues and validates peer-pairing tokens.
// ARCHITECTURAL DISCOVERY: The token carries no server-side consumption
// state; replay protection comes from the pairwise cooldown record
type Service struct {
	codec    *Codec
	store    interfaces.RecordStore
	notifier Notifier
	clock    clock.Clock
	cfg      Config
	locks    *pairLocks
	logger   *slog.Logger
}

// NewService wires the pairing service
func NewService(codec *Codec, store interfaces.RecordStore, notifier Notifier, clk clock.Clock, cfg Config, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.NearThresholdMeters <= 0 {
		cfg.NearThresholdMeters = def.NearThresholdMeters
	}
	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = 0
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		codec:    codec,
		store:    store,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		locks:    newPairLocks(),
		logger:   logger.With(slog.String("component", "pairing")),
	}
}

// RequestToken issues a pairing token for the initiator at loc
func (s *Service) RequestToken(initiatorID string, loc types.Location) (string, error) {
	if !types.IsValidPlayerID(initiatorID) {
		return "", types.ErrInvalidPlayerID
	}
	if err := loc.Validate(); err != nil {
		return "", err
	}
	return s.codec.Issue(initiatorID, loc, s.clock.Now())
}

// Validate runs the pairing checks for a scanner presenting token.
// Policy rejections come back as an Outcome; only store failures are errors.
func (s *Service) Validate(ctx context.Context, scannerID, token string, scannerLoc types.Location) (*Outcome, error) {
	now := s.clock.Now()

	if !HasScheme(token) {
		return &Outcome{Status: StatusInvalidFormat}, nil
	}

	decoded, err := s.codec.Decode(token)
	if err != nil {
		s.logger.Warn("pairing token rejected", slog.String("scanner", scannerID), slog.String("reason", err.Error()))
		return &Outcome{Status: StatusTampered}, nil
	}

	// FUNCTIONAL DISCOVERY: A token from the future beyond the skew leeway
	// can only come from a different key holder or a bad clock
	if decoded.IssuedAt.Sub(now) > s.cfg.ClockSkew {
		s.logger.Warn("pairing token issued in the future", slog.String("scanner", scannerID))
		return &Outcome{Status: StatusTampered}, nil
	}

	if err := scannerLoc.Validate(); err != nil {
		return &Outcome{Status: StatusInvalidLocation}, nil
	}

	if decoded.InitiatorID == scannerID {
		return &Outcome{Status: StatusSelfScan}, nil
	}

	if now.Sub(decoded.IssuedAt) > s.cfg.TokenTTL {
		return &Outcome{Status: StatusExpired}, nil
	}

	// TECHNICAL DISCOVERY: The cooldown check and the reciprocal writes form
	// one critical section per unordered pair, so concurrent scans in either
	// direction produce a single pairing
	unlock := s.locks.lock(decoded.InitiatorID, scannerID)
	defer unlock()

	existing, err := s.store.FindCooldown(ctx, decoded.InitiatorID, scannerID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query cooldown: %w", err)
	}
	if existing != nil {
		return cooldownOutcome(existing.NextEligibleAt, now), nil
	}

	nextEligible := now.Add(s.cfg.Cooldown)
	release := func() {}
	if claimer, ok := s.store.(PairClaimer); ok {
		claimed, heldUntil, err := claimer.ClaimPair(ctx, decoded.InitiatorID, scannerID, nextEligible, now)
		if err != nil {
			return nil, fmt.Errorf("failed to claim pair: %w", err)
		}
		if !claimed {
			return cooldownOutcome(heldUntil, now), nil
		}
		release = func() {
			if err := claimer.ReleasePair(ctx, decoded.InitiatorID, scannerID, nextEligible); err != nil {
				s.logger.Warn("failed to release pair claim",
					slog.String("player", decoded.InitiatorID),
					slog.String("peer", scannerID),
					slog.String("error", err.Error()))
			}
		}
	}

	distance := geo.DistanceMeters(decoded.Location.Lat, decoded.Location.Lon, scannerLoc.Lat, scannerLoc.Lon)
	proximity := types.ProximityFar
	if distance < s.cfg.NearThresholdMeters {
		proximity = types.ProximityNear
	}

	peer, err := s.store.LookupPlayer(ctx, decoded.InitiatorID)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to look up peer: %w", err)
	}
	if peer == nil {
		release()
		return &Outcome{Status: StatusPeerNotFound}, nil
	}

	if err := s.persist(ctx, scannerID, decoded.InitiatorID, proximity, distance, now, nextEligible); err != nil {
		release()
		return nil, err
	}

	s.notifyInitiator(ctx, decoded.InitiatorID, scannerID, proximity, distance)

	return &Outcome{
		Status:          StatusPaired,
		PeerID:          peer.ID,
		PeerDisplayName: peer.DisplayName,
		Proximity:       proximity,
		DistanceMeters:  distance,
	}, nil
}

// persist writes the two reciprocal records. The first write failing is
// fatal for the attempt; the second failing is tolerated and logged.
func (s *Service) persist(ctx context.Context, scannerID, initiatorID, proximity string, distance float64, now, nextEligible time.Time) error {
	records := []*types.PairedScanRecord{
		{PlayerID: scannerID, PeerID: initiatorID},
		{PlayerID: initiatorID, PeerID: scannerID},
	}
	for _, rec := range records {
		rec.ID = uuid.NewString()
		rec.ScanType = types.ScanTypePeer
		rec.Proximity = proximity
		rec.DistanceMeters = distance
		rec.ScannedAt = now
		rec.NextEligibleAt = nextEligible
	}

	if err := s.store.InsertScanRecord(ctx, records[0]); err != nil {
		return fmt.Errorf("failed to record paired scan: %w", err)
	}
	if err := s.store.InsertScanRecord(ctx, records[1]); err != nil {
		s.logger.Warn("data consistency: reciprocal paired scan not recorded",
			slog.String("player", initiatorID),
			slog.String("peer", scannerID),
			slog.String("error", err.Error()))
	}
	return nil
}

func (s *Service) notifyInitiator(ctx context.Context, initiatorID, scannerID, proximity string, distance float64) {
	if s.notifier == nil {
		return
	}
	event := types.PeerPairingSuccessEvent{
		Event:          types.EventPeerPairingSuccess,
		PeerID:         scannerID,
		Proximity:      proximity,
		DistanceMeters: distance,
	}
	if scanner, err := s.store.LookupPlayer(ctx, scannerID); err == nil && scanner != nil {
		event.PeerDisplayName = scanner.DisplayName
	}
	if err := s.notifier.Notify(initiatorID, event); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Info("pairing notification not delivered",
			slog.String("player", initiatorID),
			slog.String("error", err.Error()))
	}
}

func cooldownOutcome(nextEligible, now time.Time) *Outcome {
	return &Outcome{
		Status:            StatusCooldown,
		RetryAfterMinutes: retryAfterMinutes(nextEligible.Sub(now)),
	}
}

// retryAfterMinutes rounds a remaining wait up to whole minutes
func retryAfterMinutes(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Minutes()))
}
