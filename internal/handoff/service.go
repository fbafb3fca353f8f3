package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rendezvous/internal/clock"
	"rendezvous/pkg/interfaces"
	"rendezvous/pkg/types"
)

// Status is the outcome kind of a completion attempt
type Status string

// Completion outcomes. Consumed and never-existed sessions share
// StatusInvalidSession so ids cannot be enumerated.
const (
	StatusCompleted         Status = "completed"
	StatusInvalidSession    Status = "invalid_session"
	StatusExpired           Status = "expired"
	StatusTooManyAttempts   Status = "too_many_attempts"
	StatusInvalidCredential Status = "invalid_credential"
)

// Config tunes handoff session lifetime
type Config struct {
	TTL         time.Duration
	MaxAttempts int
}

// DefaultConfig returns the production handoff policy
func DefaultConfig() Config {
	return Config{
		TTL:         300 * time.Second,
		MaxAttempts: 3,
	}
}

// session is one pending login handoff
type session struct {
	id        string
	createdAt time.Time
	consumed  bool
	attempts  int
}

// Service hands a freshly issued credential from one device to another.
// FUNCTIONAL DISCOVERY: Expiry is lazy; sessions are swept on the next
// Initiate call and there is no background timer
type Service struct {
	resolver interfaces.IdentityResolver
	issuer   interfaces.CredentialIssuer
	pusher   interfaces.Pusher
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewService wires the handoff service
func NewService(resolver interfaces.IdentityResolver, issuer interfaces.CredentialIssuer, pusher interfaces.Pusher, clk clock.Clock, cfg Config, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver: resolver,
		issuer:   issuer,
		pusher:   pusher,
		clock:    clk,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "handoff")),
		sessions: make(map[string]*session),
	}
}

// Initiate sweeps stale sessions and opens a new one
func (s *Service) Initiate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionIDGenerate, err)
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for key, sess := range s.sessions {
		if sess.consumed || now.Sub(sess.createdAt) > s.cfg.TTL {
			delete(s.sessions, key)
			swept++
		}
	}
	s.sessions[id.String()] = &session{id: id.String(), createdAt: now}

	if swept > 0 {
		s.logger.Debug("swept handoff sessions", slog.Int("count", swept))
	}
	return id.String(), nil
}

// Exists reports whether sessionID is pending and inside its TTL
func (s *Service) Exists(sessionID string) bool {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return ok && !sess.consumed && now.Sub(sess.createdAt) <= s.cfg.TTL
}

// Complete resolves credential on the completing device, then pushes a
// freshly issued credential to the device waiting on sessionID.
// A credential that does not resolve counts as a failed attempt. Only store
// or issuer failures are returned as errors.
func (s *Service) Complete(ctx context.Context, sessionID, credential string) (Status, error) {
	now := s.clock.Now()

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.consumed {
		s.mu.Unlock()
		return StatusInvalidSession, nil
	}
	if now.Sub(sess.createdAt) > s.cfg.TTL {
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return StatusExpired, nil
	}
	sess.attempts++
	if sess.attempts > s.cfg.MaxAttempts {
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		s.logger.Warn("handoff session locked out", slog.String("session_id", sessionID))
		return StatusTooManyAttempts, nil
	}
	s.mu.Unlock()

	playerID, err := s.resolve(ctx, credential)
	if err != nil {
		if errors.Is(err, interfaces.ErrInvalidCredential) || errors.Is(err, ErrMissingCredential) {
			return StatusInvalidCredential, nil
		}
		return "", fmt.Errorf("resolve credential: %w", err)
	}

	// Another completion may have won while the credential was resolving
	s.mu.Lock()
	sess, ok = s.sessions[sessionID]
	if !ok || sess.consumed {
		s.mu.Unlock()
		return StatusInvalidSession, nil
	}
	sess.consumed = true
	s.mu.Unlock()

	token, err := s.issuer.IssueCredential(playerID)
	if err != nil {
		return "", fmt.Errorf("issue credential: %w", err)
	}

	// The waiting device may not have connected yet; the completing device
	// still gets its acknowledgement
	if _, err := s.pusher.PushTo(sessionID, types.LoginSuccessEvent{
		Event: types.EventLoginSuccess,
		Token: token,
	}); err != nil {
		s.logger.Warn("login_success not delivered",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}

	s.logger.Info("handoff completed", slog.String("session_id", sessionID), slog.String("player_id", playerID))
	return StatusCompleted, nil
}

func (s *Service) resolve(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", ErrMissingCredential
	}
	return s.resolver.ResolveIdentity(ctx, credential)
}

// GetStats returns handoff statistics
func (s *Service) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"pending_handoffs": len(s.sessions),
	}
}
