package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"rendezvous/internal/clock"
	"rendezvous/pkg/interfaces"
	"rendezvous/pkg/types"
)

// MinSecretBytes is the shortest accepted HS256 signing secret
const MinSecretBytes = 32

// Config defines how credentials are signed and verified
type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// DefaultTTL is the lifetime of an issued credential
const DefaultTTL = 30 * time.Minute

// playerClaims is the claims type used for signing and parsing
type playerClaims struct {
	PlayerID string `json:"player_id"`
	jwt.RegisteredClaims
}

// Authenticator resolves and issues HS256 player credentials
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

// New validates cfg and returns an authenticator
func New(cfg Config, clk clock.Clock) (*Authenticator, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, ErrWeakSecret
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "rendezvous"
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Authenticator{
		secret: append([]byte(nil), cfg.Secret...),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		clock:  clk,
	}, nil
}

// IssueCredential signs a fresh credential for playerID
func (a *Authenticator) IssueCredential(playerID string) (string, error) {
	if !types.IsValidPlayerID(playerID) {
		return "", types.ErrInvalidPlayerID
	}
	now := a.clock.Now()
	claims := playerClaims{
		PlayerID: playerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   playerID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// ResolveIdentity verifies credential and returns the player id it names.
// Every verification failure maps to interfaces.ErrInvalidCredential.
func (a *Authenticator) ResolveIdentity(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", interfaces.ErrInvalidCredential
	}

	var parsed playerClaims
	_, err := jwt.ParseWithClaims(credential, &parsed, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		return "", mapJWTError(err)
	}

	playerID := parsed.PlayerID
	if playerID == "" {
		playerID = parsed.Subject
	}
	if !types.IsValidPlayerID(playerID) {
		return "", fmt.Errorf("%w: %v", interfaces.ErrInvalidCredential, ErrMissingSubject)
	}
	return playerID, nil
}

// mapJWTError folds jwt library errors into the invalid-credential sentinel
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: credential expired", interfaces.ErrInvalidCredential)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: signature is invalid", interfaces.ErrInvalidCredential)
	default:
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidCredential, err)
	}
}

var (
	_ interfaces.IdentityResolver = (*Authenticator)(nil)
	_ interfaces.CredentialIssuer = (*Authenticator)(nil)
)
