package pairing

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"rendezvous/pkg/types"
)

// SchemeTag prefixes every peer-pairing token
const SchemeTag = "peer."

// KeySize is the length of the process-wide pairing secret
const KeySize = chacha20poly1305.KeySize

// Token is the decoded pairing assertion
type Token struct {
	InitiatorID string
	Location    types.Location
	IssuedAt    time.Time
}

// tokenPayload is the serialized form sealed inside a token.
// IssuedAt is in unix milliseconds.
type tokenPayload struct {
	InitiatorID string         `json:"initiator_id"`
	Location    types.Location `json:"location"`
	IssuedAt    int64          `json:"issued_at"`
}

// Codec seals and opens pairing tokens with XChaCha20-Poly1305.
// The scheme tag is bound as additional data so a token cannot be
// re-labelled into another scheme.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec from a raw 32-byte secret
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// DecodeKey parses a base64 (std or url alphabet) pairing secret
func DecodeKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(encoded); err == nil {
			if len(key) != KeySize {
				return nil, ErrInvalidKey
			}
			return key, nil
		}
	}
	return nil, ErrInvalidKey
}

// GenerateKey returns a fresh random secret encoded as standard base64
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to read random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Issue serializes and seals a token for the initiator
func (c *Codec) Issue(initiatorID string, loc types.Location, now time.Time) (string, error) {
	plaintext, err := json.Marshal(tokenPayload{
		InitiatorID: initiatorID,
		Location:    loc,
		IssuedAt:    now.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token payload: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, []byte(SchemeTag))

	return SchemeTag + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// HasScheme reports whether s carries the peer scheme tag
func HasScheme(s string) bool {
	return strings.HasPrefix(s, SchemeTag)
}

// Decode opens a token. It never enforces the validity window; that policy
// belongs to the caller. Any corruption yields an error and no data.
func (c *Codec) Decode(token string) (*Token, error) {
	if !HasScheme(token) {
		return nil, ErrInvalidScheme
	}
	raw, err := base64.RawURLEncoding.DecodeString(token[len(SchemeTag):])
	if err != nil {
		return nil, ErrMalformed
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return nil, ErrMalformed
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, []byte(SchemeTag))
	if err != nil {
		return nil, ErrTampered
	}

	var payload tokenPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, ErrMalformed
	}
	if payload.InitiatorID == "" || payload.IssuedAt == 0 {
		return nil, ErrMalformed
	}

	return &Token{
		InitiatorID: payload.InitiatorID,
		Location:    payload.Location,
		IssuedAt:    time.UnixMilli(payload.IssuedAt),
	}, nil
}
