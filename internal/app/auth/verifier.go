// Package auth authenticates internal credit requests: API key check,
// HMAC signature verification and nonce freshness.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/credit_layer/internal/errors"
)

// DefaultNonceWindow bounds how far a request timestamp may drift from
// server time before the request is rejected.
const DefaultNonceWindow = 300 * time.Second

// Verifier validates internal API keys and request signatures. It holds the
// shared secrets for the life of the process and never logs them.
type Verifier struct {
	apiKeyDigest [32]byte
	secret       []byte
	window       time.Duration
	now          func() time.Time
}

// NewVerifier creates a verifier from the resolved secrets. Empty secrets
// are a configuration error: serving unsigned credit requests is never
// acceptable.
func NewVerifier(apiKey, signingSecret string, window time.Duration) (*Verifier, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("internal API key is empty")
	}
	if strings.TrimSpace(signingSecret) == "" {
		return nil, fmt.Errorf("signing secret is empty")
	}
	if window <= 0 {
		window = DefaultNonceWindow
	}
	return &Verifier{
		apiKeyDigest: sha256.Sum256([]byte(apiKey)),
		secret:       []byte(signingSecret),
		window:       window,
		now:          time.Now,
	}, nil
}

// VerifyAPIKey compares the caller-supplied key against the configured
// internal key. Digests are compared so the comparison is constant-time and
// independent of key length.
func (v *Verifier) VerifyAPIKey(apiKey string) error {
	if apiKey == "" {
		return errors.Unauthorized("missing API key")
	}
	supplied := sha256.Sum256([]byte(apiKey))
	if !hmac.Equal(supplied[:], v.apiKeyDigest[:]) {
		return errors.Unauthorized("invalid API key")
	}
	return nil
}

// VerifySignature recomputes HMAC-SHA256(secret, message) and compares the
// hex digests in constant time.
func (v *Verifier) VerifySignature(message, signatureHex string) error {
	if signatureHex == "" {
		return errors.Unauthorized("missing signature")
	}
	supplied, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signatureHex)))
	if err != nil {
		return errors.Unauthorized("malformed signature")
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(message))
	if !hmac.Equal(supplied, mac.Sum(nil)) {
		return errors.Unauthorized("invalid signature")
	}
	return nil
}

// CheckFreshness rejects nonces outside the freshness window. The nonce is
// a caller-supplied Unix timestamp; this bounds how long a captured
// signature stays valid but does not, by itself, prevent replay within the
// window (see NonceStore).
func (v *Verifier) CheckFreshness(nonce int64) error {
	drift := v.now().Unix() - nonce
	if drift < 0 {
		drift = -drift
	}
	if float64(drift) > v.window.Seconds() {
		return errors.Unauthorized("request expired")
	}
	return nil
}

// BalanceMessage is the canonical signed message for a balance check. The
// field order and the lower-cased email are part of the wire contract.
func BalanceMessage(email string, nonce int64) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(strings.TrimSpace(email)), nonce)
}

// DebitMessage is the canonical signed message for a debit or grant.
func DebitMessage(email string, amount int, nonce int64) string {
	return fmt.Sprintf("%s:%d:%d", strings.ToLower(strings.TrimSpace(email)), amount, nonce)
}

// Sign computes the hex HMAC-SHA256 of message. Exported for clients and
// tests; the server side only verifies.
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
