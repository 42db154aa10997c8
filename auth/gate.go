// Package auth guards uploads with a shared secret whose digest is computed once at startup.
package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/moyoez/assetlink/tool"
)

var (
	ErrIncorrectSecret = errors.New("incorrect password")
	ErrTooManyAttempts = errors.New("too many attempts")
)

// Hasher is the opaque hash/verify collaborator.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, digest string) bool
}

// BcryptHasher hashes with bcrypt at the given cost (bcrypt.DefaultCost when zero).
// Secrets are reduced with SHA-256 first, so every byte counts despite bcrypt's
// 72-byte input limit.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(secret string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	digest, err := bcrypt.GenerateFromPassword(prehash(secret), cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

func (BcryptHasher) Verify(secret, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), prehash(secret)) == nil
}

func prehash(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// Gate verifies upload secrets against one digest. Failed attempts are throttled
// process-wide; successful attempts never consume the budget.
type Gate struct {
	hasher  Hasher
	digest  string
	limiter *rate.Limiter
}

// NewGate builds a gate for digest. attemptsPerMinute <= 0 disables throttling.
func NewGate(hasher Hasher, digest string, attemptsPerMinute int) *Gate {
	g := &Gate{hasher: hasher, digest: digest}
	if attemptsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(attemptsPerMinute)), attemptsPerMinute)
	}
	return g
}

// NewGateFromSecret hashes secret once and returns a gate for it.
func NewGateFromSecret(hasher Hasher, secret string, attemptsPerMinute int) (*Gate, error) {
	digest, err := hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash upload password: %w", err)
	}
	return NewGate(hasher, digest, attemptsPerMinute), nil
}

// NewGateFromFile reads the password file (trimmed) and hashes it with bcrypt.
func NewGateFromFile(path string, attemptsPerMinute int) (*Gate, error) {
	secret, err := tool.ReadSecretFile(path)
	if err != nil {
		return nil, err
	}
	return NewGateFromSecret(BcryptHasher{}, secret, attemptsPerMinute)
}

// Verify returns nil when secret matches the digest.
func (g *Gate) Verify(secret string) error {
	if g.limiter != nil && g.limiter.Tokens() < 1 {
		return ErrTooManyAttempts
	}
	if secret != "" && g.hasher.Verify(secret, g.digest) {
		return nil
	}
	if g.limiter != nil {
		g.limiter.Allow()
	}
	return ErrIncorrectSecret
}
