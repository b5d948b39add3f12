package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/MuhamedUsman/letstream/internal/store"
)

// ErrNotFound reports a token that is unknown, expired, or already redeemed.
// Callers cannot tell the three cases apart.
var ErrNotFound = errors.New("download token not found")

// Grant is what a redeemed token stands for: the resource it unlocks and the
// requester it was issued to. Redemption does not re-check the requester,
// possession of the token is the credential, ownership of the resource is
// re-validated downstream.
type Grant struct {
	ResourceID  string
	RequesterID string
	ExpiresAt   time.Time
}

// Store issues and redeems short-lived single-use download tokens. It is safe
// for concurrent use.
type Store struct {
	grants store.KV[string, Grant]
}

// NewStore returns an empty token store backed by in-process memory.
func NewStore() *Store {
	return &Store{grants: store.NewMemory[string, Grant]()}
}

// Issue creates a token binding resourceID to requesterID for ttl and
// returns it. The token is a cryptographically random opaque identifier.
func (s *Store) Issue(resourceID, requesterID string, ttl time.Duration) (string, error) {
	tok, err := newToken()
	if err != nil {
		return "", fmt.Errorf("generating download token: %w", err)
	}
	s.grants.Set(tok, Grant{
		ResourceID:  resourceID,
		RequesterID: requesterID,
		ExpiresAt:   time.Now().Add(ttl),
	})
	return tok, nil
}

// Redeem exchanges a token for its grant, removing it in the same step.
// Concurrent redemptions of one token yield exactly one grant, every other
// caller gets ErrNotFound. Expired tokens that the sweep has not reached yet
// also fail with ErrNotFound.
func (s *Store) Redeem(tok string) (Grant, error) {
	g, ok := s.grants.Take(tok)
	if !ok {
		return Grant{}, ErrNotFound
	}
	if time.Now().After(g.ExpiresAt) {
		return Grant{}, ErrNotFound
	}
	return g, nil
}

// Sweep removes tokens past expiry and returns how many were dropped.
func (s *Store) Sweep(now time.Time) int {
	return s.grants.Sweep(func(_ string, g Grant) bool {
		return now.After(g.ExpiresAt)
	})
}

// Len returns the number of outstanding tokens.
func (s *Store) Len() int { return s.grants.Len() }

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
