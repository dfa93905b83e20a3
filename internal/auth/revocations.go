// ABOUTME: Process-wide set of revoked token ids, each held until the token's own expiry
// ABOUTME: Backed by an unbounded dedupe TTL cache; entries leave only when the sweep finds them expired

package auth

import (
	"time"

	"github.com/2389/inbox-gateway/internal/dedupe"
)

// revocationFallbackTTL applies only if Revoke is called without an expiry.
const revocationFallbackTTL = 24 * time.Hour

// Revocations tracks logged-out tokens. Entries are never evicted for
// space: a revoked token stays rejected until its own expiry, so memory
// is bounded by logouts within one token lifetime. The zero value is not
// usable.
type Revocations struct {
	cache *dedupe.Cache
}

// NewRevocations creates an empty revocation set.
func NewRevocations() *Revocations {
	return &Revocations{cache: dedupe.New(revocationFallbackTTL, 0)}
}

// Revoke rejects tokenID until expiresAt.
func (r *Revocations) Revoke(tokenID string, expiresAt time.Time) {
	if expiresAt.IsZero() {
		r.cache.Mark(tokenID)
		return
	}
	r.cache.MarkUntil(tokenID, expiresAt)
}

// IsRevoked reports whether tokenID was revoked and has not yet expired.
func (r *Revocations) IsRevoked(tokenID string) bool {
	return r.cache.Check(tokenID)
}

// Len returns the number of tracked revocations.
func (r *Revocations) Len() int {
	return r.cache.Len()
}

// Close stops the background sweeper.
func (r *Revocations) Close() {
	r.cache.Close()
}
