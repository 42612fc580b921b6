package auth

import (
	"sync"
	"time"
)

// Revocations tracks bearer tokens that must no longer be accepted: single
// tokens by JWT ID, and every token a user was issued before a cutoff.
type Revocations struct {
	mu     sync.Mutex
	tokens map[string]time.Time // jti -> token expiry
	users  map[string]time.Time // user id -> issued-before cutoff
	now    func() time.Time
}

func NewRevocations() *Revocations {
	return &Revocations{
		tokens: make(map[string]time.Time),
		users:  make(map[string]time.Time),
		now:    time.Now,
	}
}

// Revoke blocks one token until its natural expiry.
func (r *Revocations) Revoke(jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	if expiresAt.IsZero() {
		expiresAt = r.now().Add(24 * time.Hour)
	}
	r.tokens[jti] = expiresAt
}

// RevokeUser blocks every token issued to userID up to now.
func (r *Revocations) RevokeUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID] = r.now()
}

// IsRevoked reports whether a token with the given claims is blocked.
func (r *Revocations) IsRevoked(jti, userID string, issuedAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exp, ok := r.tokens[jti]; ok && jti != "" && r.now().Before(exp) {
		return true
	}
	if cutoff, ok := r.users[userID]; ok && !issuedAt.After(cutoff) {
		return true
	}
	return false
}

// Len returns the number of individually revoked tokens still tracked.
func (r *Revocations) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	return len(r.tokens)
}

// sweepLocked drops tokens past their expiry; the parser rejects them anyway.
func (r *Revocations) sweepLocked() {
	now := r.now()
	for jti, exp := range r.tokens {
		if !now.Before(exp) {
			delete(r.tokens, jti)
		}
	}
}
