// Package auth provides call token validation and brute-force protection.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"log"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	MaxFailedAttempts = 5
	LockoutDuration   = 5 * time.Minute
	CleanupInterval   = 5 * time.Minute
)

type failInfo struct {
	count       int
	lockedUntil time.Time
}

// Manager validates call tokens and throttles clients that keep failing.
type Manager struct {
	tokenHash []byte
	token     string

	failedAttempts map[string]failInfo
	mu             sync.RWMutex
	now            func() time.Time
}

// NewManager creates an auth manager with a cleanup goroutine bound to ctx.
//
// tokenHashB64 is a base64-encoded bcrypt hash and takes precedence over
// the plain token. With neither set, every call is accepted.
func NewManager(ctx context.Context, tokenHashB64, token string) *Manager {
	m := &Manager{
		token:          token,
		failedAttempts: make(map[string]failInfo),
		now:            time.Now,
	}
	if tokenHashB64 != "" {
		hash, err := base64.StdEncoding.DecodeString(tokenHashB64)
		if err != nil {
			// A broken hash keeps auth enabled and rejects every token.
			log.Printf("[X] Failed to decode token hash from base64: %v", err)
			hash = []byte{}
		}
		m.tokenHash = hash
	}
	go m.cleanupLoop(ctx)
	log.Printf("[i] Auth manager initialized (enabled=%v)", m.Enabled())
	return m
}

// Enabled returns true if a token or token hash was configured.
func (m *Manager) Enabled() bool {
	return m.tokenHash != nil || m.token != ""
}

// ValidateToken checks a call token against the configured secret.
func (m *Manager) ValidateToken(token string) bool {
	if !m.Enabled() {
		return true
	}
	if token == "" {
		return false
	}
	if m.tokenHash != nil {
		return bcrypt.CompareHashAndPassword(m.tokenHash, []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) == 1
}

// IsLockedOut returns true if the address has exceeded MaxFailedAttempts.
func (m *Manager) IsLockedOut(addr string) bool {
	m.mu.RLock()
	info, exists := m.failedAttempts[addr]
	m.mu.RUnlock()
	if !exists {
		return false
	}
	return info.count >= MaxFailedAttempts && m.now().Before(info.lockedUntil)
}

// RecordFailure increments the failure counter for an address.
func (m *Manager) RecordFailure(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.failedAttempts[addr]
	info.count++
	if info.count >= MaxFailedAttempts {
		info.lockedUntil = m.now().Add(LockoutDuration)
		log.Printf("[AUDIT] %s locked out for %v after %d invalid tokens",
			addr, LockoutDuration, info.count)
	}
	m.failedAttempts[addr] = info
}

// ClearFailures resets the counter after a valid token.
func (m *Manager) ClearFailures(addr string) {
	m.mu.Lock()
	delete(m.failedAttempts, addr)
	m.mu.Unlock()
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[i] Auth cleanup goroutine stopped")
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, v := range m.failedAttempts {
		if v.count >= MaxFailedAttempts && now.After(v.lockedUntil) {
			delete(m.failedAttempts, k)
		}
	}
}
