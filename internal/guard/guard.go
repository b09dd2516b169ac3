// Package guard keeps a participant from running two submissions at once.
package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrHeld is returned by TryAcquire while another submission holds the key
var ErrHeld = errors.New("submission already in progress")

// SubmissionGuard is a short-lived, expiring mutual exclusion per key.
// TryAcquire returns a token that must be passed back to Release.
type SubmissionGuard interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryGuard is a single-process SubmissionGuard
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{entries: make(map[string]memoryEntry), now: time.Now}
}

func (g *MemoryGuard) TryAcquire(_ context.Context, key string, ttl time.Duration) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if e, ok := g.entries[key]; ok && now.Before(e.expires) {
		return "", ErrHeld
	}
	token := uuid.NewString()
	g.entries[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return token, nil
}

// Release drops the key if token still owns it; a lease that already expired
// and was taken over is left alone.
func (g *MemoryGuard) Release(_ context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entries[key]; ok && e.token == token {
		delete(g.entries, key)
	}
	return nil
}
