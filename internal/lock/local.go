package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ProviderLocal names leases issued by Local.
const ProviderLocal = "local"

type localEntry struct {
	token   string
	expires time.Time
}

// Local is an in-process lock table with TTL expiry.
type Local struct {
	mu      sync.Mutex
	entries map[string]localEntry
	now     func() time.Time
}

// NewLocal returns an empty lock table.
func NewLocal() *Local {
	return &Local{entries: make(map[string]localEntry), now: time.Now}
}

// Acquire takes key for ttl unless a live lease holds it.
func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (*Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if e, ok := l.entries[key]; ok && now.Before(e.expires) {
		return nil, ErrNotAcquired
	}
	token, err := tokens.NewID()
	if err != nil {
		return nil, fmt.Errorf("lease token: %w", err)
	}
	l.entries[key] = localEntry{token: token, expires: now.Add(ttl)}
	return &Lease{
		Key:      key,
		Token:    token,
		Provider: ProviderLocal,
		release: func(context.Context) error {
			l.release(key, token)
			return nil
		},
	}, nil
}

func (l *Local) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok && e.token == token {
		delete(l.entries, key)
	}
}
