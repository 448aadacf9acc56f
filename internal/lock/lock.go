// Package lock provides the per-company scan lock with a redis primary and an
// in-process fallback.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-ir-watcher/internal/id/uuid"
)

// tokens mints lease owner tokens.
var tokens = uuid.New()

// ErrNotAcquired is returned when another holder owns the key.
var ErrNotAcquired = errors.New("lock not acquired")

// Provider grants exclusive leases on keys.
type Provider interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
}

// Lease is a held lock. It remembers the provider that issued it.
type Lease struct {
	Key      string
	Token    string
	Provider string
	release  func(ctx context.Context) error
}

// Release frees the lock if this lease still owns it. Releasing twice is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.release == nil {
		return nil
	}
	release := l.release
	l.release = nil
	return release(ctx)
}

// CompanyScanKey names the lock guarding scans of one company.
func CompanyScanKey(companyID int64) string {
	return fmt.Sprintf("lock:company:%d:scan", companyID)
}
