package lock

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultPingTimeout bounds the redis health check before each acquire.
const DefaultPingTimeout = 300 * time.Millisecond

type pinger interface {
	Provider
	Ping(ctx context.Context) error
}

// Selector holds the local table for every lease and adds the redis lock while
// redis is healthy, so leases taken on either side of an outage still exclude each other.
type Selector struct {
	remote       pinger
	local        Provider
	pingTimeout time.Duration
	logger       *zap.Logger
}

// NewSelector wires a Selector. A nil remote always uses local.
func NewSelector(remote *Redis, local *Local, pingTimeout time.Duration, logger *zap.Logger) *Selector {
	s := newSelector(nil, local, pingTimeout, logger)
	if remote != nil {
		s.remote = remote
	}
	return s
}

func newSelector(remote pinger, local Provider, pingTimeout time.Duration, logger *zap.Logger) *Selector {
	if pingTimeout <= 0 {
		pingTimeout = DefaultPingTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if local == nil {
		local = NewLocal()
	}
	return &Selector{remote: remote, local: local, pingTimeout: pingTimeout, logger: logger}
}

// Acquire takes the local lease, then the redis lease when redis answers a ping.
// The returned lease releases both.
func (s *Selector) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	local, err := s.local.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	if s.remote == nil || !s.healthy(ctx) {
		return local, nil
	}
	remote, err := s.remote.Acquire(ctx, key, ttl)
	if err != nil {
		if rerr := local.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("release local lease", zap.String("key", key), zap.Error(rerr))
		}
		return nil, err
	}
	return &Lease{
		Key:      key,
		Token:    remote.Token,
		Provider: remote.Provider,
		release: func(ctx context.Context) error {
			return errors.Join(remote.Release(ctx), local.Release(ctx))
		},
	}, nil
}

func (s *Selector) healthy(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()
	if err := s.remote.Ping(pingCtx); err != nil {
		s.logger.Warn("redis unavailable, using local lock", zap.Error(err))
		return false
	}
	return true
}
