package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/friendlychat/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// WindowCache caches the newest-first message window. Entries are keyed by a
// generation that every write bumps, so a snapshot read before a write can
// never be served after it.
type WindowCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, gen int64) ([]domain.Message, error)
	Set(ctx context.Context, gen int64, msgs []domain.Message, ttl time.Duration) error
	Invalidate(ctx context.Context) error
	Close() error
}

// NoopCache never holds anything.
type NoopCache struct{}

func (NoopCache) Generation(context.Context) (int64, error) { return 0, nil }

func (NoopCache) Get(context.Context, int64) ([]domain.Message, error) { return nil, ErrCacheMiss }

func (NoopCache) Set(context.Context, int64, []domain.Message, time.Duration) error { return nil }

func (NoopCache) Invalidate(context.Context) error { return nil }

func (NoopCache) Close() error { return nil }
