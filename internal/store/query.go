package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/pkg/log"
	"github.com/weiawesome/friendlychat/pkg/pubsub"
)

// Subscription is the handle of a live query.
type Subscription struct {
	id     string
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// Close releases the live query. No change is delivered after Close
// returns, except one already being delivered. Closing twice is a no-op.
// Close does not wait for the query to wind down; use Done for that.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

// Done is closed once the query has released its resources.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// liveQuery receives committed writes and keeps one window current.
type liveQuery struct {
	sub      *Subscription
	changes  chan domain.Mutation
	wake     chan struct{}
	resync   atomic.Bool
	onChange func(domain.ChangeEvent)
}

// offer queues a write without blocking. A query that cannot keep up is
// marked for a full re-read instead.
func (q *liveQuery) offer(mut domain.Mutation) {
	select {
	case q.changes <- mut:
	default:
		q.resync.Store(true)
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// Subscribe opens a live query over the newest messages. onChange first
// receives one added event per message in the window, newest first, then
// every change to the window in commit order. It is called from a single
// goroutine. The query ends when ctx is done or the subscription is closed.
func (c *Client) Subscribe(ctx context.Context, onChange func(domain.ChangeEvent)) (*Subscription, error) {
	qctx, cancel := context.WithCancel(ctx)
	q := &liveQuery{
		sub: &Subscription{
			id:     uuid.New().String(),
			cancel: cancel,
			done:   make(chan struct{}),
		},
		changes:  make(chan domain.Mutation, c.opts.QueryBuffer),
		wake:     make(chan struct{}, 1),
		onChange: onChange,
	}

	// Register before reading so no write between the read and the first
	// delivery is lost; replays are dropped by revision.
	c.mu.Lock()
	switch c.state {
	case stateNew:
		c.mu.Unlock()
		cancel()
		return nil, ErrNotStarted
	case stateClosed:
		c.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	c.queries[q.sub.id] = q
	c.mu.Unlock()

	initial, err := c.snapshot(qctx)
	if err != nil {
		c.unregister(q)
		cancel()
		close(q.sub.done)
		return nil, err
	}

	c.metrics.LiveSubscriptions.Inc()
	logger := log.Ctx(ctx)
	logger.Debug().Str(log.FieldQueryID, q.sub.id).Int("initial", len(initial)).Msg("live query opened")

	go c.runQuery(qctx, q, initial)
	return q.sub, nil
}

func (c *Client) unregister(q *liveQuery) {
	c.mu.Lock()
	delete(c.queries, q.sub.id)
	c.mu.Unlock()
}

func (c *Client) runQuery(ctx context.Context, q *liveQuery, initial []domain.Message) {
	l := log.Ctx(ctx).With().Str(log.FieldQueryID, q.sub.id).Logger()
	defer func() {
		c.unregister(q)
		c.metrics.LiveSubscriptions.Dec()
		close(q.sub.done)
		l.Debug().Msg("live query closed")
	}()

	w := newWindow(c.opts.WindowSize)
	emit := func(events []domain.ChangeEvent) {
		for _, ev := range events {
			if q.sub.closed.Load() || ctx.Err() != nil {
				return
			}
			c.metrics.ChangeEvents.WithLabelValues(ev.Type).Inc()
			q.onChange(ev)
		}
	}

	emit(w.reset(initial))

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
			if q.resync.CompareAndSwap(true, false) {
				c.resync(ctx, q, w, emit)
			}
		case mut := <-q.changes:
			if q.resync.CompareAndSwap(true, false) {
				c.resync(ctx, q, w, emit)
				continue
			}
			switch mut.Kind {
			case pubsub.EventMessageCreated, pubsub.EventMessageUpdated:
				emit(w.upsert(mut.Message))
			case pubsub.EventMessageDeleted:
				removed := w.remove(mut.Message.ID)
				emit(removed)
				if len(removed) > 0 {
					c.backfill(ctx, w, emit)
				}
			default:
				l.Warn().Str("kind", mut.Kind).Msg("unknown change kind")
			}
		}
	}
}

// backfill refills the window from the store after a deletion.
func (c *Client) backfill(ctx context.Context, w *window, emit func([]domain.ChangeEvent)) {
	latest, err := c.repo.Latest(ctx, c.opts.WindowSize)
	if err != nil {
		if ctx.Err() == nil {
			logger := log.Ctx(ctx)
			logger.Error().Err(err).Msg("failed to backfill live query")
		}
		return
	}
	emit(w.reset(latest))
}

// resync discards queued writes and rebuilds the window from the store.
func (c *Client) resync(ctx context.Context, q *liveQuery, w *window, emit func([]domain.ChangeEvent)) {
drain:
	for {
		select {
		case <-q.changes:
		default:
			break drain
		}
	}
	c.metrics.Resyncs.Inc()
	logger := log.Ctx(ctx)
	logger.Warn().Str(log.FieldQueryID, q.sub.id).Msg("live query fell behind, re-reading store")

	latest, err := c.repo.Latest(ctx, c.opts.WindowSize)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error().Err(err).Msg("failed to resync live query")
			q.resync.Store(true)
		}
		return
	}
	emit(w.reset(latest))
}
