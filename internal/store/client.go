package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/friendlychat/internal/cache"
	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/internal/metrics"
	"github.com/weiawesome/friendlychat/internal/processor"
	"github.com/weiawesome/friendlychat/internal/repository"
	"github.com/weiawesome/friendlychat/pkg/log"
	"github.com/weiawesome/friendlychat/pkg/pubsub"
	"github.com/weiawesome/friendlychat/pkg/storage"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrSignedOut    = errors.New("user is signed out")
	ErrNotImage     = errors.New("file is not an image")
	ErrUploadFailed = errors.New("image upload failed")
	ErrForbidden    = errors.New("message belongs to another user")
	ErrNotStarted   = errors.New("store client not started")
	ErrClosed       = errors.New("store client closed")
)

// Options tunes the store client.
type Options struct {
	// Collection names the change channel of the messages.
	Collection string
	// WindowSize is the number of messages a live query holds.
	WindowSize int
	// QueryBuffer is the number of pending changes per live query before
	// the query falls back to re-reading the store.
	QueryBuffer int
	CacheTTL    time.Duration
	// URLExpiry bounds presigned download URLs.
	URLExpiry time.Duration
	// StaleUploadAfter is how long an upload may stay in flight before the
	// reaper marks it failed.
	StaleUploadAfter time.Duration
	ReapInterval     time.Duration
	// CompensateTimeout bounds the cleanup of a failed image send.
	CompensateTimeout time.Duration
}

// DefaultOptions returns the options used when fields are left zero.
func DefaultOptions() Options {
	return Options{
		Collection:        "messages",
		WindowSize:        20,
		QueryBuffer:       64,
		CacheTTL:          30 * time.Second,
		URLExpiry:         7 * 24 * time.Hour,
		StaleUploadAfter:  5 * time.Minute,
		ReapInterval:      time.Minute,
		CompensateTimeout: 10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Collection == "" {
		o.Collection = d.Collection
	}
	if o.WindowSize <= 0 {
		o.WindowSize = d.WindowSize
	}
	if o.QueryBuffer <= 0 {
		o.QueryBuffer = d.QueryBuffer
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	if o.URLExpiry <= 0 {
		o.URLExpiry = d.URLExpiry
	}
	if o.StaleUploadAfter <= 0 {
		o.StaleUploadAfter = d.StaleUploadAfter
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = d.ReapInterval
	}
	if o.CompensateTimeout <= 0 {
		o.CompensateTimeout = d.CompensateTimeout
	}
	return o
}

// Client is the message store client: it writes messages and serves live
// queries over the newest messages.
type Client struct {
	repo    repository.MessageRepository
	bus     pubsub.PubSub
	blobs   storage.Storage
	cache   cache.WindowCache
	images  processor.ImageProcessor
	metrics *metrics.Metrics
	opts    Options
	channel string

	sf  singleflight.Group
	now func() time.Time

	mu      sync.Mutex
	queries map[string]*liveQuery
	state   int
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

const (
	stateNew = iota
	stateRunning
	stateClosed
)

// New creates a store client. Start must be called before Subscribe.
func New(
	repo repository.MessageRepository,
	bus pubsub.PubSub,
	blobs storage.Storage,
	windowCache cache.WindowCache,
	images processor.ImageProcessor,
	m *metrics.Metrics,
	opts Options,
) *Client {
	if windowCache == nil {
		windowCache = cache.NoopCache{}
	}
	if m == nil {
		m = metrics.New()
	}
	opts = opts.withDefaults()
	return &Client{
		repo:    repo,
		bus:     bus,
		blobs:   blobs,
		cache:   windowCache,
		images:  images,
		metrics: m,
		opts:    opts,
		channel: pubsub.CollectionChangesChannel(opts.Collection),
		queries: make(map[string]*liveQuery),
		now:     time.Now,
	}
}

// Start subscribes to the change bus and starts the upload reaper.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateRunning:
		return nil
	case stateClosed:
		return ErrClosed
	}

	runCtx, cancel := context.WithCancel(ctx)
	events, err := c.bus.Subscribe(runCtx, c.channel)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to %s: %w", c.channel, err)
	}

	c.cancel = cancel
	c.state = stateRunning

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.dispatch(runCtx, events)
	}()
	go func() {
		defer c.wg.Done()
		c.runReaper(runCtx)
	}()

	logger := log.L()
	logger.Info().Str(log.FieldChannel, c.channel).Msg("store client started")
	return nil
}

// Close stops the client and releases every live query.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state != stateRunning {
		c.state = stateClosed
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	cancel := c.cancel
	queries := make([]*liveQuery, 0, len(c.queries))
	for _, q := range c.queries {
		queries = append(queries, q)
	}
	c.mu.Unlock()

	cancel()
	for _, q := range queries {
		q.sub.Close()
		<-q.sub.Done()
	}
	c.wg.Wait()

	if err := c.bus.Unsubscribe(context.Background(), c.channel); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", c.channel, err)
	}
	return nil
}

// dispatch fans committed writes out to the live queries of this process.
func (c *Client) dispatch(ctx context.Context, events <-chan *pubsub.Event) {
	l := log.L().With().Str(log.FieldChannel, c.channel).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					l.Error().Msg("change bus subscription closed")
				}
				return
			}
			var mut domain.Mutation
			if err := ev.UnmarshalPayload(&mut); err != nil {
				l.Warn().Err(err).Str("type", ev.Type).Msg("dropping malformed change event")
				continue
			}
			c.deliver(mut)
		}
	}
}

func (c *Client) deliver(mut domain.Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range c.queries {
		q.offer(mut)
	}
}

// committed propagates a successful write: the cached window is dropped and
// the change is published. When publishing fails local queries still see it.
func (c *Client) committed(ctx context.Context, kind string, msg *domain.Message) {
	l := log.Ctx(ctx)

	if err := c.cache.Invalidate(ctx); err != nil {
		l.Warn().Err(err).Msg("failed to invalidate window cache")
	}

	mut := domain.Mutation{Kind: kind, Message: *msg}
	ev, err := pubsub.NewEvent(kind, msg.ID, mut)
	if err == nil {
		err = c.bus.Publish(ctx, c.channel, ev)
	}
	if err != nil {
		l.Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to publish change, delivering locally")
		c.deliver(mut)
	}
}

// snapshot returns the current window, newest first, through the cache.
func (c *Client) snapshot(ctx context.Context) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	gen, err := c.cache.Generation(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("window cache unavailable, reading store")
		return c.repo.Latest(ctx, c.opts.WindowSize)
	}

	v, err, _ := c.sf.Do(fmt.Sprintf("window:%d", gen), func() (interface{}, error) {
		msgs, err := c.cache.Get(ctx, gen)
		if err == nil {
			return msgs, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			l.Warn().Err(err).Msg("window cache read failed")
		}

		msgs, err = c.repo.Latest(ctx, c.opts.WindowSize)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(ctx, gen, msgs, c.opts.CacheTTL); err != nil {
			l.Warn().Err(err).Msg("window cache write failed")
		}
		return msgs, nil
	})
	if err != nil {
		return nil, err
	}

	shared := v.([]domain.Message)
	out := make([]domain.Message, len(shared))
	copy(out, shared)
	return out, nil
}
