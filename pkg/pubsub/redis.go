package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/friendlychat/pkg/log"
)

// RedisPubSub carries collection changes over Redis PUBLISH/SUBSCRIBE.
// Redis keeps no history: a subscriber only sees changes published after
// its subscription was confirmed.
type RedisPubSub struct {
	client *redis.Client

	mu     sync.Mutex
	subs   map[string]*redisSubscription
	closed bool
}

type redisSubscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *redisSubscription) stop() {
	s.cancel()
	s.ps.Close()
	<-s.done
}

// NewRedisPubSub dials cfg.Address and checks the connection.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(cfg.Options())
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}
	return NewRedisPubSubFromClient(client), nil
}

// NewRedisPubSubFromClient wraps an existing client. The PubSub takes
// ownership and closes the client on Close.
func NewRedisPubSubFromClient(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client, subs: make(map[string]*redisSubscription)}
}

// Publish sends event to every instance subscribed to channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so nothing
// published afterwards is missed. A previous subscription on the same
// channel is replaced.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	if existing, ok := r.subs[channel]; ok {
		existing.stop()
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{ps: ps, cancel: cancel, done: make(chan struct{})}
	r.subs[channel] = sub

	out := make(chan *Event, 100)
	go r.forward(subCtx, sub, out)
	return out, nil
}

// forward decodes payloads until the subscription ends. It blocks on a
// full out channel instead of dropping changes.
func (r *RedisPubSub) forward(ctx context.Context, sub *redisSubscription, out chan<- *Event) {
	defer close(sub.done)
	defer close(out)

	in := sub.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger := log.L()
				logger.Warn().Err(err).Str(log.FieldChannel, msg.Channel).Msg("dropping malformed redis event")
				continue
			}
			select {
			case out <- &event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Unsubscribe ends the subscription on channel.
func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	sub, ok := r.subs[channel]
	delete(r.subs, channel)
	r.mu.Unlock()

	if ok {
		sub.stop()
	}
	return nil
}

// Close ends every subscription and closes the client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return r.client.Close()
}
