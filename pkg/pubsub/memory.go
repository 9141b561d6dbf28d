package pubsub

import (
	"context"
	"sync"
)

// MemoryPubSub delivers events within a single process. It is meant for
// single-instance deployments and tests.
type MemoryPubSub struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
}

type memorySub struct {
	ch     chan *Event
	quit   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	mu     sync.Mutex
	done   bool
}

func (s *memorySub) deliver(event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	// Block on a full channel like the network drivers do. quit releases a
	// publisher stuck on a subscriber that is going away.
	select {
	case s.ch <- event:
	case <-s.quit:
	}
}

func (s *memorySub) close() {
	s.once.Do(func() {
		s.cancel()
		close(s.quit)
		s.mu.Lock()
		s.done = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// NewMemoryPubSub creates an in-process PubSub.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[string][]*memorySub)}
}

// Publish delivers event to every current subscriber of channel.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, s := range m.subs[channel] {
		s.deliver(event)
	}
	return nil
}

// Subscribe subscribes to a specific channel.
func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &memorySub{ch: make(chan *Event, 100), quit: make(chan struct{}), cancel: cancel}
	m.subs[channel] = append(m.subs[channel], s)

	go func() {
		<-subCtx.Done()
		s.close()
		m.remove(channel, s)
	}()

	return s.ch, nil
}

func (m *MemoryPubSub) remove(channel string, target *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[channel]
	for i, s := range subs {
		if s == target {
			m.subs[channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subs[channel]) == 0 {
		delete(m.subs, channel)
	}
}

// Unsubscribe closes every subscription on channel.
func (m *MemoryPubSub) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	subs := m.subs[channel]
	delete(m.subs, channel)
	m.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	return nil
}

// Close closes all subscriptions.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	all := m.subs
	m.subs = make(map[string][]*memorySub)
	m.closed = true
	m.mu.Unlock()

	for _, subs := range all {
		for _, s := range subs {
			s.close()
		}
	}
	return nil
}
