package feed

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weiawesome/friendlychat/internal/domain"
)

// ErrMissingTimestamp is returned when a card in the feed has no timestamp
// to order a new card against.
var ErrMissingTimestamp = errors.New("feed card has no timestamp")

// MaxCards is the default size cap of a feed.
const MaxCards = 20

// Op kinds sent to a Sink.
const (
	OpUpsert = "upsert"
	OpRemove = "remove"
	OpShow   = "show"
)

// Op is one change to the rendered feed. An upsert places HTML before the
// card BeforeID, or at the end when BeforeID is empty.
type Op struct {
	Op       string `json:"op"`
	ID       string `json:"id"`
	HTML     string `json:"html,omitempty"`
	BeforeID string `json:"before_id,omitempty"`
	Visible  bool   `json:"visible,omitempty"`
}

// Sink receives feed ops in order. Render must not block.
type Sink interface {
	Render(op Op)
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithFadeInDelay sets how long a new card stays hidden.
func WithFadeInDelay(d time.Duration) Option {
	return func(r *Renderer) { r.fadeIn = d }
}

// WithMaxCards sets the size cap.
func WithMaxCards(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.max = n
		}
	}
}

// Renderer keeps an ordered, size-capped list of message cards, oldest
// first, and reports every change to its sink.
type Renderer struct {
	mu     sync.Mutex
	sink   Sink
	cards  []*Card
	fadeIn time.Duration
	max    int
	now    func() time.Time
	timers map[string]*time.Timer
	closed bool
}

// NewRenderer creates a renderer writing to sink.
func NewRenderer(sink Sink, opts ...Option) *Renderer {
	r := &Renderer{
		sink:   sink,
		fadeIn: time.Millisecond,
		max:    MaxCards,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Apply renders a change event of a live query.
func (r *Renderer) Apply(ev domain.ChangeEvent) error {
	m := ev.Message
	switch ev.Type {
	case domain.ChangeAdded, domain.ChangeModified:
		return r.Upsert(m.ID, m.Timestamp, m.Name, m.Text, m.ProfilePicURL, m.ImageURL)
	case domain.ChangeRemoved:
		r.Remove(m.ID)
		return nil
	default:
		return fmt.Errorf("unknown change type %q", ev.Type)
	}
}

// Upsert updates the card id, or creates it at its place in timestamp order.
// Re-upserting a card with unchanged content emits nothing.
// A zero timestamp on a new card means now. Existing cards keep their place.
func (r *Renderer) Upsert(id string, timestamp int64, name, text, picURL, imageURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	if i := r.indexOf(id); i >= 0 {
		c := r.cards[i]
		prev := *c
		if picURL != "" {
			c.PicURL = picURL
		}
		c.Name = name
		if text != "" {
			c.Text, c.ImageURL = text, ""
		} else if imageURL != "" {
			c.Text, c.ImageURL = "", imageURL
		}
		if *c == prev {
			return nil
		}
		return r.emitUpsert(i)
	}

	if timestamp == 0 {
		timestamp = r.now().UnixMilli()
	}
	pos := len(r.cards)
	for i, c := range r.cards {
		if c.Timestamp == 0 {
			return fmt.Errorf("%w: card %s", ErrMissingTimestamp, c.ID)
		}
		if c.Timestamp > timestamp {
			pos = i
			break
		}
	}

	c := &Card{ID: id, Timestamp: timestamp, Name: name, PicURL: picURL}
	if text != "" {
		c.Text = text
	} else {
		c.ImageURL = imageURL
	}

	r.cards = append(r.cards, nil)
	copy(r.cards[pos+1:], r.cards[pos:])
	r.cards[pos] = c

	if err := r.emitUpsert(pos); err != nil {
		r.cards = append(r.cards[:pos], r.cards[pos+1:]...)
		return err
	}
	r.scheduleShow(id)

	for len(r.cards) > r.max {
		r.removeAt(0)
	}
	return nil
}

// Remove deletes the card id; an unknown id is ignored.
func (r *Renderer) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if i := r.indexOf(id); i >= 0 {
		r.removeAt(i)
	}
}

// Cards returns a copy of the feed, oldest first.
func (r *Renderer) Cards() []Card {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Card, len(r.cards))
	for i, c := range r.cards {
		out[i] = *c
	}
	return out
}

// Close stops pending fade-ins. The renderer emits nothing afterwards.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

func (r *Renderer) indexOf(id string) int {
	for i, c := range r.cards {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (r *Renderer) emitUpsert(i int) error {
	c := r.cards[i]
	html, err := renderCard(c, r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("render card %s: %w", c.ID, err)
	}
	before := ""
	if i+1 < len(r.cards) {
		before = r.cards[i+1].ID
	}
	r.sink.Render(Op{Op: OpUpsert, ID: c.ID, HTML: html, BeforeID: before, Visible: c.Visible})
	return nil
}

func (r *Renderer) removeAt(i int) {
	c := r.cards[i]
	r.cards = append(r.cards[:i], r.cards[i+1:]...)
	if t, ok := r.timers[c.ID]; ok {
		t.Stop()
		delete(r.timers, c.ID)
	}
	r.sink.Render(Op{Op: OpRemove, ID: c.ID})
}

func (r *Renderer) scheduleShow(id string) {
	r.timers[id] = time.AfterFunc(r.fadeIn, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.timers, id)
		if r.closed {
			return
		}
		i := r.indexOf(id)
		if i < 0 || r.cards[i].Visible {
			return
		}
		r.cards[i].Visible = true
		r.sink.Render(Op{Op: OpShow, ID: id})
	})
}
