package store

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/weiawesome/friendlychat/internal/cache"
	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/internal/metrics"
	"github.com/weiawesome/friendlychat/internal/processor"
	"github.com/weiawesome/friendlychat/internal/repository"
	"github.com/weiawesome/friendlychat/pkg/database"
	"github.com/weiawesome/friendlychat/pkg/pubsub"
	"github.com/weiawesome/friendlychat/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	ada   = &domain.Profile{UID: "u-ada", DisplayName: "Ada", PhotoURL: "https://example.com/ada.png"}
	grace = &domain.Profile{UID: "u-grace", DisplayName: "Grace"}
)

// instrumentedRepo wraps the real repository to count reads and inject
// failures.
type instrumentedRepo struct {
	repository.MessageRepository

	mu             sync.Mutex
	latestCalls    int
	failUpdateWith error
}

func (r *instrumentedRepo) Latest(ctx context.Context, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	r.latestCalls++
	r.mu.Unlock()
	return r.MessageRepository.Latest(ctx, limit)
}

func (r *instrumentedRepo) UpdateImage(ctx context.Context, id string, u repository.ImageUpdate) (*domain.Message, error) {
	r.mu.Lock()
	err := r.failUpdateWith
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.MessageRepository.UpdateImage(ctx, id, u)
}

func (r *instrumentedRepo) latestCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestCalls
}

type failingBlobs struct {
	storage.Storage
	writeErr error
	onWrite  func()
}

func (f *failingBlobs) Put(ctx context.Context, obj storage.Object) (string, error) {
	if f.onWrite != nil {
		f.onWrite()
		return "", ctx.Err()
	}
	if f.writeErr != nil {
		return "", f.writeErr
	}
	return f.Storage.Put(ctx, obj)
}

type flakyBus struct {
	pubsub.PubSub
}

func (flakyBus) Publish(context.Context, string, *pubsub.Event) error {
	return errors.New("bus unavailable")
}

type memoryCache struct {
	mu      sync.Mutex
	gen     int64
	entries map[int64][]domain.Message
	hits    int
}

func (c *memoryCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *memoryCache) Get(_ context.Context, gen int64) ([]domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.entries[gen]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	c.hits++
	return msgs, nil
}

func (c *memoryCache) Set(_ context.Context, gen int64, msgs []domain.Message, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[gen] = msgs
	return nil
}

func (c *memoryCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	return nil
}

func (c *memoryCache) Close() error { return nil }

type fixture struct {
	client  *Client
	repo    *instrumentedRepo
	blobs   *failingBlobs
	bus     pubsub.PubSub
	cache   *memoryCache
	metrics *metrics.Metrics
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	opts Options
	bus  func(pubsub.PubSub) pubsub.PubSub
}

func withOptions(o Options) fixtureOption {
	return func(c *fixtureConfig) { c.opts = o }
}

func withBus(wrap func(pubsub.PubSub) pubsub.PubSub) fixtureOption {
	return func(c *fixtureConfig) { c.bus = wrap }
}

func newFixture(t *testing.T, options ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{}
	for _, o := range options {
		o(&cfg)
	}

	db, err := database.New(&database.Config{
		Driver:   "sqlite",
		FilePath: filepath.Join(t.TempDir(), "chat.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, &domain.MessageModel{}))

	gormRepo, err := repository.NewGormMessageRepository(context.Background(), db)
	require.NoError(t, err)
	repo := &instrumentedRepo{MessageRepository: gormRepo}

	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	blobs := &failingBlobs{Storage: local}

	memBus := pubsub.NewMemoryPubSub()
	var bus pubsub.PubSub = memBus
	if cfg.bus != nil {
		bus = cfg.bus(memBus)
	}

	wc := &memoryCache{entries: map[int64][]domain.Message{}}
	m := metrics.New()

	client := New(repo, bus, blobs, wc, processor.NewDisplayProcessor(64, 80), m, cfg.opts)
	require.NoError(t, client.Start(context.Background()))

	t.Cleanup(func() {
		assert.NoError(t, client.Close())
		assert.NoError(t, memBus.Close())
		assert.NoError(t, database.Close(db))
	})

	return &fixture{client: client, repo: repo, blobs: blobs, bus: bus, cache: wc, metrics: m}
}

// recorder collects change events delivered to a subscription.
type recorder struct {
	ch chan domain.ChangeEvent
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan domain.ChangeEvent, 512)}
}

func (r *recorder) onChange(ev domain.ChangeEvent) {
	r.ch <- ev
}

func (r *recorder) next(t *testing.T) domain.ChangeEvent {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return domain.ChangeEvent{}
	}
}

func (r *recorder) take(t *testing.T, n int) []domain.ChangeEvent {
	t.Helper()
	out := make([]domain.ChangeEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.next(t))
	}
	return out
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected change event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func subscribe(t *testing.T, f *fixture) (*Subscription, *recorder) {
	t.Helper()
	rec := newRecorder()
	sub, err := f.client.Subscribe(context.Background(), rec.onChange)
	require.NoError(t, err)
	t.Cleanup(func() {
		sub.Close()
		<-sub.Done()
	})
	return sub, rec
}

func sendTexts(t *testing.T, f *fixture, n int) []*domain.Message {
	t.Helper()
	out := make([]*domain.Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := f.client.SendText(context.Background(), ada, "hello")
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestSendTextValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.SendText(ctx, ada, "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	// Any non-empty body is sent as typed.
	blank, err := f.client.SendText(ctx, ada, " \n\t")
	require.NoError(t, err)
	assert.Equal(t, " \n\t", blank.Text)
	_, err = f.client.SendText(ctx, nil, "hi")
	assert.ErrorIs(t, err, ErrSignedOut)

	msg, err := f.client.SendText(ctx, ada, "hi there")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "Ada", msg.Name)
	assert.Equal(t, ada.PhotoURL, msg.ProfilePicURL)
	assert.NotZero(t, msg.Timestamp)

	latest, err := f.repo.Latest(ctx, 20)
	require.NoError(t, err)
	assert.Len(t, latest, 2)
}

func TestSubscribeInitialWindow(t *testing.T) {
	f := newFixture(t)
	sent := sendTexts(t, f, 25)

	_, rec := subscribe(t, f)
	events := rec.take(t, 20)
	for i, ev := range events {
		assert.Equal(t, domain.ChangeAdded, ev.Type)
		assert.Equal(t, i, ev.NewIndex)
		// Newest first.
		assert.Equal(t, sent[24-i].ID, ev.Message.ID)
	}
	rec.none(t)
}

func TestLiveWindowEvictsOldest(t *testing.T) {
	f := newFixture(t)
	sent := sendTexts(t, f, 20)

	_, rec := subscribe(t, f)
	rec.take(t, 20)

	msg, err := f.client.SendText(context.Background(), grace, "newest")
	require.NoError(t, err)

	removed := rec.next(t)
	assert.Equal(t, domain.ChangeRemoved, removed.Type)
	assert.Equal(t, sent[0].ID, removed.Message.ID)
	assert.Equal(t, -1, removed.NewIndex)

	added := rec.next(t)
	assert.Equal(t, domain.ChangeAdded, added.Type)
	assert.Equal(t, msg.ID, added.Message.ID)
	assert.Equal(t, 0, added.NewIndex)
}

func TestSnapshotServedFromCache(t *testing.T) {
	f := newFixture(t)
	sendTexts(t, f, 3)

	_, rec1 := subscribe(t, f)
	rec1.take(t, 3)
	_, rec2 := subscribe(t, f)
	rec2.take(t, 3)

	assert.Equal(t, 1, f.repo.latestCount())
	assert.Equal(t, 1, f.cache.hits)

	// A write moves the generation on, so the next snapshot reads the store.
	sendTexts(t, f, 1)
	rec1.take(t, 1)
	_, rec3 := subscribe(t, f)
	assert.Len(t, rec3.take(t, 4), 4)
	assert.Equal(t, 2, f.repo.latestCount())
}

func TestSendImageLifecycle(t *testing.T) {
	f := newFixture(t)
	_, rec := subscribe(t, f)

	msg, err := f.client.SendImage(context.Background(), ada, Upload{
		Name:    "../holiday photo.png",
		Content: bytes.NewReader(pngBytes(t, 200, 100)),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.UploadComplete, msg.UploadState)
	assert.Equal(t, "u-ada/"+msg.ID+"/holiday_photo.png", msg.StorageURI)
	assert.Equal(t, "/files/"+msg.StorageURI, msg.ImageURL)

	pending := rec.next(t)
	assert.Equal(t, domain.ChangeAdded, pending.Type)
	assert.Equal(t, domain.LoadingImageURL, pending.Message.ImageURL)

	// The uploading state is not published; the next change is the image.
	done := rec.next(t)
	assert.Equal(t, domain.ChangeModified, done.Type)
	assert.Equal(t, domain.UploadComplete, done.Message.UploadState)
	assert.Equal(t, msg.ImageURL, done.Message.ImageURL)
	assert.Equal(t, pending.Message.ID, done.Message.ID)
	assert.Equal(t, pending.Message.Timestamp, done.Message.Timestamp)

	// Stored downscaled to the display width.
	rc, err := f.blobs.Open(context.Background(), msg.StorageURI)
	require.NoError(t, err)
	defer rc.Close()
	cfg, _, err := image.DecodeConfig(rc)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
}

func TestSendImageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.SendImage(ctx, ada, Upload{Name: "notes.txt", Content: strings.NewReader("just text")})
	assert.ErrorIs(t, err, ErrNotImage)

	svg := `<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`
	_, err = f.client.SendImage(ctx, ada, Upload{Name: "x.svg", Content: strings.NewReader(svg)})
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = f.client.SendImage(ctx, nil, Upload{Name: "a.png", Content: bytes.NewReader(pngBytes(t, 4, 4))})
	assert.ErrorIs(t, err, ErrSignedOut)

	latest, err := f.repo.Latest(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestSendImageUploadFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.blobs.writeErr = errors.New("disk full")
	_, rec := subscribe(t, f)

	_, err := f.client.SendImage(context.Background(), ada, Upload{Name: "a.png", Content: bytes.NewReader(pngBytes(t, 4, 4))})
	require.ErrorIs(t, err, ErrUploadFailed)

	events := rec.take(t, 3)
	final := events[2]
	assert.Equal(t, domain.ChangeModified, final.Type)
	assert.Equal(t, domain.UploadFailed, final.Message.UploadState)
	assert.Equal(t, domain.FailedImageURL, final.Message.ImageURL)

	stored, err := f.repo.Get(context.Background(), final.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadFailed, stored.UploadState)
}

func TestSendImageCompensationDeletesWhenUpdateFails(t *testing.T) {
	f := newFixture(t)
	f.repo.failUpdateWith = errors.New("database is read-only")
	_, rec := subscribe(t, f)

	_, err := f.client.SendImage(context.Background(), ada, Upload{Name: "a.png", Content: bytes.NewReader(pngBytes(t, 4, 4))})
	require.ErrorIs(t, err, ErrUploadFailed)

	added := rec.next(t)
	assert.Equal(t, domain.ChangeAdded, added.Type)
	removed := rec.next(t)
	assert.Equal(t, domain.ChangeRemoved, removed.Type)
	assert.Equal(t, added.Message.ID, removed.Message.ID)

	_, err = f.repo.Get(context.Background(), added.Message.ID)
	assert.ErrorIs(t, err, repository.ErrMessageNotFound)
}

func TestSendImageCancelledRequestStillSettles(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The client goes away mid-upload.
	f.blobs.onWrite = cancel
	_, err := f.client.SendImage(ctx, ada, Upload{Name: "a.png", Content: bytes.NewReader(pngBytes(t, 4, 4))})
	require.ErrorIs(t, err, ErrUploadFailed)

	latest, err := f.repo.Latest(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, domain.UploadFailed, latest[0].UploadState)
}

func TestSubscriptionClose(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	sub, err := f.client.Subscribe(context.Background(), rec.onChange)
	require.NoError(t, err)
	assert.Equal(t, 1.0, gaugeValue(f.metrics))

	sub.Close()
	sub.Close()
	<-sub.Done()

	sendTexts(t, f, 1)
	rec.none(t)
	assert.Equal(t, 0.0, gaugeValue(f.metrics))
}

func TestSubscriptionContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := f.client.Subscribe(ctx, func(domain.ChangeEvent) {})
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not released on context cancel")
	}
}

func TestCloseFromCallback(t *testing.T) {
	f := newFixture(t)
	sendTexts(t, f, 3)

	var sub *Subscription
	ready := make(chan struct{})
	count := 0
	sub, err := f.client.Subscribe(context.Background(), func(domain.ChangeEvent) {
		<-ready
		count++
		sub.Close()
	})
	require.NoError(t, err)
	close(ready)

	<-sub.Done()
	assert.Equal(t, 1, count)
}

func TestDeleteBackfillsWindow(t *testing.T) {
	f := newFixture(t, withOptions(Options{WindowSize: 3}))
	sent := sendTexts(t, f, 4)

	_, rec := subscribe(t, f)
	rec.take(t, 3)

	require.ErrorIs(t, f.client.DeleteMessage(context.Background(), grace, sent[2].ID), ErrForbidden)
	require.ErrorIs(t, f.client.DeleteMessage(context.Background(), nil, sent[2].ID), ErrSignedOut)
	require.NoError(t, f.client.DeleteMessage(context.Background(), ada, sent[2].ID))

	removed := rec.next(t)
	assert.Equal(t, domain.ChangeRemoved, removed.Type)
	assert.Equal(t, sent[2].ID, removed.Message.ID)

	backfilled := rec.next(t)
	assert.Equal(t, domain.ChangeAdded, backfilled.Type)
	assert.Equal(t, sent[0].ID, backfilled.Message.ID)
	assert.Equal(t, 2, backfilled.NewIndex)
}

func TestDeleteImageRemovesBlob(t *testing.T) {
	f := newFixture(t)
	msg, err := f.client.SendImage(context.Background(), ada, Upload{Name: "a.png", Content: bytes.NewReader(pngBytes(t, 4, 4))})
	require.NoError(t, err)

	require.NoError(t, f.client.DeleteMessage(context.Background(), ada, msg.ID))
	_, err = f.blobs.Open(context.Background(), msg.StorageURI)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSlowSubscriberResyncs(t *testing.T) {
	f := newFixture(t, withOptions(Options{QueryBuffer: 1, WindowSize: 5}))

	gate := make(chan struct{})
	var mu sync.Mutex
	var mirror []domain.Message
	first := true
	sub, err := f.client.Subscribe(context.Background(), func(ev domain.ChangeEvent) {
		if first {
			first = false
			<-gate
		}
		mu.Lock()
		defer mu.Unlock()
		mirror = applyEvent(mirror, ev)
	})
	require.NoError(t, err)
	defer func() {
		sub.Close()
		<-sub.Done()
	}()

	// The empty window emits nothing, so the first event is a live write.
	sendTexts(t, f, 1)
	// These overflow the one-slot buffer while the callback is blocked.
	sendTexts(t, f, 8)
	close(gate)

	want, err := f.repo.Latest(context.Background(), 5)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return assert.ObjectsAreEqual(ids(want), ids(mirror))
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, counterValue(f.metrics), 1.0)
}

func TestPublishFailureDeliversLocally(t *testing.T) {
	f := newFixture(t, withBus(func(b pubsub.PubSub) pubsub.PubSub { return flakyBus{PubSub: b} }))
	_, rec := subscribe(t, f)

	msg, err := f.client.SendText(context.Background(), ada, "still here")
	require.NoError(t, err)

	ev := rec.next(t)
	assert.Equal(t, msg.ID, ev.Message.ID)
}

func TestReapStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stuck := &domain.Message{UserID: ada.UID, ImageURL: domain.LoadingImageURL, UploadState: domain.UploadUploading}
	require.NoError(t, f.repo.Create(ctx, stuck))

	n, err := f.client.ReapStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.client.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = f.client.ReapStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.repo.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadFailed, got.UploadState)
	assert.Equal(t, domain.FailedImageURL, got.ImageURL)
}

func TestLifecycleErrors(t *testing.T) {
	c := New(nil, pubsub.NewMemoryPubSub(), nil, nil, nil, nil, Options{})
	_, err := c.Subscribe(context.Background(), func(domain.ChangeEvent) {})
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
	_, err = c.Subscribe(context.Background(), func(domain.ChangeEvent) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"cat.png":               "cat.png",
		"../../etc/passwd":      "passwd",
		`C:\Users\me\dog.jpg`:   "dog.jpg",
		"holiday photo (1).gif": "holiday_photo_1_.gif",
		"":                      "image",
		"...":                   "image",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFileName(in), in)
	}
}

// applyEvent mirrors what a renderer does with change events.
func applyEvent(list []domain.Message, ev domain.ChangeEvent) []domain.Message {
	for i := range list {
		if list[i].ID == ev.Message.ID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if ev.Type == domain.ChangeRemoved {
		return list
	}
	pos := len(list)
	for i := range list {
		if list[i].Less(&ev.Message) {
			pos = i
			break
		}
	}
	list = append(list, domain.Message{})
	copy(list[pos+1:], list[pos:])
	list[pos] = ev.Message
	return list
}
