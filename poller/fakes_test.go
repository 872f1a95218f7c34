package poller_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rexml/models"
)

// memStore mirrors the guarantees of the sql store: unique (feed, source id)
// and guarded state transitions.
type memStore struct {
	mu        sync.Mutex
	feeds     []models.Feed
	items     map[int64]*models.Item
	keys      map[string]int64
	nextId    int64
	failOn    map[string]error // source id -> insert error
	listErr   error
	updates   int
	pendingFn func()            // called before PendingItems returns
	insertFn  func(models.Item) // called after a new row is inserted
}

func newMemStore(feeds ...models.Feed) *memStore {
	return &memStore{
		feeds:  feeds,
		items:  make(map[int64]*models.Item),
		keys:   make(map[string]int64),
		failOn: make(map[string]error),
	}
}

func key(feedId int64, sourceId string) string {
	return fmt.Sprintf("%d/%s", feedId, sourceId)
}

func (s *memStore) ListFeeds(context.Context) ([]models.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]models.Feed(nil), s.feeds...), nil
}

func (s *memStore) InsertItem(_ context.Context, item models.Item) (bool, error) {
	s.mu.Lock()
	if err, ok := s.failOn[item.SourceId]; ok {
		s.mu.Unlock()
		return false, err
	}
	k := key(item.FeedId, item.SourceId)
	if _, exists := s.keys[k]; exists {
		s.mu.Unlock()
		return false, nil
	}
	s.nextId++
	item.Id = s.nextId
	if item.State == "" {
		item.State = models.StateUnknown
	}
	s.items[item.Id] = &item
	s.keys[k] = item.Id
	fn := s.insertFn
	s.mu.Unlock()

	if fn != nil {
		fn(item)
	}
	return true, nil
}

func (s *memStore) PendingItems(_ context.Context, feedId int64) ([]models.Item, error) {
	s.mu.Lock()
	var pending []models.Item
	for _, item := range s.items {
		if item.FeedId == feedId && item.State == models.StateUnknown {
			pending = append(pending, *item)
		}
	}
	fn := s.pendingFn
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
	return pending, nil
}

func (s *memStore) UpdatePopularity(_ context.Context, itemId int64, popularity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemId]
	if !ok {
		return errors.New("no such item")
	}
	if item.State == models.StateUnknown {
		item.Popularity = popularity
		s.updates++
	}
	return nil
}

func (s *memStore) MarkCrossed(_ context.Context, itemId int64, popularity int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemId]
	if !ok || item.State != models.StateUnknown {
		return false, nil
	}
	item.State = models.StateCrossed
	item.Popularity = popularity
	item.CrossedAt = &at
	return true, nil
}

func (s *memStore) MarkExpired(_ context.Context, itemId int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemId]
	if !ok || item.State != models.StateUnknown {
		return false, nil
	}
	item.State = models.StateExpired
	return true, nil
}

func (s *memStore) item(feedId int64, sourceId string) models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.keys[key(feedId, sourceId)]
	if !ok {
		return models.Item{}
	}
	return *s.items[id]
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// fakeClient serves a fixed page per feed name
type fakeClient struct {
	mu    sync.Mutex
	pages map[string][]models.FetchedItem
	errs  map[string]error
	calls chan string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pages: make(map[string][]models.FetchedItem),
		errs:  make(map[string]error),
		calls: make(chan string, 100),
	}
}

func (c *fakeClient) set(name string, page ...models.FetchedItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[name] = page
}

func (c *fakeClient) fail(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[name] = err
}

func (c *fakeClient) FetchRecent(_ context.Context, name string, notBefore time.Time) ([]models.FetchedItem, error) {
	select {
	case c.calls <- name:
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.errs[name]; ok {
		return nil, err
	}
	var page []models.FetchedItem
	for _, item := range c.pages[name] {
		if !item.CreatedAt.Before(notBefore) {
			page = append(page, item)
		}
	}
	return page, nil
}

// blockingClient holds every fetch until release is closed and tracks how
// many fetches run at once
type blockingClient struct {
	entered chan string
	release chan struct{}

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func newBlockingClient() *blockingClient {
	return &blockingClient{
		entered: make(chan string, 100),
		release: make(chan struct{}),
	}
}

func (c *blockingClient) FetchRecent(ctx context.Context, name string, _ time.Time) ([]models.FetchedItem, error) {
	c.mu.Lock()
	c.inFlight++
	c.maxInFlight = max(c.maxInFlight, c.inFlight)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	c.entered <- name
	select {
	case <-c.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *blockingClient) peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInFlight
}

// recordingSink keeps emitted events and optionally fails
type recordingSink struct {
	mu     sync.Mutex
	events []models.CrossingEvent
	err    error
}

func (s *recordingSink) EmitCrossing(_ context.Context, event models.CrossingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func fetched(sourceId string, created time.Time, popularity int64) models.FetchedItem {
	return models.FetchedItem{
		SourceId:   sourceId,
		Kind:       "t3",
		Title:      "post " + sourceId,
		Url:        "https://example.com/" + sourceId,
		Permalink:  "/r/test/comments/" + sourceId,
		CreatedAt:  created,
		Popularity: popularity,
	}
}
