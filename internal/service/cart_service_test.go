package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type mockProducts map[int64]domain.Product

func (m mockProducts) GetProduct(_ context.Context, id int64) (domain.Product, error) {
	p, ok := m[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	return p, nil
}

type mockRepository struct {
	m       sync.RWMutex
	carts   map[string]*domain.Cart
	err     error
	gets    int
	saves   int
	deletes int
}

func newMockRepository() *mockRepository {
	return &mockRepository{carts: make(map[string]*domain.Cart)}
}

func (m *mockRepository) GetCart(ctx context.Context, sessionID string) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.gets++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[sessionID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	return c, nil
}

func (m *mockRepository) SaveCart(_ context.Context, c *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.saves++
	if m.err != nil {
		return m.err
	}
	m.carts[c.SessionID] = c
	return nil
}

func (m *mockRepository) DeleteCart(_ context.Context, sessionID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.deletes++
	if m.err != nil {
		return m.err
	}
	if _, ok := m.carts[sessionID]; !ok {
		return repository.ErrCartNotFound
	}
	delete(m.carts, sessionID)
	return nil
}

func (m *mockRepository) setErr(err error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.err = err
}

func (m *mockRepository) stored(sessionID string) *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.carts[sessionID]
}

func (m *mockRepository) counts() (gets, saves int) {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.gets, m.saves
}

func (m *mockRepository) deleteCount() int {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.deletes
}

type mockCache struct {
	m    sync.RWMutex
	cart *domain.Cart
	err  error
}

func (m *mockCache) Get(context.Context, string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.cart == nil {
		return nil, cache.ErrCacheMiss
	}
	return m.cart, nil
}

func (m *mockCache) Set(_ context.Context, _ string, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.cart = cart
	return m.err
}

func (m *mockCache) Delete(context.Context, string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.cart = nil
	return m.err
}

func (m *mockCache) getCart() *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.cart
}

var (
	backpack    = domain.Product{ID: 1, Title: "Backpack", Price: decimal.RequireFromString("109.95")}
	ring        = domain.Product{ID: 2, Title: "Ring", Price: decimal.RequireFromString("9.99")}
	testCatalog = mockProducts{1: backpack, 2: ring}
)

func TestAdd_Success(t *testing.T) {
	sut := NewCartService(testCatalog, Options{})
	ctx := context.Background()

	added, err := sut.Add(ctx, "s1", 1)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = sut.Add(ctx, "s1", 1)
	require.NoError(t, err)
	assert.False(t, added, "second add of the same product is a no-op")

	summary, err := sut.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, 1, summary.Items[0].Quantity)
	assert.Equal(t, "109.95", summary.Total.String())
}

func TestAdd_UnknownProduct(t *testing.T) {
	sut := NewCartService(testCatalog, Options{})
	ctx := context.Background()

	added, err := sut.Add(ctx, "s1", 42)
	require.ErrorIs(t, err, ErrProductNotFound)
	assert.False(t, added)

	summary, err := sut.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, summary.Items)
}

func TestIncreaseDecrease(t *testing.T) {
	sut := NewCartService(testCatalog, Options{})
	ctx := context.Background()

	_, err := sut.Add(ctx, "s1", 2)
	require.NoError(t, err)
	require.NoError(t, sut.Increase(ctx, "s1", 2))
	require.NoError(t, sut.Increase(ctx, "s1", 2))

	summary, err := sut.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, 3, summary.Items[0].Quantity)
	assert.Equal(t, "29.97", summary.Total.String())

	for i := 0; i < 3; i++ {
		require.NoError(t, sut.Decrease(ctx, "s1", 2))
	}
	found, err := sut.Contains(ctx, "s1", 2)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemoveAndClear(t *testing.T) {
	sut := NewCartService(testCatalog, Options{})
	ctx := context.Background()

	_, err := sut.Add(ctx, "s1", 1)
	require.NoError(t, err)
	_, err = sut.Add(ctx, "s1", 2)
	require.NoError(t, err)

	require.NoError(t, sut.Remove(ctx, "s1", 1))
	summary, err := sut.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, int64(2), summary.Items[0].Product.ID)

	require.NoError(t, sut.Clear(ctx, "s1"))
	summary, err = sut.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, summary.Items)
	assert.True(t, summary.Total.IsZero())
}

func TestSessionsAreIsolated(t *testing.T) {
	sut := NewCartService(testCatalog, Options{})
	ctx := context.Background()

	_, err := sut.Add(ctx, "alice", 1)
	require.NoError(t, err)

	summary, err := sut.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, summary.Items)
	assert.Equal(t, "bob", summary.SessionID)
}

func TestRestore_FromRepository(t *testing.T) {
	repo := newMockRepository()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	repo.carts["s1"] = &domain.Cart{
		SessionID: "s1",
		Items: []domain.CartItem{
			{Product: backpack, Quantity: 2},
			{Product: ring, Quantity: 0},
			{Product: backpack, Quantity: 7},
		},
		CreatedAt: created,
	}
	mockC := &mockCache{}
	sut := NewCartService(testCatalog, Options{Repo: repo, Cache: mockC})

	summary, err := sut.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, summary.Items, 2)
	assert.Equal(t, 2, summary.Items[0].Quantity)
	assert.Equal(t, 1, summary.Items[1].Quantity, "stored quantity below one is normalized")
	assert.Equal(t, "229.89", summary.Total.String())

	assert.NotNil(t, mockC.getCart(), "cart was not set in cache")

	_, saves := repo.counts()
	assert.Zero(t, saves, "restoring must not write back")
}

func TestRestore_CacheHit(t *testing.T) {
	repo := newMockRepository()
	mockC := &mockCache{cart: &domain.Cart{
		SessionID: "s1",
		Items:     []domain.CartItem{{Product: ring, Quantity: 3}},
	}}
	sut := NewCartService(testCatalog, Options{Repo: repo, Cache: mockC})

	summary, err := sut.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, 3, summary.Items[0].Quantity)

	gets, _ := repo.counts()
	assert.Zero(t, gets, "repository should not be read on a cache hit")
}

func TestRestore_TransientErrorKeepsStoredCart(t *testing.T) {
	repo := newMockRepository()
	repo.carts["s1"] = &domain.Cart{SessionID: "s1", Items: []domain.CartItem{{Product: ring, Quantity: 3}}}
	repo.setErr(errors.New("connection reset"))
	sut := NewCartService(testCatalog, Options{Repo: repo})
	ctx := context.Background()

	_, err := sut.Get(ctx, "s1")
	require.ErrorIs(t, err, ErrCartUnavailable)
	_, err = sut.Add(ctx, "s1", 1)
	require.ErrorIs(t, err, ErrCartUnavailable)

	_, saves := repo.counts()
	assert.Zero(t, saves, "nothing may be written while the stored cart is unreadable")

	repo.setErr(nil)
	added, err := sut.Add(ctx, "s1", 1)
	require.NoError(t, err)
	assert.True(t, added)

	stored := repo.stored("s1")
	require.NotNil(t, stored)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, ring.ID, stored.Items[0].Product.ID)
	assert.Equal(t, 3, stored.Items[0].Quantity)
	assert.Equal(t, backpack.ID, stored.Items[1].Product.ID)
	assert.Equal(t, 1, stored.Items[1].Quantity)
}

func TestRestore_CancelledCallerDoesNotFailRestore(t *testing.T) {
	repo := newMockRepository()
	repo.carts["s1"] = &domain.Cart{SessionID: "s1", Items: []domain.CartItem{{Product: ring, Quantity: 3}}}
	sut := NewCartService(testCatalog, Options{Repo: repo})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sut.Get(ctx, "s1")
	require.ErrorIs(t, err, context.Canceled)

	summary, err := sut.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, 3, summary.Items[0].Quantity)

	gets, _ := repo.counts()
	assert.Equal(t, 1, gets, "restore under the cancelled caller should have completed")
}

func TestRestore_ConcurrentCallsShareOneLoad(t *testing.T) {
	repo := newMockRepository()
	repo.carts["s1"] = &domain.Cart{SessionID: "s1", Items: []domain.CartItem{{Product: ring, Quantity: 1}}}
	sut := NewCartService(testCatalog, Options{Repo: repo})

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := sut.Get(context.Background(), "s1")
			return err
		})
	}
	require.NoError(t, g.Wait())

	summary, err := sut.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, 1, summary.Items[0].Quantity)
}

func TestMutation_PersistsAndInvalidatesCache(t *testing.T) {
	repo := newMockRepository()
	mockC := &mockCache{cart: &domain.Cart{SessionID: "s1"}}
	sut := NewCartService(testCatalog, Options{Repo: repo, Cache: mockC})
	ctx := context.Background()

	_, err := sut.Add(ctx, "s1", 1)
	require.NoError(t, err)
	require.NoError(t, sut.Increase(ctx, "s1", 1))

	stored := repo.stored("s1")
	require.NotNil(t, stored)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 2, stored.Items[0].Quantity)
	assert.Nil(t, mockC.getCart(), "cache was not invalidated")
}

func TestNoOp_DoesNotPersist(t *testing.T) {
	repo := newMockRepository()
	sut := NewCartService(testCatalog, Options{Repo: repo})
	ctx := context.Background()

	require.NoError(t, sut.Increase(ctx, "s1", 1))
	require.NoError(t, sut.Decrease(ctx, "s1", 1))
	require.NoError(t, sut.Remove(ctx, "s1", 1))
	require.NoError(t, sut.Clear(ctx, "s1"))

	_, saves := repo.counts()
	assert.Zero(t, saves)
}

func TestMutation_EmptiedCartIsDeleted(t *testing.T) {
	repo := newMockRepository()
	sut := NewCartService(testCatalog, Options{Repo: repo})
	ctx := context.Background()

	_, err := sut.Add(ctx, "s1", 1)
	require.NoError(t, err)
	require.NotNil(t, repo.stored("s1"))

	require.NoError(t, sut.Decrease(ctx, "s1", 1))
	assert.Nil(t, repo.stored("s1"))
	assert.Equal(t, 1, repo.deleteCount())
}

func TestMutation_SaveErrorKeepsMemoryState(t *testing.T) {
	repo := newMockRepository()
	sut := NewCartService(testCatalog, Options{Repo: repo})
	ctx := context.Background()

	_, err := sut.Get(ctx, "s1")
	require.NoError(t, err)
	repo.setErr(errors.New("database error"))

	added, err := sut.Add(ctx, "s1", 1)
	require.NoError(t, err)
	assert.True(t, added)

	found, err := sut.Contains(ctx, "s1", 1)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestDrain_ClearsOnSuccess(t *testing.T) {
	sut := NewCartService(testCatalog, Options{})
	ctx := context.Background()
	_, err := sut.Add(ctx, "s1", 1)
	require.NoError(t, err)

	var seen domain.CartSummary
	err = sut.Drain(ctx, "s1", func(summary domain.CartSummary) error {
		seen = summary
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen.Items, 1)
	assert.Equal(t, "109.95", seen.Total.String())

	summary, err := sut.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, summary.Items)
}

func TestDrain_KeepsCartOnFailure(t *testing.T) {
	sut := NewCartService(testCatalog, Options{})
	ctx := context.Background()
	_, err := sut.Add(ctx, "s1", 1)
	require.NoError(t, err)

	boom := errors.New("publish failed")
	err = sut.Drain(ctx, "s1", func(domain.CartSummary) error { return boom })
	require.ErrorIs(t, err, boom)

	summary, err := sut.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, summary.Items, 1)
}

func TestSubscribe_ReceivesChanges(t *testing.T) {
	sut := NewCartService(testCatalog, Options{})
	ctx := context.Background()

	var updates []domain.CartSummary
	unsubscribe, err := sut.Subscribe(ctx, "s1", func(summary domain.CartSummary) {
		updates = append(updates, summary)
	})
	require.NoError(t, err)

	_, err = sut.Add(ctx, "s1", 2)
	require.NoError(t, err)
	require.NoError(t, sut.Increase(ctx, "s1", 2))
	require.NoError(t, sut.Increase(ctx, "s1", 99))

	require.Len(t, updates, 2)
	assert.Equal(t, "9.99", updates[0].Total.String())
	assert.Equal(t, "19.98", updates[1].Total.String())
	assert.Equal(t, "s1", updates[1].SessionID)

	unsubscribe()
	unsubscribe()
	require.NoError(t, sut.Clear(ctx, "s1"))
	assert.Len(t, updates, 2)
}

func TestConcurrentMutations(t *testing.T) {
	sut := NewCartService(testCatalog, Options{})
	ctx := context.Background()
	_, err := sut.Add(ctx, "s1", 1)
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			return sut.Increase(ctx, "s1", 1)
		})
	}
	require.NoError(t, g.Wait())

	summary, err := sut.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, 51, summary.Items[0].Quantity)
}

func TestEvictIdle(t *testing.T) {
	repo := newMockRepository()
	sut := NewCartService(testCatalog, Options{Repo: repo, IdleTTL: time.Hour})
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sut.now = func() time.Time { return clock }
	ctx := context.Background()

	_, err := sut.Add(ctx, "idle", 1)
	require.NoError(t, err)
	_, err = sut.Add(ctx, "watched", 2)
	require.NoError(t, err)
	unsubscribe, err := sut.Subscribe(ctx, "watched", func(domain.CartSummary) {})
	require.NoError(t, err)
	defer unsubscribe()

	clock = clock.Add(2 * time.Hour)
	sut.evictIdle()

	sut.mu.Lock()
	_, idleKept := sut.sessions["idle"]
	_, watchedKept := sut.sessions["watched"]
	sut.mu.Unlock()
	assert.False(t, idleKept)
	assert.True(t, watchedKept, "sessions with open streams stay in memory")

	// evicted carts come back from the repository
	summary, err := sut.Get(ctx, "idle")
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, int64(1), summary.Items[0].Product.ID)
}

func TestStartCleanupAndClose(t *testing.T) {
	sut := NewCartService(testCatalog, Options{IdleTTL: time.Millisecond})
	_, err := sut.Add(context.Background(), "s1", 1)
	require.NoError(t, err)

	sut.StartCleanup(5 * time.Millisecond)
	require.Eventually(t, func() bool {
		sut.mu.Lock()
		defer sut.mu.Unlock()
		return len(sut.sessions) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sut.Close())
}
