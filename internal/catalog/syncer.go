package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"go.uber.org/zap"
)

type Fetcher interface {
	FetchProducts(ctx context.Context) ([]domain.Product, error)
}

type Cache interface {
	LoadCached(ctx context.Context) ([]domain.Product, error)
	ReplaceCached(ctx context.Context, products []domain.Product) error
}

// Syncer runs the fetch, replace-cache sequence and publishes the cached
// catalog to subscribers after every successful replace.
type Syncer struct {
	fetcher  Fetcher
	cache    Cache
	interval time.Duration
	log      *zap.Logger

	mu          sync.Mutex
	subscribers map[int]func([]domain.Product)
	nextID      int

	readyOnce sync.Once
	ready     chan struct{}
}

// NewSyncer returns a Syncer. An interval of zero syncs once at startup only.
func NewSyncer(fetcher Fetcher, cache Cache, interval time.Duration, log *zap.Logger) *Syncer {
	return &Syncer{
		fetcher:     fetcher,
		cache:       cache,
		interval:    interval,
		log:         log,
		subscribers: make(map[int]func([]domain.Product)),
		ready:       make(chan struct{}),
	}
}

func (s *Syncer) Run(ctx context.Context) {
	s.syncAndLog(ctx)
	s.readyOnce.Do(func() { close(s.ready) })

	if s.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.syncAndLog(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Ready is closed once the first sync attempt has finished, whatever its outcome.
func (s *Syncer) Ready() <-chan struct{} {
	return s.ready
}

// Sync fetches the remote catalog and replaces the cache with it. A failed
// fetch leaves the cache untouched.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	products, err := s.fetcher.FetchProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch remote catalog: %w", err)
	}

	if err := s.cache.ReplaceCached(ctx, products); err != nil {
		return 0, fmt.Errorf("replace cached catalog: %w", err)
	}

	cached, err := s.cache.LoadCached(ctx)
	if err != nil {
		return len(products), fmt.Errorf("reload cached catalog: %w", err)
	}
	s.publish(cached)

	return len(products), nil
}

// Subscribe registers fn for the cached catalog after each replace.
func (s *Syncer) Subscribe(fn func([]domain.Product)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Syncer) syncAndLog(ctx context.Context) {
	n, err := s.Sync(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("catalog sync failed, serving cached catalog", zap.Error(err))
		return
	}
	s.log.Info("catalog synced", zap.Int("products", n))
}

func (s *Syncer) publish(products []domain.Product) {
	s.mu.Lock()
	subs := make([]func([]domain.Product), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(products)
	}
}
