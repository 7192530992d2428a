package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultIdleTTL is how long an untouched session cart stays in memory.
	DefaultIdleTTL = 24 * time.Hour

	persistTimeout = 2 * time.Second
	restoreTimeout = 5 * time.Second
)

var (
	ErrProductNotFound = catalog.ErrProductNotFound

	// ErrCartUnavailable means the stored cart could not be read. Nothing is
	// kept for the session, so the next call tries the restore again.
	ErrCartUnavailable = errors.New("cart temporarily unavailable")
)

// ProductLookup resolves product ids against the cached catalog.
type ProductLookup interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
}

type Options struct {
	// Repo and Cache are optional. Without Repo carts live for the process
	// lifetime only.
	Repo    repository.CartRepository
	Cache   cache.CartCache
	IdleTTL time.Duration
	Logger  *zap.Logger
}

// CartService owns one cart per session and serializes every operation on it.
type CartService struct {
	products ProductLookup
	repo     repository.CartRepository
	cache    cache.CartCache
	idleTTL  time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	sfg      singleflight.Group // collapses concurrent restores of one session

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

type session struct {
	mu        sync.Mutex
	cart      *cart.Cart
	createdAt time.Time
	lastUsed  time.Time
	streams   int
	evicted   bool
}

func NewCartService(products ProductLookup, opts Options) *CartService {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &CartService{
		products:    products,
		repo:        opts.Repo,
		cache:       opts.Cache,
		idleTTL:     opts.IdleTTL,
		log:         opts.Logger,
		now:         time.Now,
		sessions:    make(map[string]*session),
		stopCleanup: make(chan struct{}),
	}
}

// Add puts the product in the session cart. added is false when the product
// was already there.
func (s *CartService) Add(ctx context.Context, sessionID string, productID int64) (added bool, err error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("lookup product %d: %w", productID, err)
	}

	err = s.withCart(ctx, sessionID, func(c *cart.Cart) error {
		added = c.Add(product)
		return nil
	})
	return added, err
}

func (s *CartService) Increase(ctx context.Context, sessionID string, productID int64) error {
	return s.withCart(ctx, sessionID, func(c *cart.Cart) error {
		c.Increase(productID)
		return nil
	})
}

func (s *CartService) Decrease(ctx context.Context, sessionID string, productID int64) error {
	return s.withCart(ctx, sessionID, func(c *cart.Cart) error {
		c.Decrease(productID)
		return nil
	})
}

func (s *CartService) Remove(ctx context.Context, sessionID string, productID int64) error {
	return s.withCart(ctx, sessionID, func(c *cart.Cart) error {
		c.Remove(productID)
		return nil
	})
}

func (s *CartService) Clear(ctx context.Context, sessionID string) error {
	return s.withCart(ctx, sessionID, func(c *cart.Cart) error {
		c.Clear()
		return nil
	})
}

func (s *CartService) Contains(ctx context.Context, sessionID string, productID int64) (found bool, err error) {
	err = s.withCart(ctx, sessionID, func(c *cart.Cart) error {
		found = c.Contains(productID)
		return nil
	})
	return found, err
}

func (s *CartService) Get(ctx context.Context, sessionID string) (summary domain.CartSummary, err error) {
	err = s.withCart(ctx, sessionID, func(c *cart.Cart) error {
		summary = summarize(sessionID, c)
		return nil
	})
	return summary, err
}

// Drain hands the current cart to fn and clears it once fn returns nil. The
// session stays locked while fn runs, so nothing can slip in between.
func (s *CartService) Drain(ctx context.Context, sessionID string, fn func(domain.CartSummary) error) error {
	return s.withCart(ctx, sessionID, func(c *cart.Cart) error {
		if err := fn(summarize(sessionID, c)); err != nil {
			return err
		}
		c.Clear()
		return nil
	})
}

// Subscribe calls fn with the session cart after every change until the
// returned function is called. fn runs with the session locked and must not
// block.
func (s *CartService) Subscribe(ctx context.Context, sessionID string, fn func(domain.CartSummary)) (func(), error) {
	var sess *session
	for {
		var err error
		if sess, err = s.session(ctx, sessionID); err != nil {
			return nil, err
		}
		sess.mu.Lock()
		if !sess.evicted {
			break
		}
		sess.mu.Unlock()
	}
	defer sess.mu.Unlock()
	sess.streams++
	unsubscribe := sess.cart.Subscribe(func(items []domain.CartItem) {
		fn(domain.CartSummary{SessionID: sessionID, Items: items, Total: totalOf(items)})
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			unsubscribe()
			sess.streams--
			sess.lastUsed = s.now()
		})
	}, nil
}

// StartCleanup evicts idle sessions in the background until Close is called.
func (s *CartService) StartCleanup(interval time.Duration) {
	s.wg.Add(1)
	go s.cleanupLoop(interval)
}

func (s *CartService) Close() error {
	close(s.stopCleanup)
	s.wg.Wait()
	return nil
}

func (s *CartService) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *CartService) evictIdle() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.streams == 0 && sess.lastUsed.Before(cutoff)
		if idle {
			sess.evicted = true
		}
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			s.log.Debug("evicted idle cart session", zap.String("session_id", id))
		}
	}
}

func (s *CartService) withCart(ctx context.Context, sessionID string, fn func(*cart.Cart) error) error {
	for {
		sess, err := s.session(ctx, sessionID)
		if err != nil {
			return err
		}

		sess.mu.Lock()
		if sess.evicted {
			// lost a race with the janitor, pick up the fresh session
			sess.mu.Unlock()
			continue
		}
		sess.lastUsed = s.now()
		err = fn(sess.cart)
		sess.mu.Unlock()
		return err
	}
}

func (s *CartService) session(ctx context.Context, sessionID string) (*session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	v, err, _ := s.sfg.Do(sessionID, func() (interface{}, error) {
		s.mu.Lock()
		existing, ok := s.sessions[sessionID]
		s.mu.Unlock()
		if ok {
			return existing, nil
		}

		// shared by every waiter, so one caller going away must not fail the rest
		restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
		defer cancel()

		sess, err := s.restore(restoreCtx, sessionID)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.sessions[sessionID] = sess
		s.mu.Unlock()
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	return v.(*session), nil
}

// restore rebuilds a session from its stored snapshot, if persistence is on.
// Lines are replayed through the cart so a corrupt snapshot cannot break the
// cart invariants. A failed read is returned, never swapped for an empty
// session.
func (s *CartService) restore(ctx context.Context, sessionID string) (*session, error) {
	now := s.now()
	sess := &session{cart: cart.New(), createdAt: now, lastUsed: now}
	if s.repo == nil {
		return sess, nil
	}

	stored, err := s.load(ctx, sessionID)
	switch {
	case errors.Is(err, repository.ErrCartNotFound):
	case err != nil:
		s.log.Error("cart restore failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrCartUnavailable, err)
	default:
		for _, item := range stored.Items {
			if !sess.cart.Add(item.Product) {
				continue
			}
			for q := 1; q < item.Quantity; q++ {
				sess.cart.Increase(item.Product.ID)
			}
		}
		if !stored.CreatedAt.IsZero() {
			sess.createdAt = stored.CreatedAt
		}
	}

	sess.cart.Subscribe(func(items []domain.CartItem) {
		s.persist(sessionID, sess.createdAt, items)
	})
	return sess, nil
}

// load reads through the cache into the repository.
func (s *CartService) load(ctx context.Context, sessionID string) (*domain.Cart, error) {
	if s.cache != nil {
		stored, err := s.cache.Get(ctx, sessionID)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cache get error", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	stored, err := s.repo.GetCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Filled before the session is published, so a later invalidation in
	// persist always wins.
	if s.cache != nil {
		if err := s.cache.Set(ctx, sessionID, stored); err != nil {
			s.log.Warn("cache set error", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return stored, nil
}

// persist runs under the session lock, so saves land in mutation order. An
// emptied cart is deleted rather than stored.
func (s *CartService) persist(sessionID string, createdAt time.Time, items []domain.CartItem) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if len(items) == 0 {
		if err := s.repo.DeleteCart(ctx, sessionID); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
			s.log.Error("repo delete cart error", zap.String("session_id", sessionID), zap.Error(err))
		}
	} else {
		snapshot := &domain.Cart{
			SessionID: sessionID,
			Items:     items,
			CreatedAt: createdAt,
		}
		if err := s.repo.SaveCart(ctx, snapshot); err != nil {
			s.log.Error("repo save cart error", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, sessionID); err != nil {
			s.log.Warn("cache invalidate error", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

func summarize(sessionID string, c *cart.Cart) domain.CartSummary {
	return domain.CartSummary{
		SessionID: sessionID,
		Items:     c.Items(),
		Total:     c.Total(),
	}
}

func totalOf(items []domain.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}
