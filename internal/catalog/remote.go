package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	breakerFailures = 3
	breakerCooldown = 30 * time.Second
)

var ErrInvalidCatalog = errors.New("invalid remote catalog")

// RemoteClient reads the product list from the remote catalog endpoint
// (GET <base>/products returning a JSON array).
// Consecutive failures open a circuit breaker, after which fetches fail fast
// with gobreaker.ErrOpenState until the cooldown passes.
type RemoteClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]domain.Product]
}

func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker[[]domain.Product](gobreaker.Settings{
			Name:        "remote-catalog",
			MaxRequests: 1,
			Timeout:     breakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
		}),
	}
}

func (c *RemoteClient) FetchProducts(ctx context.Context) ([]domain.Product, error) {
	return c.breaker.Execute(func() ([]domain.Product, error) {
		return c.fetch(ctx)
	})
}

func (c *RemoteClient) fetch(ctx context.Context) ([]domain.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("catalog request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var products []domain.Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, fmt.Errorf("decode catalog failed: %w", err)
	}

	if err := validate(products); err != nil {
		return nil, err
	}
	return products, nil
}

// validate rejects a whole fetch that would break catalog invariants, so a bad
// payload never reaches the cache.
func validate(products []domain.Product) error {
	seen := make(map[int64]struct{}, len(products))
	for _, p := range products {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate product id %d", ErrInvalidCatalog, p.ID)
		}
		seen[p.ID] = struct{}{}

		if p.Price.IsNegative() {
			return fmt.Errorf("%w: negative price for product %d", ErrInvalidCatalog, p.ID)
		}
	}
	return nil
}
