package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"token_exchange/internal/domain"

	"github.com/shopspring/decimal"
)

// PriceWriter receives catalog updates.
type PriceWriter interface {
	UpsertPrice(ctx context.Context, token string, price decimal.Decimal) error
}

// PricePoller keeps the price catalog in sync with an external JSON source
// of the form {"BTC": "10.00", "ETH": "5.00"}.
type PricePoller struct {
	catalog      PriceWriter
	pollInterval time.Duration
	apiURL       string
	httpClient   *http.Client
	retryDelay   time.Duration

	mu   sync.RWMutex
	last map[string]decimal.Decimal

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPricePoller creates a poller writing into catalog.
func NewPricePoller(catalog PriceWriter, apiURL string, pollIntervalSec int) *PricePoller {
	p := &PricePoller{
		catalog:      catalog,
		pollInterval: 60 * time.Second, // Default: 1 minute
		apiURL:       apiURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryDelay: time.Second,
		last:       make(map[string]decimal.Decimal),
	}
	if pollIntervalSec > 0 {
		p.pollInterval = time.Duration(pollIntervalSec) * time.Second
	}
	return p
}

// Start fetches once and then keeps polling until ctx is cancelled or Stop is called.
func (p *PricePoller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	if err := p.fetchPrices(ctx); err != nil {
		slog.Warn("Initial price fetch failed", slog.Any("error", err))
		// Continue anyway - will retry on next tick
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Price polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Price polling stopped")
				return
			case <-ticker.C:
				if err := p.fetchPrices(ctx); err != nil {
					slog.Warn("Price fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// fetchPrices fetches the catalog with retry and exponential backoff.
func (p *PricePoller) fetchPrices(ctx context.Context) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			delay := p.retryDelay * time.Duration(1<<uint(i-1))
			slog.Info("Retrying price fetch", slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := p.doFetch(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			return err
		}
		slog.Warn("Price fetch attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return lastErr
}

func (p *PricePoller) doFetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL, nil)
	if err != nil {
		return domain.NewFatalNetworkError("fetch_prices", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("fetch_prices", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return domain.NewNetworkError("fetch_prices", err)
		}
		return domain.NewFatalNetworkError("fetch_prices", err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError("fetch_prices", err)
	}

	var data map[string]decimal.Decimal
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.NewFatalNetworkError("fetch_prices", err)
	}
	if len(data) == 0 {
		return domain.NewFatalNetworkError("fetch_prices", fmt.Errorf("empty price response"))
	}

	tokens := make([]string, 0, len(data))
	for token := range data {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		price := data[token]
		if price.IsNegative() {
			slog.Warn("Ignoring negative price", slog.String("token", token), slog.String("price", price.String()))
			continue
		}

		p.mu.RLock()
		old, seen := p.last[token]
		p.mu.RUnlock()
		if seen && old.Equal(price) {
			continue
		}

		if err := p.catalog.UpsertPrice(ctx, token, price); err != nil {
			return fmt.Errorf("store price %s: %w", token, err)
		}

		p.mu.Lock()
		p.last[token] = price
		p.mu.Unlock()

		slog.Info("Price updated",
			slog.String("token", token),
			slog.String("price", price.String()),
			slog.String("old_price", old.String()),
		)
	}

	return nil
}

// Stop stops the polling
func (p *PricePoller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

// LastPrice returns the most recently applied price of token.
func (p *PricePoller) LastPrice(token string) (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.last[token]
	return price, ok
}
