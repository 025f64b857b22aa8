package lens

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wardline/wardline/core"
)

// DefaultFetchTimeout bounds every individual provider call
const DefaultFetchTimeout = 5 * time.Second

// DataProvider fetches live data for one category. Query is the entity
// the caller wants (ticker, city, currency pair); empty means the
// provider's default.
type DataProvider interface {
	Category() LiveCategory
	Name() string
	Fetch(ctx context.Context, query string) (ProviderData, error)
}

// ProviderRegistry holds one provider per live category
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[LiveCategory]DataProvider
	timeout   time.Duration
	logger    core.Logger
}

// NewProviderRegistry creates an empty registry with the default timeout
func NewProviderRegistry(logger core.Logger) *ProviderRegistry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ProviderRegistry{
		providers: make(map[LiveCategory]DataProvider),
		timeout:   DefaultFetchTimeout,
		logger:    logger,
	}
}

// SetTimeout overrides the per-call timeout
func (r *ProviderRegistry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.timeout = d
	}
}

// Register installs a provider for its category, replacing any previous one
func (r *ProviderRegistry) Register(p DataProvider) error {
	if p == nil {
		return fmt.Errorf("provider is required: %w", core.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Category()] = p

	r.logger.Info("Data provider registered", map[string]interface{}{
		"category": string(p.Category()),
		"provider": p.Name(),
	})
	return nil
}

// Categories lists the categories with a registered provider
func (r *ProviderRegistry) Categories() []LiveCategory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LiveCategory, 0, len(r.providers))
	for c := range r.providers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fetch runs one provider call under the registry timeout and converts
// every failure into a tagged err result. It never returns a Go error:
// the ok/err discriminator on ProviderResult is the only failure channel.
func (r *ProviderRegistry) Fetch(ctx context.Context, category LiveCategory, query string) ProviderResult {
	r.mu.RLock()
	provider, ok := r.providers[category]
	timeout := r.timeout
	r.mu.RUnlock()

	if !ok {
		return ProviderResult{
			Category: category,
			Err: &ProviderError{
				Code:    ErrCodeUnavailable,
				Message: fmt.Sprintf("no provider registered for %s", category),
			},
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	data, err := provider.Fetch(fetchCtx, query)
	elapsed := time.Since(start)

	result := ProviderResult{
		Category:  category,
		Provider:  provider.Name(),
		FetchedAt: time.Now(),
	}

	switch {
	case fetchCtx.Err() == context.DeadlineExceeded:
		result.Err = &ProviderError{
			Code:      ErrCodeTimeout,
			Message:   fmt.Sprintf("%s provider exceeded %s", category, timeout),
			Retryable: true,
		}
		r.logger.Warn("Provider fetch timed out", map[string]interface{}{
			"category":   string(category),
			"provider":   provider.Name(),
			"elapsed_ms": elapsed.Milliseconds(),
		})
	case err != nil:
		result.Err = classifyFetchError(err)
		r.logger.Warn("Provider fetch failed", map[string]interface{}{
			"category": string(category),
			"provider": provider.Name(),
			"error":    err.Error(),
		})
	case data == nil:
		result.Err = &ProviderError{Code: ErrCodeInternal, Message: "provider returned no data"}
	default:
		result.OK = true
		result.Data = data
	}
	return result
}

func classifyFetchError(err error) *ProviderError {
	if core.IsNotFound(err) {
		return &ProviderError{Code: ErrCodeNotFound, Message: err.Error()}
	}
	if core.IsRetryable(err) {
		return &ProviderError{Code: ErrCodeUnavailable, Message: err.Error(), Retryable: true}
	}
	return &ProviderError{Code: ErrCodeInternal, Message: err.Error()}
}
