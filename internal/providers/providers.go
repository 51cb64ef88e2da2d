// Package providers defines the provider adapter contract and the
// fan-out prober that runs all adapters concurrently.
package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/j-veylop/quotameter/internal/logger"
	"github.com/j-veylop/quotameter/internal/models"
)

// Adapter is the single capability every provider implements.
type Adapter interface {
	// ID is the stable provider key used for history and alert state.
	ID() string
	// Name is the human-readable provider name.
	Name() string
	// Probe fetches and normalizes the provider's current usage. It
	// never returns an error; all failure modes are encoded in the
	// ProbeResult's Error field or as a Badge line.
	Probe(ctx context.Context) models.ProbeResult
}

// Registry holds the configured adapters in display order.
type Registry struct {
	adapters []Adapter
}

// NewRegistry creates a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Adapters returns the registered adapters.
func (r *Registry) Adapters() []Adapter {
	return r.adapters
}

// ProbeAll probes every adapter concurrently and returns exactly one
// result per adapter, in registration order. A panicking adapter is
// isolated and reported as a transient failure so its siblings'
// results are never lost.
func (r *Registry) ProbeAll(ctx context.Context) []models.ProbeResult {
	results := make([]models.ProbeResult, len(r.adapters))

	var wg sync.WaitGroup
	for i, adapter := range r.adapters {
		wg.Add(1)
		go func(i int, adapter Adapter) {
			defer wg.Done()
			results[i] = safeProbe(ctx, adapter)
		}(i, adapter)
	}
	wg.Wait()

	return results
}

func safeProbe(ctx context.Context, adapter Adapter) (result models.ProbeResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("adapter panicked", "provider", adapter.ID(), "panic", r)
			result = models.ProbeResult{
				Provider:  adapter.ID(),
				Name:      adapter.Name(),
				Error:     fmt.Sprintf("probe failed: %v", r),
				FetchedAt: time.Now(),
			}
		}
	}()

	return adapter.Probe(ctx)
}
