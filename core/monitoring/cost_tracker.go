package monitoring

import (
	"context"
	"sync"
	"time"
)

// PriceFetch looks up the on-demand hourly USD price on a cache miss
type PriceFetch func(ctx context.Context) (float64, error)

type priceKey struct {
	region       string
	instanceType string
}

type cachedPrice struct {
	usd     float64
	fetched time.Time
}

// CostTracker caches on-demand price lookups per region and instance type.
// Lookups need per-job credentials, so the fetch is supplied per call.
type CostTracker struct {
	metrics *Metrics
	ttl     time.Duration

	mu     sync.RWMutex
	prices map[priceKey]cachedPrice
	now    func() time.Time
}

// NewCostTracker creates a new cost tracker. metrics may be nil.
func NewCostTracker(metrics *Metrics, ttl time.Duration) *CostTracker {
	return &CostTracker{
		metrics: metrics,
		ttl:     ttl,
		prices:  make(map[priceKey]cachedPrice),
		now:     time.Now,
	}
}

// HourlyPrice returns the cached price, fetching it when absent or stale
func (ct *CostTracker) HourlyPrice(ctx context.Context, region, instanceType string, fetch PriceFetch) (float64, error) {
	key := priceKey{region: region, instanceType: instanceType}

	ct.mu.RLock()
	cached, ok := ct.prices[key]
	ct.mu.RUnlock()
	if ok && ct.now().Sub(cached.fetched) < ct.ttl {
		return cached.usd, nil
	}

	usd, err := fetch(ctx)
	if err != nil {
		return 0, err
	}

	ct.mu.Lock()
	ct.prices[key] = cachedPrice{usd: usd, fetched: ct.now()}
	ct.mu.Unlock()

	if ct.metrics != nil {
		ct.metrics.PriceObserved(region, instanceType, usd)
	}
	return usd, nil
}
