package rates

import (
	"context"
	"sync"
	"time"

	"dividi/internal/cache"
	"dividi/internal/core"
	"dividi/internal/log"
)

const tableKey = "rates:" + string(core.BaseCurrency)

// Cached serves a provider's table from an LRU cache until it expires.
type Cached struct {
	source Provider
	cache  *cache.LRUCache[core.RateTable]
	mu     sync.Mutex
}

func NewCached(source Provider, ttl time.Duration, opts ...cache.Option) *Cached {
	return &Cached{
		source: source,
		cache:  cache.NewLRUCache[core.RateTable](1, ttl, opts...),
	}
}

// Rates returns a copy of the cached table, loading it on a miss. Concurrent
// misses share one upstream call.
func (c *Cached) Rates(ctx context.Context) (core.RateTable, error) {
	if t, ok := c.cache.Get(tableKey); ok {
		return t.Clone(), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.cache.Get(tableKey); ok {
		return t.Clone(), nil
	}
	return c.load(ctx)
}

// Refresh replaces the cached table unconditionally.
func (c *Cached) Refresh(ctx context.Context) (core.RateTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

func (c *Cached) load(ctx context.Context) (core.RateTable, error) {
	t, err := c.source.Rates(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(tableKey, t.Clone())
	return t, nil
}

// CleanExpired lets a cache.Manager sweep the table.
func (c *Cached) CleanExpired() int { return c.cache.CleanExpired() }

// Refresher reloads a Cached table on a fixed interval.
type Refresher struct {
	cached   *Cached
	interval time.Duration
	logger   *log.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewRefresher(cached *Cached, interval time.Duration, logger *log.Logger) *Refresher {
	return &Refresher{
		cached:   cached,
		interval: interval,
		logger:   logger.WithComponent(log.ComponentRates),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start loads the table once and then keeps it fresh until ctx ends or Stop
// is called.
func (r *Refresher) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		r.refresh(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.refresh(ctx)
			}
		}
	}()
}

func (r *Refresher) refresh(ctx context.Context) {
	t, err := r.cached.Refresh(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Exchange rate refresh failed",
			log.FieldOperation, log.OpRefresh,
			log.FieldError, err.Error())
		return
	}
	r.logger.DebugContext(ctx, "Exchange rates refreshed",
		log.FieldOperation, log.OpRefresh,
		"currencies", len(t))
}

// Stop halts the loop and waits for it. Safe to call more than once, but
// only after Start.
func (r *Refresher) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}
