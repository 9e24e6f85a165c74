package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dividi/internal/cache"
	"dividi/internal/core"
	"dividi/internal/export"
	"dividi/internal/log"
	"dividi/internal/rates"
	"dividi/internal/store"
)

// Query selects how a report is computed.
type Query struct {
	// DisplayCurrency collapses balances into one currency. Empty means the
	// service default, which may itself be empty.
	DisplayCurrency core.Currency
	IncludeSettled  bool
}

// LedgerObserver receives one call per engine run.
type LedgerObserver func(err error, settlements int, fallback bool, elapsed time.Duration)

// LedgerService computes balances and settlement plans from consistent
// snapshots of the store. Reports are cached per group and query until the
// group changes.
type LedgerService struct {
	store           store.Store
	rates           rates.Provider
	engine          *core.Engine
	cache           *cache.LRUCache[core.Report]
	defaultCurrency core.Currency
	logger          *log.Logger
	events          *log.StructuredLogger
	observe         LedgerObserver
	now             func() time.Time

	// generations counts invalidations per group. A report is only cached
	// when no invalidation happened while it was being computed.
	genMu       sync.Mutex
	generations map[string]uint64
}

// LedgerConfig sizes the report cache.
type LedgerConfig struct {
	DefaultCurrency core.Currency
	CacheSize       int
	CacheTTL        time.Duration
	CacheOptions    []cache.Option
	Observer        LedgerObserver
}

func NewLedgerService(s store.Store, provider rates.Provider, cfg LedgerConfig, logger *log.Logger) *LedgerService {
	if provider == nil {
		provider = rates.StaticProvider
	}
	observe := cfg.Observer
	if observe == nil {
		observe = func(error, int, bool, time.Duration) {}
	}
	logger = logger.WithComponent(log.ComponentLedger)
	return &LedgerService{
		store:           s,
		rates:           provider,
		engine:          core.NewEngine(),
		cache:           cache.NewLRUCache[core.Report](cfg.CacheSize, cfg.CacheTTL, cfg.CacheOptions...),
		defaultCurrency: cfg.DefaultCurrency,
		logger:          logger,
		events:          log.NewStructuredLogger(logger),
		observe:         observe,
		now:             time.Now,
		generations:     make(map[string]uint64),
	}
}

// Cache exposes the report cache so a cache.Manager can sweep it.
func (s *LedgerService) Cache() cache.Cleaner { return s.cache }

func cacheKey(groupID string, q Query) string {
	return fmt.Sprintf("%s|%t|%s", groupID, q.IncludeSettled, q.DisplayCurrency)
}

// Invalidate drops every cached report of the group.
func (s *LedgerService) Invalidate(groupID string) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.generations[groupID]++
	s.cache.DeletePrefix(groupID + "|")
}

func (s *LedgerService) generation(groupID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[groupID]
}

// remember caches r unless the group was invalidated since gen was read.
func (s *LedgerService) remember(groupID, key string, gen uint64, r core.Report) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generations[groupID] == gen {
		s.cache.Set(key, r)
	}
}

// Report returns the balances and settlement plan of a group. The returned
// report is shared with the cache and must not be modified.
func (s *LedgerService) Report(ctx context.Context, groupID string, q Query) (core.Report, error) {
	if q.DisplayCurrency == "" {
		q.DisplayCurrency = s.defaultCurrency
	}
	if q.DisplayCurrency != "" {
		c, err := core.ParseCurrency(string(q.DisplayCurrency))
		if err != nil {
			return core.Report{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		q.DisplayCurrency = c
	}

	key := cacheKey(groupID, q)
	if r, ok := s.cache.Get(key); ok {
		return r, nil
	}

	gen := s.generation(groupID)
	snap, err := s.store.Snapshot(ctx, groupID)
	if err != nil {
		return core.Report{}, fmt.Errorf("read snapshot: %w", err)
	}
	r, err := s.compute(ctx, snap, q)
	if err != nil {
		return core.Report{}, err
	}
	s.remember(groupID, key, gen, r)
	return r, nil
}

func (s *LedgerService) compute(ctx context.Context, snap core.Snapshot, q Query) (core.Report, error) {
	start := s.now()
	opts := core.Options{IncludeSettled: q.IncludeSettled, DisplayCurrency: q.DisplayCurrency}
	if q.DisplayCurrency != "" {
		table, err := s.rates.Rates(ctx)
		if err != nil {
			return core.Report{}, fmt.Errorf("load exchange rates: %w", err)
		}
		opts.Rates = table
	}

	r, err := s.engine.Compute(snap, opts)
	elapsed := s.now().Sub(start)
	s.observe(err, len(r.Settlements), r.ConversionSkipped, elapsed)
	if err != nil {
		s.logger.ErrorContext(ctx, "Ledger computation failed",
			log.FieldOperation, log.OpCompute,
			log.FieldGroupID, snap.GroupID,
			log.FieldError, err.Error())
		return core.Report{}, fmt.Errorf("compute ledger: %w", err)
	}
	if r.ConversionSkipped {
		s.logger.WarnContext(ctx, "Display currency not convertible, returning per-currency balances",
			log.FieldOperation, log.OpConvert,
			log.FieldGroupID, snap.GroupID,
			log.FieldDisplayCur, string(q.DisplayCurrency))
	}
	s.events.LogLedgerComputed(ctx, snap.GroupID, len(snap.Expenses), len(r.Settlements), string(q.DisplayCurrency), q.IncludeSettled)
	return r, nil
}

// Rates returns the current exchange-rate table.
func (s *LedgerService) Rates(ctx context.Context) (core.RateTable, error) {
	return s.rates.Rates(ctx)
}

// Document gathers everything an export of the group needs: names, the full
// expense history and the report for q.
func (s *LedgerService) Document(ctx context.Context, groupID string, q Query) (export.Document, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return export.Document{}, err
	}
	members, err := s.store.ListMembers(ctx, groupID)
	if err != nil {
		return export.Document{}, fmt.Errorf("list members: %w", err)
	}
	expenses, err := s.store.ListExpenses(ctx, groupID)
	if err != nil {
		return export.Document{}, fmt.Errorf("list expenses: %w", err)
	}
	r, err := s.Report(ctx, groupID, q)
	if err != nil {
		return export.Document{}, err
	}

	names := make(map[core.Member]string, len(members))
	for _, m := range members {
		names[core.Member(m.UserID)] = m.Username
	}
	return export.Document{GroupName: g.Name, Names: names, Expenses: expenses, Report: r}, nil
}

// ChartSlice is one member's share of the balance chart.
type ChartSlice struct {
	Member  core.Member
	Balance core.Money
}

// Chart returns one balance per member in a single currency, for the
// dashboard chart. Without a resolvable display currency it falls back to
// the base currency.
func (s *LedgerService) Chart(ctx context.Context, groupID string, q Query) ([]ChartSlice, core.Currency, error) {
	if q.DisplayCurrency == "" {
		q.DisplayCurrency = s.defaultCurrency
	}
	if q.DisplayCurrency == "" {
		q.DisplayCurrency = core.BaseCurrency
	}
	r, err := s.Report(ctx, groupID, q)
	if err != nil {
		return nil, "", err
	}
	if !r.Converted() && q.DisplayCurrency != core.BaseCurrency {
		q.DisplayCurrency = core.BaseCurrency
		if r, err = s.Report(ctx, groupID, q); err != nil {
			return nil, "", err
		}
	}
	if !r.Converted() {
		return nil, "", errors.New("balances cannot be expressed in a single currency")
	}

	out := make([]ChartSlice, 0, len(r.Reduced))
	for _, m := range r.Reduced.Members() {
		out = append(out, ChartSlice{Member: m, Balance: r.Reduced[m]})
	}
	return out, r.DisplayCurrency, nil
}
