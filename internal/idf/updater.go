package idf

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/resilience"
)

// Compute returns ln(total / (df + 1)).
func Compute(total, df int64) float64 {
	return math.Log(float64(total) / float64(df+1))
}

// Updater recomputes every term's IDF from storage on a fixed interval. It
// owns its store, which must not be the one serving requests.
type Updater struct {
	store        document.Store
	table        *Table
	interval     time.Duration
	cycleTimeout time.Duration
	metrics      *metrics.Metrics
	onRefresh    func(ctx context.Context)
	logger       *slog.Logger
}

type Option func(*Updater)

func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Updater) { u.metrics = m }
}

// WithCycleTimeout bounds a single recomputation. Zero means unbounded.
func WithCycleTimeout(d time.Duration) Option {
	return func(u *Updater) { u.cycleTimeout = d }
}

// OnRefresh registers fn to run after every cycle that updated the table.
func OnRefresh(fn func(ctx context.Context)) Option {
	return func(u *Updater) { u.onRefresh = fn }
}

func NewUpdater(store document.Store, table *Table, interval time.Duration, opts ...Option) *Updater {
	u := &Updater{
		store:    store,
		table:    table,
		interval: interval,
		logger:   slog.Default().With("component", "idf-updater"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Run performs a cycle immediately and then once per interval until ctx is
// cancelled. Failed cycles are logged and do not stop the loop.
func (u *Updater) Run(ctx context.Context) error {
	u.logger.Info("idf updater started", "interval", u.interval)
	u.cycle(ctx)

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			u.logger.Info("idf updater stopped")
			return nil
		case <-ticker.C:
			u.cycle(ctx)
		}
	}
}

func (u *Updater) cycle(ctx context.Context) {
	if err := u.RunOnce(ctx); err != nil && ctx.Err() == nil {
		u.logger.Error("idf refresh failed", "error", err)
	}
}

// RunOnce performs a single recomputation. When storage holds no documents
// the table is left untouched.
func (u *Updater) RunOnce(ctx context.Context) error {
	start := time.Now()
	var (
		total int64
		stats []document.TermStat
	)
	err := resilience.WithTimeout(ctx, u.cycleTimeout, "idf refresh", func(ctx context.Context) error {
		return u.store.Run(ctx, func(r document.Repositories) error {
			var err error
			total, err = r.Documents.Count(ctx)
			if err != nil {
				return fmt.Errorf("counting documents: %w", err)
			}
			if total == 0 {
				return nil
			}
			stats, err = r.Terms.DocumentFrequencies(ctx)
			if err != nil {
				return fmt.Errorf("loading document frequencies: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		u.observe("error")
		return fmt.Errorf("refreshing idf: %w", err)
	}
	if total == 0 {
		u.observe("skipped")
		u.logger.Debug("no documents stored, idf refresh skipped")
		return nil
	}

	for _, s := range stats {
		u.table.Set(s.Term, Compute(total, s.DocumentCount))
	}
	u.observe("success")
	if u.metrics != nil {
		u.metrics.IDFTerms.Set(float64(u.table.Len()))
		u.metrics.IDFLastRefresh.SetToCurrentTime()
	}
	u.logger.Info("idf table refreshed",
		"documents", total,
		"terms", len(stats),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if u.onRefresh != nil {
		u.onRefresh(ctx)
	}
	return nil
}

func (u *Updater) observe(status string) {
	if u.metrics != nil {
		u.metrics.IDFRefreshTotal.WithLabelValues(status).Inc()
	}
}
