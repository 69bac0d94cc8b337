package generator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/atmx/flow-engine/internal/metrics"
	"github.com/atmx/flow-engine/internal/model"
)

// DefaultRefreshInterval is how often the feed re-evaluates the clock.
const DefaultRefreshInterval = 500 * time.Millisecond

// Feed is the single writer of the current problem. It publishes immutable
// snapshots by swapping a pointer, so readers on any goroutine always see a
// complete problem.
type Feed struct {
	gen      *Generator
	interval time.Duration
	now      func() time.Time
	current  atomic.Pointer[model.Problem]
}

// NewFeed creates a feed and publishes the problem for the current time.
func NewFeed(gen *Generator, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	f := &Feed{gen: gen, interval: interval, now: time.Now}
	f.Refresh()
	return f
}

// Current returns the latest published problem. Callers must not modify it.
func (f *Feed) Current() *model.Problem {
	return f.current.Load()
}

// Refresh regenerates the problem for the current time and publishes it if
// the tick changed. It reports whether a new snapshot was published.
func (f *Feed) Refresh() bool {
	t := f.now()
	if cur := f.current.Load(); cur != nil && cur.Tick == f.gen.TickOf(t) {
		return false
	}
	p := f.gen.Generate(t)
	f.current.Store(p)

	metrics.ProblemsPublished.Inc()
	metrics.ConsumersPerProblem.Set(float64(len(p.Consumers)))
	metrics.InflowRate.Set(p.TotalFlow)
	return true
}

// Run refreshes the feed every interval until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	slog.Info("problem feed started", "interval", f.interval.String(), "period", f.gen.Period.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("problem feed stopped")
			return nil
		case <-ticker.C:
			if f.Refresh() {
				p := f.Current()
				slog.Debug("problem published", "tick", p.Tick, "consumers", len(p.Consumers), "total_flow", p.TotalFlow)
			}
		}
	}
}
