// Package scheduler runs background maintenance for the distribution engine.
package scheduler

import (
	"context"
	"sync"
	"time"

	"ubi/internal/cycle"
	"ubi/internal/domain"
	"ubi/pkg/logger"
)

// CycleService is the part of distribution.Service the closer drives.
type CycleService interface {
	Clock() *cycle.Clock
	ShowPools(ctx context.Context, cyc int, region string) ([]domain.PoolSummary, error)
	CloseCycleAt(ctx context.Context, cyc int, now time.Time) (*domain.CloseSummary, error)
}

// AutoCloser periodically closes recent cycles whose claim window has ended
// and that still hold active pools.
type AutoCloser struct {
	service  CycleService
	now      cycle.TimeSource
	interval time.Duration
	lookback int
	logger   logger.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewAutoCloser(service CycleService, now cycle.TimeSource, interval time.Duration, lookback int, log logger.Logger) *AutoCloser {
	if now == nil {
		now = cycle.SystemTime
	}
	if lookback < 0 {
		lookback = 0
	}
	return &AutoCloser{
		service:  service,
		now:      now,
		interval: interval,
		lookback: lookback,
		logger:   log,
		stop:     make(chan struct{}),
	}
}

func (a *AutoCloser) Start() {
	ticker := time.NewTicker(a.interval)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), a.interval)
				if _, err := a.RunOnce(ctx); err != nil {
					a.logger.Error("Auto-close pass failed", map[string]interface{}{
						"error": err.Error(),
					})
				}
				cancel()
			case <-a.stop:
				return
			}
		}
	}()
	a.logger.Info("Cycle auto-closer started", map[string]interface{}{
		"interval": a.interval.String(),
		"lookback": a.lookback,
	})
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (a *AutoCloser) Stop() {
	close(a.stop)
	a.wg.Wait()
}

// RunOnce closes every ended cycle in the lookback range that still has an
// active pool and returns the summaries of the closes it performed.
func (a *AutoCloser) RunOnce(ctx context.Context) ([]*domain.CloseSummary, error) {
	now := a.now.Now()
	clock := a.service.Clock()
	current := clock.Current(now)

	var closed []*domain.CloseSummary
	for cyc := current - a.lookback; cyc <= current; cyc++ {
		if cyc < 1 || !clock.WindowEnded(cyc, now) {
			continue
		}

		pools, err := a.service.ShowPools(ctx, cyc, "")
		if err != nil {
			return closed, err
		}
		if !anyActive(pools) {
			continue
		}

		summary, err := a.service.CloseCycleAt(ctx, cyc, now)
		if err != nil {
			return closed, err
		}
		a.logger.Info("Cycle auto-closed", map[string]interface{}{
			"cycle":          cyc,
			"pools_closed":   summary.PoolsClosed,
			"total_returned": summary.TotalReturned.StringFixed(2),
		})
		closed = append(closed, summary)
	}
	return closed, nil
}

func anyActive(pools []domain.PoolSummary) bool {
	for _, p := range pools {
		if p.Status == domain.PoolStatusActive {
			return true
		}
	}
	return false
}
