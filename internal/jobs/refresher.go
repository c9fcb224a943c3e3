package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/checks-optimizer/internal/metrics"
	"github.com/Checker-Finance/checks-optimizer/internal/service"
	"github.com/Checker-Finance/checks-optimizer/internal/store"
	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

// Reporter runs one optimization pass.
type Reporter interface {
	Report(ctx context.Context, forceRefresh bool) (*service.Report, error)
}

// RunRecorder persists run summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, run model.RunSummary) error
}

// Publisher announces computed runs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

// Refresher periodically forces a catalog refresh, records the
// optimizer outcome and emits an event for downstream consumers.
type Refresher struct {
	logger   *zap.Logger
	reporter Reporter
	recorder RunRecorder // may be nil
	pub      Publisher   // may be nil
	interval time.Duration
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRefresher constructs a background job that runs every interval.
func NewRefresher(logger *zap.Logger, reporter Reporter, recorder RunRecorder, pub Publisher, interval time.Duration) *Refresher {
	return &Refresher{
		logger:   logger,
		reporter: reporter,
		recorder: recorder,
		pub:      pub,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start warms the cache once and then runs the refresh loop until ctx is
// canceled or Stop is called.
func (r *Refresher) Start(ctx context.Context) {
	r.logger.Info("refresher.started", zap.Duration("interval", r.interval))
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("refresher.stopped", zap.String("reason", "manual stop"))
			return
		case <-ctx.Done():
			r.logger.Info("refresher.stopped", zap.String("reason", "context canceled"))
			return
		}
	}
}

// Stop halts the loop. Safe to call more than once.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// RunOnce executes one refresh cycle and reports whether it succeeded.
func (r *Refresher) RunOnce(ctx context.Context) bool {
	start := r.now()

	report, err := r.reporter.Report(ctx, true)
	if err != nil {
		metrics.IncError("refresher", "report")
		r.logger.Error("refresher.refresh_failed", zap.Error(err))
		return false
	}

	run := service.Summarize(report, r.now())

	if r.recorder != nil {
		if err := r.recorder.RecordRun(ctx, run); err != nil && !errors.Is(err, store.ErrHistoryDisabled) {
			metrics.IncError("refresher", "record_run")
			r.logger.Warn("refresher.record_failed", zap.Error(err))
		}
	}
	if r.pub != nil {
		r.pub.Publish(ctx, model.TopicOptimizationComputed, run)
	}

	r.logger.Info("refresher.success",
		zap.String("run_id", run.RunID.String()),
		zap.Bool("satisfiable", run.Satisfiable),
		zap.String("total_cost", run.TotalCost.String()),
		zap.Bool("stale", report.Stale),
		zap.Duration("duration", r.now().Sub(start)))
	return true
}
