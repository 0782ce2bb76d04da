package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Reconciler is the part of GateQueueService the reconcile job drives.
type Reconciler interface {
	Reconcile(ctx context.Context) (ReconcileResult, error)
}

// GateReconciler runs Reconcile on a fixed interval. It catches deadlines
// that were armed on a node that has since died and gates that were left
// without a current entry.
type GateReconciler struct {
	scheduler gocron.Scheduler
	target    Reconciler
	interval  time.Duration
}

func NewGateReconciler(target Reconciler, interval time.Duration) (*GateReconciler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &GateReconciler{scheduler: scheduler, target: target, interval: interval}, nil
}

// Start registers the reconcile job and starts the scheduler. The job stops
// doing work once ctx is done.
func (r *GateReconciler) Start(ctx context.Context) error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.RunOnce(ctx) }),
		gocron.WithName("gate-queue-reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	r.scheduler.Start()
	slog.Info("gate queue reconciler started", "interval", r.interval)
	return nil
}

func (r *GateReconciler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result, err := r.target.Reconcile(ctx)
	if err != nil {
		slog.Error("gate queue reconcile failed", "error", err)
		return
	}
	if result.Expired > 0 || result.Promoted > 0 {
		slog.Info("gate queue reconciled", "expired", result.Expired, "promoted", result.Promoted)
	}
}

func (r *GateReconciler) Shutdown() error {
	return r.scheduler.Shutdown()
}
