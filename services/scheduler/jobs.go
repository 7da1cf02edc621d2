package schedsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/payment"
)

const RecountSchedule = "@hourly"

var NowFunc = time.Now // mockable

type (
	Reconciler interface {
		Reconcile(ctx context.Context) (payment.ReconcileReport, error)
	}

	// Maintainer keeps the enrollment ledger consistent over time.
	Maintainer interface {
		ExpireLapsed(ctx context.Context, now time.Time) (int, error)
		RecountCounters(ctx context.Context) (int, error)
	}
)

// ReconcileJob replays the pending month unlocks of completed payments.
func ReconcileJob(r Reconciler, logger core.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		report, err := r.Reconcile(ctx)
		if err != nil {
			return errors.Wrap(err, "reconciling payments")
		}
		if report.Resolved+report.Failed+report.Escalated > 0 {
			logger.Info(fmt.Sprintf("reconciliation: %d resolved, %d failed, %d escalated",
				report.Resolved, report.Failed, report.Escalated))
		}
		return nil
	}
}

// ExpireJob expires the subscriptions whose next payment is overdue.
func ExpireJob(m Maintainer, logger core.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := m.ExpireLapsed(ctx, NowFunc().UTC())
		if err != nil {
			return errors.Wrap(err, "expiring lapsed subscriptions")
		}
		if n > 0 {
			logger.Info(fmt.Sprintf("expired %d subscriptions", n))
		}
		return nil
	}
}

// RecountJob recomputes the class enrollment counters.
func RecountJob(m Maintainer, logger core.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := m.RecountCounters(ctx)
		if err != nil {
			return errors.Wrap(err, "recounting class counters")
		}
		logger.Debug(fmt.Sprintf("recounted %d classes", n))
		return nil
	}
}

// RegisterJobs schedules the maintenance jobs of the app.
func RegisterJobs(s *Scheduler, conf *core.Config, logger core.Logger, r Reconciler, m Maintainer) error {
	if err := s.Add("reconcile", conf.Reconcile.Schedule, ReconcileJob(r, logger)); err != nil {
		return err
	}
	if err := s.Add("expire", conf.Subscription.ExpirySchedule, ExpireJob(m, logger)); err != nil {
		return err
	}
	return s.Add("recount", RecountSchedule, RecountJob(m, logger))
}
