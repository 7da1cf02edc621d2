package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/darasa/core"
)

// queueReconciliation records that pmt was settled without its month being unlocked.
// It returns the *core.ReconciliationError for the caller.
func (svc *Service) queueReconciliation(ctx context.Context, pmt Payment, cause error) error {
	rErr := core.NewReconciliationError(pmt.ID, pmt.EnrollmentID, pmt.MonthNumber, cause)
	ids := map[string]interface{}{
		"payment_id":    pmt.ID,
		"enrollment_id": pmt.EnrollmentID,
		"month":         pmt.MonthNumber,
	}
	svc.logger.Error("payment completed but month unlock failed", rErr, ids)

	now := NowFunc().UTC()
	_, err := svc.repo.CreateReconciliation(ctx, Reconciliation{
		ID:           uuid.New().String(),
		PaymentID:    pmt.ID,
		EnrollmentID: pmt.EnrollmentID,
		MonthNumber:  pmt.MonthNumber,
		Amount:       pmt.Amount,
		LastError:    cause.Error(),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		svc.logger.Error("queueing reconciliation", err, ids)
	}
	return rErr
}

// Reconcile retries the month unlock of every open reconciliation item.
// Items that keep failing past the configured attempts are reported at error level.
func (svc *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	items, err := svc.repo.QueryOpenReconciliations(ctx)
	if err != nil {
		return ReconcileReport{}, errors.Wrap(err, "querying open reconciliations")
	}

	var (
		report ReconcileReport
		mu     sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	if svc.concurrency > 0 {
		g.SetLimit(svc.concurrency)
	}
	for _, item := range items {
		item := item
		g.Go(func() error {
			res, err := svc.reconcileOne(gctx, item)
			mu.Lock()
			defer mu.Unlock()
			switch res {
			case outcomeResolved:
				report.Resolved++
			case outcomeClosed:
				report.Closed++
			case outcomeEscalated:
				report.Failed++
				report.Escalated++
			default:
				report.Failed++
			}
			return err
		})
	}
	err = g.Wait()
	return report, err
}

// closeReconciliations resolves the open items of paymentID without unlocking their month.
func (svc *Service) closeReconciliations(ctx context.Context, paymentID, reason string) (bool, error) {
	items, err := svc.repo.QueryOpenReconciliations(ctx)
	if err != nil {
		return false, errors.Wrap(err, "querying open reconciliations")
	}
	closed := false
	for _, item := range items {
		if item.PaymentID != paymentID {
			continue
		}
		if err = svc.close(ctx, item, reason); err != nil {
			return closed, err
		}
		closed = true
	}
	return closed, nil
}

func (svc *Service) close(ctx context.Context, item Reconciliation, reason string) error {
	now := NowFunc().UTC()
	item.LastError = reason
	item.ResolvedAt = now
	item.UpdatedAt = now
	if _, err := svc.repo.UpdateReconciliation(ctx, item); err != nil {
		return errors.Wrapf(err, "closing reconciliation %s", item.ID)
	}
	return nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeResolved
	outcomeClosed
	outcomeEscalated
)

func (svc *Service) reconcileOne(ctx context.Context, item Reconciliation) (outcome, error) {
	unlock := svc.locks.Lock(item.EnrollmentID)
	defer unlock()

	pmt, err := svc.repo.GetPayment(ctx, item.PaymentID)
	if err != nil {
		return outcomeFailed, errors.Wrapf(err, "getting payment %s", item.PaymentID)
	}
	if pmt.Status != StatusCompleted {
		// refunded while queued: the month must stay locked
		if err = svc.close(ctx, item, "payment "+string(pmt.Status)); err != nil {
			return outcomeFailed, err
		}
		return outcomeClosed, nil
	}

	_, applyErr := svc.ledger.ApplySettlement(ctx, item.EnrollmentID, item.MonthNumber, item.Amount, pmt.PaidAt)
	now := NowFunc().UTC()
	item.UpdatedAt = now
	if applyErr == nil {
		item.ResolvedAt = now
		if _, err = svc.repo.UpdateReconciliation(ctx, item); err != nil {
			return outcomeFailed, errors.Wrapf(err, "resolving reconciliation %s", item.ID)
		}
		svc.settled(ctx, pmt)
		return outcomeResolved, nil
	}

	item.Attempts++
	item.LastError = applyErr.Error()
	if _, err = svc.repo.UpdateReconciliation(ctx, item); err != nil {
		return outcomeFailed, errors.Wrapf(err, "updating reconciliation %s", item.ID)
	}
	if svc.maxAttempts > 0 && item.Attempts >= svc.maxAttempts {
		svc.logger.Error("reconciliation needs manual attention", applyErr, map[string]interface{}{
			"payment_id":    item.PaymentID,
			"enrollment_id": item.EnrollmentID,
			"month":         item.MonthNumber,
			"attempts":      item.Attempts,
		})
		return outcomeEscalated, nil
	}
	return outcomeFailed, nil
}
