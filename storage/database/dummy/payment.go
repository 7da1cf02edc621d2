package dummydb

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/payment"
)

type paymentRepository struct {
	db              *paymentTable
	reconciliations *reconciliationTable
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(db *DB) payment.Repository {
	return &paymentRepository{db: db.payment, reconciliations: db.reconciliation}
}

func (repo *paymentRepository) CreatePayment(_ context.Context, pmt payment.Payment) (payment.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, p := range repo.db.table {
		if p.TransactionID == pmt.TransactionID {
			return payment.Payment{}, payment.ErrDuplicateTransaction
		}
	}
	repo.db.table[pmt.ID] = &pmt
	return pmt, nil
}

func (repo *paymentRepository) UpdatePayment(_ context.Context, pmt payment.Payment) (payment.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[pmt.ID]; !ok {
		return payment.Payment{}, payment.ErrNotFound
	}
	repo.db.table[pmt.ID] = &pmt
	return pmt, nil
}

func (repo *paymentRepository) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if pmt, ok := repo.db.table[id]; ok {
		return *pmt, nil
	}
	return payment.Payment{}, payment.ErrNotFound
}

func (repo *paymentRepository) GetPaymentByTransactionID(_ context.Context, transactionID string) (payment.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	for _, pmt := range repo.db.table {
		if pmt.TransactionID == transactionID {
			return *pmt, nil
		}
	}
	return payment.Payment{}, payment.ErrNotFound
}

func (repo *paymentRepository) QueryPayments(_ context.Context, filter payment.QueryFilter) ([]payment.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	pmts := make([]payment.Payment, 0)
	for _, pmt := range repo.db.table {
		switch {
		case filter.StudentID != "" && pmt.StudentID != filter.StudentID,
			filter.TeacherID != "" && pmt.TeacherID != filter.TeacherID,
			filter.EnrollmentID != "" && pmt.EnrollmentID != filter.EnrollmentID,
			filter.MonthNumber != 0 && pmt.MonthNumber != filter.MonthNumber,
			filter.Status != "" && pmt.Status != filter.Status:
			continue
		}
		pmts = append(pmts, *pmt)
	}
	sortPayments(pmts, filter.Ordering)
	return pmts, nil
}

// sortPayments sorts on the first ordering only; creation date descending by default.
func sortPayments(pmts []payment.Payment, ordering []core.DBOrdering) {
	ord := core.DBOrdering{Field: "created_at"}
	if len(ordering) > 0 {
		ord = ordering[0]
	}
	sort.SliceStable(pmts, func(i, j int) bool {
		a, b := pmts[i], pmts[j]
		if !ord.Ascending {
			a, b = b, a
		}
		switch ord.Field {
		case "paid_at":
			return a.PaidAt.Before(b.PaidAt)
		case "amount":
			return a.Amount.LessThan(b.Amount)
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
}

func (repo *paymentRepository) SumTeacherEarnings(_ context.Context, teacherID string) (decimal.Decimal, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	total, count := decimal.Zero, 0
	for _, pmt := range repo.db.table {
		if pmt.TeacherID == teacherID && pmt.Status == payment.StatusCompleted {
			total = total.Add(pmt.TeacherEarnings)
			count++
		}
	}
	return total, count, nil
}

func (repo *paymentRepository) CreateReconciliation(_ context.Context, rec payment.Reconciliation) (payment.Reconciliation, error) {
	repo.reconciliations.Lock()
	defer repo.reconciliations.Unlock()

	for _, r := range repo.reconciliations.table {
		if r.PaymentID == rec.PaymentID {
			return *r, nil
		}
	}
	repo.reconciliations.table[rec.ID] = &rec
	return rec, nil
}

func (repo *paymentRepository) UpdateReconciliation(_ context.Context, rec payment.Reconciliation) (payment.Reconciliation, error) {
	repo.reconciliations.Lock()
	defer repo.reconciliations.Unlock()

	if _, ok := repo.reconciliations.table[rec.ID]; !ok {
		return payment.Reconciliation{}, payment.ErrReconciliationNotFound
	}
	repo.reconciliations.table[rec.ID] = &rec
	return rec, nil
}

func (repo *paymentRepository) QueryOpenReconciliations(_ context.Context) ([]payment.Reconciliation, error) {
	repo.reconciliations.RLock()
	defer repo.reconciliations.RUnlock()

	recs := make([]payment.Reconciliation, 0)
	for _, r := range repo.reconciliations.table {
		if !r.IsResolved() {
			recs = append(recs, *r)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}
