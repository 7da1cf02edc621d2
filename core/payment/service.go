package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/core/notify"
	"github.com/trezcool/darasa/core/user"
)

const maxTransactionAttempts = 5

var (
	// errors
	ErrNotFound               = core.NewNotFoundError("payment")
	ErrNotOwner               = core.NewForbiddenError("payment belongs to another user")
	ErrAlreadyPaid            = core.NewConflictError("this month is already paid")
	ErrDuplicateTransaction   = core.NewConflictError("transaction id already used")
	ErrTransactionMismatch    = core.NewConflictError("transaction id already used for another payment")
	ErrEnrollmentInactive     = core.NewInvalidStateError("enrollment is not active")
	ErrReconciliationNotFound = core.NewNotFoundError("reconciliation")
	ErrInvalidRefundAmount    = core.NewValidationError(nil, core.FieldError{Field: "amount", Error: "must be greater than 0 and at most the payment amount"})
	ErrInvalidMonth           = core.NewValidationError(nil, core.FieldError{Field: "month_number", Error: "must be 1 or greater"})

	NowFunc           = time.Now         // mockable
	TransactionIDFunc = NewTransactionID // mockable
)

type (
	Repository interface {
		// CreatePayment returns ErrDuplicateTransaction if the transaction ID is taken.
		CreatePayment(ctx context.Context, pmt Payment) (Payment, error)
		UpdatePayment(ctx context.Context, pmt Payment) (Payment, error)
		GetPayment(ctx context.Context, id string) (Payment, error)
		GetPaymentByTransactionID(ctx context.Context, transactionID string) (Payment, error)
		QueryPayments(ctx context.Context, filter QueryFilter) ([]Payment, error)
		// SumTeacherEarnings sums the earnings of the teacher's completed payments.
		SumTeacherEarnings(ctx context.Context, teacherID string) (total decimal.Decimal, count int, err error)

		CreateReconciliation(ctx context.Context, rec Reconciliation) (Reconciliation, error)
		UpdateReconciliation(ctx context.Context, rec Reconciliation) (Reconciliation, error)
		QueryOpenReconciliations(ctx context.Context) ([]Reconciliation, error)
	}

	// Ledger is what settlement needs from the enrollment ledger.
	Ledger interface {
		GetByID(ctx context.Context, id string) (enrollment.Enrollment, error)
		ApplySettlement(ctx context.Context, enrollmentID string, month int, amount decimal.Decimal, paidAt time.Time) (enrollment.Enrollment, error)
	}

	Catalog interface {
		AddRevenue(ctx context.Context, classID string, amount decimal.Decimal) error
	}

	Service struct {
		repo           Repository
		ledger         Ledger
		catalog        Catalog
		gateway        Gateway
		notifier       notify.Dispatcher
		logger         core.Logger
		locks          *core.KeyedMutex
		feePercentage  decimal.Decimal
		currency       string
		defaultGateway GatewayName
		maxAttempts    int
		concurrency    int
	}
)

func NewService(
	repo Repository,
	ledger Ledger,
	cat Catalog,
	gateway Gateway,
	notifier notify.Dispatcher,
	conf *core.Config,
	logger core.Logger,
) *Service {
	defaultGateway := GatewayMock
	if conf.Payment.Gateway != "mock" {
		defaultGateway = GatewayStripe
	}
	return &Service{
		repo:           repo,
		ledger:         ledger,
		catalog:        cat,
		gateway:        gateway,
		notifier:       notifier,
		logger:         logger,
		locks:          core.NewKeyedMutex(),
		feePercentage:  conf.Payment.FeePercentage,
		currency:       conf.Payment.Currency,
		defaultGateway: defaultGateway,
		maxAttempts:    conf.Reconcile.MaxAttempts,
		concurrency:    conf.Reconcile.Concurrency,
	}
}

// Create charges the principal (a student) for one month of their enrollment and unlocks it.
//
// If the charge succeeds but the unlock fails, the completed payment is returned together with a
// *core.ReconciliationError and the pair is queued for Reconcile.
// Calls for the same enrollment are serialized.
func (svc *Service) Create(ctx context.Context, p user.Principal, np NewPayment) (Payment, error) {
	if err := user.RequireRole(p, user.RoleStudent); err != nil {
		return Payment{}, err
	}
	np.Clean()
	if np.MonthNumber < 1 {
		return Payment{}, ErrInvalidMonth
	}

	unlock := svc.locks.Lock(np.EnrollmentID)
	defer unlock()

	enrl, err := svc.ledger.GetByID(ctx, np.EnrollmentID)
	if err != nil {
		return Payment{}, err
	}
	if enrl.StudentID != p.ID {
		return Payment{}, enrollment.ErrNotOwner
	}
	if !enrl.IsActive() {
		return Payment{}, ErrEnrollmentInactive
	}
	if np.TransactionID != "" {
		if existing, err := svc.repo.GetPaymentByTransactionID(ctx, np.TransactionID); err == nil {
			if existing.EnrollmentID == enrl.ID && existing.MonthNumber == np.MonthNumber {
				return existing, nil
			}
			return Payment{}, ErrTransactionMismatch
		} else if errors.Cause(err) != ErrNotFound {
			return Payment{}, errors.Wrap(err, "finding payment by transaction id")
		}
	}
	if err = svc.checkUnpaid(ctx, enrl, np.MonthNumber); err != nil {
		return Payment{}, err
	}

	gateway := np.Gateway
	if gateway == "" {
		gateway = svc.defaultGateway
	}
	fee, earnings := SplitFee(enrl.MonthlyFee, svc.feePercentage)
	now := NowFunc().UTC()
	pmt, err := svc.insert(ctx, Payment{
		ID:              uuid.New().String(),
		EnrollmentID:    enrl.ID,
		StudentID:       enrl.StudentID,
		TeacherID:       enrl.TeacherID,
		ClassID:         enrl.ClassID,
		MonthNumber:     np.MonthNumber,
		Amount:          enrl.MonthlyFee,
		Currency:        enrl.Currency,
		FeePercentage:   svc.feePercentage,
		PlatformFee:     fee,
		TeacherEarnings: earnings,
		PaymentMethod:   np.PaymentMethod,
		Gateway:         gateway,
		Status:          StatusPending,
		RefundAmount:    decimal.Zero,
		BillingDetails:  np.BillingDetails,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, np.TransactionID)
	if err != nil {
		return Payment{}, err
	}

	res, err := svc.gateway.Charge(ctx, ChargeRequest{
		PaymentID:     pmt.ID,
		TransactionID: pmt.TransactionID,
		Amount:        pmt.Amount,
		Currency:      pmt.Currency,
		Method:        pmt.PaymentMethod,
		Gateway:       pmt.Gateway,
		Description:   fmt.Sprintf("Month %d of class %s", pmt.MonthNumber, pmt.ClassID),
		Customer:      pmt.BillingDetails,
	})
	if err != nil {
		if _, fErr := svc.fail(ctx, pmt, "gateway error"); fErr != nil {
			svc.logger.Error("marking payment failed", fErr, map[string]interface{}{"payment_id": pmt.ID})
		}
		return Payment{}, errors.Wrap(err, "charging payment")
	}
	if !res.Approved {
		pmt, err = svc.fail(ctx, pmt, res.DeclineReason)
		if err != nil {
			return Payment{}, err
		}
		svc.notifier.Dispatch(ctx, notify.Event{
			Type:        notify.PaymentFailed,
			UserID:      pmt.StudentID,
			Title:       "Payment failed",
			Message:     fmt.Sprintf("Your payment for month %d was declined: %s.", pmt.MonthNumber, pmt.FailureReason),
			RelatedID:   pmt.ID,
			RelatedType: "payment",
		})
		return pmt, core.NewPaymentDeclinedError(pmt.FailureReason)
	}

	if err = pmt.Transition(StatusCompleted); err != nil {
		return Payment{}, err
	}
	pmt.PaidAt = NowFunc().UTC()
	pmt.GatewayTransactionID = res.GatewayTransactionID
	pmt.InvoiceNumber = InvoiceNumber(pmt.PaidAt, pmt.TransactionID)
	pmt.UpdatedAt = pmt.PaidAt
	if pmt, err = svc.repo.UpdatePayment(ctx, pmt); err != nil {
		return Payment{}, errors.Wrap(err, "completing payment")
	}

	if _, err = svc.ledger.ApplySettlement(ctx, pmt.EnrollmentID, pmt.MonthNumber, pmt.Amount, pmt.PaidAt); err != nil {
		return pmt, svc.queueReconciliation(ctx, pmt, err)
	}
	svc.settled(ctx, pmt)
	return pmt, nil
}

// checkUnpaid makes sure month has neither been unlocked nor paid by a payment awaiting reconciliation.
func (svc *Service) checkUnpaid(ctx context.Context, enrl enrollment.Enrollment, month int) error {
	if enrl.IsMonthUnlocked(month) {
		return ErrAlreadyPaid
	}
	paid, err := svc.repo.QueryPayments(ctx, QueryFilter{
		EnrollmentID: enrl.ID,
		MonthNumber:  month,
		Status:       StatusCompleted,
	})
	if err != nil {
		return errors.Wrap(err, "querying month payments")
	}
	if len(paid) > 0 {
		return ErrAlreadyPaid
	}
	return nil
}

// insert stores pmt under transactionID, or under a generated one regenerated on collision.
func (svc *Service) insert(ctx context.Context, pmt Payment, transactionID string) (Payment, error) {
	if transactionID != "" {
		pmt.TransactionID = transactionID
		return svc.repo.CreatePayment(ctx, pmt)
	}
	for attempt := 0; attempt < maxTransactionAttempts; attempt++ {
		pmt.TransactionID = TransactionIDFunc()
		created, err := svc.repo.CreatePayment(ctx, pmt)
		if errors.Cause(err) == ErrDuplicateTransaction {
			continue
		}
		return created, err
	}
	return Payment{}, errors.Wrap(ErrDuplicateTransaction, "generating transaction id")
}

func (svc *Service) fail(ctx context.Context, pmt Payment, reason string) (Payment, error) {
	if err := pmt.Transition(StatusFailed); err != nil {
		return Payment{}, err
	}
	if reason == "" {
		reason = "declined"
	}
	pmt.FailureReason = reason
	pmt.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdatePayment(ctx, pmt)
}

// settled runs the best-effort follow-ups of a settled payment.
func (svc *Service) settled(ctx context.Context, pmt Payment) {
	if err := svc.catalog.AddRevenue(ctx, pmt.ClassID, pmt.Amount); err != nil {
		svc.logger.Error("adding class revenue", err, map[string]interface{}{"payment_id": pmt.ID})
	}
	svc.notifier.Dispatch(ctx, notify.Event{
		Type:        notify.PaymentSuccess,
		UserID:      pmt.StudentID,
		Title:       "Payment received",
		Message:     fmt.Sprintf("Month %d is now unlocked (%s %s).", pmt.MonthNumber, pmt.Amount.StringFixed(2), pmt.Currency),
		RelatedID:   pmt.ID,
		RelatedType: "payment",
	})
}

// Refund refunds amount (the full amount if zero) of a completed payment.
// Unlocked months are kept.
func (svc *Service) Refund(ctx context.Context, p user.Principal, paymentID string, amount decimal.Decimal, reason string) (Payment, error) {
	if err := user.RequireRole(p, user.RoleAdmin); err != nil {
		return Payment{}, err
	}
	pmt, err := svc.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}

	// same lock as the reconciliation sweep, so a queued unlock cannot land after the refund
	unlock := svc.locks.Lock(pmt.EnrollmentID)
	defer unlock()
	if pmt, err = svc.repo.GetPayment(ctx, paymentID); err != nil {
		return Payment{}, err
	}

	if amount.IsZero() {
		amount = pmt.Amount
	}
	if !amount.IsPositive() || amount.GreaterThan(pmt.Amount) {
		return Payment{}, ErrInvalidRefundAmount
	}
	if err = pmt.Transition(StatusRefunded); err != nil {
		return Payment{}, err
	}

	now := NowFunc().UTC()
	pmt.RefundAmount = amount
	pmt.RefundReason = core.CleanString(reason)
	pmt.RefundedAt = now
	pmt.UpdatedAt = now
	if pmt, err = svc.repo.UpdatePayment(ctx, pmt); err != nil {
		return Payment{}, errors.Wrap(err, "refunding payment")
	}

	// a payment still awaiting reconciliation never unlocked its month nor credited the class
	closed, err := svc.closeReconciliations(ctx, pmt.ID, "payment refunded")
	if err != nil {
		return Payment{}, err
	}
	if closed {
		return pmt, nil
	}
	if err = svc.catalog.AddRevenue(ctx, pmt.ClassID, amount.Neg()); err != nil {
		svc.logger.Error("deducting refund from class revenue", err, map[string]interface{}{"payment_id": pmt.ID})
	}
	return pmt, nil
}

// GetByID returns the payment if the principal is its student, its teacher or an admin.
func (svc *Service) GetByID(ctx context.Context, p user.Principal, id string) (Payment, error) {
	pmt, err := svc.repo.GetPayment(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	switch {
	case p.ID == "":
	case p.IsAdmin(), p.ID == pmt.StudentID, p.IsTeacher() && p.ID == pmt.TeacherID:
		return pmt, nil
	}
	return Payment{}, ErrNotOwner
}

func (svc *Service) ListForStudent(ctx context.Context, p user.Principal, ordering ...core.DBOrdering) ([]Payment, error) {
	if err := user.RequireRole(p, user.RoleStudent); err != nil {
		return nil, err
	}
	return svc.repo.QueryPayments(ctx, QueryFilter{
		StudentID: p.ID,
		Ordering:  core.CleanOrderings(ordering, Orderings),
	})
}

// ListForTeacher returns the completed payments of teacherID's classes.
func (svc *Service) ListForTeacher(ctx context.Context, p user.Principal, teacherID string, ordering ...core.DBOrdering) ([]Payment, error) {
	if err := svc.checkTeacherAccess(p, teacherID); err != nil {
		return nil, err
	}
	return svc.repo.QueryPayments(ctx, QueryFilter{
		TeacherID: teacherID,
		Status:    StatusCompleted,
		Ordering:  core.CleanOrderings(ordering, Orderings),
	})
}

// TeacherEarnings sums what teacherID earned from completed payments.
func (svc *Service) TeacherEarnings(ctx context.Context, p user.Principal, teacherID string) (Earnings, error) {
	if err := svc.checkTeacherAccess(p, teacherID); err != nil {
		return Earnings{}, err
	}
	total, count, err := svc.repo.SumTeacherEarnings(ctx, teacherID)
	if err != nil {
		return Earnings{}, errors.Wrap(err, "summing teacher earnings")
	}
	return Earnings{TeacherID: teacherID, Total: total, Count: count, Currency: svc.currency}, nil
}

func (svc *Service) checkTeacherAccess(p user.Principal, teacherID string) error {
	if err := user.RequireRole(p, user.RoleTeacher, user.RoleAdmin); err != nil {
		return err
	}
	if !p.IsAdmin() && p.ID != teacherID {
		return ErrNotOwner
	}
	return nil
}
