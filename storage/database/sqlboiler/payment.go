package boiledrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/payment"
	"github.com/trezcool/darasa/storage/database"
)

const (
	paymentTable        = "payment"
	reconciliationTable = "reconciliation"
)

var (
	paymentColumns = []string{
		"id", "enrollment_id", "student_id", "teacher_id", "class_id", "amount", "platform_fee",
		"teacher_earnings", "fee_percentage", "currency", "month_number", "transaction_id",
		"gateway_transaction_id", "payment_method", "gateway", "status", "failure_reason", "refund_amount",
		"refund_reason", "refunded_at", "paid_at", "invoice_number", "billing_name", "billing_email",
		"billing_country", "created_at", "updated_at",
	}
	reconciliationColumns = []string{
		"id", "payment_id", "enrollment_id", "month_number", "amount", "attempts", "last_error",
		"created_at", "updated_at", "resolved_at",
	}
)

type paymentRow struct {
	ID                   string              `boil:"id"`
	EnrollmentID         string              `boil:"enrollment_id"`
	StudentID            string              `boil:"student_id"`
	TeacherID            string              `boil:"teacher_id"`
	ClassID              string              `boil:"class_id"`
	Amount               decimal.Decimal     `boil:"amount"`
	PlatformFee          decimal.Decimal     `boil:"platform_fee"`
	TeacherEarnings      decimal.Decimal     `boil:"teacher_earnings"`
	FeePercentage        decimal.Decimal     `boil:"fee_percentage"`
	Currency             string              `boil:"currency"`
	MonthNumber          int                 `boil:"month_number"`
	TransactionID        string              `boil:"transaction_id"`
	GatewayTransactionID null.String         `boil:"gateway_transaction_id"`
	PaymentMethod        string              `boil:"payment_method"`
	Gateway              string              `boil:"gateway"`
	Status               string              `boil:"status"`
	FailureReason        null.String         `boil:"failure_reason"`
	RefundAmount         decimal.NullDecimal `boil:"refund_amount"`
	RefundReason         null.String         `boil:"refund_reason"`
	RefundedAt           null.Time           `boil:"refunded_at"`
	PaidAt               null.Time           `boil:"paid_at"`
	InvoiceNumber        null.String         `boil:"invoice_number"`
	BillingName          null.String         `boil:"billing_name"`
	BillingEmail         null.String         `boil:"billing_email"`
	BillingCountry       null.String         `boil:"billing_country"`
	CreatedAt            time.Time           `boil:"created_at"`
	UpdatedAt            time.Time           `boil:"updated_at"`
}

func (r *paymentRow) values() []interface{} {
	return []interface{}{
		r.ID, r.EnrollmentID, r.StudentID, r.TeacherID, r.ClassID, r.Amount, r.PlatformFee,
		r.TeacherEarnings, r.FeePercentage, r.Currency, r.MonthNumber, r.TransactionID,
		r.GatewayTransactionID, r.PaymentMethod, r.Gateway, r.Status, r.FailureReason, r.RefundAmount,
		r.RefundReason, r.RefundedAt, r.PaidAt, r.InvoiceNumber, r.BillingName, r.BillingEmail,
		r.BillingCountry, r.CreatedAt, r.UpdatedAt,
	}
}

type reconciliationRow struct {
	ID           string          `boil:"id"`
	PaymentID    string          `boil:"payment_id"`
	EnrollmentID string          `boil:"enrollment_id"`
	MonthNumber  int             `boil:"month_number"`
	Amount       decimal.Decimal `boil:"amount"`
	Attempts     int             `boil:"attempts"`
	LastError    string          `boil:"last_error"`
	CreatedAt    time.Time       `boil:"created_at"`
	UpdatedAt    time.Time       `boil:"updated_at"`
	ResolvedAt   null.Time       `boil:"resolved_at"`
}

func (r *reconciliationRow) values() []interface{} {
	return []interface{}{
		r.ID, r.PaymentID, r.EnrollmentID, r.MonthNumber, r.Amount, r.Attempts, r.LastError,
		r.CreatedAt, r.UpdatedAt, r.ResolvedAt,
	}
}

type paymentRepository struct {
	exec core.DBExecutor
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(exec core.DBExecutor) payment.Repository {
	return &paymentRepository{exec: exec}
}

func (repo paymentRepository) boil(p payment.Payment) *paymentRow {
	return &paymentRow{
		ID:                   p.ID,
		EnrollmentID:         p.EnrollmentID,
		StudentID:            p.StudentID,
		TeacherID:            p.TeacherID,
		ClassID:              p.ClassID,
		Amount:               p.Amount,
		PlatformFee:          p.PlatformFee,
		TeacherEarnings:      p.TeacherEarnings,
		FeePercentage:        p.FeePercentage,
		Currency:             p.Currency,
		MonthNumber:          p.MonthNumber,
		TransactionID:        p.TransactionID,
		GatewayTransactionID: nullString(p.GatewayTransactionID),
		PaymentMethod:        string(p.PaymentMethod),
		Gateway:              string(p.Gateway),
		Status:               string(p.Status),
		FailureReason:        nullString(p.FailureReason),
		RefundAmount:         decimal.NullDecimal{Decimal: p.RefundAmount, Valid: !p.RefundAmount.IsZero()},
		RefundReason:         nullString(p.RefundReason),
		RefundedAt:           nullTime(p.RefundedAt),
		PaidAt:               nullTime(p.PaidAt),
		InvoiceNumber:        nullString(p.InvoiceNumber),
		BillingName:          nullString(p.BillingDetails.Name),
		BillingEmail:         nullString(p.BillingDetails.Email),
		BillingCountry:       nullString(p.BillingDetails.Country),
		CreatedAt:            p.CreatedAt.UTC(),
		UpdatedAt:            p.UpdatedAt.UTC(),
	}
}

func (repo paymentRepository) unboil(r *paymentRow) payment.Payment {
	refund := decimal.Zero
	if r.RefundAmount.Valid {
		refund = r.RefundAmount.Decimal
	}
	return payment.Payment{
		ID:                   r.ID,
		EnrollmentID:         r.EnrollmentID,
		StudentID:            r.StudentID,
		TeacherID:            r.TeacherID,
		ClassID:              r.ClassID,
		MonthNumber:          r.MonthNumber,
		Amount:               r.Amount,
		Currency:             r.Currency,
		FeePercentage:        r.FeePercentage,
		PlatformFee:          r.PlatformFee,
		TeacherEarnings:      r.TeacherEarnings,
		TransactionID:        r.TransactionID,
		GatewayTransactionID: r.GatewayTransactionID.String,
		PaymentMethod:        payment.Method(r.PaymentMethod),
		Gateway:              payment.GatewayName(r.Gateway),
		Status:               payment.Status(r.Status),
		FailureReason:        r.FailureReason.String,
		RefundAmount:         refund,
		RefundReason:         r.RefundReason.String,
		RefundedAt:           r.RefundedAt.Time,
		PaidAt:               r.PaidAt.Time,
		InvoiceNumber:        r.InvoiceNumber.String,
		BillingDetails: payment.BillingDetails{
			Name:    r.BillingName.String,
			Email:   r.BillingEmail.String,
			Country: r.BillingCountry.String,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (repo paymentRepository) CreatePayment(ctx context.Context, pmt payment.Payment) (payment.Payment, error) {
	row := repo.boil(pmt)
	if _, err := exec(ctx, repo.exec, insertQuery(paymentTable, paymentColumns), row.values()...); err != nil {
		if database.IsUniqueViolation(err, "payment_transaction_id_key") {
			return payment.Payment{}, payment.ErrDuplicateTransaction
		}
		return payment.Payment{}, errors.Wrap(err, "inserting payment")
	}
	return repo.unboil(row), nil
}

func (repo paymentRepository) UpdatePayment(ctx context.Context, pmt payment.Payment) (payment.Payment, error) {
	row := repo.boil(pmt)
	cols := paymentColumns[1:]
	args := append(row.values()[1:], row.ID)
	n, err := exec(ctx, repo.exec, updateQuery(paymentTable, cols), args...)
	if err != nil {
		return payment.Payment{}, errors.Wrap(err, "updating payment")
	}
	if n == 0 {
		return payment.Payment{}, payment.ErrNotFound
	}
	return repo.unboil(row), nil
}

func (repo paymentRepository) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	if !validID(id) {
		return payment.Payment{}, payment.ErrNotFound
	}
	var row paymentRow
	if err := queries.Raw(`SELECT * FROM payment WHERE id = $1`, id).Bind(ctx, repo.exec, &row); err != nil {
		return payment.Payment{}, trapNoRowsErr(err, payment.ErrNotFound, "finding payment by ID")
	}
	return repo.unboil(&row), nil
}

func (repo paymentRepository) GetPaymentByTransactionID(ctx context.Context, transactionID string) (payment.Payment, error) {
	var row paymentRow
	err := queries.Raw(`SELECT * FROM payment WHERE transaction_id = $1`, transactionID).Bind(ctx, repo.exec, &row)
	if err != nil {
		return payment.Payment{}, trapNoRowsErr(err, payment.ErrNotFound, "finding payment by transaction ID")
	}
	return repo.unboil(&row), nil
}

func (repo paymentRepository) QueryPayments(ctx context.Context, filter payment.QueryFilter) ([]payment.Payment, error) {
	var w where
	if filter.StudentID != "" {
		w.add("student_id = $%d", filter.StudentID)
	}
	if filter.TeacherID != "" {
		w.add("teacher_id = $%d", filter.TeacherID)
	}
	if filter.EnrollmentID != "" {
		w.add("enrollment_id = $%d", filter.EnrollmentID)
	}
	if filter.MonthNumber != 0 {
		w.add("month_number = $%d", filter.MonthNumber)
	}
	if filter.Status != "" {
		w.add("status = $%d", string(filter.Status))
	}

	var rows []*paymentRow
	q := `SELECT * FROM payment` + w.String() + orderBy(filter.Ordering, "created_at DESC")
	if err := queries.Raw(q, w.args...).Bind(ctx, repo.exec, &rows); err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	pmts := make([]payment.Payment, 0, len(rows))
	for _, row := range rows {
		pmts = append(pmts, repo.unboil(row))
	}
	return pmts, nil
}

func (repo paymentRepository) SumTeacherEarnings(ctx context.Context, teacherID string) (decimal.Decimal, int, error) {
	var res struct {
		Total decimal.Decimal `boil:"total"`
		Count int             `boil:"count"`
	}
	err := queries.Raw(
		`SELECT COALESCE(SUM(teacher_earnings), 0) AS total, COUNT(*) AS count
		FROM payment WHERE teacher_id = $1 AND status = $2`,
		teacherID, string(payment.StatusCompleted),
	).Bind(ctx, repo.exec, &res)
	if err != nil {
		return decimal.Zero, 0, errors.Wrap(err, "summing teacher earnings")
	}
	return res.Total, res.Count, nil
}

func unboilReconciliation(r *reconciliationRow) payment.Reconciliation {
	return payment.Reconciliation{
		ID:           r.ID,
		PaymentID:    r.PaymentID,
		EnrollmentID: r.EnrollmentID,
		MonthNumber:  r.MonthNumber,
		Amount:       r.Amount,
		Attempts:     r.Attempts,
		LastError:    r.LastError,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		ResolvedAt:   r.ResolvedAt.Time,
	}
}

func boilReconciliation(rec payment.Reconciliation) *reconciliationRow {
	return &reconciliationRow{
		ID:           rec.ID,
		PaymentID:    rec.PaymentID,
		EnrollmentID: rec.EnrollmentID,
		MonthNumber:  rec.MonthNumber,
		Amount:       rec.Amount,
		Attempts:     rec.Attempts,
		LastError:    rec.LastError,
		CreatedAt:    rec.CreatedAt.UTC(),
		UpdatedAt:    rec.UpdatedAt.UTC(),
		ResolvedAt:   nullTime(rec.ResolvedAt),
	}
}

// CreateReconciliation returns the existing item if the payment is already queued.
func (repo paymentRepository) CreateReconciliation(ctx context.Context, rec payment.Reconciliation) (payment.Reconciliation, error) {
	row := boilReconciliation(rec)
	q := insertQuery(reconciliationTable, reconciliationColumns) +
		` ON CONFLICT ON CONSTRAINT reconciliation_payment_id_key DO NOTHING`
	if _, err := exec(ctx, repo.exec, q, row.values()...); err != nil {
		return payment.Reconciliation{}, errors.Wrap(err, "inserting reconciliation")
	}

	var saved reconciliationRow
	err := queries.Raw(`SELECT * FROM reconciliation WHERE payment_id = $1`, rec.PaymentID).Bind(ctx, repo.exec, &saved)
	if err != nil {
		return payment.Reconciliation{}, errors.Wrap(err, "finding reconciliation")
	}
	return unboilReconciliation(&saved), nil
}

func (repo paymentRepository) UpdateReconciliation(ctx context.Context, rec payment.Reconciliation) (payment.Reconciliation, error) {
	row := boilReconciliation(rec)
	cols := reconciliationColumns[1:]
	args := append(row.values()[1:], row.ID)
	n, err := exec(ctx, repo.exec, updateQuery(reconciliationTable, cols), args...)
	if err != nil {
		return payment.Reconciliation{}, errors.Wrap(err, "updating reconciliation")
	}
	if n == 0 {
		return payment.Reconciliation{}, payment.ErrReconciliationNotFound
	}
	return unboilReconciliation(row), nil
}

func (repo paymentRepository) QueryOpenReconciliations(ctx context.Context) ([]payment.Reconciliation, error) {
	var rows []*reconciliationRow
	err := queries.Raw(
		`SELECT * FROM reconciliation WHERE resolved_at IS NULL ORDER BY created_at`,
	).Bind(ctx, repo.exec, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "querying open reconciliations")
	}
	recs := make([]payment.Reconciliation, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, unboilReconciliation(row))
	}
	return recs, nil
}
