package payment

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

type Method string

const (
	MethodCard   Method = "card"
	MethodUPI    Method = "upi"
	MethodWallet Method = "wallet"
	MethodPaypal Method = "paypal"
)

var AllMethods = []Method{MethodCard, MethodUPI, MethodWallet, MethodPaypal}

type GatewayName string

const (
	GatewayStripe   GatewayName = "stripe"
	GatewayPaypal   GatewayName = "paypal"
	GatewayRazorpay GatewayName = "razorpay"
	GatewayMock     GatewayName = "mock"
)

var AllGateways = []GatewayName{GatewayStripe, GatewayPaypal, GatewayRazorpay, GatewayMock}

// transitions lists the statuses each status may move to.
var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusRefunded},
}

type BillingDetails struct {
	Name    string `json:"name"`
	Email   string `json:"email" validate:"omitempty,email"`
	Country string `json:"country" validate:"omitempty,len=2"`
}

// Payment is the settlement of one month of an enrollment.
// Amount always equals PlatformFee + TeacherEarnings.
type Payment struct {
	ID                   string          `json:"id"`
	EnrollmentID         string          `json:"enrollment_id"`
	StudentID            string          `json:"student_id"`
	TeacherID            string          `json:"teacher_id"`
	ClassID              string          `json:"class_id"`
	MonthNumber          int             `json:"month_number"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	FeePercentage        decimal.Decimal `json:"fee_percentage"`
	PlatformFee          decimal.Decimal `json:"platform_fee"`
	TeacherEarnings      decimal.Decimal `json:"teacher_earnings"`
	TransactionID        string          `json:"transaction_id"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty"`
	PaymentMethod        Method          `json:"payment_method"`
	Gateway              GatewayName     `json:"gateway"`
	Status               Status          `json:"status"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	RefundAmount         decimal.Decimal `json:"refund_amount"`
	RefundReason         string          `json:"refund_reason,omitempty"`
	RefundedAt           time.Time       `json:"refunded_at,omitempty"`
	PaidAt               time.Time       `json:"paid_at,omitempty"`
	InvoiceNumber        string          `json:"invoice_number,omitempty"`
	BillingDetails       BillingDetails  `json:"billing_details"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Transition moves the payment to status `to`, if the state machine allows it.
func (p *Payment) Transition(to Status) error {
	for _, s := range transitions[p.Status] {
		if s == to {
			p.Status = to
			return nil
		}
	}
	return core.NewInvalidStateError(fmt.Sprintf("payment cannot go from %s to %s", p.Status, to))
}

// SplitFee splits amount between the platform (pct %, rounded half away from zero to the cent)
// and the teacher (the rest).
func SplitFee(amount, pct decimal.Decimal) (fee, earnings decimal.Decimal) {
	fee = amount.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
	return fee, amount.Sub(fee)
}

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewTransactionID returns an ID of the form `TXN-<unix ms>-<9 base36 chars>`.
func NewTransactionID() string {
	buf := make([]byte, 9)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = base36[int(b)%len(base36)]
	}
	return fmt.Sprintf("TXN-%d-%s", NowFunc().UnixMilli(), buf)
}

// InvoiceNumber returns `INV-<yyyymm>-<last 9 chars of the transaction ID>`.
func InvoiceNumber(paidAt time.Time, transactionID string) string {
	short := strings.ToUpper(transactionID)
	if len(short) > 9 {
		short = short[len(short)-9:]
	}
	return fmt.Sprintf("INV-%s-%s", paidAt.Format("200601"), short)
}

// NewPayment is a student's request to pay one month of an enrollment.
type NewPayment struct {
	EnrollmentID   string         `json:"enrollment_id" validate:"required"`
	MonthNumber    int            `json:"month_number" validate:"min=1"`
	PaymentMethod  Method         `json:"payment_method" validate:"required,payment_method"`
	Gateway        GatewayName    `json:"gateway" validate:"omitempty,gateway"`
	TransactionID  string         `json:"transaction_id" validate:"omitempty,max=64"`
	BillingDetails BillingDetails `json:"billing_details"`
}

func (np *NewPayment) Clean() {
	np.TransactionID = core.CleanString(np.TransactionID)
	np.BillingDetails.Name = core.CleanString(np.BillingDetails.Name)
	np.BillingDetails.Email = core.CleanString(np.BillingDetails.Email, true)
	np.BillingDetails.Country = strings.ToUpper(core.CleanString(np.BillingDetails.Country))
}

type Earnings struct {
	TeacherID string          `json:"teacher_id"`
	Total     decimal.Decimal `json:"total"`
	Count     int             `json:"count"`
	Currency  string          `json:"currency"`
}

// Reconciliation is a completed payment whose month unlock has not landed yet.
type Reconciliation struct {
	ID           string          `json:"id"`
	PaymentID    string          `json:"payment_id"`
	EnrollmentID string          `json:"enrollment_id"`
	MonthNumber  int             `json:"month_number"`
	Amount       decimal.Decimal `json:"amount"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"last_error"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ResolvedAt   time.Time       `json:"resolved_at,omitempty"`
}

func (r Reconciliation) IsResolved() bool { return !r.ResolvedAt.IsZero() }

// ReconcileReport counts the outcome of one sweep. Closed items belong to payments that are no
// longer completed (eg. refunded) and were dropped without unlocking their month.
type ReconcileReport struct {
	Resolved  int `json:"resolved"`
	Closed    int `json:"closed"`
	Failed    int `json:"failed"`
	Escalated int `json:"escalated"`
}

// QueryFilter narrows QueryPayments; zero fields are ignored.
type QueryFilter struct {
	StudentID    string
	TeacherID    string
	EnrollmentID string
	MonthNumber  int
	Status       Status
	Ordering     []core.DBOrdering
}

// Orderings maps the json fields payments may be ordered by to their columns.
var Orderings = map[string]string{
	"created_at": "created_at",
	"paid_at":    "paid_at",
	"amount":     "amount",
}
