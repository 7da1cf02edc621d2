package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

type ChargeRequest struct {
	PaymentID     string          `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        Method          `json:"method"`
	Gateway       GatewayName     `json:"gateway"`
	Description   string          `json:"description"`
	Customer      BillingDetails  `json:"customer"`
}

type ChargeResult struct {
	Approved             bool   `json:"approved"`
	GatewayTransactionID string `json:"gateway_transaction_id"`
	DeclineReason        string `json:"decline_reason"`
}

// Gateway charges students. A declined charge is not an error: errors mean the outcome is unknown.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}
