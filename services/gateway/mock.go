package gatewaysvc

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core/payment"
)

// DeclineDomain makes MockGateway decline charges of customers emailing from it.
const DeclineDomain = "@decline.test"

// MockGateway approves every charge but those of DeclineDomain customers.
type MockGateway struct{}

var _ payment.Gateway = (*MockGateway)(nil)

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (MockGateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return payment.ChargeResult{}, err
	}
	if strings.HasSuffix(strings.ToLower(req.Customer.Email), DeclineDomain) {
		return payment.ChargeResult{DeclineReason: "card declined"}, nil
	}
	return payment.ChargeResult{
		Approved:             true,
		GatewayTransactionID: "mock_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
	}, nil
}
