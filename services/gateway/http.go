package gatewaysvc

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/payment"
)

const chargesPath = "/charges"

// HTTPGateway charges through a JSON payment API:
// `POST /charges` answers 200 with a payment.ChargeResult, or 402 when the charge is declined.
type HTTPGateway struct {
	client *resty.Client
}

var _ payment.Gateway = (*HTTPGateway)(nil)

func NewHTTPGateway(conf *core.Config) *HTTPGateway {
	client := resty.New().
		SetBaseURL(conf.Payment.GatewayURL).
		SetTimeout(conf.Payment.GatewayTimeout).
		SetHeader("Accept", "application/json")
	if conf.Payment.GatewayAPIKey != "" {
		client.SetAuthToken(conf.Payment.GatewayAPIKey)
	}
	return &HTTPGateway{client: client}
}

type apiError struct {
	Message string `json:"message"`
}

func (gw *HTTPGateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	var (
		res    payment.ChargeResult
		apiErr apiError
	)
	resp, err := gw.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.TransactionID).
		SetBody(req).
		SetResult(&res).
		SetError(&apiErr).
		Post(chargesPath)
	if err != nil {
		return payment.ChargeResult{}, errors.Wrap(err, "calling payment gateway")
	}

	switch {
	case resp.StatusCode() == http.StatusPaymentRequired:
		reason := apiErr.Message
		if reason == "" {
			reason = "declined by gateway"
		}
		return payment.ChargeResult{DeclineReason: reason}, nil
	case resp.IsError():
		return payment.ChargeResult{}, errors.Errorf("payment gateway: status %d: %s", resp.StatusCode(), apiErr.Message)
	}
	return res, nil
}
