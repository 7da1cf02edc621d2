package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/payment"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// intParam parses the path param name, reporting a field error when it is not an integer.
func intParam(ctx echo.Context, name string) (int, error) {
	val, err := strconv.Atoi(ctx.Param(name))
	if err != nil {
		return 0, core.NewValidationError(nil, core.FieldError{Field: name, Error: "must be an integer"})
	}
	return val, nil
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	EnrollRequest struct {
		ClassID string `json:"class_id" validate:"required"`
	}

	CancelRequest struct {
		Reason string `json:"reason" validate:"max=500"`
	}

	UnlockRequest struct {
		Month int `json:"month" validate:"min=1"`
	}

	// RefundRequest refunds the whole payment when Amount is 0.
	RefundRequest struct {
		Amount decimal.Decimal `json:"amount" validate:"gte=0"`
		Reason string          `json:"reason" validate:"required,max=500"`
	}

	// PaymentFailure is returned along with the failed payment when the gateway declines the charge
	// or when the month unlock is pending reconciliation.
	PaymentFailure struct {
		Error   string          `json:"error"`
		Payment payment.Payment `json:"payment"`
	}
)

func (lr *LoginRequest) Clean() {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
}

func (cr *CancelRequest) Clean() {
	cr.Reason = core.CleanString(cr.Reason)
}

func (rr *RefundRequest) Clean() {
	rr.Reason = core.CleanString(rr.Reason)
}
