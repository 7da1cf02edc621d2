package payment

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

var (
	paymentMethodTag  = "payment_method"
	paymentMethodText = "unsupported payment method"

	gatewayTag  = "gateway"
	gatewayText = "unsupported payment gateway"
)

// InitValidators registers the payment validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(paymentMethodTag, paymentMethodValidation)
	core.RegisterCustomTranslation(validate, translator, paymentMethodTag, paymentMethodText)

	_ = validate.RegisterValidation(gatewayTag, gatewayValidation)
	core.RegisterCustomTranslation(validate, translator, gatewayTag, gatewayText)
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	np.Clean()
	return validate.Struct(np)
}

func paymentMethodValidation(fl validator.FieldLevel) bool {
	method := Method(fl.Field().String())
	for _, m := range AllMethods {
		if m == method {
			return true
		}
	}
	return false
}

func gatewayValidation(fl validator.FieldLevel) bool {
	gw := GatewayName(fl.Field().String())
	for _, g := range AllGateways {
		if g == gw {
			return true
		}
	}
	return false
}
