package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/payment"
	"github.com/trezcool/darasa/core/user"
)

type paymentApi struct {
	svc      *payment.Service
	validate *validator.Validate
}

func registerPaymentAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *payment.Service,
	validate *validator.Validate,
) {
	api := paymentApi{
		svc:      svc,
		validate: validate,
	}

	pg := g.Group("/payments", jwt)
	pg.POST("", api.create, studentMiddleware())
	pg.GET("", api.query, studentMiddleware())
	pg.GET("/:id", api.retrieve)
	pg.POST("/:id/refund", api.refund, adminMiddleware())

	tg := g.Group("/teachers", jwt, roleMiddleware(user.RoleTeacher, user.RoleAdmin))
	tg.GET("/:id/payments", api.queryTeacherPayments)
	tg.GET("/:id/earnings", api.teacherEarnings)

	ag := g.Group("/admin", jwt, adminMiddleware())
	ag.POST("/reconcile", api.reconcile)
}

// Handlers

func (api *paymentApi) create(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	var data payment.NewPayment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	pmt, err := api.svc.Create(ctx.Request().Context(), p, data)
	if err != nil {
		// the payment record exists in both cases: send it along
		switch cause := errors.Cause(err).(type) {
		case *core.PaymentDeclinedError:
			return ctx.JSON(http.StatusPaymentRequired, PaymentFailure{Error: cause.Error(), Payment: pmt})
		case *core.ReconciliationError:
			return ctx.JSON(http.StatusAccepted, PaymentFailure{Error: cause.Error(), Payment: pmt})
		}
		return errors.Wrap(err, "creating payment")
	}
	return ctx.JSON(http.StatusCreated, pmt)
}

func (api *paymentApi) query(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	pmts, err := api.svc.ListForStudent(ctx.Request().Context(), p, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying payments")
	}
	if pmts == nil {
		pmts = []payment.Payment{}
	}
	return ctx.JSON(http.StatusOK, pmts)
}

func (api *paymentApi) retrieve(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	pmt, err := api.svc.GetByID(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "retrieving payment")
	}
	return ctx.JSON(http.StatusOK, pmt)
}

func (api *paymentApi) refund(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	var data RefundRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RefundRequest")
	}
	data.Clean()
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	pmt, err := api.svc.Refund(ctx.Request().Context(), p, ctx.Param("id"), data.Amount, data.Reason)
	if err != nil {
		return errors.Wrap(err, "refunding payment")
	}
	return ctx.JSON(http.StatusOK, pmt)
}

func (api *paymentApi) queryTeacherPayments(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	pmts, err := api.svc.ListForTeacher(ctx.Request().Context(), p, ctx.Param("id"), ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying teacher payments")
	}
	if pmts == nil {
		pmts = []payment.Payment{}
	}
	return ctx.JSON(http.StatusOK, pmts)
}

func (api *paymentApi) teacherEarnings(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	earnings, err := api.svc.TeacherEarnings(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "summing teacher earnings")
	}
	return ctx.JSON(http.StatusOK, earnings)
}

func (api *paymentApi) reconcile(ctx echo.Context) error {
	report, err := api.svc.Reconcile(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "reconciling payments")
	}
	return ctx.JSON(http.StatusOK, report)
}
