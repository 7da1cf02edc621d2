package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/access"
	"github.com/trezcool/darasa/core/enrollment"
)

type enrollmentApi struct {
	svc       *enrollment.Service
	accessSvc *access.Service
	validate  *validator.Validate
}

func registerEnrollmentAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *enrollment.Service,
	accessSvc *access.Service,
	validate *validator.Validate,
) {
	api := enrollmentApi{
		svc:       svc,
		accessSvc: accessSvc,
		validate:  validate,
	}

	eg := g.Group("/enrollments", jwt)
	eg.POST("", api.enroll, studentMiddleware())
	eg.GET("", api.query, studentMiddleware())
	eg.GET("/:id", api.retrieve)
	eg.POST("/:id/cancel", api.cancel, studentMiddleware())
	eg.POST("/:id/unlock", api.unlock, adminMiddleware())

	lg := g.Group("/lessons", jwt, studentMiddleware())
	lg.GET("/:id/access", api.checkLessonAccess)
	lg.GET("/:id/progress", api.retrieveProgress)
	lg.PUT("/:id/progress", api.updateProgress)
}

// Handlers

func (api *enrollmentApi) enroll(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	var data EnrollRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	enrl, err := api.svc.Enroll(ctx.Request().Context(), p, data.ClassID)
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	return ctx.JSON(http.StatusCreated, enrl)
}

func (api *enrollmentApi) query(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	enrls, err := api.svc.ListForStudent(ctx.Request().Context(), p, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrls == nil {
		enrls = []enrollment.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrls)
}

func (api *enrollmentApi) retrieve(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	enrl, err := api.svc.Get(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "retrieving enrollment")
	}
	return ctx.JSON(http.StatusOK, enrl)
}

func (api *enrollmentApi) cancel(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	var data CancelRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CancelRequest")
	}
	data.Clean()
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	enrl, err := api.svc.Cancel(ctx.Request().Context(), p, ctx.Param("id"), data.Reason)
	if err != nil {
		return errors.Wrap(err, "cancelling enrollment")
	}
	return ctx.JSON(http.StatusOK, enrl)
}

func (api *enrollmentApi) unlock(ctx echo.Context) error {
	var data UnlockRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UnlockRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	enrl, err := api.svc.UnlockMonth(ctx.Request().Context(), ctx.Param("id"), data.Month)
	if err != nil {
		return errors.Wrap(err, "unlocking month")
	}
	return ctx.JSON(http.StatusOK, enrl)
}

func (api *enrollmentApi) checkLessonAccess(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	la, err := api.accessSvc.CheckLessonAccess(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "checking lesson access")
	}
	return ctx.JSON(http.StatusOK, la)
}

func (api *enrollmentApi) retrieveProgress(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	lp, err := api.svc.GetLessonProgress(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "retrieving lesson progress")
	}
	return ctx.JSON(http.StatusOK, lp)
}

func (api *enrollmentApi) updateProgress(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	var data enrollment.ProgressUpdate
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ProgressUpdate")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	lp, err := api.svc.UpdateProgress(ctx.Request().Context(), p, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating lesson progress")
	}
	return ctx.JSON(http.StatusOK, lp)
}
