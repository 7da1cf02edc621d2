package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/access"
	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/core/user"
)

type catalogApi struct {
	svc       *catalog.Service
	accessSvc *access.Service
	enrlSvc   *enrollment.Service
	validate  *validator.Validate
}

func registerCatalogAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *catalog.Service,
	accessSvc *access.Service,
	enrlSvc *enrollment.Service,
	validate *validator.Validate,
) {
	api := catalogApi{
		svc:       svc,
		accessSvc: accessSvc,
		enrlSvc:   enrlSvc,
		validate:  validate,
	}
	authors := roleMiddleware(user.RoleTeacher, user.RoleAdmin)

	cg := g.Group("/classes", jwt)
	cg.POST("", api.createClass, authors)
	cg.GET("/:id", api.retrieveClass)
	cg.POST("/:id/lessons", api.createLesson, authors)

	// student endpoints
	cg.GET("/:id/lessons", api.listLessonAccess, studentMiddleware())
	cg.GET("/:id/months/:month/access", api.checkMonthAccess, studentMiddleware())
	cg.POST("/:id/lessons/:lesson_id/complete", api.completeLesson, studentMiddleware())
}

// Handlers

func (api *catalogApi) createClass(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	var data catalog.NewClass
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	// teachers only create their own classes
	if !p.IsAdmin() {
		data.TeacherID = p.ID
	}
	data.Clean()
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	cls, err := api.svc.CreateClass(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, cls)
}

func (api *catalogApi) retrieveClass(ctx echo.Context) error {
	cls, err := api.svc.GetClass(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding class by ID")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *catalogApi) createLesson(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	cls, err := api.svc.GetClass(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding class by ID")
	}
	if !(p.IsAdmin() || cls.TeacherID == p.ID) {
		return errHttpForbidden
	}

	var data catalog.NewLesson
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLesson")
	}
	data.ClassID = cls.ID
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	lsn, err := api.svc.CreateLesson(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating lesson")
	}
	return ctx.JSON(http.StatusCreated, lsn)
}

func (api *catalogApi) listLessonAccess(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	lessons, err := api.accessSvc.ListLessonAccess(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing lesson access")
	}
	if lessons == nil {
		lessons = []access.LessonAccess{}
	}
	return ctx.JSON(http.StatusOK, lessons)
}

func (api *catalogApi) checkMonthAccess(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	month, err := intParam(ctx, "month")
	if err != nil {
		return err
	}
	ma, err := api.accessSvc.CheckMonthAccess(ctx.Request().Context(), p, ctx.Param("id"), month)
	if err != nil {
		return errors.Wrap(err, "checking month access")
	}
	return ctx.JSON(http.StatusOK, ma)
}

func (api *catalogApi) completeLesson(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	enrl, err := api.enrlSvc.MarkLessonComplete(ctx.Request().Context(), p, ctx.Param("id"), ctx.Param("lesson_id"))
	if err != nil {
		return errors.Wrap(err, "marking lesson complete")
	}
	return ctx.JSON(http.StatusOK, enrl)
}
