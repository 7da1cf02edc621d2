package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/user"
)

// roleMiddleware lets through principals holding any of roles.
// The services check roles again; this only keeps obviously wrong callers away from them.
func roleMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := getContextPrincipal(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context principal")
			}
			if user.RequireRole(p, roles...) != nil {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(user.RoleAdmin)
}

func studentMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(user.RoleStudent)
}
