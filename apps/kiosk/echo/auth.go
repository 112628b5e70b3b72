package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core/auth"
)

const contextUserKey = "user"

type authApi struct {
	svc *auth.Service
}

func registerAuthAPI(g *echo.Group, authed echo.MiddlewareFunc, svc *auth.Service) {
	api := authApi{svc: svc}

	ag := g.Group("/auth")
	ag.POST("/login", api.login)
	ag.POST("/register", api.register)
	ag.POST("/logout", api.logout)
	ag.GET("/me", api.me, authed)
}

// authMiddleware rejects requests while nobody is signed in on the kiosk.
func authMiddleware(svc *auth.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := svc.CurrentUser(ctx.Request().Context())
			if err != nil {
				return err
			}
			ctx.Set(contextUserKey, usr)
			return next(ctx)
		}
	}
}

func teacherMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if usr, err := getContextUser(ctx); err != nil || !usr.IsTeacher() {
			return errHttpForbidden
		}
		return next(ctx)
	}
}

func getContextUser(ctx echo.Context) (auth.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(auth.User); ok {
		return usr, nil
	}
	return auth.User{}, auth.ErrNotAuthenticated
}

// Handlers

func (api *authApi) login(ctx echo.Context) error {
	var data auth.Credentials
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Credentials")
	}
	usr, err := api.svc.Login(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *authApi) register(ctx echo.Context) error {
	var data auth.Registration
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Registration")
	}
	usr, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *authApi) logout(ctx echo.Context) error {
	if err := api.svc.Logout(ctx.Request().Context()); err != nil {
		return errors.Wrap(err, "logging out")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *authApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}
