package echoapi

import (
	"io/ioutil"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/checkin/core/auth"
)

const maxProfileImageSize = 5 << 20

type profileApi struct {
	svc *auth.Service
}

func registerProfileAPI(g *echo.Group, authed echo.MiddlewareFunc, svc *auth.Service) {
	api := profileApi{svc: svc}

	pg := g.Group("/profile/:id", authed, ownerOrTeacherMiddleware)
	pg.GET("/image", api.image)
	pg.PUT("/image", api.setImage)
}

// ownerOrTeacherMiddleware lets users reach their own profile; teachers reach every profile.
func ownerOrTeacherMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		usr, err := getContextUser(ctx)
		if err != nil {
			return err
		}
		if usr.ID != ctx.Param("id") && !usr.IsTeacher() {
			return errHttpForbidden
		}
		return next(ctx)
	}
}

func (api *profileApi) image(ctx echo.Context) error {
	data, err := api.svc.ProfileImage(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.Blob(http.StatusOK, http.DetectContentType(data), data)
}

func (api *profileApi) setImage(ctx echo.Context) error {
	body := http.MaxBytesReader(ctx.Response(), ctx.Request().Body, maxProfileImageSize)
	data, err := ioutil.ReadAll(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
	}
	if err := api.svc.SetProfileImage(ctx.Request().Context(), ctx.Param("id"), data); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
