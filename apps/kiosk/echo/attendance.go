package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/checkin/core/attendance"
)

type attendanceApi struct {
	svc Attendance
}

func registerAttendanceAPI(g *echo.Group, authed echo.MiddlewareFunc, svc Attendance) {
	api := attendanceApi{svc: svc}

	ag := g.Group("/attendance", authed)
	ag.GET("", api.query)
	ag.GET("/stats", api.stats)
}

func (api *attendanceApi) query(ctx echo.Context) error {
	filter := attendance.Filter{
		From: ctx.QueryParam("from"),
		To:   ctx.QueryParam("to"),
		Roll: ctx.QueryParam("roll"),
	}
	records, err := api.svc.Records(ctx.Request().Context(), filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *attendanceApi) stats(ctx echo.Context) error {
	stats, err := api.svc.Stats(ctx.Request().Context(), ctx.QueryParam("roll"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, stats)
}
