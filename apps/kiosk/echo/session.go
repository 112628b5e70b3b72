package echoapi

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core"
	"github.com/trezcool/checkin/core/attendance"
	"github.com/trezcool/checkin/core/checkin"
	"github.com/trezcool/checkin/core/detection"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

type sessionApi struct {
	kiosk    Kiosk
	overlay  *detection.RasterOverlay
	upgrader websocket.Upgrader
	logger   core.Logger
}

func registerSessionAPI(g *echo.Group, kiosk Kiosk, overlay *detection.RasterOverlay, origins []string, logger core.Logger) {
	api := sessionApi{
		kiosk:    kiosk,
		overlay:  overlay,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin(origins)},
		logger:   logger,
	}

	sg := g.Group("/session")
	sg.GET("", api.retrieve)
	sg.POST("/start", api.start)
	sg.POST("/stop", api.stop)
	sg.POST("/capture", api.capture)
	sg.POST("/retake", api.retake)
	sg.POST("/submit", api.submit)
	sg.GET("/artifact", api.artifact)
	sg.GET("/overlay", api.renderOverlay)
	sg.GET("/events", api.events)
}

// checkOrigin accepts same-origin requests, requests without an Origin and the listed origins.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// Handlers

func (api *sessionApi) retrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.kiosk.Snapshot())
}

func (api *sessionApi) start(ctx echo.Context) error {
	var data attendance.Identity
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Identity")
	}
	if err := api.kiosk.Start(ctx.Request().Context(), data); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, api.kiosk.Snapshot())
}

func (api *sessionApi) stop(ctx echo.Context) error {
	api.kiosk.Stop()
	return ctx.JSON(http.StatusOK, api.kiosk.Snapshot())
}

func (api *sessionApi) capture(ctx echo.Context) error {
	art, err := api.kiosk.CaptureNow()
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, art)
}

func (api *sessionApi) retake(ctx echo.Context) error {
	if err := api.kiosk.Retake(ctx.Request().Context()); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, api.kiosk.Snapshot())
}

func (api *sessionApi) submit(ctx echo.Context) error {
	out, err := api.kiosk.Submit(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(outcomeStatus(out.Kind), out)
}

func outcomeStatus(kind attendance.Kind) int {
	switch kind {
	case attendance.Success:
		return http.StatusOK
	case attendance.AlreadyMarked:
		return http.StatusConflict
	case attendance.Invalid:
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func (api *sessionApi) artifact(ctx echo.Context) error {
	art, ok := api.kiosk.Artifact()
	if !ok {
		return errHttpNotFound
	}
	ctx.Response().Header().Set("X-Artifact-Id", art.ID)
	return ctx.Blob(http.StatusOK, art.ContentType, art.Data)
}

func (api *sessionApi) renderOverlay(ctx echo.Context) error {
	if api.overlay == nil || api.overlay.Bounds().Empty() {
		return errHttpNotFound
	}
	ctx.Response().Header().Set(echo.HeaderContentType, "image/png")
	ctx.Response().WriteHeader(http.StatusOK)
	return errors.Wrap(api.overlay.EncodePNG(ctx.Response()), "encoding overlay")
}

// events streams a snapshot of the session on every change, starting with the current one.
func (api *sessionApi) events(ctx echo.Context) error {
	conn, err := api.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader already answered
		api.logger.Warn("upgrading to websocket", err)
		return nil
	}
	defer conn.Close()

	snaps, cancel := api.kiosk.Subscribe()
	defer cancel()

	// the client never talks; reading only notices when it leaves
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeSnapshot(conn, api.kiosk.Snapshot()); err != nil {
		return nil
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return nil
			}
			if err := writeSnapshot(conn, snap); err != nil {
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		case <-gone:
			return nil
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap checkin.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap)
}
