// Package echoapi is the kiosk's local control surface: the camera session,
// its live events, and the dashboard operations proxied to the backend.
package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/checkin/core"
	"github.com/trezcool/checkin/core/attendance"
	"github.com/trezcool/checkin/core/auth"
	"github.com/trezcool/checkin/core/capture"
	"github.com/trezcool/checkin/core/checkin"
	"github.com/trezcool/checkin/core/detection"
	"github.com/trezcool/checkin/core/student"
)

type (
	// Kiosk is the camera session driven by the API.
	Kiosk interface {
		Start(ctx context.Context, id attendance.Identity) error
		Stop()
		CaptureNow() (capture.Artifact, error)
		Retake(ctx context.Context) error
		Submit(ctx context.Context) (attendance.Outcome, error)
		Artifact() (capture.Artifact, bool)
		Snapshot() checkin.Snapshot
		Subscribe() (<-chan checkin.Snapshot, func())
	}

	Attendance interface {
		Records(ctx context.Context, f attendance.Filter) ([]attendance.Record, error)
		Stats(ctx context.Context, roll string) (attendance.Stats, error)
	}

	Options struct {
		Address        string
		Debug          bool
		TestMode       bool
		DisableReqLogs bool
		// AllowedOrigins may open the event stream besides the kiosk's own origin.
		AllowedOrigins []string

		Logger     core.Logger
		Session    Kiosk
		Attendance Attendance
		AuthSvc    *auth.Service
		StudentSvc *student.Service
		Overlay    *detection.RasterOverlay
		Validate   *validator.Validate
		Translator ut.Translator
	}

	Server interface {
		http.Handler
		Start()
		Stop(context.Context) error
		Errors() <-chan error
		ShutdownSignal() <-chan os.Signal
	}

	server struct {
		opts     *Options
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts:     opts,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.HideBanner = true
	s.app.Logger.SetLevel(log.INFO)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.opts.Debug || s.opts.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	if len(s.opts.AllowedOrigins) > 0 {
		s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: s.opts.AllowedOrigins}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.signalShutdown)
	s.app.Debug = s.opts.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	authed := authMiddleware(s.opts.AuthSvc)

	registerSessionAPI(v1, s.opts.Session, s.opts.Overlay, s.opts.AllowedOrigins, s.opts.Logger)
	registerAuthAPI(v1, authed, s.opts.AuthSvc)
	registerAttendanceAPI(v1, authed, s.opts.Attendance)
	registerStudentAPI(v1, authed, s.opts.StudentSvc)
	registerProfileAPI(v1, authed, s.opts.AuthSvc)
}

func (s *server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.opts.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *server) Stop(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *server) Errors() <-chan error {
	return s.errors
}

func (s *server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"message": "Smart Attendance kiosk", "status": "running"})
}
