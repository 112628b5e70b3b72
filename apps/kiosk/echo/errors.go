package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core"
	"github.com/trezcool/checkin/core/attendance"
	"github.com/trezcool/checkin/core/auth"
	"github.com/trezcool/checkin/core/camera"
	"github.com/trezcool/checkin/core/capture"
	"github.com/trezcool/checkin/core/checkin"
)

var (
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound  = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.ShutdownError is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, message := errorResponse(err, translator)

		if code == http.StatusInternalServerError {
			msg := http.StatusText(code)
			if usr, ok := ctx.Get(contextUserKey).(auth.User); ok {
				logger.Error(msg, errors.Wrap(err, msg), usr)
			} else {
				logger.Error(msg, errors.Wrap(err, msg))
			}

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = echo.Map{"error": err.Error()}
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead {
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

func errorResponse(err error, translator ut.Translator) (int, interface{}) {
	var aErr *camera.AcquisitionError
	if errors.As(err, &aErr) {
		return http.StatusConflict, echo.Map{"error": aErr.Error(), "category": aErr.Category}
	}

	switch origErr := errors.Cause(err).(type) {
	case *echo.HTTPError:
		if origErr.Internal != nil {
			if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
				origErr = herr
			}
		}
		return origErr.Code, origErr.Message
	case validator.ValidationErrors:
		return http.StatusBadRequest, core.TranslateFields(origErr, translator)
	case *core.ValidationError:
		if origErr.Fields != nil {
			fldErrs := make(map[string]string, len(origErr.Fields))
			for _, fErr := range origErr.Fields {
				fldErrs[fErr.Field] = fErr.Error
			}
			return http.StatusBadRequest, fldErrs
		}
		return http.StatusBadRequest, origErr.Error()
	case attendance.StatusError:
		// the backend's own answer
		if code := origErr.StatusCode(); code >= 400 && code < 500 {
			return code, origErr.Error()
		}
		return http.StatusBadGateway, origErr.Error()
	}

	switch cause := errors.Cause(err); cause {
	case auth.ErrNotAuthenticated, auth.ErrSessionExpired:
		return http.StatusUnauthorized, cause.Error()
	case core.ErrNotFound:
		return http.StatusNotFound, cause.Error()
	case camera.ErrNotSupported:
		return http.StatusNotImplemented, cause.Error()
	case camera.ErrAcquireInFlight, checkin.ErrClosed, checkin.ErrNotActive,
		checkin.ErrNoArtifact, checkin.ErrStopped, capture.ErrNoFrame:
		return http.StatusConflict, cause.Error()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}
