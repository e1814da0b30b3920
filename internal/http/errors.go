package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fleetd/internal/fleet"
	"github.com/fyrsmithlabs/fleetd/internal/logging"
	"github.com/fyrsmithlabs/fleetd/internal/orchestrator"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

// KindNotFound is reported for unknown threads and vehicles.
const KindNotFound = "not_found"

// apiError is an error with a fixed status and kind.
type apiError struct {
	status  int
	kind    string
	message string
}

func (e *apiError) Error() string {
	return e.message
}

func newAPIError(status int, kind, message string) error {
	return &apiError{status: status, kind: kind, message: message}
}

// statusForKind maps an error kind to its HTTP status.
func statusForKind(kind string) int {
	switch kind {
	case orchestrator.KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case orchestrator.KindWorkerUnavailable, orchestrator.KindCanceled:
		return http.StatusServiceUnavailable
	case orchestrator.KindMalformedOutput:
		return http.StatusBadGateway
	case orchestrator.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// classify returns the status, kind and message reported for err.
func classify(err error) (int, string, string) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.status, apiErr.kind, apiErr.message
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		kind := orchestrator.KindInternal
		switch {
		case he.Code == http.StatusNotFound:
			kind = KindNotFound
		case he.Code < http.StatusInternalServerError:
			kind = orchestrator.KindInvalidInput
		}
		return he.Code, kind, msg
	}
	if errors.Is(err, transcript.ErrNotFound) || errors.Is(err, fleet.ErrVehicleNotFound) {
		return http.StatusNotFound, KindNotFound, err.Error()
	}
	kind := orchestrator.ErrorKind(err)
	return statusForKind(kind), kind, err.Error()
}

// errorHandler renders errors as {"error": kind, "message": text}.
func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, kind, msg := classify(err)
		ctx := c.Request().Context()
		if status >= http.StatusInternalServerError {
			logger.Error(ctx, "request failed", zap.String("kind", kind), zap.Error(err))
		} else {
			logger.Debug(ctx, "request rejected", zap.String("kind", kind), zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, ErrorResponse{Error: kind, Message: msg})
		}
		if err != nil {
			logger.Warn(ctx, "failed to write error response", zap.Error(err))
		}
	}
}
