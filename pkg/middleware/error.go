package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/faults"
	"github.com/Ramsey-B/fern/pkg/reqcontext"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		logger.WithContext(ctx).WithError(err).Error("api is returning an error")
		// Check if the response is already committed
		if c.Response().Committed {
			return
		}

		// Default response
		code := http.StatusInternalServerError
		message := "Internal Server Error"
		meta := map[string]any{}

		// Handle specific Echo errors
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			}
		}

		// Domain faults carry their taxonomy code into meta
		var fault *faults.Fault
		if errors.As(err, &fault) {
			err = fault.ToHTTPError()
		}

		if ok := httperror.IsHTTPError(err); ok {
			httperr := httperror.ToHTTPError(err)
			code = httperror.GetStatusCode(err)
			message = httperr.Error()
			meta = httperr.Meta
		}

		requestID := reqcontext.GetRequestID(ctx)
		traceID := tracing.GetTraceID(ctx)

		// Return a JSON response
		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: requestID,
			TraceID:   traceID,
			Meta:      meta,
		})
	}
}
