package middleware

import (
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/reqcontext"
)

// Logger logs one line per request, tagged with the request id and the
// negotiating party resolved by the Context middleware.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}

			stop := time.Now()
			ctx := c.Request().Context()

			id := reqcontext.GetRequestID(ctx)
			if id == "" {
				id = req.Header.Get(echo.HeaderXRequestID)
				if id == "" {
					id = uuid.New().String()
				}
			}

			fields := map[string]interface{}{
				"request_id":    id,
				"method":        req.Method,
				"uri":           req.RequestURI,
				"status":        res.Status,
				"route":         c.Path(),
				"remote_ip":     c.RealIP(),
				"protocol":      req.Proto,
				"host":          req.Host,
				"user_agent":    req.UserAgent(),
				"start_time":    start,
				"stop_time":     stop,
				"response_time": stop.Sub(start),
				"request_size":  req.Header.Get(echo.HeaderContentLength),
				"response_size": strconv.FormatInt(res.Size, 10),
			}
			if partyID := reqcontext.GetPartyID(ctx); partyID != "" {
				fields["party_id"] = partyID
			}

			logger.WithContext(ctx).WithFields(fields).Info("Request")

			return nil
		}
	}
}
