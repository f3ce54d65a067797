package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/reqcontext"
)

const (
	// HeaderPartyID is the header carrying the caller's resolved party id
	HeaderPartyID = "X-Party-ID"
)

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			// get request id from header
			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			// party id is resolved by the identity provider upstream
			partyID := req.Header.Get(HeaderPartyID)

			ctx := req.Context()
			ctx = reqcontext.SetRequestID(ctx, requestID)
			ctx = reqcontext.SetMethod(ctx, req.Method)
			ctx = reqcontext.SetRoute(ctx, req.URL.Path)
			ctx = reqcontext.SetRemoteIP(ctx, c.RealIP())
			ctx = reqcontext.SetPartyID(ctx, partyID)

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
