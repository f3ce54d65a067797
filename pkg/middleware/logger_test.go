package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/reqcontext"
)

func TestLoggerTagsRequestWithParty(t *testing.T) {
	var logged int64
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {
		atomic.AddInt64(&logged, 1)
	})

	e := echo.New()
	e.Use(Context())
	e.Use(Logger(logger))

	var seenParty string
	e.GET("/engagements", func(c echo.Context) error {
		seenParty = reqcontext.GetPartyID(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/engagements", nil)
	req.Header.Set(HeaderPartyID, "party-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "party-123", seenParty)
	assert.Equal(t, int64(1), atomic.LoadInt64(&logged))
}
