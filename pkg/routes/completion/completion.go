package completion

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/completion"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reqcontext"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// Register registers completion handshake routes on the engagements group
// and resolution routes on the completions group
func Register(engagements *echo.Group, completions *echo.Group) {
	engagements.POST("/:id/completions", SubmitCompletion)
	engagements.GET("/:id/completions", ListCompletions)
	completions.POST("/:id/resolution", ResolveCompletion)
}

// SubmitCompletion submits the engagement's work for completion review
func SubmitCompletion(c echo.Context) error {
	ctx := c.Request().Context()
	partyID := reqcontext.GetPartyID(ctx)

	req, err := utils.BindRequest[models.SubmitCompletionRequest](c)
	if err != nil {
		return err
	}

	ctx, service, err := ectoinject.GetContext[*completion.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := service.Submit(ctx, c.Param("id"), partyID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, result)
}

// ListCompletions returns the engagement's review cycles
func ListCompletions(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, service, err := ectoinject.GetContext[*completion.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	completions, err := service.ListByEngagement(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, completions)
}

// ResolveCompletion records the counterparty's decision on a pending review
func ResolveCompletion(c echo.Context) error {
	ctx := c.Request().Context()
	partyID := reqcontext.GetPartyID(ctx)

	req, err := utils.BindRequest[models.ResolveCompletionRequest](c)
	if err != nil {
		return err
	}

	ctx, service, err := ectoinject.GetContext[*completion.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := service.Resolve(ctx, c.Param("id"), partyID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}
