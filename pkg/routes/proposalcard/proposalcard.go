package proposalcard

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/negotiation"
	"github.com/Ramsey-B/fern/pkg/reqcontext"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// Register registers card chain routes on the engagements group and
// response routes on the cards group
func Register(engagements *echo.Group, cards *echo.Group) {
	engagements.POST("/:id/cards", SubmitCard)
	engagements.GET("/:id/cards", ListCards)
	engagements.GET("/:id/cards/head", GetHead)
	cards.POST("/:id/responses", Respond)
	cards.GET("/:id/responses", ListResponses)
}

// SubmitCard submits a proposal card or a counter to the current head
func SubmitCard(c echo.Context) error {
	ctx := c.Request().Context()
	partyID := reqcontext.GetPartyID(ctx)

	req, err := utils.BindRequest[models.SubmitCardRequest](c)
	if err != nil {
		return err
	}

	ctx, engine, err := ectoinject.GetContext[*negotiation.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	card, err := engine.SubmitCard(ctx, c.Param("id"), partyID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, card)
}

// ListCards returns the engagement's full card chain in sequence order
func ListCards(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, engine, err := ectoinject.GetContext[*negotiation.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	cards, err := engine.History(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, cards)
}

// GetHead returns the engagement's open card, or 204 when the chain has no head
func GetHead(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, engine, err := ectoinject.GetContext[*negotiation.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	head, err := engine.CurrentHead(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if head == nil {
		return c.NoContent(http.StatusNoContent)
	}

	return c.JSON(http.StatusOK, head)
}

// Respond records the calling party's accept, reject or cancel against a card
func Respond(c echo.Context) error {
	ctx := c.Request().Context()
	partyID := reqcontext.GetPartyID(ctx)

	req, err := utils.BindRequest[models.RespondRequest](c)
	if err != nil {
		return err
	}

	ctx, engine, err := ectoinject.GetContext[*negotiation.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := engine.Respond(ctx, c.Param("id"), partyID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// ListResponses returns the responses recorded against a card
func ListResponses(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, engine, err := ectoinject.GetContext[*negotiation.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	responses, err := engine.ResponsesFor(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, responses)
}
