package engagement

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reqcontext"
	"github.com/Ramsey-B/fern/pkg/utils"
)

type assignProviderRequest struct {
	ProviderID string `json:"provider_id" validate:"required"`
}

type progressRequest struct {
	Progress int `json:"progress" validate:"gte=0,lte=100"`
}

// Register registers engagement lifecycle routes
func Register(g *echo.Group) {
	g.POST("", CreateEngagement)
	g.GET("", ListEngagements)
	g.GET("/:id", GetEngagement)
	g.POST("/:id/provider", AssignProvider)
	g.POST("/:id/execution", BeginExecution)
	g.PUT("/:id/progress", SetProgress)
}

// CreateEngagement opens a new engagement for the calling party
func CreateEngagement(c echo.Context) error {
	ctx := c.Request().Context()
	partyID := reqcontext.GetPartyID(ctx)

	req, err := utils.BindRequest[models.CreateEngagementRequest](c)
	if err != nil {
		return err
	}

	ctx, controller, err := ectoinject.GetContext[*lifecycle.Controller](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	engagement, err := controller.Create(ctx, partyID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, engagement)
}

// ListEngagements lists the calling party's engagements
func ListEngagements(c echo.Context) error {
	ctx := c.Request().Context()
	partyID := reqcontext.GetPartyID(ctx)

	var status *models.EngagementStatus
	if s := c.QueryParam("status"); s != "" {
		v := models.EngagementStatus(s)
		status = &v
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	ctx, repo, err := ectoinject.GetContext[repositories.EngagementRepo](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, total, err := repo.List(ctx, partyID, status, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.EngagementListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// GetEngagement retrieves one engagement by ID
func GetEngagement(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, repo, err := ectoinject.GetContext[repositories.EngagementRepo](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	engagement, err := repo.GetByID(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, engagement)
}

// AssignProvider assigns a provider to a pending engagement
func AssignProvider(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[assignProviderRequest](c)
	if err != nil {
		return err
	}

	ctx, controller, err := ectoinject.GetContext[*lifecycle.Controller](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	engagement, err := controller.AssignProvider(ctx, c.Param("id"), req.ProviderID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, engagement)
}

// BeginExecution starts execution of an agreed engagement
func BeginExecution(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, controller, err := ectoinject.GetContext[*lifecycle.Controller](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	engagement, err := controller.BeginExecution(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, engagement)
}

// SetProgress updates execution progress of an in-progress engagement
func SetProgress(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[progressRequest](c)
	if err != nil {
		return err
	}

	ctx, controller, err := ectoinject.GetContext[*lifecycle.Controller](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	engagement, err := controller.SetProgress(ctx, c.Param("id"), req.Progress)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, engagement)
}
