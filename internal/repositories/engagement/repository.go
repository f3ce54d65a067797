package engagement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/faults"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{
	"id", "requester_id", "provider_id", "title", "description",
	"budget_min", "budget_max", "budget_currency", "timeline",
	"status", "progress", "created_at", "updated_at",
}

// Repository handles engagement persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new engagement repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new engagement
func (r *Repository) Create(ctx context.Context, engagement *models.Engagement) error {
	ctx, span := tracing.StartSpan(ctx, "engagement.Repository.Create")
	defer span.End()

	if engagement.ID == "" {
		engagement.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	engagement.CreatedAt = now
	engagement.UpdatedAt = now
	if engagement.Status == "" {
		engagement.Status = models.EngagementStatusPending
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("engagements")
	sb.Cols(columns...)
	sb.Values(
		engagement.ID, engagement.RequesterID, engagement.ProviderID, engagement.Title, engagement.Description,
		engagement.BudgetMin, engagement.BudgetMax, engagement.BudgetCurrency, engagement.Timeline,
		engagement.Status, engagement.Progress, engagement.CreatedAt, engagement.UpdatedAt,
	)

	query, args := sb.Build()
	if _, err := database.From(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create engagement")
		return faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to create engagement", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"engagement_id": engagement.ID}).Info("Created engagement")
	return nil
}

// GetByID retrieves an engagement by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Engagement, error) {
	ctx, span := tracing.StartSpan(ctx, "engagement.Repository.GetByID")
	defer span.End()

	return r.get(ctx, id, false)
}

// GetByIDForUpdate retrieves an engagement and locks its row for the
// duration of the surrounding transaction
func (r *Repository) GetByIDForUpdate(ctx context.Context, id string) (*models.Engagement, error) {
	ctx, span := tracing.StartSpan(ctx, "engagement.Repository.GetByIDForUpdate")
	defer span.End()

	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, forUpdate bool) (*models.Engagement, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("engagements")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if forUpdate {
		query += " FOR UPDATE"
	}

	var engagement models.Engagement
	if err := database.From(ctx, r.db).GetContext(ctx, &engagement, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, faults.New(faults.CodeNotFound, fmt.Sprintf("engagement %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get engagement")
		return nil, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to get engagement", err)
	}

	return &engagement, nil
}

// List retrieves engagements where partyID is requester or provider
func (r *Repository) List(ctx context.Context, partyID string, status *models.EngagementStatus, page, pageSize int) ([]models.Engagement, int, error) {
	ctx, span := tracing.StartSpan(ctx, "engagement.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("engagements")
	countWhere := []string{
		countSb.Or(countSb.Equal("requester_id", partyID), countSb.Equal("provider_id", partyID)),
	}
	if status != nil {
		countWhere = append(countWhere, countSb.Equal("status", *status))
	}
	countSb.Where(countWhere...)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := database.From(ctx, r.db).GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count engagements")
		return nil, 0, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to count engagements", err)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("engagements")
	where := []string{
		sb.Or(sb.Equal("requester_id", partyID), sb.Equal("provider_id", partyID)),
	}
	if status != nil {
		where = append(where, sb.Equal("status", *status))
	}
	sb.Where(where...)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var engagements []models.Engagement
	if err := database.From(ctx, r.db).SelectContext(ctx, &engagements, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list engagements")
		return nil, 0, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to list engagements", err)
	}

	return engagements, totalCount, nil
}

// AssignProvider sets the provider while the engagement is still pending and
// unassigned. Returns false when the guard missed.
func (r *Repository) AssignProvider(ctx context.Context, id string, providerID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "engagement.Repository.AssignProvider")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("engagements")
	sb.Set(
		sb.Assign("provider_id", providerID),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("status", models.EngagementStatusPending),
		sb.IsNull("provider_id"),
	)

	query, args := sb.Build()
	result, err := database.From(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to assign provider")
		return false, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to assign provider", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// TransitionStatus moves the engagement from one of the given statuses to
// the target status. The guarded UPDATE is the atomic check-and-set that
// keeps the lifecycle monotonic under concurrency.
func (r *Repository) TransitionStatus(ctx context.Context, id string, from []models.EngagementStatus, to models.EngagementStatus) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "engagement.Repository.TransitionStatus")
	defer span.End()

	fromValues := make([]any, 0, len(from))
	for _, s := range from {
		fromValues = append(fromValues, s)
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("engagements")
	sb.Set(
		sb.Assign("status", to),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.In("status", fromValues...),
	)

	query, args := sb.Build()
	result, err := database.From(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to transition engagement status")
		return false, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to transition engagement status", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"engagement_id": id,
			"status":        to,
		}).Info("Engagement status transitioned")
	}
	return rows > 0, nil
}

// SetAgreedTerms copies an accepted card's terms onto the engagement as its
// authoritative terms
func (r *Repository) SetAgreedTerms(ctx context.Context, id string, terms models.Terms) error {
	ctx, span := tracing.StartSpan(ctx, "engagement.Repository.SetAgreedTerms")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("engagements")
	sb.Set(
		sb.Assign("title", terms.Title),
		sb.Assign("description", terms.Description),
		sb.Assign("budget_min", terms.BudgetMin),
		sb.Assign("budget_max", terms.BudgetMax),
		sb.Assign("budget_currency", terms.BudgetCurrency),
		sb.Assign("timeline", terms.Timeline),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := database.From(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set agreed terms")
		return faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to set agreed terms", err)
	}

	return nil
}

// SetProgress updates execution progress while the engagement is in progress
func (r *Repository) SetProgress(ctx context.Context, id string, progress int) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "engagement.Repository.SetProgress")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("engagements")
	sb.Set(
		sb.Assign("progress", progress),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("status", models.EngagementStatusInProgress),
	)

	query, args := sb.Build()
	result, err := database.From(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set progress")
		return false, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to set progress", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
