package completion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/faults"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{
	"id", "engagement_id", "submitted_by", "notes", "deliverables",
	"resolution", "resolution_notes", "resolved_by", "created_at", "resolved_at",
}

const pgUniqueViolation = "23505"

// Repository handles project completion persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new completion repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new pending completion. The partial unique index on
// pending completions turns a concurrent double-submit into a conflict.
func (r *Repository) Create(ctx context.Context, completion *models.ProjectCompletion) error {
	ctx, span := tracing.StartSpan(ctx, "completion.Repository.Create")
	defer span.End()

	if completion.ID == "" {
		completion.ID = uuid.New().String()
	}
	completion.CreatedAt = time.Now().UTC()
	if completion.Resolution == "" {
		completion.Resolution = models.CompletionResolutionPending
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("project_completions")
	sb.Cols(columns...)
	sb.Values(
		completion.ID, completion.EngagementID, completion.SubmittedBy, completion.Notes, completion.Deliverables,
		completion.Resolution, completion.ResolutionNotes, completion.ResolvedBy, completion.CreatedAt, completion.ResolvedAt,
	)

	query, args := sb.Build()
	if _, err := database.From(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return faults.New(faults.CodeAlreadyPendingReview, "engagement already has a completion pending review")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create completion")
		return faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to create completion", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"completion_id": completion.ID,
		"engagement_id": completion.EngagementID,
	}).Info("Created project completion")
	return nil
}

// GetByID retrieves a completion by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.ProjectCompletion, error) {
	ctx, span := tracing.StartSpan(ctx, "completion.Repository.GetByID")
	defer span.End()

	return r.get(ctx, id, false)
}

// GetByIDForUpdate retrieves a completion and locks its row
func (r *Repository) GetByIDForUpdate(ctx context.Context, id string) (*models.ProjectCompletion, error) {
	ctx, span := tracing.StartSpan(ctx, "completion.Repository.GetByIDForUpdate")
	defer span.End()

	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, forUpdate bool) (*models.ProjectCompletion, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("project_completions")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if forUpdate {
		query += " FOR UPDATE"
	}

	var completion models.ProjectCompletion
	if err := database.From(ctx, r.db).GetContext(ctx, &completion, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, faults.New(faults.CodeNotFound, fmt.Sprintf("completion %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get completion")
		return nil, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to get completion", err)
	}

	return &completion, nil
}

// HasPending reports whether the engagement has a completion awaiting review
func (r *Repository) HasPending(ctx context.Context, engagementID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "completion.Repository.HasPending")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("project_completions")
	sb.Where(
		sb.Equal("engagement_id", engagementID),
		sb.Equal("resolution", models.CompletionResolutionPending),
	)

	query, args := sb.Build()
	var count int
	if err := database.From(ctx, r.db).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check pending completion")
		return false, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to check pending completion", err)
	}

	return count > 0, nil
}

// ListByEngagement returns all completion cycles of the engagement
func (r *Repository) ListByEngagement(ctx context.Context, engagementID string) ([]models.ProjectCompletion, error) {
	ctx, span := tracing.StartSpan(ctx, "completion.Repository.ListByEngagement")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("project_completions")
	sb.Where(sb.Equal("engagement_id", engagementID))
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var completions []models.ProjectCompletion
	if err := database.From(ctx, r.db).SelectContext(ctx, &completions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list completions")
		return nil, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to list completions", err)
	}

	return completions, nil
}

// Resolve moves a pending completion to its decision. A false return means
// the completion was already resolved.
func (r *Repository) Resolve(ctx context.Context, id string, decision models.CompletionResolution, notes *string, resolvedBy string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "completion.Repository.Resolve")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("project_completions")
	sb.Set(
		sb.Assign("resolution", decision),
		sb.Assign("resolution_notes", notes),
		sb.Assign("resolved_by", resolvedBy),
		sb.Assign("resolved_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("resolution", models.CompletionResolutionPending),
	)

	query, args := sb.Build()
	result, err := database.From(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to resolve completion")
		return false, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to resolve completion", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"completion_id": id,
			"resolution":    decision,
		}).Info("Resolved project completion")
	}
	return rows > 0, nil
}
