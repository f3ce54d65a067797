package proposalcard

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

var cardColumns = []string{
	"id", "engagement_id", "sequence", "submitted_by", "responds_to",
	"title", "description", "budget_min", "budget_max", "budget_currency",
	"timeline", "notes", "attachments", "status", "locked",
	"created_at", "responded_at",
}

var responseColumns = []string{
	"id", "card_id", "party_id", "response_type", "created_at",
}

const pgUniqueViolation = "23505"

// Repository handles proposal card and response persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new proposal card repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new proposal card. The unique constraints on
// (engagement_id, sequence) and the single open head back the engine's
// chain invariants; a violation surfaces as the matching conflict fault.
func (r *Repository) Create(ctx context.Context, card *models.ProposalCard) error {
	ctx, span := tracing.StartSpan(ctx, "proposalcard.Repository.Create")
	defer span.End()

	if card.ID == "" {
		card.ID = uuid.New().String()
	}
	card.CreatedAt = time.Now().UTC()
	if card.Status == "" {
		card.Status = models.ProposalCardStatusSubmitted
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("proposal_cards")
	sb.Cols(cardColumns...)
	sb.Values(
		card.ID, card.EngagementID, card.Sequence, card.SubmittedBy, card.RespondsTo,
		card.Title, card.Description, card.BudgetMin, card.BudgetMax, card.BudgetCurrency,
		card.Timeline, card.Notes, card.Attachments, card.Status, card.Locked,
		card.CreatedAt, card.RespondedAt,
	)

	query, args := sb.Build()
	if _, err := database.From(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			switch pqErr.Constraint {
			case "uq_cards_open_head":
				return faults.New(faults.CodeDuplicateOpenCard, "engagement already has an open card")
			case "uq_cards_counter":
				return faults.New(faults.CodeStaleHead, "card already has a counter")
			default:
				return faults.New(faults.CodeStaleHead, "card sequence already taken")
			}
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"card_id": card.ID}).Error("Failed to create proposal card")
		return faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to create proposal card", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"card_id":       card.ID,
		"engagement_id": card.EngagementID,
		"sequence":      card.Sequence,
	}).Info("Created proposal card")
	return nil
}

// GetByID retrieves a proposal card by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.ProposalCard, error) {
	ctx, span := tracing.StartSpan(ctx, "proposalcard.Repository.GetByID")
	defer span.End()

	return r.get(ctx, id, false)
}

// GetByIDForUpdate retrieves a card and locks its row, serializing
// concurrent responses against the same card
func (r *Repository) GetByIDForUpdate(ctx context.Context, id string) (*models.ProposalCard, error) {
	ctx, span := tracing.StartSpan(ctx, "proposalcard.Repository.GetByIDForUpdate")
	defer span.End()

	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, forUpdate bool) (*models.ProposalCard, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(cardColumns...)
	sb.From("proposal_cards")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if forUpdate {
		query += " FOR UPDATE"
	}

	var card models.ProposalCard
	if err := database.From(ctx, r.db).GetContext(ctx, &card, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, faults.New(faults.CodeNotFound, fmt.Sprintf("proposal card %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get proposal card")
		return nil, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to get proposal card", err)
	}

	return &card, nil
}

// CurrentHead returns the engagement's single submitted card, or nil when
// the chain has no open head
func (r *Repository) CurrentHead(ctx context.Context, engagementID string) (*models.ProposalCard, error) {
	ctx, span := tracing.StartSpan(ctx, "proposalcard.Repository.CurrentHead")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(cardColumns...)
	sb.From("proposal_cards")
	sb.Where(
		sb.Equal("engagement_id", engagementID),
		sb.Equal("status", models.ProposalCardStatusSubmitted),
	)

	query, args := sb.Build()
	var card models.ProposalCard
	if err := database.From(ctx, r.db).GetContext(ctx, &card, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get chain head")
		return nil, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to get chain head", err)
	}

	return &card, nil
}

// ListByEngagement returns the full card chain in sequence order
func (r *Repository) ListByEngagement(ctx context.Context, engagementID string) ([]models.ProposalCard, error) {
	ctx, span := tracing.StartSpan(ctx, "proposalcard.Repository.ListByEngagement")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(cardColumns...)
	sb.From("proposal_cards")
	sb.Where(sb.Equal("engagement_id", engagementID))
	sb.OrderBy("sequence ASC")

	query, args := sb.Build()
	var cards []models.ProposalCard
	if err := database.From(ctx, r.db).SelectContext(ctx, &cards, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list proposal cards")
		return nil, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to list proposal cards", err)
	}

	return cards, nil
}

// MaxSequence returns the highest sequence number on the engagement, or 0
func (r *Repository) MaxSequence(ctx context.Context, engagementID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "proposalcard.Repository.MaxSequence")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COALESCE(MAX(sequence), 0)")
	sb.From("proposal_cards")
	sb.Where(sb.Equal("engagement_id", engagementID))

	query, args := sb.Build()
	var maxSeq int
	if err := database.From(ctx, r.db).GetContext(ctx, &maxSeq, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get max sequence")
		return 0, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to get max sequence", err)
	}

	return maxSeq, nil
}

// HasAgreement reports whether any card of the engagement reached agreement
func (r *Repository) HasAgreement(ctx context.Context, engagementID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "proposalcard.Repository.HasAgreement")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("proposal_cards")
	sb.Where(
		sb.Equal("engagement_id", engagementID),
		sb.Equal("status", models.ProposalCardStatusAgreement),
	)

	query, args := sb.Build()
	var count int
	if err := database.From(ctx, r.db).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check for agreement")
		return false, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to check for agreement", err)
	}

	return count > 0, nil
}

// Transition is the card compare-and-set: the status moves from `from` to
// `to` iff the card is still in `from`. A false return means the guard
// missed because another actor already transitioned the card.
func (r *Repository) Transition(ctx context.Context, cardID string, from, to models.ProposalCardStatus, locked bool) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "proposalcard.Repository.Transition")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("proposal_cards")
	assigns := []string{
		sb.Assign("status", to),
		sb.Assign("locked", locked),
	}
	if to.IsTerminal() {
		assigns = append(assigns, sb.Assign("responded_at", now))
	}
	sb.Set(assigns...)
	sb.Where(
		sb.Equal("id", cardID),
		sb.Equal("status", from),
	)

	query, args := sb.Build()
	result, err := database.From(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to transition proposal card")
		return false, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to transition proposal card", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"card_id": cardID,
			"status":  to,
		}).Info("Proposal card transitioned")
	}
	return rows > 0, nil
}

// InsertResponse records a party's immutable response to a card. The unique
// (card_id, party_id) constraint is the idempotency boundary for
// duplicate-click races.
func (r *Repository) InsertResponse(ctx context.Context, response *models.ProposalCardResponse) error {
	ctx, span := tracing.StartSpan(ctx, "proposalcard.Repository.InsertResponse")
	defer span.End()

	if response.ID == "" {
		response.ID = uuid.New().String()
	}
	response.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("proposal_card_responses")
	sb.Cols(responseColumns...)
	sb.Values(response.ID, response.CardID, response.PartyID, response.ResponseType, response.CreatedAt)

	query, args := sb.Build()
	if _, err := database.From(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return faults.New(faults.CodeDuplicateResponse, "party already responded to this card")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert card response")
		return faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to insert card response", err)
	}

	return nil
}

// ListResponses returns all responses recorded against a card
func (r *Repository) ListResponses(ctx context.Context, cardID string) ([]models.ProposalCardResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "proposalcard.Repository.ListResponses")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(responseColumns...)
	sb.From("proposal_card_responses")
	sb.Where(sb.Equal("card_id", cardID))
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var responses []models.ProposalCardResponse
	if err := database.From(ctx, r.db).SelectContext(ctx, &responses, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list card responses")
		return nil, faults.Wrap(faults.CodeCollaboratorUnavailable, "failed to list card responses", err)
	}

	return responses, nil
}
