// Package repositories defines the persistence interfaces consumed by the
// negotiation engine, the lifecycle controller and the completion handshake.
// The Postgres implementations live in the subpackages; an in-memory
// implementation for tests lives in internal/memstore.
package repositories

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/models"
)

// TxRunner runs a function inside a single atomic scope. All repository
// calls made with the derived context observe and join the same
// transaction; on error nothing is persisted.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EngagementRepo persists engagements. Status and progress are written only
// through the guarded transition methods; a false return means the guard
// did not match (the caller decides whether that is a conflict or a no-op).
type EngagementRepo interface {
	Create(ctx context.Context, engagement *models.Engagement) error
	GetByID(ctx context.Context, id string) (*models.Engagement, error)
	// GetByIDForUpdate locks the engagement row for the current transaction,
	// serializing all chain mutations of one engagement.
	GetByIDForUpdate(ctx context.Context, id string) (*models.Engagement, error)
	List(ctx context.Context, partyID string, status *models.EngagementStatus, page, pageSize int) ([]models.Engagement, int, error)
	AssignProvider(ctx context.Context, id string, providerID string) (bool, error)
	TransitionStatus(ctx context.Context, id string, from []models.EngagementStatus, to models.EngagementStatus) (bool, error)
	SetAgreedTerms(ctx context.Context, id string, terms models.Terms) error
	SetProgress(ctx context.Context, id string, progress int) (bool, error)
}

// ProposalCardRepo persists proposal cards and their responses
type ProposalCardRepo interface {
	Create(ctx context.Context, card *models.ProposalCard) error
	GetByID(ctx context.Context, id string) (*models.ProposalCard, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.ProposalCard, error)
	// CurrentHead returns the engagement's single submitted card, or nil
	// when the chain has no open head.
	CurrentHead(ctx context.Context, engagementID string) (*models.ProposalCard, error)
	ListByEngagement(ctx context.Context, engagementID string) ([]models.ProposalCard, error)
	MaxSequence(ctx context.Context, engagementID string) (int, error)
	HasAgreement(ctx context.Context, engagementID string) (bool, error)
	// Transition is the compare-and-set primitive: the card moves from
	// `from` to `to` iff it is still in `from`. Returns false when the
	// guard missed, meaning someone else already moved the card.
	Transition(ctx context.Context, cardID string, from, to models.ProposalCardStatus, locked bool) (bool, error)
	InsertResponse(ctx context.Context, response *models.ProposalCardResponse) error
	ListResponses(ctx context.Context, cardID string) ([]models.ProposalCardResponse, error)
}

// CompletionRepo persists project completions
type CompletionRepo interface {
	Create(ctx context.Context, completion *models.ProjectCompletion) error
	GetByID(ctx context.Context, id string) (*models.ProjectCompletion, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.ProjectCompletion, error)
	HasPending(ctx context.Context, engagementID string) (bool, error)
	ListByEngagement(ctx context.Context, engagementID string) ([]models.ProjectCompletion, error)
	// Resolve moves a pending completion to its decision; false when the
	// completion was already resolved.
	Resolve(ctx context.Context, id string, decision models.CompletionResolution, notes *string, resolvedBy string) (bool, error)
}
