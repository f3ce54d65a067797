package models

import (
	"time"
)

// EngagementStatus is the coarse-grained lifecycle status of an engagement
type EngagementStatus string

const (
	EngagementStatusPending           EngagementStatus = "pending"
	EngagementStatusNegotiating       EngagementStatus = "negotiating"
	EngagementStatusAgreed            EngagementStatus = "agreed"
	EngagementStatusInProgress        EngagementStatus = "in_progress"
	EngagementStatusPendingCompletion EngagementStatus = "pending_completion"
	EngagementStatusCompleted         EngagementStatus = "completed"
	EngagementStatusDeclined          EngagementStatus = "declined"
)

// statusRank orders the forward-only lifecycle. Declined and completed are terminal.
var statusRank = map[EngagementStatus]int{
	EngagementStatusPending:           0,
	EngagementStatusNegotiating:       1,
	EngagementStatusAgreed:            2,
	EngagementStatusInProgress:        3,
	EngagementStatusPendingCompletion: 4,
	EngagementStatusCompleted:         5,
	EngagementStatusDeclined:          6,
}

// Rank returns the position of the status in the lifecycle ordering.
// Used to enforce that status never regresses.
func (s EngagementStatus) Rank() int {
	rank, ok := statusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// IsTerminal returns true if no further transitions are allowed from this status
func (s EngagementStatus) IsTerminal() bool {
	return s == EngagementStatusCompleted || s == EngagementStatusDeclined
}

// Terms is the negotiable term set of an engagement. Each field is optional
// on a proposal card; empty card fields inherit the engagement's current terms.
type Terms struct {
	Title          string   `json:"title" db:"title"`
	Description    *string  `json:"description,omitempty" db:"description"`
	BudgetMin      *float64 `json:"budget_min,omitempty" db:"budget_min"`
	BudgetMax      *float64 `json:"budget_max,omitempty" db:"budget_max"`
	BudgetCurrency *string  `json:"budget_currency,omitempty" db:"budget_currency"`
	Timeline       *string  `json:"timeline,omitempty" db:"timeline"`
}

// Engagement represents the contract-to-be between a requester and a provider
type Engagement struct {
	ID             string           `json:"id" db:"id"`
	RequesterID    string           `json:"requester_id" db:"requester_id"`
	ProviderID     *string          `json:"provider_id,omitempty" db:"provider_id"`
	Title          string           `json:"title" db:"title"`
	Description    *string          `json:"description,omitempty" db:"description"`
	BudgetMin      *float64         `json:"budget_min,omitempty" db:"budget_min"`
	BudgetMax      *float64         `json:"budget_max,omitempty" db:"budget_max"`
	BudgetCurrency *string          `json:"budget_currency,omitempty" db:"budget_currency"`
	Timeline       *string          `json:"timeline,omitempty" db:"timeline"`
	Status         EngagementStatus `json:"status" db:"status"`
	Progress       int              `json:"progress" db:"progress"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// CurrentTerms returns the engagement's authoritative term set
func (e *Engagement) CurrentTerms() Terms {
	return Terms{
		Title:          e.Title,
		Description:    e.Description,
		BudgetMin:      e.BudgetMin,
		BudgetMax:      e.BudgetMax,
		BudgetCurrency: e.BudgetCurrency,
		Timeline:       e.Timeline,
	}
}

// IsParty returns true if partyID is the requester or the assigned provider
func (e *Engagement) IsParty(partyID string) bool {
	if partyID == "" {
		return false
	}
	if partyID == e.RequesterID {
		return true
	}
	return e.ProviderID != nil && partyID == *e.ProviderID
}

// Counterparty returns the other party of the engagement, if one is assigned
func (e *Engagement) Counterparty(partyID string) (string, bool) {
	if partyID == e.RequesterID {
		if e.ProviderID == nil {
			return "", false
		}
		return *e.ProviderID, true
	}
	if e.ProviderID != nil && partyID == *e.ProviderID {
		return e.RequesterID, true
	}
	return "", false
}

// CreateEngagementRequest is the request to create an engagement
type CreateEngagementRequest struct {
	Title          string   `json:"title" validate:"required"`
	Description    *string  `json:"description,omitempty"`
	BudgetMin      *float64 `json:"budget_min,omitempty" validate:"omitempty,gte=0"`
	BudgetMax      *float64 `json:"budget_max,omitempty" validate:"omitempty,gte=0"`
	BudgetCurrency *string  `json:"budget_currency,omitempty" validate:"omitempty,len=3"`
	Timeline       *string  `json:"timeline,omitempty"`
}

// EngagementListResponse is the response for listing engagements
type EngagementListResponse struct {
	Items      []Engagement `json:"items"`
	TotalCount int          `json:"total_count"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
}
