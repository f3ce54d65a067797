package models

import (
	"encoding/json"
	"time"
)

// ProposalCardStatus is the state of a single negotiation turn
type ProposalCardStatus string

const (
	// ProposalCardStatusSubmitted is the only non-terminal card state;
	// at most one card per engagement chain is submitted at any time.
	ProposalCardStatusSubmitted ProposalCardStatus = "submitted"
	ProposalCardStatusAgreement ProposalCardStatus = "agreement"
	ProposalCardStatusRejected  ProposalCardStatus = "rejected"
	ProposalCardStatusCountered ProposalCardStatus = "countered"
	ProposalCardStatusCancelled ProposalCardStatus = "cancelled"
)

// IsTerminal returns true for every status except submitted
func (s ProposalCardStatus) IsTerminal() bool {
	return s != ProposalCardStatusSubmitted
}

// ResponseType is a party's reaction to a proposal card
type ResponseType string

const (
	ResponseTypeAccept ResponseType = "accept"
	ResponseTypeReject ResponseType = "reject"
	ResponseTypeCancel ResponseType = "cancel"
)

// Valid reports whether the response type is one of accept/reject/cancel
func (t ResponseType) Valid() bool {
	switch t {
	case ResponseTypeAccept, ResponseTypeReject, ResponseTypeCancel:
		return true
	}
	return false
}

// ProposalCard is one negotiation turn in an engagement's card chain.
// Counters form a singly-linked chain through RespondsTo; the single
// submitted card is the chain head.
type ProposalCard struct {
	ID           string             `json:"id" db:"id"`
	EngagementID string             `json:"engagement_id" db:"engagement_id"`
	Sequence     int                `json:"sequence" db:"sequence"`
	SubmittedBy  string             `json:"submitted_by" db:"submitted_by"`
	RespondsTo   *string            `json:"responds_to,omitempty" db:"responds_to"`
	Title        string             `json:"title" db:"title"`
	Description  *string            `json:"description,omitempty" db:"description"`
	BudgetMin    *float64           `json:"budget_min,omitempty" db:"budget_min"`
	BudgetMax    *float64           `json:"budget_max,omitempty" db:"budget_max"`
	BudgetCurrency *string          `json:"budget_currency,omitempty" db:"budget_currency"`
	Timeline     *string            `json:"timeline,omitempty" db:"timeline"`
	Notes        *string            `json:"notes,omitempty" db:"notes"`
	Attachments  json.RawMessage    `json:"attachments,omitempty" db:"attachments"`
	Status       ProposalCardStatus `json:"status" db:"status"`
	Locked       bool               `json:"locked" db:"locked"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
	RespondedAt  *time.Time         `json:"responded_at,omitempty" db:"responded_at"`
}

// Terms returns the card's negotiated term snapshot
func (c *ProposalCard) Terms() Terms {
	return Terms{
		Title:          c.Title,
		Description:    c.Description,
		BudgetMin:      c.BudgetMin,
		BudgetMax:      c.BudgetMax,
		BudgetCurrency: c.BudgetCurrency,
		Timeline:       c.Timeline,
	}
}

// ProposalCardResponse is an immutable record of one party's reaction to one card.
// At most one response exists per (card, party) pair.
type ProposalCardResponse struct {
	ID           string       `json:"id" db:"id"`
	CardID       string       `json:"card_id" db:"card_id"`
	PartyID      string       `json:"party_id" db:"party_id"`
	ResponseType ResponseType `json:"response_type" db:"response_type"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// SubmitCardRequest is the request to submit a proposal or counter-proposal.
// Empty term fields inherit the engagement's current proposed terms.
type SubmitCardRequest struct {
	RespondsTo     *string         `json:"responds_to,omitempty"`
	Title          string          `json:"title,omitempty"`
	Description    *string         `json:"description,omitempty"`
	BudgetMin      *float64        `json:"budget_min,omitempty" validate:"omitempty,gte=0"`
	BudgetMax      *float64        `json:"budget_max,omitempty" validate:"omitempty,gte=0"`
	BudgetCurrency *string         `json:"budget_currency,omitempty" validate:"omitempty,len=3"`
	Timeline       *string         `json:"timeline,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	Attachments    json.RawMessage `json:"attachments,omitempty"`
}

// RespondRequest is the request to record a response against a card.
// Decline is honored only for a reject of the first card of an engagement;
// it marks the whole request as terminally declined rather than a prelude
// to a counter-card.
type RespondRequest struct {
	ResponseType ResponseType `json:"response_type" validate:"required,oneof=accept reject cancel"`
	Decline      bool         `json:"decline,omitempty"`
}

// RespondResult is the outcome of recording a response. AgreementReached is
// set when this response completed mutual acceptance.
type RespondResult struct {
	Response         *ProposalCardResponse `json:"response"`
	Card             *ProposalCard         `json:"card"`
	AgreementReached bool                  `json:"agreement_reached"`
}
