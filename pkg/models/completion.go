package models

import (
	"encoding/json"
	"time"
)

// CompletionResolution is the review state of a submitted completion
type CompletionResolution string

const (
	CompletionResolutionPending           CompletionResolution = "pending"
	CompletionResolutionConfirmed         CompletionResolution = "confirmed"
	CompletionResolutionRevisionRequested CompletionResolution = "revision_requested"
)

// Valid reports whether the resolution is a reviewable decision
func (r CompletionResolution) Valid() bool {
	return r == CompletionResolutionConfirmed || r == CompletionResolutionRevisionRequested
}

// ProjectCompletion records one submit-for-review cycle closing the
// execution phase. At most one pending completion exists per engagement.
type ProjectCompletion struct {
	ID              string               `json:"id" db:"id"`
	EngagementID    string               `json:"engagement_id" db:"engagement_id"`
	SubmittedBy     string               `json:"submitted_by" db:"submitted_by"`
	Notes           *string              `json:"notes,omitempty" db:"notes"`
	Deliverables    json.RawMessage      `json:"deliverables,omitempty" db:"deliverables"`
	Resolution      CompletionResolution `json:"resolution" db:"resolution"`
	ResolutionNotes *string              `json:"resolution_notes,omitempty" db:"resolution_notes"`
	ResolvedBy      *string              `json:"resolved_by,omitempty" db:"resolved_by"`
	CreatedAt       time.Time            `json:"created_at" db:"created_at"`
	ResolvedAt      *time.Time           `json:"resolved_at,omitempty" db:"resolved_at"`
}

// SubmitCompletionRequest is the request to submit work for completion review
type SubmitCompletionRequest struct {
	Notes        *string         `json:"notes,omitempty"`
	Deliverables json.RawMessage `json:"deliverables,omitempty"`
}

// ResolveCompletionRequest is the counterparty's decision on a pending completion
type ResolveCompletionRequest struct {
	Decision CompletionResolution `json:"decision" validate:"required,oneof=confirmed revision_requested"`
	Notes    *string              `json:"notes,omitempty"`
}
