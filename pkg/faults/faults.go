// Package faults defines the negotiation error taxonomy. Every engine and
// controller operation fails with one of these kinds; all of them are
// caller-correctable and safe to surface.
package faults

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// Code identifies one error kind of the taxonomy
type Code string

const (
	// Structural
	CodeInvalidTerms      Code = "invalid_terms"
	CodeInvalidTransition Code = "invalid_transition"

	// Conflict: the action lost a race or duplicates a prior action
	CodeStaleHead           Code = "stale_head"
	CodeDuplicateOpenCard   Code = "duplicate_open_card"
	CodeDuplicateResponse   Code = "duplicate_response"
	CodeAlreadyPendingReview Code = "already_pending_review"
	CodeResponseRecorded    Code = "response_recorded"

	// Authorization
	CodeNotCounterparty Code = "not_counterparty"

	// Closed: the action targets a terminal object
	CodeEngagementClosed Code = "engagement_closed"
	CodeCardNotOpen      Code = "card_not_open"

	// Collaborator failures are distinct from the domain taxonomy
	CodeCollaboratorUnavailable Code = "collaborator_unavailable"

	CodeNotFound Code = "not_found"
)

var statusByCode = map[Code]int{
	CodeInvalidTerms:            http.StatusBadRequest,
	CodeInvalidTransition:       http.StatusConflict,
	CodeStaleHead:               http.StatusConflict,
	CodeDuplicateOpenCard:       http.StatusConflict,
	CodeDuplicateResponse:       http.StatusConflict,
	CodeAlreadyPendingReview:    http.StatusConflict,
	CodeResponseRecorded:        http.StatusConflict,
	CodeNotCounterparty:         http.StatusForbidden,
	CodeEngagementClosed:        http.StatusConflict,
	CodeCardNotOpen:             http.StatusConflict,
	CodeCollaboratorUnavailable: http.StatusServiceUnavailable,
	CodeNotFound:                http.StatusNotFound,
}

// Fault is a typed domain error
type Fault struct {
	Code    Code
	Message string
	cause   error
}

func (f *Fault) Error() string {
	return f.Message
}

func (f *Fault) Unwrap() error {
	return f.cause
}

// ToHTTPError converts the fault to the transport error type used by the
// echo error handler. The code travels in meta so callers can branch on it.
func (f *Fault) ToHTTPError() *httperror.HTTPError {
	status, ok := statusByCode[f.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return httperror.NewHTTPError(status, f.Message).AddMetaValue("code", string(f.Code))
}

// New creates a fault with the given code and message
func New(code Code, message string) error {
	return &Fault{Code: code, Message: message}
}

// Wrap creates a fault that wraps an underlying cause
func Wrap(code Code, message string, cause error) error {
	return &Fault{Code: code, Message: message, cause: cause}
}

// CodeOf returns the fault code carried by err, or "" if err is not a Fault
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// Is reports whether err carries the given code
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsConflict reports whether err is one of the race/duplicate kinds that the
// caller can resolve by refreshing and retrying
func IsConflict(err error) bool {
	switch CodeOf(err) {
	case CodeStaleHead, CodeDuplicateOpenCard, CodeDuplicateResponse,
		CodeAlreadyPendingReview, CodeResponseRecorded:
		return true
	}
	return false
}
