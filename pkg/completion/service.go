// Package completion implements the end-of-engagement handshake: one party
// submits the work as done, the other confirms or requests revisions. Each
// submit/resolve pair is one review cycle; an engagement can go through any
// number of cycles before it completes.
package completion

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/faults"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Notifier fans out committed handshake events
type Notifier interface {
	Notify(ctx context.Context, engagementID string, kind events.Kind, payload any)
}

// Service coordinates completion reviews with the lifecycle controller
type Service struct {
	engagements repositories.EngagementRepo
	completions repositories.CompletionRepo
	tx          repositories.TxRunner
	controller  *lifecycle.Controller
	notifier    Notifier
	logger      ectologger.Logger
}

// NewService creates a new completion service
func NewService(
	engagements repositories.EngagementRepo,
	completions repositories.CompletionRepo,
	tx repositories.TxRunner,
	controller *lifecycle.Controller,
	notifier Notifier,
	logger ectologger.Logger,
) *Service {
	return &Service{
		engagements: engagements,
		completions: completions,
		tx:          tx,
		controller:  controller,
		notifier:    notifier,
		logger:      logger,
	}
}

// Submit opens a completion review on an in-progress engagement. Progress is
// forced to 100 and the engagement parks at pending_completion until the
// counterparty resolves the review.
func (s *Service) Submit(ctx context.Context, engagementID string, byParty string, req models.SubmitCompletionRequest) (*models.ProjectCompletion, error) {
	ctx, span := tracing.StartSpan(ctx, "completion.Service.Submit")
	defer span.End()

	if byParty == "" {
		return nil, faults.New(faults.CodeNotCounterparty, "submitting party is required")
	}

	var completion *models.ProjectCompletion

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		engagement, err := s.engagements.GetByIDForUpdate(ctx, engagementID)
		if err != nil {
			return err
		}
		if !engagement.IsParty(byParty) {
			return faults.New(faults.CodeNotCounterparty, "party is not a participant in the engagement")
		}
		if engagement.Status == models.EngagementStatusPendingCompletion {
			return faults.New(faults.CodeAlreadyPendingReview, "engagement already has a completion pending review")
		}
		if engagement.Status != models.EngagementStatusInProgress {
			return faults.New(faults.CodeInvalidTransition,
				fmt.Sprintf("completion can only be submitted while in progress, engagement is %s", engagement.Status))
		}

		pending, err := s.completions.HasPending(ctx, engagementID)
		if err != nil {
			return err
		}
		if pending {
			return faults.New(faults.CodeAlreadyPendingReview, "engagement already has a completion pending review")
		}

		completion = &models.ProjectCompletion{
			EngagementID: engagementID,
			SubmittedBy:  byParty,
			Notes:        req.Notes,
			Deliverables: req.Deliverables,
			Resolution:   models.CompletionResolutionPending,
		}
		if err := s.completions.Create(ctx, completion); err != nil {
			return err
		}

		return s.controller.BeginCompletionReview(ctx, engagementID)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, engagementID, events.KindCompletionSubmitted, completion)
	return completion, nil
}

// Resolve records the counterparty's verdict on a pending review.
// Confirmation completes the engagement; a revision request reopens
// execution with progress left at 100 for the submitter to adjust.
func (s *Service) Resolve(ctx context.Context, completionID string, byParty string, req models.ResolveCompletionRequest) (*models.ProjectCompletion, error) {
	ctx, span := tracing.StartSpan(ctx, "completion.Service.Resolve")
	defer span.End()

	if byParty == "" {
		return nil, faults.New(faults.CodeNotCounterparty, "resolving party is required")
	}
	if !req.Decision.Valid() {
		return nil, faults.New(faults.CodeInvalidTerms, fmt.Sprintf("unknown resolution %q", req.Decision))
	}

	var completion *models.ProjectCompletion
	var engagementID string

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		peek, err := s.completions.GetByID(ctx, completionID)
		if err != nil {
			return err
		}
		engagementID = peek.EngagementID

		engagement, err := s.engagements.GetByIDForUpdate(ctx, engagementID)
		if err != nil {
			return err
		}

		completion, err = s.completions.GetByIDForUpdate(ctx, completionID)
		if err != nil {
			return err
		}
		if completion.Resolution != models.CompletionResolutionPending {
			return faults.New(faults.CodeInvalidTransition, "completion review is already resolved")
		}

		counterparty, ok := engagement.Counterparty(completion.SubmittedBy)
		if !ok || byParty != counterparty {
			return faults.New(faults.CodeNotCounterparty, "only the counterparty of the submitter may resolve the review")
		}

		resolved, err := s.completions.Resolve(ctx, completionID, req.Decision, req.Notes, byParty)
		if err != nil {
			return err
		}
		if !resolved {
			return faults.New(faults.CodeInvalidTransition, "completion review is already resolved")
		}

		confirmed := req.Decision == models.CompletionResolutionConfirmed
		if err := s.controller.FinishCompletionReview(ctx, engagementID, confirmed); err != nil {
			return err
		}

		completion, err = s.completions.GetByID(ctx, completionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, engagementID, events.KindCompletionResolved, completion)
	return completion, nil
}

// ListByEngagement returns the engagement's review cycles in submission order
func (s *Service) ListByEngagement(ctx context.Context, engagementID string) ([]models.ProjectCompletion, error) {
	ctx, span := tracing.StartSpan(ctx, "completion.Service.ListByEngagement")
	defer span.End()

	if _, err := s.engagements.GetByID(ctx, engagementID); err != nil {
		return nil, err
	}
	return s.completions.ListByEngagement(ctx, engagementID)
}
