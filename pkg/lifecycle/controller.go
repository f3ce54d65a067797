// Package lifecycle owns the coarse-grained status of an engagement. All
// writes to Engagement.status and Engagement.progress go through the
// Controller; the negotiation engine and the completion handshake report
// their outcomes here instead of touching the engagement directly.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/faults"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Notifier fans out committed transitions to interested collaborators
type Notifier interface {
	Notify(ctx context.Context, engagementID string, kind events.Kind, payload any)
}

// Outcome is what the negotiation engine reports after evaluating a card action
type Outcome string

const (
	OutcomeFirstCardSubmitted      Outcome = "first_card_submitted"
	OutcomeCardAccepted            Outcome = "card_accepted"
	OutcomeRequestDeclinedTerminal Outcome = "request_declined_terminal"
)

// EngineOutcome carries an engine outcome and, for a card acceptance, the
// accepted card's term snapshot to install as the engagement's terms
type EngineOutcome struct {
	Outcome Outcome
	Terms   *models.Terms
}

// Controller advances engagement status in reaction to engine and handshake outcomes
type Controller struct {
	engagements repositories.EngagementRepo
	notifier    Notifier
	logger      ectologger.Logger
}

// NewController creates a new lifecycle controller
func NewController(engagements repositories.EngagementRepo, notifier Notifier, logger ectologger.Logger) *Controller {
	return &Controller{
		engagements: engagements,
		notifier:    notifier,
		logger:      logger,
	}
}

// Create opens a new engagement in pending status
func (c *Controller) Create(ctx context.Context, requesterID string, req models.CreateEngagementRequest) (*models.Engagement, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Controller.Create")
	defer span.End()

	if requesterID == "" {
		return nil, faults.New(faults.CodeInvalidTerms, "requester id is required")
	}
	if req.Title == "" {
		return nil, faults.New(faults.CodeInvalidTerms, "title is required")
	}
	if err := validateBudget(req.BudgetMin, req.BudgetMax); err != nil {
		return nil, err
	}

	engagement := &models.Engagement{
		RequesterID:    requesterID,
		Title:          req.Title,
		Description:    req.Description,
		BudgetMin:      req.BudgetMin,
		BudgetMax:      req.BudgetMax,
		BudgetCurrency: req.BudgetCurrency,
		Timeline:       req.Timeline,
		Status:         models.EngagementStatusPending,
	}

	if err := c.engagements.Create(ctx, engagement); err != nil {
		return nil, err
	}

	c.notifier.Notify(ctx, engagement.ID, events.KindEngagementCreated, engagement)
	return engagement, nil
}

// AssignProvider attaches a provider to a pending engagement. Assignment
// does not advance status; status moves only through card outcomes.
func (c *Controller) AssignProvider(ctx context.Context, engagementID string, providerID string) (*models.Engagement, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Controller.AssignProvider")
	defer span.End()

	engagement, err := c.engagements.GetByID(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	if providerID == "" {
		return nil, faults.New(faults.CodeInvalidTerms, "provider id is required")
	}
	if providerID == engagement.RequesterID {
		return nil, faults.New(faults.CodeInvalidTerms, "provider cannot be the requester")
	}

	ok, err := c.engagements.AssignProvider(ctx, engagementID, providerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.New(faults.CodeInvalidTransition, "provider can only be assigned while the engagement is pending and unassigned")
	}

	engagement, err = c.engagements.GetByID(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	c.notifier.Notify(ctx, engagementID, events.KindProviderAssigned, map[string]any{"provider_id": providerID})
	return engagement, nil
}

// ApplyEngineOutcome reacts to a negotiation engine outcome. Called inside
// the engine's transaction so the status change commits with the card change.
func (c *Controller) ApplyEngineOutcome(ctx context.Context, engagementID string, outcome EngineOutcome) error {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Controller.ApplyEngineOutcome")
	defer span.End()

	switch outcome.Outcome {
	case OutcomeFirstCardSubmitted:
		// Idempotent: cards submitted while already negotiating are a no-op.
		_, err := c.engagements.TransitionStatus(ctx, engagementID,
			[]models.EngagementStatus{models.EngagementStatusPending},
			models.EngagementStatusNegotiating)
		return err

	case OutcomeCardAccepted:
		ok, err := c.engagements.TransitionStatus(ctx, engagementID,
			[]models.EngagementStatus{models.EngagementStatusNegotiating},
			models.EngagementStatusAgreed)
		if err != nil {
			return err
		}
		if !ok {
			return faults.New(faults.CodeInvalidTransition, "engagement is not negotiating")
		}
		if outcome.Terms == nil {
			return faults.New(faults.CodeInvalidTerms, "accepted card terms are required")
		}
		return c.engagements.SetAgreedTerms(ctx, engagementID, *outcome.Terms)

	case OutcomeRequestDeclinedTerminal:
		ok, err := c.engagements.TransitionStatus(ctx, engagementID,
			[]models.EngagementStatus{models.EngagementStatusPending, models.EngagementStatusNegotiating},
			models.EngagementStatusDeclined)
		if err != nil {
			return err
		}
		if !ok {
			return faults.New(faults.CodeInvalidTransition, "engagement can no longer be declined")
		}
		return nil
	}

	return faults.New(faults.CodeInvalidTransition, fmt.Sprintf("unknown engine outcome %q", outcome.Outcome))
}

// BeginExecution moves an agreed engagement into execution. Caller-driven;
// the external trigger (e.g. contract signed) is outside the core.
func (c *Controller) BeginExecution(ctx context.Context, engagementID string) (*models.Engagement, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Controller.BeginExecution")
	defer span.End()

	engagement, err := c.engagements.GetByID(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if engagement.ProviderID == nil {
		return nil, faults.New(faults.CodeInvalidTransition, "engagement has no provider")
	}

	ok, err := c.engagements.TransitionStatus(ctx, engagementID,
		[]models.EngagementStatus{models.EngagementStatusAgreed},
		models.EngagementStatusInProgress)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.New(faults.CodeInvalidTransition, "execution can only begin on an agreed engagement")
	}

	engagement, err = c.engagements.GetByID(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	c.notifier.Notify(ctx, engagementID, events.KindExecutionStarted, nil)
	return engagement, nil
}

// SetProgress updates execution progress, clamped to [0, 100]
func (c *Controller) SetProgress(ctx context.Context, engagementID string, percent int) (*models.Engagement, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Controller.SetProgress")
	defer span.End()

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	ok, err := c.engagements.SetProgress(ctx, engagementID, percent)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Distinguish a missing engagement from a wrong-state one.
		engagement, getErr := c.engagements.GetByID(ctx, engagementID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, faults.New(faults.CodeInvalidTransition,
			fmt.Sprintf("progress can only be set while in progress, engagement is %s", engagement.Status))
	}

	engagement, err := c.engagements.GetByID(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	c.notifier.Notify(ctx, engagementID, events.KindProgressUpdated, map[string]any{"progress": percent})
	return engagement, nil
}

// BeginCompletionReview parks an in-progress engagement at pending_completion
// with full progress. Called by the completion handshake inside its
// transaction.
func (c *Controller) BeginCompletionReview(ctx context.Context, engagementID string) error {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Controller.BeginCompletionReview")
	defer span.End()

	ok, err := c.engagements.SetProgress(ctx, engagementID, 100)
	if err != nil {
		return err
	}
	if !ok {
		return faults.New(faults.CodeInvalidTransition, "completion can only be submitted while in progress")
	}

	ok, err = c.engagements.TransitionStatus(ctx, engagementID,
		[]models.EngagementStatus{models.EngagementStatusInProgress},
		models.EngagementStatusPendingCompletion)
	if err != nil {
		return err
	}
	if !ok {
		return faults.New(faults.CodeInvalidTransition, "completion can only be submitted while in progress")
	}
	return nil
}

// FinishCompletionReview closes a review: confirmation completes the
// engagement terminally, a revision request returns it to execution.
func (c *Controller) FinishCompletionReview(ctx context.Context, engagementID string, confirmed bool) error {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Controller.FinishCompletionReview")
	defer span.End()

	to := models.EngagementStatusCompleted
	if !confirmed {
		to = models.EngagementStatusInProgress
	}

	ok, err := c.engagements.TransitionStatus(ctx, engagementID,
		[]models.EngagementStatus{models.EngagementStatusPendingCompletion}, to)
	if err != nil {
		return err
	}
	if !ok {
		return faults.New(faults.CodeInvalidTransition, "engagement is not pending completion")
	}
	return nil
}

func validateBudget(budgetMin, budgetMax *float64) error {
	if budgetMin != nil && budgetMax != nil && *budgetMin > *budgetMax {
		return faults.New(faults.CodeInvalidTerms, "budget minimum exceeds budget maximum")
	}
	return nil
}
