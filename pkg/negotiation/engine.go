// Package negotiation implements the proposal card chain: submitting cards
// and counters, recording responses, and detecting mutual acceptance. The
// chain of one engagement is mutated under the engagement's row lock, so
// every head check and card transition in here is serialized per engagement.
package negotiation

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

// OutcomeApplier receives engine outcomes inside the engine's transaction.
// Implemented by the lifecycle controller.
type OutcomeApplier interface {
	ApplyEngineOutcome(ctx context.Context, engagementID string, outcome lifecycle.EngineOutcome) error
}

// Notifier fans out committed chain events
type Notifier interface {
	Notify(ctx context.Context, engagementID string, kind events.Kind, payload any)
}

// Engine evaluates card submissions and responses against the chain rules
type Engine struct {
	engagements repositories.EngagementRepo
	cards       repositories.ProposalCardRepo
	tx          repositories.TxRunner
	applier     OutcomeApplier
	notifier    Notifier
	logger      ectologger.Logger
}

// NewEngine creates a new negotiation engine
func NewEngine(
	engagements repositories.EngagementRepo,
	cards repositories.ProposalCardRepo,
	tx repositories.TxRunner,
	applier OutcomeApplier,
	notifier Notifier,
	logger ectologger.Logger,
) *Engine {
	return &Engine{
		engagements: engagements,
		cards:       cards,
		tx:          tx,
		applier:     applier,
		notifier:    notifier,
		logger:      logger,
	}
}

// SubmitCard submits a new proposal card, either opening the chain or
// countering the current head. A counter closes the head (countered, locked)
// and the new card becomes the head.
func (e *Engine) SubmitCard(ctx context.Context, engagementID string, byParty string, req models.SubmitCardRequest) (*models.ProposalCard, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Engine.SubmitCard")
	defer span.End()

	if byParty == "" {
		return nil, faults.New(faults.CodeNotCounterparty, "submitting party is required")
	}
	if req.BudgetMin != nil && req.BudgetMax != nil && *req.BudgetMin > *req.BudgetMax {
		return nil, faults.New(faults.CodeInvalidTerms, "budget minimum exceeds budget maximum")
	}

	var card *models.ProposalCard
	var counteredID string

	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		engagement, err := e.engagements.GetByIDForUpdate(ctx, engagementID)
		if err != nil {
			return err
		}
		if !engagement.IsParty(byParty) {
			return faults.New(faults.CodeNotCounterparty, "party is not a participant in the engagement")
		}
		if engagement.Status.IsTerminal() {
			return faults.New(faults.CodeEngagementClosed, fmt.Sprintf("engagement is %s", engagement.Status))
		}

		hasAgreement, err := e.cards.HasAgreement(ctx, engagementID)
		if err != nil {
			return err
		}
		if hasAgreement {
			return faults.New(faults.CodeEngagementClosed, "engagement already reached agreement")
		}

		var sequence int
		firstEver := false

		if req.RespondsTo != nil {
			target, err := e.cards.GetByID(ctx, *req.RespondsTo)
			if err != nil {
				return err
			}
			if target.EngagementID != engagementID {
				return faults.New(faults.CodeStaleHead, "card does not belong to the engagement")
			}
			maxSeq, err := e.cards.MaxSequence(ctx, engagementID)
			if err != nil {
				return err
			}
			// A counter is legal only against the chain head, either still
			// open or freshly rejected as the prelude to this counter.
			if target.Sequence != maxSeq {
				return faults.New(faults.CodeStaleHead, "card is no longer the chain head")
			}
			if target.Status != models.ProposalCardStatusSubmitted && target.Status != models.ProposalCardStatusRejected {
				return faults.New(faults.CodeStaleHead, "card is no longer the chain head")
			}
			ok, err := e.cards.Transition(ctx, target.ID, target.Status, models.ProposalCardStatusCountered, true)
			if err != nil {
				return err
			}
			if !ok {
				return faults.New(faults.CodeStaleHead, "card is no longer the chain head")
			}
			counteredID = target.ID
			sequence = target.Sequence + 1
		} else {
			head, err := e.cards.CurrentHead(ctx, engagementID)
			if err != nil {
				return err
			}
			if head != nil {
				return faults.New(faults.CodeDuplicateOpenCard, "engagement already has an open card")
			}
			maxSeq, err := e.cards.MaxSequence(ctx, engagementID)
			if err != nil {
				return err
			}
			sequence = maxSeq + 1
			firstEver = maxSeq == 0
		}

		card = buildCard(engagement, byParty, sequence, req)
		if err := e.cards.Create(ctx, card); err != nil {
			return err
		}

		if firstEver {
			return e.applier.ApplyEngineOutcome(ctx, engagementID, lifecycle.EngineOutcome{Outcome: lifecycle.OutcomeFirstCardSubmitted})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if counteredID != "" {
		e.notifier.Notify(ctx, engagementID, events.KindCardCountered, map[string]any{
			"card_id":    counteredID,
			"counter_id": card.ID,
		})
	}
	e.notifier.Notify(ctx, engagementID, events.KindCardSubmitted, card)
	return card, nil
}

// Respond records a party's accept, reject or cancel against a card. The
// counterparty's accept completes the agreement and is reported to the
// lifecycle controller exactly once, in the same transaction that closes
// the card.
func (e *Engine) Respond(ctx context.Context, cardID string, byParty string, req models.RespondRequest) (*models.RespondResult, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Engine.Respond")
	defer span.End()

	if byParty == "" {
		return nil, faults.New(faults.CodeNotCounterparty, "responding party is required")
	}
	if !req.ResponseType.Valid() {
		return nil, faults.New(faults.CodeInvalidTerms, fmt.Sprintf("unknown response type %q", req.ResponseType))
	}

	result := &models.RespondResult{}
	var engagementID string
	var agreementReached, declined bool

	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Lock the engagement before the card so submit and respond take
		// locks in the same order.
		peek, err := e.cards.GetByID(ctx, cardID)
		if err != nil {
			return err
		}
		engagementID = peek.EngagementID

		engagement, err := e.engagements.GetByIDForUpdate(ctx, engagementID)
		if err != nil {
			return err
		}
		if !engagement.IsParty(byParty) {
			return faults.New(faults.CodeNotCounterparty, "party is not a participant in the engagement")
		}

		card, err := e.cards.GetByIDForUpdate(ctx, cardID)
		if err != nil {
			return err
		}
		if card.Status != models.ProposalCardStatusSubmitted {
			return faults.New(faults.CodeCardNotOpen, fmt.Sprintf("card is %s", card.Status))
		}

		responses, err := e.cards.ListResponses(ctx, cardID)
		if err != nil {
			return err
		}
		for _, r := range responses {
			if r.PartyID == byParty {
				return faults.New(faults.CodeDuplicateResponse, "party already responded to this card")
			}
		}

		switch req.ResponseType {
		case models.ResponseTypeCancel:
			if byParty != card.SubmittedBy {
				return faults.New(faults.CodeNotCounterparty, "only the submitter may cancel a card")
			}
			if len(responses) > 0 {
				return faults.New(faults.CodeResponseRecorded, "counterparty already responded, card can no longer be cancelled")
			}
			ok, err := e.cards.Transition(ctx, cardID, models.ProposalCardStatusSubmitted, models.ProposalCardStatusCancelled, false)
			if err != nil {
				return err
			}
			if !ok {
				return faults.New(faults.CodeCardNotOpen, "card is no longer open")
			}

		case models.ResponseTypeReject:
			if byParty == card.SubmittedBy {
				return faults.New(faults.CodeNotCounterparty, "submitter cannot reject own card")
			}
			ok, err := e.cards.Transition(ctx, cardID, models.ProposalCardStatusSubmitted, models.ProposalCardStatusRejected, false)
			if err != nil {
				return err
			}
			if !ok {
				return faults.New(faults.CodeCardNotOpen, "card is no longer open")
			}
			// Rejecting the opening card with the decline flag ends the
			// engagement instead of inviting a counter.
			if req.Decline && card.Sequence == 1 {
				if err := e.applier.ApplyEngineOutcome(ctx, engagementID, lifecycle.EngineOutcome{Outcome: lifecycle.OutcomeRequestDeclinedTerminal}); err != nil {
					return err
				}
				declined = true
			}

		case models.ResponseTypeAccept:
			if byParty == card.SubmittedBy {
				// Submitting the card already carries the submitter's consent;
				// only the counterparty has an accept to give, and recording
				// anything here would consume the submitter's cancel window.
				return faults.New(faults.CodeNotCounterparty, "submitter cannot accept own card")
			}
			ok, err := e.cards.Transition(ctx, cardID, models.ProposalCardStatusSubmitted, models.ProposalCardStatusAgreement, false)
			if err != nil {
				return err
			}
			if !ok {
				return faults.New(faults.CodeCardNotOpen, "card is no longer open")
			}
			terms := card.Terms()
			if err := e.applier.ApplyEngineOutcome(ctx, engagementID, lifecycle.EngineOutcome{
				Outcome: lifecycle.OutcomeCardAccepted,
				Terms:   &terms,
			}); err != nil {
				return err
			}
			agreementReached = true
		}

		response := &models.ProposalCardResponse{
			CardID:       cardID,
			PartyID:      byParty,
			ResponseType: req.ResponseType,
		}
		if err := e.cards.InsertResponse(ctx, response); err != nil {
			return err
		}
		result.Response = response

		card, err = e.cards.GetByID(ctx, cardID)
		if err != nil {
			return err
		}
		result.Card = card
		result.AgreementReached = agreementReached
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notifier.Notify(ctx, engagementID, events.KindResponseRecorded, result.Response)
	if agreementReached {
		e.notifier.Notify(ctx, engagementID, events.KindAgreementReached, result.Card)
	}
	if declined {
		e.notifier.Notify(ctx, engagementID, events.KindEngagementDeclined, map[string]any{"card_id": cardID})
	}
	return result, nil
}

// CurrentHead returns the engagement's open card, or nil when the chain is closed
func (e *Engine) CurrentHead(ctx context.Context, engagementID string) (*models.ProposalCard, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Engine.CurrentHead")
	defer span.End()

	if _, err := e.engagements.GetByID(ctx, engagementID); err != nil {
		return nil, err
	}
	return e.cards.CurrentHead(ctx, engagementID)
}

// History returns every card of the engagement in chain order
func (e *Engine) History(ctx context.Context, engagementID string) ([]models.ProposalCard, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Engine.History")
	defer span.End()

	if _, err := e.engagements.GetByID(ctx, engagementID); err != nil {
		return nil, err
	}
	return e.cards.ListByEngagement(ctx, engagementID)
}

// ResponsesFor returns the recorded responses of one card
func (e *Engine) ResponsesFor(ctx context.Context, cardID string) ([]models.ProposalCardResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Engine.ResponsesFor")
	defer span.End()

	if _, err := e.cards.GetByID(ctx, cardID); err != nil {
		return nil, err
	}
	return e.cards.ListResponses(ctx, cardID)
}

// buildCard materializes the card for a submission, inheriting the
// engagement's current terms for any term field the request leaves empty
func buildCard(engagement *models.Engagement, byParty string, sequence int, req models.SubmitCardRequest) *models.ProposalCard {
	current := engagement.CurrentTerms()

	card := &models.ProposalCard{
		EngagementID:   engagement.ID,
		Sequence:       sequence,
		SubmittedBy:    byParty,
		RespondsTo:     req.RespondsTo,
		Title:          req.Title,
		Description:    req.Description,
		BudgetMin:      req.BudgetMin,
		BudgetMax:      req.BudgetMax,
		BudgetCurrency: req.BudgetCurrency,
		Timeline:       req.Timeline,
		Notes:          req.Notes,
		Attachments:    req.Attachments,
		Status:         models.ProposalCardStatusSubmitted,
	}

	if card.Title == "" {
		card.Title = current.Title
	}
	if card.Description == nil {
		card.Description = current.Description
	}
	if card.BudgetMin == nil {
		card.BudgetMin = current.BudgetMin
	}
	if card.BudgetMax == nil {
		card.BudgetMax = current.BudgetMax
	}
	if card.BudgetCurrency == nil {
		card.BudgetCurrency = current.BudgetCurrency
	}
	if card.Timeline == nil {
		card.Timeline = current.Timeline
	}
	return card
}
