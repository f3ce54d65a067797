package negotiation_test

import (
	"context"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/memstore"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/faults"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/negotiation"
)

const (
	requester = "party-requester"
	provider  = "party-provider"
)

type eventRecorder struct {
	mu    sync.Mutex
	kinds []events.Kind
}

func (r *eventRecorder) Notify(_ context.Context, _ string, kind events.Kind, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *eventRecorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fixture struct {
	store      *memstore.Store
	controller *lifecycle.Controller
	engine     *negotiation.Engine
	recorder   *eventRecorder
}

func newFixture() *fixture {
	store := memstore.New()
	recorder := &eventRecorder{}
	logger := testLogger()
	controller := lifecycle.NewController(store.Engagements(), recorder, logger)
	engine := negotiation.NewEngine(store.Engagements(), store.Cards(), store, controller, recorder, logger)
	return &fixture{
		store:      store,
		controller: controller,
		engine:     engine,
		recorder:   recorder,
	}
}

func (f *fixture) newEngagement(t *testing.T) *models.Engagement {
	t.Helper()
	ctx := context.Background()

	budgetMin := 500.0
	budgetMax := 1500.0
	engagement, err := f.controller.Create(ctx, requester, models.CreateEngagementRequest{
		Title:     "Landing page build",
		BudgetMin: &budgetMin,
		BudgetMax: &budgetMax,
	})
	require.NoError(t, err)

	engagement, err = f.controller.AssignProvider(ctx, engagement.ID, provider)
	require.NoError(t, err)
	return engagement
}

func (f *fixture) engagementStatus(t *testing.T, id string) models.EngagementStatus {
	t.Helper()
	engagement, err := f.store.Engagements().GetByID(context.Background(), id)
	require.NoError(t, err)
	return engagement.Status
}

func TestSubmitCardOpensChain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	card, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)

	assert.Equal(t, 1, card.Sequence)
	assert.Equal(t, models.ProposalCardStatusSubmitted, card.Status)
	assert.Equal(t, requester, card.SubmittedBy)
	assert.Nil(t, card.RespondsTo)
	assert.Equal(t, models.EngagementStatusNegotiating, f.engagementStatus(t, engagement.ID))
	assert.Equal(t, 1, f.recorder.count(events.KindCardSubmitted))

	head, err := f.engine.CurrentHead(ctx, engagement.ID)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, card.ID, head.ID)
}

func TestSubmitCardInheritsEngagementTerms(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	card, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)

	assert.Equal(t, engagement.Title, card.Title)
	require.NotNil(t, card.BudgetMin)
	require.NotNil(t, card.BudgetMax)
	assert.Equal(t, *engagement.BudgetMin, *card.BudgetMin)
	assert.Equal(t, *engagement.BudgetMax, *card.BudgetMax)
}

func TestSubmitCardRejectsSecondOpenCard(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	_, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)

	_, err = f.engine.SubmitCard(ctx, engagement.ID, provider, models.SubmitCardRequest{})
	require.Error(t, err)
	assert.Equal(t, faults.CodeDuplicateOpenCard, faults.CodeOf(err))
}

func TestSubmitCardRejectsNonParticipant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	_, err := f.engine.SubmitCard(ctx, engagement.ID, "party-stranger", models.SubmitCardRequest{})
	require.Error(t, err)
	assert.Equal(t, faults.CodeNotCounterparty, faults.CodeOf(err))
}

func TestSubmitCardCounterClosesHead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)

	newMax := 1200.0
	c2, err := f.engine.SubmitCard(ctx, engagement.ID, provider, models.SubmitCardRequest{
		RespondsTo: &c1.ID,
		BudgetMax:  &newMax,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, c2.Sequence)
	require.NotNil(t, c2.RespondsTo)
	assert.Equal(t, c1.ID, *c2.RespondsTo)

	closed, err := f.store.Cards().GetByID(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalCardStatusCountered, closed.Status)
	assert.True(t, closed.Locked)

	head, err := f.engine.CurrentHead(ctx, engagement.ID)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, c2.ID, head.ID)
	assert.Equal(t, 1, f.recorder.count(events.KindCardCountered))
}

func TestSubmitCardCounterAfterReject(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)

	_, err = f.engine.Respond(ctx, c1.ID, provider, models.RespondRequest{ResponseType: models.ResponseTypeReject})
	require.NoError(t, err)

	c2, err := f.engine.SubmitCard(ctx, engagement.ID, provider, models.SubmitCardRequest{
		RespondsTo: &c1.ID,
		Title:      "Landing page build, reduced scope",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, c2.Sequence)

	closed, err := f.store.Cards().GetByID(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalCardStatusCountered, closed.Status)
	assert.True(t, closed.Locked)
}

func TestSubmitCardStaleHead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)

	_, err = f.engine.SubmitCard(ctx, engagement.ID, provider, models.SubmitCardRequest{RespondsTo: &c1.ID})
	require.NoError(t, err)

	// c1 is countered now, a second counter against it loses.
	_, err = f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{RespondsTo: &c1.ID})
	require.Error(t, err)
	assert.Equal(t, faults.CodeStaleHead, faults.CodeOf(err))
}

func TestRespondCounterpartyAcceptReachesAgreement(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	agreedMax := 1300.0
	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{
		Title:     "Landing page build, fixed price",
		BudgetMax: &agreedMax,
	})
	require.NoError(t, err)

	result, err := f.engine.Respond(ctx, c1.ID, provider, models.RespondRequest{ResponseType: models.ResponseTypeAccept})
	require.NoError(t, err)

	assert.True(t, result.AgreementReached)
	assert.Equal(t, models.ProposalCardStatusAgreement, result.Card.Status)
	assert.Equal(t, models.EngagementStatusAgreed, f.engagementStatus(t, engagement.ID))
	assert.Equal(t, 1, f.recorder.count(events.KindAgreementReached))

	// Accepted card terms become the engagement's authoritative terms.
	updated, err := f.store.Engagements().GetByID(ctx, engagement.ID)
	require.NoError(t, err)
	assert.Equal(t, "Landing page build, fixed price", updated.Title)
	require.NotNil(t, updated.BudgetMax)
	assert.Equal(t, agreedMax, *updated.BudgetMax)
}

func TestRespondSubmitterCannotAcceptOwnCard(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)

	_, err = f.engine.Respond(ctx, c1.ID, requester, models.RespondRequest{ResponseType: models.ResponseTypeAccept})
	require.Error(t, err)
	assert.Equal(t, faults.CodeNotCounterparty, faults.CodeOf(err))

	// Nothing was recorded: the card stays open with no responses.
	card, err := f.store.Cards().GetByID(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalCardStatusSubmitted, card.Status)

	responses, err := f.engine.ResponsesFor(ctx, c1.ID)
	require.NoError(t, err)
	assert.Empty(t, responses)

	// The counterparty's accept completes the agreement.
	result, err := f.engine.Respond(ctx, c1.ID, provider, models.RespondRequest{ResponseType: models.ResponseTypeAccept})
	require.NoError(t, err)
	assert.True(t, result.AgreementReached)
	assert.Equal(t, models.EngagementStatusAgreed, f.engagementStatus(t, engagement.ID))
}

func TestRespondSubmitterCannotReject(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)

	_, err = f.engine.Respond(ctx, c1.ID, requester, models.RespondRequest{ResponseType: models.ResponseTypeReject})
	require.Error(t, err)
	assert.Equal(t, faults.CodeNotCounterparty, faults.CodeOf(err))
}

func TestRespondCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	t.Run("only the submitter may cancel", func(t *testing.T) {
		c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
		require.NoError(t, err)

		_, err = f.engine.Respond(ctx, c1.ID, provider, models.RespondRequest{ResponseType: models.ResponseTypeCancel})
		require.Error(t, err)
		assert.Equal(t, faults.CodeNotCounterparty, faults.CodeOf(err))

		result, err := f.engine.Respond(ctx, c1.ID, requester, models.RespondRequest{ResponseType: models.ResponseTypeCancel})
		require.NoError(t, err)
		assert.Equal(t, models.ProposalCardStatusCancelled, result.Card.Status)
	})

	t.Run("a fresh card may follow a cancelled chain", func(t *testing.T) {
		c2, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
		require.NoError(t, err)
		assert.Equal(t, 2, c2.Sequence)
		assert.Nil(t, c2.RespondsTo)
	})

	t.Run("cancel is blocked once the counterparty responded", func(t *testing.T) {
		head, err := f.engine.CurrentHead(ctx, engagement.ID)
		require.NoError(t, err)
		require.NotNil(t, head)

		_, err = f.engine.Respond(ctx, head.ID, provider, models.RespondRequest{ResponseType: models.ResponseTypeReject})
		require.NoError(t, err)

		_, err = f.engine.Respond(ctx, head.ID, requester, models.RespondRequest{ResponseType: models.ResponseTypeCancel})
		require.Error(t, err)
	})
}

func TestRespondCancelStaysOpenAfterSelfAcceptAttempt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)

	// A rejected self-accept leaves no response behind, so the submitter
	// can still cancel while the counterparty has not responded.
	_, err = f.engine.Respond(ctx, c1.ID, requester, models.RespondRequest{ResponseType: models.ResponseTypeAccept})
	require.Error(t, err)
	assert.Equal(t, faults.CodeNotCounterparty, faults.CodeOf(err))

	result, err := f.engine.Respond(ctx, c1.ID, requester, models.RespondRequest{ResponseType: models.ResponseTypeCancel})
	require.NoError(t, err)
	assert.Equal(t, models.ProposalCardStatusCancelled, result.Card.Status)
}

func TestRespondDeclineFirstCardEndsEngagement(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)

	_, err = f.engine.Respond(ctx, c1.ID, provider, models.RespondRequest{
		ResponseType: models.ResponseTypeReject,
		Decline:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, models.EngagementStatusDeclined, f.engagementStatus(t, engagement.ID))
	assert.Equal(t, 1, f.recorder.count(events.KindEngagementDeclined))

	_, err = f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.Error(t, err)
	assert.Equal(t, faults.CodeEngagementClosed, faults.CodeOf(err))
}

func TestRespondCardNotOpen(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)
	_, err = f.engine.SubmitCard(ctx, engagement.ID, provider, models.SubmitCardRequest{RespondsTo: &c1.ID})
	require.NoError(t, err)

	_, err = f.engine.Respond(ctx, c1.ID, provider, models.RespondRequest{ResponseType: models.ResponseTypeAccept})
	require.Error(t, err)
	assert.Equal(t, faults.CodeCardNotOpen, faults.CodeOf(err))
}

func TestSubmitCardAfterAgreementIsClosed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)
	_, err = f.engine.Respond(ctx, c1.ID, provider, models.RespondRequest{ResponseType: models.ResponseTypeAccept})
	require.NoError(t, err)

	_, err = f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.Error(t, err)
	assert.Equal(t, faults.CodeEngagementClosed, faults.CodeOf(err))
}

func TestHistoryIsSequenceOrdered(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)
	c2, err := f.engine.SubmitCard(ctx, engagement.ID, provider, models.SubmitCardRequest{RespondsTo: &c1.ID})
	require.NoError(t, err)
	c3, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{RespondsTo: &c2.ID})
	require.NoError(t, err)

	history, err := f.engine.History(ctx, engagement.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{c1.ID, c2.ID, c3.ID}, []string{history[0].ID, history[1].ID, history[2].ID})
	for i, card := range history {
		assert.Equal(t, i+1, card.Sequence)
	}
}

func TestConcurrentCountersYieldOneNewHead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)
	c2, err := f.engine.SubmitCard(ctx, engagement.ID, provider, models.SubmitCardRequest{RespondsTo: &c1.ID})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	parties := []string{requester, provider}
	for i := range parties {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.SubmitCard(ctx, engagement.ID, parties[i], models.SubmitCardRequest{RespondsTo: &c2.ID})
		}(i)
	}
	wg.Wait()

	succeeded, stale := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case faults.Is(err, faults.CodeStaleHead):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, stale)

	history, err := f.engine.History(ctx, engagement.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[2].Sequence)
}

func TestConcurrentAcceptsReachAgreementOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	parties := []string{requester, provider}
	for i := range parties {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Respond(ctx, c1.ID, parties[i], models.RespondRequest{ResponseType: models.ResponseTypeAccept})
		}(i)
	}
	wg.Wait()

	// Only the counterparty's accept can close the card; the submitter's
	// attempt fails either as a self-accept or against the closed card.
	// Either way the agreement happens exactly once.
	require.NoError(t, errs[1])
	require.Error(t, errs[0])
	code := faults.CodeOf(errs[0])
	assert.Contains(t, []faults.Code{faults.CodeNotCounterparty, faults.CodeCardNotOpen}, code)

	card, err := f.store.Cards().GetByID(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalCardStatusAgreement, card.Status)
	assert.Equal(t, models.EngagementStatusAgreed, f.engagementStatus(t, engagement.ID))
	assert.Equal(t, 1, f.recorder.count(events.KindAgreementReached))
}

func TestNoDoubleResponsePerParty(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.newEngagement(t)

	c1, err := f.engine.SubmitCard(ctx, engagement.ID, requester, models.SubmitCardRequest{})
	require.NoError(t, err)

	_, err = f.engine.Respond(ctx, c1.ID, provider, models.RespondRequest{ResponseType: models.ResponseTypeReject})
	require.NoError(t, err)

	// The first response closed the card, so a second one never reaches
	// the response record.
	_, err = f.engine.Respond(ctx, c1.ID, provider, models.RespondRequest{ResponseType: models.ResponseTypeAccept})
	require.Error(t, err)
	assert.Equal(t, faults.CodeCardNotOpen, faults.CodeOf(err))

	// The per-party uniqueness backstop holds even below the engine.
	err = f.store.Cards().InsertResponse(ctx, &models.ProposalCardResponse{
		CardID:       c1.ID,
		PartyID:      provider,
		ResponseType: models.ResponseTypeAccept,
	})
	require.Error(t, err)
	assert.Equal(t, faults.CodeDuplicateResponse, faults.CodeOf(err))

	responses, err := f.engine.ResponsesFor(ctx, c1.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, provider, responses[0].PartyID)
}
