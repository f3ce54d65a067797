package completion_test

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/memstore"
	"github.com/Ramsey-B/fern/pkg/completion"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/faults"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	requester = "party-requester"
	provider  = "party-provider"
)

type noopNotifier struct{}

func (noopNotifier) Notify(_ context.Context, _ string, _ events.Kind, _ any) {}

type fixture struct {
	store      *memstore.Store
	controller *lifecycle.Controller
	service    *completion.Service
}

func newFixture() *fixture {
	store := memstore.New()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	controller := lifecycle.NewController(store.Engagements(), noopNotifier{}, logger)
	service := completion.NewService(store.Engagements(), store.Completions(), store, controller, noopNotifier{}, logger)
	return &fixture{store: store, controller: controller, service: service}
}

// inProgressEngagement drives a fresh engagement to in_progress
func (f *fixture) inProgressEngagement(t *testing.T) *models.Engagement {
	t.Helper()
	ctx := context.Background()

	engagement, err := f.controller.Create(ctx, requester, models.CreateEngagementRequest{Title: "Site migration"})
	require.NoError(t, err)
	_, err = f.controller.AssignProvider(ctx, engagement.ID, provider)
	require.NoError(t, err)
	require.NoError(t, f.controller.ApplyEngineOutcome(ctx, engagement.ID, lifecycle.EngineOutcome{Outcome: lifecycle.OutcomeFirstCardSubmitted}))
	require.NoError(t, f.controller.ApplyEngineOutcome(ctx, engagement.ID, lifecycle.EngineOutcome{
		Outcome: lifecycle.OutcomeCardAccepted,
		Terms:   &models.Terms{Title: "Site migration"},
	}))
	engagement, err = f.controller.BeginExecution(ctx, engagement.ID)
	require.NoError(t, err)
	return engagement
}

func (f *fixture) engagement(t *testing.T, id string) *models.Engagement {
	t.Helper()
	engagement, err := f.store.Engagements().GetByID(context.Background(), id)
	require.NoError(t, err)
	return engagement
}

func TestSubmitCompletion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.inProgressEngagement(t)

	t.Run("parks the engagement at pending completion", func(t *testing.T) {
		submitted, err := f.service.Submit(ctx, engagement.ID, provider, models.SubmitCompletionRequest{})
		require.NoError(t, err)

		assert.Equal(t, models.CompletionResolutionPending, submitted.Resolution)
		assert.Equal(t, provider, submitted.SubmittedBy)

		updated := f.engagement(t, engagement.ID)
		assert.Equal(t, models.EngagementStatusPendingCompletion, updated.Status)
		assert.Equal(t, 100, updated.Progress)
	})

	t.Run("second submit while pending is a conflict", func(t *testing.T) {
		_, err := f.service.Submit(ctx, engagement.ID, provider, models.SubmitCompletionRequest{})
		require.Error(t, err)
		assert.Equal(t, faults.CodeAlreadyPendingReview, faults.CodeOf(err))
	})
}

func TestSubmitCompletionRequiresInProgress(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	engagement, err := f.controller.Create(ctx, requester, models.CreateEngagementRequest{Title: "Site migration"})
	require.NoError(t, err)
	_, err = f.controller.AssignProvider(ctx, engagement.ID, provider)
	require.NoError(t, err)

	_, err = f.service.Submit(ctx, engagement.ID, provider, models.SubmitCompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, faults.CodeInvalidTransition, faults.CodeOf(err))
}

func TestSubmitCompletionRequiresParticipant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.inProgressEngagement(t)

	_, err := f.service.Submit(ctx, engagement.ID, "party-stranger", models.SubmitCompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, faults.CodeNotCounterparty, faults.CodeOf(err))
}

func TestResolveConfirmedCompletesEngagement(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.inProgressEngagement(t)

	submitted, err := f.service.Submit(ctx, engagement.ID, provider, models.SubmitCompletionRequest{})
	require.NoError(t, err)

	resolved, err := f.service.Resolve(ctx, submitted.ID, requester, models.ResolveCompletionRequest{
		Decision: models.CompletionResolutionConfirmed,
	})
	require.NoError(t, err)

	assert.Equal(t, models.CompletionResolutionConfirmed, resolved.Resolution)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, requester, *resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, models.EngagementStatusCompleted, f.engagement(t, engagement.ID).Status)

	// Completed is terminal, no further review cycles.
	_, err = f.service.Submit(ctx, engagement.ID, provider, models.SubmitCompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, faults.CodeInvalidTransition, faults.CodeOf(err))
}

func TestResolveOnlyByCounterparty(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.inProgressEngagement(t)

	submitted, err := f.service.Submit(ctx, engagement.ID, provider, models.SubmitCompletionRequest{})
	require.NoError(t, err)

	// The submitter cannot confirm their own work.
	_, err = f.service.Resolve(ctx, submitted.ID, provider, models.ResolveCompletionRequest{
		Decision: models.CompletionResolutionConfirmed,
	})
	require.Error(t, err)
	assert.Equal(t, faults.CodeNotCounterparty, faults.CodeOf(err))

	_, err = f.service.Resolve(ctx, submitted.ID, "party-stranger", models.ResolveCompletionRequest{
		Decision: models.CompletionResolutionConfirmed,
	})
	require.Error(t, err)
	assert.Equal(t, faults.CodeNotCounterparty, faults.CodeOf(err))
}

func TestRevisionCycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.inProgressEngagement(t)

	first, err := f.service.Submit(ctx, engagement.ID, provider, models.SubmitCompletionRequest{})
	require.NoError(t, err)

	notes := "missing the staging environment cutover"
	resolved, err := f.service.Resolve(ctx, first.ID, requester, models.ResolveCompletionRequest{
		Decision: models.CompletionResolutionRevisionRequested,
		Notes:    &notes,
	})
	require.NoError(t, err)

	assert.Equal(t, models.CompletionResolutionRevisionRequested, resolved.Resolution)
	require.NotNil(t, resolved.ResolutionNotes)
	assert.Equal(t, notes, *resolved.ResolutionNotes)
	assert.Equal(t, models.EngagementStatusInProgress, f.engagement(t, engagement.ID).Status)

	// The previous completion is no longer pending, a fresh submit opens a
	// second review cycle.
	second, err := f.service.Submit(ctx, engagement.ID, provider, models.SubmitCompletionRequest{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.EngagementStatusPendingCompletion, f.engagement(t, engagement.ID).Status)

	cycles, err := f.service.ListByEngagement(ctx, engagement.ID)
	require.NoError(t, err)
	require.Len(t, cycles, 2)

	// Resolving the first cycle again is rejected.
	_, err = f.service.Resolve(ctx, first.ID, requester, models.ResolveCompletionRequest{
		Decision: models.CompletionResolutionConfirmed,
	})
	require.Error(t, err)
	assert.Equal(t, faults.CodeInvalidTransition, faults.CodeOf(err))
}

func TestResolveRejectsUnknownDecision(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	engagement := f.inProgressEngagement(t)

	submitted, err := f.service.Submit(ctx, engagement.ID, provider, models.SubmitCompletionRequest{})
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, submitted.ID, requester, models.ResolveCompletionRequest{
		Decision: models.CompletionResolution("pending"),
	})
	require.Error(t, err)
	assert.Equal(t, faults.CodeInvalidTerms, faults.CodeOf(err))
}
