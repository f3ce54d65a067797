// Package memstore is an in-memory implementation of the repository
// interfaces for tests. One mutex plays the role of the engagement row lock:
// a WithinTx scope holds the store exclusively, and a failed scope restores
// the pre-transaction snapshot, mirroring a rolled-back transaction.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/faults"
	"github.com/Ramsey-B/fern/pkg/models"
)

type txKey struct{}

// Store holds all negotiation state in memory
type Store struct {
	mu          sync.Mutex
	engagements map[string]*models.Engagement
	cards       map[string]*models.ProposalCard
	responses   map[string][]models.ProposalCardResponse
	completions map[string]*models.ProjectCompletion
}

// New creates an empty store
func New() *Store {
	return &Store{
		engagements: make(map[string]*models.Engagement),
		cards:       make(map[string]*models.ProposalCard),
		responses:   make(map[string][]models.ProposalCardResponse),
		completions: make(map[string]*models.ProjectCompletion),
	}
}

// Engagements returns the store's EngagementRepo view
func (s *Store) Engagements() repositories.EngagementRepo { return engagementStore{s} }

// Cards returns the store's ProposalCardRepo view
func (s *Store) Cards() repositories.ProposalCardRepo { return cardStore{s} }

// Completions returns the store's CompletionRepo view
func (s *Store) Completions() repositories.CompletionRepo { return completionStore{s} }

// WithinTx runs fn holding the store lock. Nested calls join the open scope.
// When fn fails the store is restored to its state at scope entry.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	err := fn(context.WithValue(ctx, txKey{}, true))
	if err != nil {
		s.restore(snap)
	}
	return err
}

// lock acquires the store mutex unless the context already runs inside a
// WithinTx scope that holds it
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type storeSnapshot struct {
	engagements map[string]*models.Engagement
	cards       map[string]*models.ProposalCard
	responses   map[string][]models.ProposalCardResponse
	completions map[string]*models.ProjectCompletion
}

func (s *Store) snapshot() storeSnapshot {
	snap := storeSnapshot{
		engagements: make(map[string]*models.Engagement, len(s.engagements)),
		cards:       make(map[string]*models.ProposalCard, len(s.cards)),
		responses:   make(map[string][]models.ProposalCardResponse, len(s.responses)),
		completions: make(map[string]*models.ProjectCompletion, len(s.completions)),
	}
	for id, e := range s.engagements {
		clone := *e
		snap.engagements[id] = &clone
	}
	for id, c := range s.cards {
		clone := *c
		snap.cards[id] = &clone
	}
	for id, rs := range s.responses {
		snap.responses[id] = append([]models.ProposalCardResponse(nil), rs...)
	}
	for id, c := range s.completions {
		clone := *c
		snap.completions[id] = &clone
	}
	return snap
}

func (s *Store) restore(snap storeSnapshot) {
	s.engagements = snap.engagements
	s.cards = snap.cards
	s.responses = snap.responses
	s.completions = snap.completions
}

type engagementStore struct{ s *Store }

func (r engagementStore) Create(ctx context.Context, engagement *models.Engagement) error {
	defer r.s.lock(ctx)()

	if engagement.ID == "" {
		engagement.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	engagement.CreatedAt = now
	engagement.UpdatedAt = now
	if engagement.Status == "" {
		engagement.Status = models.EngagementStatusPending
	}

	clone := *engagement
	r.s.engagements[engagement.ID] = &clone
	return nil
}

func (r engagementStore) GetByID(ctx context.Context, id string) (*models.Engagement, error) {
	defer r.s.lock(ctx)()
	return r.get(id)
}

func (r engagementStore) GetByIDForUpdate(ctx context.Context, id string) (*models.Engagement, error) {
	defer r.s.lock(ctx)()
	return r.get(id)
}

func (r engagementStore) get(id string) (*models.Engagement, error) {
	e, ok := r.s.engagements[id]
	if !ok {
		return nil, faults.New(faults.CodeNotFound, fmt.Sprintf("engagement %s not found", id))
	}
	clone := *e
	return &clone, nil
}

func (r engagementStore) List(ctx context.Context, partyID string, status *models.EngagementStatus, page, pageSize int) ([]models.Engagement, int, error) {
	defer r.s.lock(ctx)()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var matched []models.Engagement
	for _, e := range r.s.engagements {
		isParty := e.RequesterID == partyID || (e.ProviderID != nil && *e.ProviderID == partyID)
		if !isParty {
			continue
		}
		if status != nil && e.Status != *status {
			continue
		}
		matched = append(matched, *e)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r engagementStore) AssignProvider(ctx context.Context, id string, providerID string) (bool, error) {
	defer r.s.lock(ctx)()

	e, ok := r.s.engagements[id]
	if !ok || e.Status != models.EngagementStatusPending || e.ProviderID != nil {
		return false, nil
	}
	e.ProviderID = &providerID
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r engagementStore) TransitionStatus(ctx context.Context, id string, from []models.EngagementStatus, to models.EngagementStatus) (bool, error) {
	defer r.s.lock(ctx)()

	e, ok := r.s.engagements[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if e.Status == f {
			e.Status = to
			e.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (r engagementStore) SetAgreedTerms(ctx context.Context, id string, terms models.Terms) error {
	defer r.s.lock(ctx)()

	e, ok := r.s.engagements[id]
	if !ok {
		return faults.New(faults.CodeNotFound, fmt.Sprintf("engagement %s not found", id))
	}
	e.Title = terms.Title
	e.Description = terms.Description
	e.BudgetMin = terms.BudgetMin
	e.BudgetMax = terms.BudgetMax
	e.BudgetCurrency = terms.BudgetCurrency
	e.Timeline = terms.Timeline
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (r engagementStore) SetProgress(ctx context.Context, id string, progress int) (bool, error) {
	defer r.s.lock(ctx)()

	e, ok := r.s.engagements[id]
	if !ok || e.Status != models.EngagementStatusInProgress {
		return false, nil
	}
	e.Progress = progress
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

type cardStore struct{ s *Store }

func (r cardStore) Create(ctx context.Context, card *models.ProposalCard) error {
	defer r.s.lock(ctx)()

	for _, c := range r.s.cards {
		if c.EngagementID != card.EngagementID {
			continue
		}
		if c.Sequence == card.Sequence {
			return faults.New(faults.CodeStaleHead, "card sequence already taken")
		}
		if c.Status == models.ProposalCardStatusSubmitted {
			return faults.New(faults.CodeDuplicateOpenCard, "engagement already has an open card")
		}
		if card.RespondsTo != nil && c.RespondsTo != nil && *c.RespondsTo == *card.RespondsTo {
			return faults.New(faults.CodeStaleHead, "card already has a counter")
		}
	}

	if card.ID == "" {
		card.ID = uuid.New().String()
	}
	card.CreatedAt = time.Now().UTC()
	if card.Status == "" {
		card.Status = models.ProposalCardStatusSubmitted
	}

	clone := *card
	r.s.cards[card.ID] = &clone
	return nil
}

func (r cardStore) GetByID(ctx context.Context, id string) (*models.ProposalCard, error) {
	defer r.s.lock(ctx)()
	return r.get(id)
}

func (r cardStore) GetByIDForUpdate(ctx context.Context, id string) (*models.ProposalCard, error) {
	defer r.s.lock(ctx)()
	return r.get(id)
}

func (r cardStore) get(id string) (*models.ProposalCard, error) {
	c, ok := r.s.cards[id]
	if !ok {
		return nil, faults.New(faults.CodeNotFound, fmt.Sprintf("card %s not found", id))
	}
	clone := *c
	return &clone, nil
}

func (r cardStore) CurrentHead(ctx context.Context, engagementID string) (*models.ProposalCard, error) {
	defer r.s.lock(ctx)()

	for _, c := range r.s.cards {
		if c.EngagementID == engagementID && c.Status == models.ProposalCardStatusSubmitted {
			clone := *c
			return &clone, nil
		}
	}
	return nil, nil
}

func (r cardStore) ListByEngagement(ctx context.Context, engagementID string) ([]models.ProposalCard, error) {
	defer r.s.lock(ctx)()

	var cards []models.ProposalCard
	for _, c := range r.s.cards {
		if c.EngagementID == engagementID {
			cards = append(cards, *c)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Sequence < cards[j].Sequence })
	return cards, nil
}

func (r cardStore) MaxSequence(ctx context.Context, engagementID string) (int, error) {
	defer r.s.lock(ctx)()

	maxSeq := 0
	for _, c := range r.s.cards {
		if c.EngagementID == engagementID && c.Sequence > maxSeq {
			maxSeq = c.Sequence
		}
	}
	return maxSeq, nil
}

func (r cardStore) HasAgreement(ctx context.Context, engagementID string) (bool, error) {
	defer r.s.lock(ctx)()

	for _, c := range r.s.cards {
		if c.EngagementID == engagementID && c.Status == models.ProposalCardStatusAgreement {
			return true, nil
		}
	}
	return false, nil
}

func (r cardStore) Transition(ctx context.Context, cardID string, from, to models.ProposalCardStatus, locked bool) (bool, error) {
	defer r.s.lock(ctx)()

	c, ok := r.s.cards[cardID]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if locked {
		c.Locked = true
	}
	if to.IsTerminal() {
		now := time.Now().UTC()
		c.RespondedAt = &now
	}
	return true, nil
}

func (r cardStore) InsertResponse(ctx context.Context, response *models.ProposalCardResponse) error {
	defer r.s.lock(ctx)()

	for _, existing := range r.s.responses[response.CardID] {
		if existing.PartyID == response.PartyID {
			return faults.New(faults.CodeDuplicateResponse, "party already responded to this card")
		}
	}

	if response.ID == "" {
		response.ID = uuid.New().String()
	}
	response.CreatedAt = time.Now().UTC()
	r.s.responses[response.CardID] = append(r.s.responses[response.CardID], *response)
	return nil
}

func (r cardStore) ListResponses(ctx context.Context, cardID string) ([]models.ProposalCardResponse, error) {
	defer r.s.lock(ctx)()
	return append([]models.ProposalCardResponse(nil), r.s.responses[cardID]...), nil
}

type completionStore struct{ s *Store }

func (r completionStore) Create(ctx context.Context, completion *models.ProjectCompletion) error {
	defer r.s.lock(ctx)()

	for _, c := range r.s.completions {
		if c.EngagementID == completion.EngagementID && c.Resolution == models.CompletionResolutionPending {
			return faults.New(faults.CodeAlreadyPendingReview, "engagement already has a completion pending review")
		}
	}

	if completion.ID == "" {
		completion.ID = uuid.New().String()
	}
	completion.CreatedAt = time.Now().UTC()
	if completion.Resolution == "" {
		completion.Resolution = models.CompletionResolutionPending
	}

	clone := *completion
	r.s.completions[completion.ID] = &clone
	return nil
}

func (r completionStore) GetByID(ctx context.Context, id string) (*models.ProjectCompletion, error) {
	defer r.s.lock(ctx)()
	return r.get(id)
}

func (r completionStore) GetByIDForUpdate(ctx context.Context, id string) (*models.ProjectCompletion, error) {
	defer r.s.lock(ctx)()
	return r.get(id)
}

func (r completionStore) get(id string) (*models.ProjectCompletion, error) {
	c, ok := r.s.completions[id]
	if !ok {
		return nil, faults.New(faults.CodeNotFound, fmt.Sprintf("completion %s not found", id))
	}
	clone := *c
	return &clone, nil
}

func (r completionStore) HasPending(ctx context.Context, engagementID string) (bool, error) {
	defer r.s.lock(ctx)()

	for _, c := range r.s.completions {
		if c.EngagementID == engagementID && c.Resolution == models.CompletionResolutionPending {
			return true, nil
		}
	}
	return false, nil
}

func (r completionStore) ListByEngagement(ctx context.Context, engagementID string) ([]models.ProjectCompletion, error) {
	defer r.s.lock(ctx)()

	var completions []models.ProjectCompletion
	for _, c := range r.s.completions {
		if c.EngagementID == engagementID {
			completions = append(completions, *c)
		}
	}
	sort.Slice(completions, func(i, j int) bool {
		return completions[i].CreatedAt.Before(completions[j].CreatedAt)
	})
	return completions, nil
}

func (r completionStore) Resolve(ctx context.Context, id string, decision models.CompletionResolution, notes *string, resolvedBy string) (bool, error) {
	defer r.s.lock(ctx)()

	c, ok := r.s.completions[id]
	if !ok || c.Resolution != models.CompletionResolutionPending {
		return false, nil
	}
	now := time.Now().UTC()
	c.Resolution = decision
	c.ResolutionNotes = notes
	c.ResolvedBy = &resolvedBy
	c.ResolvedAt = &now
	return true, nil
}
