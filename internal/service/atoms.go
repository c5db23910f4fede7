package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/surpriz/queenmama/internal/domain"
	"github.com/surpriz/queenmama/internal/pagination"
	"github.com/surpriz/queenmama/internal/telemetry"
)

// AtomRepositoryInterface defines the repository interface for atom persistence.
// Single create/delete/bulk-delete calls are atomic at the storage layer;
// cross-call sequences are coordinated by the services via per-user locks.
type AtomRepositoryInterface interface {
	Create(ctx context.Context, a *domain.KnowledgeAtom) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeAtom, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.KnowledgeAtom, error)
	ListByUserAndType(ctx context.Context, userID string, atomType domain.AtomType) ([]*domain.KnowledgeAtom, error)
	ListByUserWithCursor(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) (*AtomPageResult, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	CountByUserPerType(ctx context.Context, userID string) (map[domain.AtomType]int, error)
	Delete(ctx context.Context, id string) error
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
	UpdateCounters(ctx context.Context, id string, usageCount, helpfulCount int, lastUsedAt *time.Time) error
	RecordUsage(ctx context.Context, id string, helpful bool, usedAt time.Time) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

type AtomPageResult struct {
	Items      []*domain.KnowledgeAtom
	NextCursor string
	HasMore    bool
}

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// AtomService handles manual atom entry, listing, deletion and usage tracking
type AtomService struct {
	repo      AtomRepositoryInterface
	embedding EmbeddingClient
	capacity  *CapacityService
	policy    Policy
	locks     *userLocks
	uuidGen   UUIDGenerator
	now       func() time.Time
}

// NewAtomService creates a new AtomService instance
func NewAtomService(
	repo AtomRepositoryInterface,
	embedding EmbeddingClient,
	capacity *CapacityService,
	policy Policy,
	locks *userLocks,
) *AtomService {
	return &AtomService{
		repo:      repo,
		embedding: embedding,
		capacity:  capacity,
		policy:    policy,
		locks:     locks,
		uuidGen:   &DefaultUUIDGenerator{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateAtomInput represents the input for manual atom creation
type CreateAtomInput struct {
	UserID          string
	Type            domain.AtomType
	Content         string
	Context         string
	SourceSessionID string
}

type ListAtomsInput struct {
	UserID string
	Cursor string
	Limit  int
}

type ListAtomsOutput struct {
	Items   []*domain.KnowledgeAtom
	Cursor  string
	HasMore bool
}

// CreateManual stores a user-entered atom. Manual entries always carry
// confidence 1.0. Capacity is enforced under the per-user lock; when the
// store is full the caller gets ErrCapacityExhausted rather than an eviction.
func (s *AtomService) CreateManual(ctx context.Context, input CreateAtomInput) (*domain.KnowledgeAtom, error) {
	ctx, span := telemetry.StartSpan(ctx, "AtomService.CreateManual", telemetry.SpanAttributes{
		UserID:    input.UserID,
		Operation: "create_manual",
	})
	defer span.End()

	if input.UserID == "" {
		return nil, domain.ErrMissingUserID
	}

	unlock := s.locks.Lock(input.UserID)
	defer unlock()

	status, err := s.capacity.CheckLimit(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if !status.CanCreate {
		return nil, domain.ErrCapacityExhausted
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.policy.EmbeddingTimeout)
	defer cancel()
	embedding, err := s.embedding.GenerateEmbedding(embedCtx, input.Content)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "failed to embed atom content", err)
	}

	atom := &domain.KnowledgeAtom{
		ID:              s.uuidGen.NewString(),
		UserID:          input.UserID,
		Type:            input.Type,
		Content:         truncate(input.Content, domain.MaxContentChars),
		Embedding:       embedding,
		CreatedAt:       s.now(),
		SourceSessionID: input.SourceSessionID,
		Metadata: domain.AtomMetadata{
			Context:    truncate(input.Context, domain.MaxContextChars),
			Confidence: 1.0,
			Source:     domain.AtomSourceManual,
		},
	}

	if err := domain.ValidateKnowledgeAtom(atom); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid atom", err)
	}

	if err := s.repo.Create(ctx, atom); err != nil {
		return nil, err
	}

	return atom, nil
}

// GetByID retrieves an atom owned by the given user
func (s *AtomService) GetByID(ctx context.Context, userID, atomID string) (*domain.KnowledgeAtom, error) {
	atom, err := s.repo.GetByID(ctx, atomID)
	if err != nil {
		return nil, err
	}
	if atom.UserID != userID {
		return nil, domain.ErrAtomNotFound
	}
	return atom, nil
}

// List returns a page of the user's atoms, most recent first
func (s *AtomService) List(ctx context.Context, input ListAtomsInput) (*ListAtomsOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "AtomService.List", telemetry.SpanAttributes{
		UserID:    input.UserID,
		Operation: "list",
	})
	defer span.End()

	cursor, _ := pagination.DecodeCursor(input.Cursor)
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	result, err := s.repo.ListByUserWithCursor(ctx, input.UserID, cursor, limit)
	if err != nil {
		return nil, err
	}

	return &ListAtomsOutput{
		Items:   result.Items,
		Cursor:  result.NextCursor,
		HasMore: result.HasMore,
	}, nil
}

// Delete removes an atom after verifying ownership
func (s *AtomService) Delete(ctx context.Context, userID, atomID string) error {
	ctx, span := telemetry.StartSpan(ctx, "AtomService.Delete", telemetry.SpanAttributes{
		UserID:    userID,
		AtomID:    atomID,
		Operation: "delete",
	})
	defer span.End()

	if _, err := s.GetByID(ctx, userID, atomID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, atomID)
}

// RecordUsage increments an atom's usage counters and stamps last_used_at.
// helpful additionally increments the helpful count, so the
// helpfulCount <= usageCount invariant holds by construction.
func (s *AtomService) RecordUsage(ctx context.Context, userID, atomID string, helpful bool) error {
	ctx, span := telemetry.StartSpan(ctx, "AtomService.RecordUsage", telemetry.SpanAttributes{
		UserID:    userID,
		AtomID:    atomID,
		Operation: "record_usage",
	})
	defer span.End()

	if _, err := s.GetByID(ctx, userID, atomID); err != nil {
		return err
	}
	return s.repo.RecordUsage(ctx, atomID, helpful, s.now())
}

// truncate limits s to max characters (runes, not bytes).
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
