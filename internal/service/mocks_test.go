package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/surpriz/queenmama/internal/domain"
	"github.com/surpriz/queenmama/internal/pagination"
)

// MockAtomRepository is a mock implementation of AtomRepositoryInterface
type MockAtomRepository struct {
	mock.Mock
}

func (m *MockAtomRepository) Create(ctx context.Context, a *domain.KnowledgeAtom) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockAtomRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeAtom, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeAtom), args.Error(1)
}

func (m *MockAtomRepository) ListByUser(ctx context.Context, userID string) ([]*domain.KnowledgeAtom, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeAtom), args.Error(1)
}

func (m *MockAtomRepository) ListByUserAndType(ctx context.Context, userID string, atomType domain.AtomType) ([]*domain.KnowledgeAtom, error) {
	args := m.Called(ctx, userID, atomType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeAtom), args.Error(1)
}

func (m *MockAtomRepository) ListByUserWithCursor(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) (*AtomPageResult, error) {
	args := m.Called(ctx, userID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AtomPageResult), args.Error(1)
}

func (m *MockAtomRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockAtomRepository) CountByUserPerType(ctx context.Context, userID string) (map[domain.AtomType]int, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.AtomType]int), args.Error(1)
}

func (m *MockAtomRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAtomRepository) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	args := m.Called(ctx, ids)
	return args.Int(0), args.Error(1)
}

func (m *MockAtomRepository) UpdateCounters(ctx context.Context, id string, usageCount, helpfulCount int, lastUsedAt *time.Time) error {
	args := m.Called(ctx, id, usageCount, helpfulCount, lastUsedAt)
	return args.Error(0)
}

func (m *MockAtomRepository) RecordUsage(ctx context.Context, id string, helpful bool, usedAt time.Time) error {
	args := m.Called(ctx, id, helpful, usedAt)
	return args.Error(0)
}

func (m *MockAtomRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockEmbeddingClient is a mock implementation of EmbeddingClient
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockCompletionClient is a mock implementation of CompletionClient
type MockCompletionClient struct {
	mock.Mock
}

func (m *MockCompletionClient) GenerateCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	args := m.Called(ctx, systemPrompt, userPrompt)
	return args.String(0), args.Error(1)
}

// MockTranscriptStore is a mock implementation of TranscriptStore
type MockTranscriptStore struct {
	mock.Mock
}

func (m *MockTranscriptStore) GetTranscript(ctx context.Context, sessionID string) (string, error) {
	args := m.Called(ctx, sessionID)
	return args.String(0), args.Error(1)
}

// MockUUIDGenerator returns a fixed sequence of IDs
type MockUUIDGenerator struct {
	callCount int
	uuids     []string
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	if m.callCount < len(m.uuids) {
		id := m.uuids[m.callCount]
		m.callCount++
		return id
	}
	return "default-uuid"
}

// testAtom builds an atom with sane defaults for table tests.
func testAtom(id, userID string, opts ...func(*domain.KnowledgeAtom)) *domain.KnowledgeAtom {
	a := &domain.KnowledgeAtom{
		ID:        id,
		UserID:    userID,
		Type:      domain.AtomTypeTalkingPoint,
		Content:   "Lead with the outcome the customer cares about",
		Embedding: []float32{1, 0, 0},
		CreatedAt: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		Metadata: domain.AtomMetadata{
			Confidence: 0.8,
			Source:     domain.AtomSourceExtraction,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func withType(t domain.AtomType) func(*domain.KnowledgeAtom) {
	return func(a *domain.KnowledgeAtom) { a.Type = t }
}

func withCounters(usage, helpful int) func(*domain.KnowledgeAtom) {
	return func(a *domain.KnowledgeAtom) {
		a.UsageCount = usage
		a.HelpfulCount = helpful
	}
}

func withEmbedding(e []float32) func(*domain.KnowledgeAtom) {
	return func(a *domain.KnowledgeAtom) { a.Embedding = e }
}

func withCreatedAt(t time.Time) func(*domain.KnowledgeAtom) {
	return func(a *domain.KnowledgeAtom) { a.CreatedAt = t }
}

func withLastUsedAt(t time.Time) func(*domain.KnowledgeAtom) {
	return func(a *domain.KnowledgeAtom) { a.LastUsedAt = &t }
}
