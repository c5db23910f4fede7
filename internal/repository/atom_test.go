//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surpriz/queenmama/internal/domain"
	"github.com/surpriz/queenmama/internal/pagination"
	"github.com/surpriz/queenmama/internal/testutil"
)

func newTestAtom(userID string) *domain.KnowledgeAtom {
	return &domain.KnowledgeAtom{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      domain.AtomTypeTalkingPoint,
		Content:   "Lead with the outcome the customer cares about",
		Embedding: []float32{0.1, 0.2, 0.3},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		Metadata: domain.AtomMetadata{
			Context:    "discovery calls",
			Confidence: 0.8,
			Source:     domain.AtomSourceExtraction,
		},
	}
}

func TestAtomRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewAtomRepository(pool)

	a := newTestAtom("user-1")
	a.SourceSessionID = "session-1"

	require.NoError(t, repo.Create(ctx, a))

	retrieved, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, retrieved.ID)
	assert.Equal(t, a.UserID, retrieved.UserID)
	assert.Equal(t, a.Type, retrieved.Type)
	assert.Equal(t, a.Content, retrieved.Content)
	assert.Equal(t, a.SourceSessionID, retrieved.SourceSessionID)
	assert.Equal(t, a.Metadata.Context, retrieved.Metadata.Context)
	assert.Equal(t, a.Metadata.Confidence, retrieved.Metadata.Confidence)
	assert.Equal(t, a.Metadata.Source, retrieved.Metadata.Source)
	assert.InDeltaSlice(t, a.Embedding, retrieved.Embedding, 1e-6)
	assert.Nil(t, retrieved.LastUsedAt)
}

func TestAtomRepository_GetByID_NotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewAtomRepository(pool)

	_, err := repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrAtomNotFound)
}

func TestAtomRepository_ListAndCount(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewAtomRepository(pool)

	for i := 0; i < 3; i++ {
		a := newTestAtom("user-1")
		a.CreatedAt = a.CreatedAt.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Create(ctx, a))
	}
	q := newTestAtom("user-1")
	q.Type = domain.AtomTypeQuestion
	require.NoError(t, repo.Create(ctx, q))
	require.NoError(t, repo.Create(ctx, newTestAtom("user-2")))

	atoms, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, atoms, 4)

	questions, err := repo.ListByUserAndType(ctx, "user-1", domain.AtomTypeQuestion)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, q.ID, questions[0].ID)

	count, err := repo.CountByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	perType, err := repo.CountByUserPerType(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, perType[domain.AtomTypeTalkingPoint])
	assert.Equal(t, 1, perType[domain.AtomTypeQuestion])

	userIDs, err := repo.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-2"}, userIDs)
}

func TestAtomRepository_ListByUserWithCursor(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewAtomRepository(pool)

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		a := newTestAtom("user-1")
		a.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Create(ctx, a))
	}

	page1, err := repo.ListByUserWithCursor(ctx, "user-1", nil, 2)
	require.NoError(t, err)
	assert.Len(t, page1.Items, 2)
	assert.True(t, page1.HasMore)
	require.NotEmpty(t, page1.NextCursor)

	cursor, err := pagination.DecodeCursor(page1.NextCursor)
	require.NoError(t, err)

	page2, err := repo.ListByUserWithCursor(ctx, "user-1", cursor, 2)
	require.NoError(t, err)
	assert.Len(t, page2.Items, 2)
	assert.True(t, page2.HasMore)

	// Newest first, no overlap between pages.
	assert.True(t, page1.Items[0].CreatedAt.After(page2.Items[0].CreatedAt))
	for _, a := range page2.Items {
		for _, b := range page1.Items {
			assert.NotEqual(t, b.ID, a.ID)
		}
	}

	cursor2, err := pagination.DecodeCursor(page2.NextCursor)
	require.NoError(t, err)
	page3, err := repo.ListByUserWithCursor(ctx, "user-1", cursor2, 2)
	require.NoError(t, err)
	assert.Len(t, page3.Items, 1)
	assert.False(t, page3.HasMore)
	assert.Empty(t, page3.NextCursor)
}

func TestAtomRepository_DeleteByIDs(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewAtomRepository(pool)

	a1 := newTestAtom("user-1")
	a2 := newTestAtom("user-1")
	a3 := newTestAtom("user-1")
	for _, a := range []*domain.KnowledgeAtom{a1, a2, a3} {
		require.NoError(t, repo.Create(ctx, a))
	}

	deleted, err := repo.DeleteByIDs(ctx, []string{a1.ID, a2.ID, uuid.NewString()})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	count, err := repo.CountByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	deleted, err = repo.DeleteByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestAtomRepository_RecordUsage(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewAtomRepository(pool)

	a := newTestAtom("user-1")
	require.NoError(t, repo.Create(ctx, a))

	usedAt := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.RecordUsage(ctx, a.ID, true, usedAt))
	require.NoError(t, repo.RecordUsage(ctx, a.ID, false, usedAt.Add(time.Minute)))

	retrieved, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, retrieved.UsageCount)
	assert.Equal(t, 1, retrieved.HelpfulCount)
	require.NotNil(t, retrieved.LastUsedAt)
	assert.Equal(t, usedAt.Add(time.Minute), retrieved.LastUsedAt.UTC())

	err = repo.RecordUsage(ctx, uuid.NewString(), true, usedAt)
	assert.ErrorIs(t, err, domain.ErrAtomNotFound)
}

func TestAtomRepository_UpdateCounters(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewAtomRepository(pool)

	a := newTestAtom("user-1")
	require.NoError(t, repo.Create(ctx, a))

	lastUsed := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.UpdateCounters(ctx, a.ID, 14, 9, &lastUsed))

	retrieved, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 14, retrieved.UsageCount)
	assert.Equal(t, 9, retrieved.HelpfulCount)
	require.NotNil(t, retrieved.LastUsedAt)
	assert.Equal(t, lastUsed, retrieved.LastUsedAt.UTC())
}
