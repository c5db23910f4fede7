package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/surpriz/queenmama/internal/domain"
)

// expectEmptyTypes registers empty list expectations for every type except
// the given ones, so a test only spells out the types it cares about.
func expectEmptyTypes(repo *MockAtomRepository, userID string, except ...domain.AtomType) {
	skip := make(map[domain.AtomType]bool)
	for _, t := range except {
		skip[t] = true
	}
	for _, t := range domain.AtomTypes() {
		if !skip[t] {
			repo.On("ListByUserAndType", mock.Anything, userID, t).Return([]*domain.KnowledgeAtom{}, nil)
		}
	}
}

func TestConsolidationService_ConsolidateUserAtoms(t *testing.T) {
	ctx := context.Background()

	t.Run("merges near-duplicates into the keeper", func(t *testing.T) {
		repo := new(MockAtomRepository)
		svc := NewConsolidationService(repo, DefaultPolicy())

		used := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
		usedLater := used.Add(48 * time.Hour)

		// Nearly parallel embeddings, similarity well above 0.85.
		atoms := []*domain.KnowledgeAtom{
			testAtom("a1", "user-1", withEmbedding([]float32{1, 0.05, 0}), withCounters(10, 8), withLastUsedAt(used)),
			testAtom("a2", "user-1", withEmbedding([]float32{1, 0.06, 0}), withCounters(4, 1), withLastUsedAt(usedLater)),
			// Orthogonal embedding, stays untouched.
			testAtom("a3", "user-1", withEmbedding([]float32{0, 0, 1}), withCounters(2, 2)),
		}

		expectEmptyTypes(repo, "user-1", domain.AtomTypeTalkingPoint)
		repo.On("ListByUserAndType", mock.Anything, "user-1", domain.AtomTypeTalkingPoint).Return(atoms, nil)
		// Keeper a1 (ratio 0.8 beats 0.25) absorbs the group's counters.
		repo.On("UpdateCounters", mock.Anything, "a1", 14, 9, mock.MatchedBy(func(ts *time.Time) bool {
			return ts != nil && ts.Equal(usedLater)
		})).Return(nil)
		repo.On("DeleteByIDs", mock.Anything, []string{"a2"}).Return(1, nil)
		repo.On("CountByUser", mock.Anything, "user-1").Return(2, nil)

		result, err := svc.ConsolidateUserAtoms(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, 1, result.GroupsFound)
		assert.Equal(t, 1, result.AtomsMerged)
		assert.Equal(t, 2, result.AtomsRemaining)
		assert.Empty(t, result.Errors)
		repo.AssertExpectations(t)
	})

	t.Run("keeper tie-breaks on usage then age then id", func(t *testing.T) {
		created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

		sameRatio := []*domain.KnowledgeAtom{
			testAtom("b2", "user-1", withCounters(4, 2), withCreatedAt(created)),
			testAtom("b1", "user-1", withCounters(8, 4), withCreatedAt(created)),
		}
		assert.Equal(t, "b1", selectKeeper(sameRatio).ID, "higher usage wins on equal ratio")

		sameUsage := []*domain.KnowledgeAtom{
			testAtom("c2", "user-1", withCounters(4, 2), withCreatedAt(created.Add(time.Hour))),
			testAtom("c1", "user-1", withCounters(4, 2), withCreatedAt(created)),
		}
		assert.Equal(t, "c1", selectKeeper(sameUsage).ID, "older wins on equal usage")

		identical := []*domain.KnowledgeAtom{
			testAtom("d2", "user-1", withCounters(4, 2), withCreatedAt(created)),
			testAtom("d1", "user-1", withCounters(4, 2), withCreatedAt(created)),
		}
		assert.Equal(t, "d1", selectKeeper(identical).ID, "id breaks the final tie")
	})

	t.Run("different types never merge", func(t *testing.T) {
		repo := new(MockAtomRepository)
		svc := NewConsolidationService(repo, DefaultPolicy())

		emb := []float32{1, 0, 0}
		expectEmptyTypes(repo, "user-1", domain.AtomTypeQuestion, domain.AtomTypeTalkingPoint)
		repo.On("ListByUserAndType", mock.Anything, "user-1", domain.AtomTypeQuestion).
			Return([]*domain.KnowledgeAtom{testAtom("q1", "user-1", withType(domain.AtomTypeQuestion), withEmbedding(emb))}, nil)
		repo.On("ListByUserAndType", mock.Anything, "user-1", domain.AtomTypeTalkingPoint).
			Return([]*domain.KnowledgeAtom{testAtom("t1", "user-1", withEmbedding(emb))}, nil)
		repo.On("CountByUser", mock.Anything, "user-1").Return(2, nil)

		result, err := svc.ConsolidateUserAtoms(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, 0, result.GroupsFound)
		assert.Equal(t, 0, result.AtomsMerged)
		repo.AssertNotCalled(t, "DeleteByIDs", mock.Anything, mock.Anything)
	})

	t.Run("dissimilar atoms of same type stay apart", func(t *testing.T) {
		repo := new(MockAtomRepository)
		svc := NewConsolidationService(repo, DefaultPolicy())

		atoms := []*domain.KnowledgeAtom{
			testAtom("a1", "user-1", withEmbedding([]float32{1, 0, 0})),
			testAtom("a2", "user-1", withEmbedding([]float32{0, 1, 0})),
		}

		expectEmptyTypes(repo, "user-1", domain.AtomTypeTalkingPoint)
		repo.On("ListByUserAndType", mock.Anything, "user-1", domain.AtomTypeTalkingPoint).Return(atoms, nil)
		repo.On("CountByUser", mock.Anything, "user-1").Return(2, nil)

		result, err := svc.ConsolidateUserAtoms(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, 0, result.GroupsFound)
	})

	t.Run("a failed type does not stop the others", func(t *testing.T) {
		repo := new(MockAtomRepository)
		svc := NewConsolidationService(repo, DefaultPolicy())

		dupes := []*domain.KnowledgeAtom{
			testAtom("a1", "user-1", withType(domain.AtomTypeQuestion), withEmbedding([]float32{1, 0, 0}), withCounters(5, 4)),
			testAtom("a2", "user-1", withType(domain.AtomTypeQuestion), withEmbedding([]float32{1, 0.01, 0}), withCounters(1, 0)),
		}

		repo.On("ListByUserAndType", mock.Anything, "user-1", domain.AtomTypeObjectionResponse).
			Return(nil, errors.New("connection lost"))
		expectEmptyTypes(repo, "user-1", domain.AtomTypeObjectionResponse, domain.AtomTypeQuestion)
		repo.On("ListByUserAndType", mock.Anything, "user-1", domain.AtomTypeQuestion).Return(dupes, nil)
		repo.On("UpdateCounters", mock.Anything, "a1", 6, 4, (*time.Time)(nil)).Return(nil)
		repo.On("DeleteByIDs", mock.Anything, []string{"a2"}).Return(1, nil)
		repo.On("CountByUser", mock.Anything, "user-1").Return(1, nil)

		result, err := svc.ConsolidateUserAtoms(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, 1, result.AtomsMerged)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "objection_response")
		repo.AssertExpectations(t)
	})

	t.Run("requires user id", func(t *testing.T) {
		repo := new(MockAtomRepository)
		svc := NewConsolidationService(repo, DefaultPolicy())

		_, err := svc.ConsolidateUserAtoms(ctx, "")

		assert.ErrorIs(t, err, domain.ErrMissingUserID)
	})
}
