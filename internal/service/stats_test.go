package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/surpriz/queenmama/internal/domain"
)

func newTestStatsService(repo AtomRepositoryInterface) *StatsService {
	s := NewStatsService(repo, newTestPurgeService(repo), DefaultPolicy())
	s.now = func() time.Time { return purgeNow }
	return s
}

func TestStatsService_GetManagementStats(t *testing.T) {
	ctx := context.Background()

	fresh := purgeNow.Add(-24 * time.Hour)
	old := purgeNow.Add(-120 * 24 * time.Hour)

	t.Run("aggregates counts and health", func(t *testing.T) {
		repo := new(MockAtomRepository)
		svc := newTestStatsService(repo)

		atoms := []*domain.KnowledgeAtom{
			testAtom("a1", "user-1", withType(domain.AtomTypeQuestion), withCounters(8, 6), withLastUsedAt(fresh)),
			testAtom("a2", "user-1", withCounters(10, 1), withLastUsedAt(fresh)),
			testAtom("a3", "user-1", withCounters(8, 6), withLastUsedAt(old)),
			testAtom("a4", "user-1", withCreatedAt(fresh)),
		}

		repo.On("ListByUser", mock.Anything, "user-1").Return(atoms, nil)

		stats, err := svc.GetManagementStats(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, 4, stats.TotalAtoms)
		assert.Equal(t, 1, stats.CountByType[domain.AtomTypeQuestion])
		assert.Equal(t, 3, stats.CountByType[domain.AtomTypeTalkingPoint])
		assert.Equal(t, 0, stats.CountByType[domain.AtomTypeClosingTechnique])
		assert.Equal(t, 1, stats.LowQualityCount)
		assert.Equal(t, 1, stats.StaleCount)
		assert.Equal(t, 0, stats.EstimatedDuplicates)
		assert.InDelta(t, 100*4.0/500, stats.UsagePercentage, 1e-9)
		// 100 - 0 fullness - 40*(1/4) - 30*(1/4) = 82 (truncated)
		assert.Equal(t, 82, stats.HealthScore)
	})

	t.Run("empty store is perfectly healthy", func(t *testing.T) {
		repo := new(MockAtomRepository)
		svc := newTestStatsService(repo)

		repo.On("ListByUser", mock.Anything, "user-1").Return([]*domain.KnowledgeAtom{}, nil)

		stats, err := svc.GetManagementStats(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, 0, stats.TotalAtoms)
		assert.Equal(t, 100, stats.HealthScore)
		assert.Len(t, stats.CountByType, len(domain.AtomTypes()))
	})

	t.Run("per-type excess over ten counts as duplicates", func(t *testing.T) {
		repo := new(MockAtomRepository)
		svc := newTestStatsService(repo)

		var atoms []*domain.KnowledgeAtom
		for i := 0; i < 13; i++ {
			atoms = append(atoms, testAtom(string(rune('a'+i)), "user-1",
				withType(domain.AtomTypeQuestion), withLastUsedAt(fresh)))
		}
		for i := 0; i < 5; i++ {
			atoms = append(atoms, testAtom(string(rune('n'+i)), "user-1", withLastUsedAt(fresh)))
		}

		repo.On("ListByUser", mock.Anything, "user-1").Return(atoms, nil)

		stats, err := svc.GetManagementStats(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, 3, stats.EstimatedDuplicates)
	})

	t.Run("requires user id", func(t *testing.T) {
		repo := new(MockAtomRepository)
		svc := newTestStatsService(repo)

		_, err := svc.GetManagementStats(ctx, "")

		assert.ErrorIs(t, err, domain.ErrMissingUserID)
	})
}

func TestHealthScore(t *testing.T) {
	cases := []struct {
		name       string
		usageRatio float64
		lowQuality int
		stale      int
		total      int
		want       int
	}{
		{"pristine", 0.1, 0, 0, 50, 100},
		{"usage over 60 percent", 0.65, 0, 0, 325, 90},
		{"usage over 80 percent", 0.85, 0, 0, 425, 80},
		{"usage over 95 percent", 0.96, 0, 0, 480, 70},
		{"everything bad clamps to zero", 1.0, 480, 480, 480, 0},
		{"empty store", 0, 0, 0, 0, 100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, healthScore(tc.usageRatio, tc.lowQuality, tc.stale, tc.total))
		})
	}
}
