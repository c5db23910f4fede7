package service

import (
	"context"
	"time"

	"github.com/surpriz/queenmama/internal/domain"
	"github.com/surpriz/queenmama/internal/telemetry"
)

// ManagementStats is the advisory snapshot of a user's knowledge store.
// Reading it never mutates anything. UsagePercentage is on a 0 to 100 scale.
type ManagementStats struct {
	TotalAtoms          int                     `json:"total_atoms"`
	CountByType         map[domain.AtomType]int `json:"count_by_type"`
	LowQualityCount     int                     `json:"low_quality_count"`
	StaleCount          int                     `json:"stale_count"`
	EstimatedDuplicates int                     `json:"estimated_duplicates"`
	UsagePercentage     float64                 `json:"usage_percentage"`
	HealthScore         int                     `json:"health_score"`
}

// duplicateBaseline is the per-type count above which excess atoms are
// counted as probable duplicates. A coarse heuristic, cheap enough to run on
// every stats read without touching embeddings.
const duplicateBaseline = 10

// StatsService computes advisory store metrics
type StatsService struct {
	repo   AtomRepositoryInterface
	purge  *PurgeService
	policy Policy
	now    func() time.Time
}

// NewStatsService creates a new StatsService instance
func NewStatsService(repo AtomRepositoryInterface, purge *PurgeService, policy Policy) *StatsService {
	return &StatsService{
		repo:   repo,
		purge:  purge,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetManagementStats aggregates counts, the duplicate heuristic and the
// health score for one user's store.
func (s *StatsService) GetManagementStats(ctx context.Context, userID string) (*ManagementStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "StatsService.GetManagementStats", telemetry.SpanAttributes{
		UserID:    userID,
		Operation: "stats",
	})
	defer span.End()

	if userID == "" {
		return nil, domain.ErrMissingUserID
	}

	atoms, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	stats := &ManagementStats{
		TotalAtoms:  len(atoms),
		CountByType: make(map[domain.AtomType]int),
	}
	for _, t := range domain.AtomTypes() {
		stats.CountByType[t] = 0
	}

	for _, a := range atoms {
		stats.CountByType[a.Type]++
		if s.purge.isLowQuality(a) {
			stats.LowQualityCount++
		}
		if s.purge.isStale(a, now) {
			stats.StaleCount++
		}
	}

	for _, count := range stats.CountByType {
		if count > duplicateBaseline {
			stats.EstimatedDuplicates += count - duplicateBaseline
		}
	}

	usageRatio := float64(stats.TotalAtoms) / float64(s.policy.MaxAtomsPerUser)
	stats.UsagePercentage = usageRatio * 100
	stats.HealthScore = healthScore(usageRatio, stats.LowQualityCount, stats.StaleCount, stats.TotalAtoms)

	return stats, nil
}

// healthScore rates store health on a 0 to 100 scale. Fullness is penalized
// in tiers; low-quality and stale atoms are penalized proportionally to
// their share of the store.
func healthScore(usageRatio float64, lowQuality, stale, total int) int {
	score := 100.0

	switch {
	case usageRatio >= 0.95:
		score -= 30
	case usageRatio >= 0.8:
		score -= 20
	case usageRatio >= 0.6:
		score -= 10
	}

	if total > 0 {
		score -= 40 * float64(lowQuality) / float64(total)
		score -= 30 * float64(stale) / float64(total)
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}
