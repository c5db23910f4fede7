package service

import (
	"context"
	"sort"
	"time"

	"github.com/surpriz/queenmama/internal/domain"
	"github.com/surpriz/queenmama/internal/telemetry"
)

// PurgeResult reports what a purge pass removed. Counts refer to the final,
// possibly truncated purge set; an atom matching both predicates is purged
// once but appears in both per-predicate counts.
type PurgeResult struct {
	PurgedCount     int      `json:"purged_count"`
	LowQualityCount int      `json:"low_quality_count"`
	StaleCount      int      `json:"stale_count"`
	Errors          []string `json:"errors"`
}

// PurgeService removes low-quality and stale atoms
type PurgeService struct {
	repo   AtomRepositoryInterface
	policy Policy
	now    func() time.Time
}

// NewPurgeService creates a new PurgeService instance
func NewPurgeService(repo AtomRepositoryInterface, policy Policy) *PurgeService {
	return &PurgeService{
		repo:   repo,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// purgeCandidate carries the predicate flags an atom matched.
type purgeCandidate struct {
	atom       *domain.KnowledgeAtom
	lowQuality bool
	stale      bool
}

// PurgeUserAtoms removes the union of low-quality and stale atoms for a user.
// maxToPurge <= 0 means unlimited. With no intervening usage a second run
// purges nothing (idempotent).
func (s *PurgeService) PurgeUserAtoms(ctx context.Context, userID string, maxToPurge int) (*PurgeResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "PurgeService.PurgeUserAtoms", telemetry.SpanAttributes{
		UserID:    userID,
		Operation: "purge",
	})
	defer span.End()

	if userID == "" {
		return nil, domain.ErrMissingUserID
	}

	atoms, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	candidates := s.collectCandidates(atoms)
	if maxToPurge > 0 && len(candidates) > maxToPurge {
		candidates = candidates[:maxToPurge]
	}

	result := &PurgeResult{Errors: []string{}}
	if len(candidates) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.atom.ID)
		if c.lowQuality {
			result.LowQualityCount++
		}
		if c.stale {
			result.StaleCount++
		}
	}

	purged, err := s.repo.DeleteByIDs(ctx, ids)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	result.PurgedCount = purged

	return result, nil
}

// collectCandidates returns the deduplicated union of both predicates,
// ordered worst-first: low-quality atoms by ascending helpful ratio, then
// stale-only atoms oldest first. The ordering determines which atoms survive
// a maxToPurge truncation.
func (s *PurgeService) collectCandidates(atoms []*domain.KnowledgeAtom) []purgeCandidate {
	now := s.now()

	var lowQuality, staleOnly []purgeCandidate
	for _, a := range atoms {
		lq := s.isLowQuality(a)
		st := s.isStale(a, now)
		switch {
		case lq:
			lowQuality = append(lowQuality, purgeCandidate{atom: a, lowQuality: true, stale: st})
		case st:
			staleOnly = append(staleOnly, purgeCandidate{atom: a, stale: true})
		}
	}

	sort.SliceStable(lowQuality, func(i, j int) bool {
		return lowQuality[i].atom.HelpfulRatio() < lowQuality[j].atom.HelpfulRatio()
	})
	sort.SliceStable(staleOnly, func(i, j int) bool {
		return lastActivity(staleOnly[i].atom).Before(lastActivity(staleOnly[j].atom))
	})

	return append(lowQuality, staleOnly...)
}

func (s *PurgeService) isLowQuality(a *domain.KnowledgeAtom) bool {
	return a.UsageCount >= s.policy.LowQualityMinUsage &&
		a.HelpfulRatio() < s.policy.LowQualityMaxRatio
}

func (s *PurgeService) isStale(a *domain.KnowledgeAtom, now time.Time) bool {
	cutoff := now.Add(-s.policy.StaleAfter)
	if a.LastUsedAt != nil {
		return a.LastUsedAt.Before(cutoff)
	}
	return a.CreatedAt.Before(cutoff)
}

// lastActivity is the timestamp staleness is judged against.
func lastActivity(a *domain.KnowledgeAtom) time.Time {
	if a.LastUsedAt != nil {
		return *a.LastUsedAt
	}
	return a.CreatedAt
}
