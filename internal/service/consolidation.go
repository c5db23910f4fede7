package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/surpriz/queenmama/internal/domain"
	"github.com/surpriz/queenmama/internal/telemetry"
)

// ConsolidationResult reports a duplicate-merge pass.
type ConsolidationResult struct {
	GroupsFound    int      `json:"groups_found"`
	AtomsMerged    int      `json:"atoms_merged"`
	AtomsRemaining int      `json:"atoms_remaining"`
	Errors         []string `json:"errors"`
}

// ConsolidationService merges near-duplicate atoms
type ConsolidationService struct {
	repo   AtomRepositoryInterface
	policy Policy
}

// NewConsolidationService creates a new ConsolidationService instance
func NewConsolidationService(repo AtomRepositoryInterface, policy Policy) *ConsolidationService {
	return &ConsolidationService{
		repo:   repo,
		policy: policy,
	}
}

// ConsolidateUserAtoms merges groups of same-type atoms whose embeddings are
// mutually connected at or above the similarity threshold. The keeper of each
// group absorbs the group's usage and helpful counts; the rest are deleted.
// A failure in one type is recorded and does not stop the other types.
func (s *ConsolidationService) ConsolidateUserAtoms(ctx context.Context, userID string) (*ConsolidationResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ConsolidationService.ConsolidateUserAtoms", telemetry.SpanAttributes{
		UserID:    userID,
		Operation: "consolidate",
	})
	defer span.End()

	if userID == "" {
		return nil, domain.ErrMissingUserID
	}

	result := &ConsolidationResult{Errors: []string{}}

	for _, atomType := range domain.AtomTypes() {
		atoms, err := s.repo.ListByUserAndType(ctx, userID, atomType)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: list: %v", atomType, err))
			continue
		}

		merged, groups, err := s.consolidateType(ctx, atoms)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", atomType, err))
		}
		result.GroupsFound += groups
		result.AtomsMerged += merged
	}

	remaining, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		span.SetError(err)
		result.Errors = append(result.Errors, fmt.Sprintf("count remaining: %v", err))
	} else {
		result.AtomsRemaining = remaining
	}

	return result, nil
}

// consolidateType merges duplicate groups within one atom type. Returns the
// number of atoms removed and the number of multi-atom groups found.
func (s *ConsolidationService) consolidateType(ctx context.Context, atoms []*domain.KnowledgeAtom) (int, int, error) {
	if len(atoms) < 2 {
		return 0, 0, nil
	}

	uf := newUnionFind(len(atoms))
	for i := 0; i < len(atoms); i++ {
		for j := i + 1; j < len(atoms); j++ {
			if cosineSimilarity(atoms[i].Embedding, atoms[j].Embedding) >= s.policy.SimilarityThreshold {
				uf.union(i, j)
			}
		}
	}

	merged, groups := 0, 0
	for _, group := range uf.components() {
		if len(group) < 2 {
			continue
		}
		groups++

		members := make([]*domain.KnowledgeAtom, len(group))
		for i, idx := range group {
			members[i] = atoms[idx]
		}

		n, err := s.mergeGroup(ctx, members)
		merged += n
		if err != nil {
			return merged, groups, err
		}
	}

	return merged, groups, nil
}

// mergeGroup folds a duplicate group into its keeper. The keeper's counters
// are updated before the losers are deleted so an interrupted merge can lose
// redundancy but never usage history.
func (s *ConsolidationService) mergeGroup(ctx context.Context, group []*domain.KnowledgeAtom) (int, error) {
	keeper := selectKeeper(group)

	totalUsage, totalHelpful := 0, 0
	var lastUsed *time.Time
	loserIDs := make([]string, 0, len(group)-1)
	for _, a := range group {
		totalUsage += a.UsageCount
		totalHelpful += a.HelpfulCount
		if a.LastUsedAt != nil && (lastUsed == nil || a.LastUsedAt.After(*lastUsed)) {
			t := *a.LastUsedAt
			lastUsed = &t
		}
		if a.ID != keeper.ID {
			loserIDs = append(loserIDs, a.ID)
		}
	}

	if err := s.repo.UpdateCounters(ctx, keeper.ID, totalUsage, totalHelpful, lastUsed); err != nil {
		return 0, fmt.Errorf("update keeper %s: %w", keeper.ID, err)
	}

	n, err := s.repo.DeleteByIDs(ctx, loserIDs)
	if err != nil {
		return n, fmt.Errorf("delete merged atoms: %w", err)
	}
	return n, nil
}

// selectKeeper picks the group member that survives a merge: best helpful
// ratio, then most used, then oldest, with ID as the final tie-break so the
// choice is deterministic.
func selectKeeper(group []*domain.KnowledgeAtom) *domain.KnowledgeAtom {
	sorted := make([]*domain.KnowledgeAtom, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].HelpfulRatio(), sorted[j].HelpfulRatio()
		if ri != rj {
			return ri > rj
		}
		if sorted[i].UsageCount != sorted[j].UsageCount {
			return sorted[i].UsageCount > sorted[j].UsageCount
		}
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0]
}
