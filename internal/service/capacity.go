package service

import (
	"context"
	"sort"

	"github.com/surpriz/queenmama/internal/domain"
	"github.com/surpriz/queenmama/internal/telemetry"
)

// AtomLimitStatus describes how full a user's knowledge store is.
// UsagePercentage is on a 0 to 100 scale.
type AtomLimitStatus struct {
	Current         int     `json:"current"`
	Limit           int     `json:"limit"`
	Remaining       int     `json:"remaining"`
	CanCreate       bool    `json:"can_create"`
	UsagePercentage float64 `json:"usage_percentage"`
}

// CapacityService enforces the per-user atom limit
type CapacityService struct {
	repo   AtomRepositoryInterface
	purge  *PurgeService
	policy Policy
}

// NewCapacityService creates a new CapacityService instance
func NewCapacityService(repo AtomRepositoryInterface, purge *PurgeService, policy Policy) *CapacityService {
	return &CapacityService{
		repo:   repo,
		purge:  purge,
		policy: policy,
	}
}

// CheckLimit reports the user's current capacity status.
func (s *CapacityService) CheckLimit(ctx context.Context, userID string) (*AtomLimitStatus, error) {
	if userID == "" {
		return nil, domain.ErrMissingUserID
	}

	current, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit := s.policy.MaxAtomsPerUser
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}

	return &AtomLimitStatus{
		Current:         current,
		Limit:           limit,
		Remaining:       remaining,
		CanCreate:       current < limit,
		UsagePercentage: float64(current) / float64(limit) * 100,
	}, nil
}

// MakeRoom frees capacity for `needed` new atoms. It purges first and falls
// back to evicting the least valuable atoms when purging is not enough.
// Returns the number of slots actually freed, which may be less than needed.
func (s *CapacityService) MakeRoom(ctx context.Context, userID string, needed int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "CapacityService.MakeRoom", telemetry.SpanAttributes{
		UserID:    userID,
		Operation: "make_room",
	})
	defer span.End()

	if userID == "" {
		return 0, domain.ErrMissingUserID
	}
	if needed <= 0 {
		return 0, nil
	}

	status, err := s.CheckLimit(ctx, userID)
	if err != nil {
		return 0, err
	}

	deficit := needed - status.Remaining
	if deficit <= 0 {
		return 0, nil
	}

	freed := 0
	purgeResult, err := s.purge.PurgeUserAtoms(ctx, userID, deficit)
	if err != nil {
		span.SetError(err)
		return 0, err
	}
	freed += purgeResult.PurgedCount

	if freed >= deficit {
		return freed, nil
	}

	evicted, err := s.forceEvict(ctx, userID, deficit-freed)
	if err != nil {
		span.SetError(err)
		return freed, err
	}
	freed += evicted

	return freed, nil
}

// forceEvict removes up to count atoms, least valuable first: lowest usage,
// then lowest helpful count, then oldest.
func (s *CapacityService) forceEvict(ctx context.Context, userID string, count int) (int, error) {
	if count <= 0 {
		return 0, nil
	}

	atoms, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(atoms) == 0 {
		return 0, nil
	}

	sort.SliceStable(atoms, func(i, j int) bool {
		if atoms[i].UsageCount != atoms[j].UsageCount {
			return atoms[i].UsageCount < atoms[j].UsageCount
		}
		if atoms[i].HelpfulCount != atoms[j].HelpfulCount {
			return atoms[i].HelpfulCount < atoms[j].HelpfulCount
		}
		return atoms[i].CreatedAt.Before(atoms[j].CreatedAt)
	})

	if count > len(atoms) {
		count = len(atoms)
	}
	ids := make([]string, 0, count)
	for _, a := range atoms[:count] {
		ids = append(ids, a.ID)
	}

	return s.repo.DeleteByIDs(ctx, ids)
}
