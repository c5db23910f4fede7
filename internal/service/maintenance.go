package service

import (
	"context"

	"github.com/surpriz/queenmama/internal/domain"
	"github.com/surpriz/queenmama/internal/telemetry"
)

// MaintenanceResult bundles the outcomes of one maintenance run.
// Consolidation is nil when it was not requested.
type MaintenanceResult struct {
	Purge         *PurgeResult         `json:"purge"`
	Consolidation *ConsolidationResult `json:"consolidation,omitempty"`
}

// MaintenanceService orchestrates purge and consolidation runs. Nothing in
// the process schedules these; they run on external trigger only (an API
// call or the maintain command driven by cron).
type MaintenanceService struct {
	repo          AtomRepositoryInterface
	purge         *PurgeService
	consolidation *ConsolidationService
	locks         *userLocks
}

// NewMaintenanceService creates a new MaintenanceService instance
func NewMaintenanceService(
	repo AtomRepositoryInterface,
	purge *PurgeService,
	consolidation *ConsolidationService,
	locks *userLocks,
) *MaintenanceService {
	return &MaintenanceService{
		repo:          repo,
		purge:         purge,
		consolidation: consolidation,
		locks:         locks,
	}
}

// RunFullMaintenance purges a user's store and optionally consolidates
// duplicates afterwards, holding the user's lock so a concurrent extraction
// cannot interleave with the rewrite.
func (s *MaintenanceService) RunFullMaintenance(ctx context.Context, userID string, includeConsolidation bool) (*MaintenanceResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "MaintenanceService.RunFullMaintenance", telemetry.SpanAttributes{
		UserID:    userID,
		Operation: "maintenance",
	})
	defer span.End()

	if userID == "" {
		return nil, domain.ErrMissingUserID
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	purgeResult, err := s.purge.PurgeUserAtoms(ctx, userID, 0)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	result := &MaintenanceResult{Purge: purgeResult}

	if includeConsolidation {
		consolidationResult, err := s.consolidation.ConsolidateUserAtoms(ctx, userID)
		if err != nil {
			span.SetError(err)
			return result, err
		}
		result.Consolidation = consolidationResult
	}

	return result, nil
}

// ListUserIDs exposes the set of users with stored atoms, for callers that
// sweep everyone (the maintain --all command).
func (s *MaintenanceService) ListUserIDs(ctx context.Context) ([]string, error) {
	return s.repo.ListUserIDs(ctx)
}
