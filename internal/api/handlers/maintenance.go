package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/surpriz/queenmama/internal/api"
	"github.com/surpriz/queenmama/internal/api/middleware"
	"github.com/surpriz/queenmama/internal/service"
)

type ExtractionRunner interface {
	ExtractFromSession(ctx context.Context, input service.ExtractInput) (*service.ExtractionResult, error)
}

type PurgeRunner interface {
	PurgeUserAtoms(ctx context.Context, userID string, maxToPurge int) (*service.PurgeResult, error)
}

type ConsolidationRunner interface {
	ConsolidateUserAtoms(ctx context.Context, userID string) (*service.ConsolidationResult, error)
}

type StatsProvider interface {
	GetManagementStats(ctx context.Context, userID string) (*service.ManagementStats, error)
}

type MaintenanceRunner interface {
	RunFullMaintenance(ctx context.Context, userID string, includeConsolidation bool) (*service.MaintenanceResult, error)
}

// MaintenanceHandler exposes the extraction and store-management operations.
type MaintenanceHandler struct {
	extraction    ExtractionRunner
	purge         PurgeRunner
	consolidation ConsolidationRunner
	stats         StatsProvider
	maintenance   MaintenanceRunner
}

func NewMaintenanceHandler(
	extraction ExtractionRunner,
	purge PurgeRunner,
	consolidation ConsolidationRunner,
	stats StatsProvider,
	maintenance MaintenanceRunner,
) *MaintenanceHandler {
	return &MaintenanceHandler{
		extraction:    extraction,
		purge:         purge,
		consolidation: consolidation,
		stats:         stats,
		maintenance:   maintenance,
	}
}

type ExtractRequest struct {
	Transcript string `json:"transcript"`
}

type PurgeRequest struct {
	MaxToPurge int `json:"max_to_purge"`
}

type MaintenanceRequest struct {
	IncludeConsolidation bool `json:"include_consolidation"`
}

func (h *MaintenanceHandler) Extract(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		api.Error(w, http.StatusBadRequest, "session id is required")
		return
	}

	var req ExtractRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.extraction.ExtractFromSession(r.Context(), service.ExtractInput{
		UserID:     userID,
		SessionID:  sessionID,
		Transcript: req.Transcript,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}

func (h *MaintenanceHandler) Purge(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req PurgeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.MaxToPurge < 0 {
		api.Error(w, http.StatusBadRequest, "max_to_purge must not be negative")
		return
	}

	result, err := h.purge.PurgeUserAtoms(r.Context(), userID, req.MaxToPurge)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}

func (h *MaintenanceHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.consolidation.ConsolidateUserAtoms(r.Context(), userID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}

func (h *MaintenanceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.stats.GetManagementStats(r.Context(), userID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, stats)
}

func (h *MaintenanceHandler) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req MaintenanceRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.maintenance.RunFullMaintenance(r.Context(), userID, req.IncludeConsolidation)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}
