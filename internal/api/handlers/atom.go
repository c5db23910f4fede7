package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/surpriz/queenmama/internal/api"
	"github.com/surpriz/queenmama/internal/api/middleware"
	"github.com/surpriz/queenmama/internal/domain"
	"github.com/surpriz/queenmama/internal/service"
)

type AtomService interface {
	CreateManual(ctx context.Context, input service.CreateAtomInput) (*domain.KnowledgeAtom, error)
	GetByID(ctx context.Context, userID, atomID string) (*domain.KnowledgeAtom, error)
	List(ctx context.Context, input service.ListAtomsInput) (*service.ListAtomsOutput, error)
	Delete(ctx context.Context, userID, atomID string) error
	RecordUsage(ctx context.Context, userID, atomID string, helpful bool) error
}

type CapacityChecker interface {
	CheckLimit(ctx context.Context, userID string) (*service.AtomLimitStatus, error)
}

type AtomHandler struct {
	svc      AtomService
	capacity CapacityChecker
}

func NewAtomHandler(svc AtomService, capacity CapacityChecker) *AtomHandler {
	return &AtomHandler{svc: svc, capacity: capacity}
}

type CreateAtomRequest struct {
	Type            string `json:"type"`
	Content         string `json:"content"`
	Context         string `json:"context"`
	SourceSessionID string `json:"source_session_id"`
}

type RecordUsageRequest struct {
	Helpful bool `json:"helpful"`
}

type AtomResponse struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	Content         string  `json:"content"`
	Context         string  `json:"context,omitempty"`
	Confidence      float64 `json:"confidence"`
	Source          string  `json:"source"`
	UsageCount      int     `json:"usage_count"`
	HelpfulCount    int     `json:"helpful_count"`
	HelpfulRatio    float64 `json:"helpful_ratio"`
	LastUsedAt      string  `json:"last_used_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
	SourceSessionID string  `json:"source_session_id,omitempty"`
}

type ListAtomsResponse struct {
	Items   []*AtomResponse `json:"items"`
	Cursor  string          `json:"cursor,omitempty"`
	HasMore bool            `json:"has_more"`
}

func atomToResponse(a *domain.KnowledgeAtom) *AtomResponse {
	resp := &AtomResponse{
		ID:              a.ID,
		Type:            string(a.Type),
		Content:         a.Content,
		Context:         a.Metadata.Context,
		Confidence:      a.Metadata.Confidence,
		Source:          string(a.Metadata.Source),
		UsageCount:      a.UsageCount,
		HelpfulCount:    a.HelpfulCount,
		HelpfulRatio:    a.HelpfulRatio(),
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
		SourceSessionID: a.SourceSessionID,
	}
	if a.LastUsedAt != nil {
		resp.LastUsedAt = a.LastUsedAt.Format(time.RFC3339)
	}
	return resp
}

func (h *AtomHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateAtomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Content == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Type == "" {
		api.Error(w, http.StatusBadRequest, "type is required")
		return
	}

	atom, err := h.svc.CreateManual(r.Context(), service.CreateAtomInput{
		UserID:          userID,
		Type:            domain.AtomType(req.Type),
		Content:         req.Content,
		Context:         req.Context,
		SourceSessionID: req.SourceSessionID,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, atomToResponse(atom))
}

func (h *AtomHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	out, err := h.svc.List(r.Context(), service.ListAtomsInput{
		UserID: userID,
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := &ListAtomsResponse{
		Items:   make([]*AtomResponse, 0, len(out.Items)),
		Cursor:  out.Cursor,
		HasMore: out.HasMore,
	}
	for _, a := range out.Items {
		resp.Items = append(resp.Items, atomToResponse(a))
	}

	api.Success(w, http.StatusOK, resp)
}

func (h *AtomHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	atom, err := h.svc.GetByID(r.Context(), userID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, atomToResponse(atom))
}

func (h *AtomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Delete(r.Context(), userID, id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusNoContent, nil)
}

func (h *AtomHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var req RecordUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.RecordUsage(r.Context(), userID, id, req.Helpful); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]bool{"recorded": true})
}

func (h *AtomHandler) GetLimit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	status, err := h.capacity.CheckLimit(r.Context(), userID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, status)
}
