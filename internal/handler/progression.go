package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/guard"
	"github.com/trailpass/platform/internal/service"
)

// ProgressionHandler handles task submission and artifact quality endpoints.
type ProgressionHandler struct {
	svc     *service.ProgressionService
	limiter *guard.RateLimiter
}

// NewProgressionHandler creates a new ProgressionHandler.
func NewProgressionHandler(svc *service.ProgressionService, limiter *guard.RateLimiter) *ProgressionHandler {
	return &ProgressionHandler{svc: svc, limiter: limiter}
}

type submitRequest struct {
	TaskID int64 `json:"task_id"`
	Score  *int  `json:"score,omitempty"`
}

// Submit handles POST /completions.
func (h *ProgressionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	if h.limiter != nil {
		if res := h.limiter.Check(r.Context(), userID.String()); !res.Allowed {
			RespondError(w, domain.ErrRateLimited(res.Reason))
			return
		}
	}

	var req submitRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if req.TaskID <= 0 {
		RespondError(w, domain.ErrValidation("task_id is required"))
		return
	}

	result, err := h.svc.SubmitCompletion(r.Context(), userID, req.TaskID, req.Score)
	if err != nil {
		RespondError(w, err)
		return
	}
	status := http.StatusOK
	if result.IsNew {
		status = http.StatusCreated
	}
	RespondJSON(w, status, result)
}

type qualityRequest struct {
	QualityScore *int   `json:"quality_score"`
	ArtifactRef  string `json:"artifact_ref"`
}

type qualityResponse struct {
	Granted bool          `json:"granted"`
	Grant   *domain.Grant `json:"grant"`
}

// RecordQuality handles POST /attractions/{id}/quality.
func (h *ProgressionHandler) RecordQuality(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	attractionID, err := pathInt64(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}

	var req qualityRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if req.QualityScore == nil {
		RespondError(w, domain.ErrValidation("quality_score is required"))
		return
	}

	grant, granted, err := h.svc.RecordPhotoQuality(r.Context(), userID, attractionID, *req.QualityScore, req.ArtifactRef)
	if err != nil {
		RespondError(w, err)
		return
	}
	status := http.StatusOK
	if granted {
		status = http.StatusCreated
	}
	RespondJSON(w, status, qualityResponse{Granted: granted, Grant: grant})
}

type replayRequest struct {
	UserID uuid.UUID `json:"user_id"`
	TaskID int64     `json:"task_id"`
}

// Replay handles POST /admin/completions/replay. It re-runs the downstream
// steps of an existing completion after a partial failure.
func (h *ProgressionHandler) Replay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if req.UserID == uuid.Nil || req.TaskID <= 0 {
		RespondError(w, domain.ErrValidation("user_id and task_id are required"))
		return
	}

	result, err := h.svc.ReplayCompletion(r.Context(), req.UserID, req.TaskID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}
