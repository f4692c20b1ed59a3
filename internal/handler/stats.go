package handler

import (
	"net/http"

	"github.com/trailpass/platform/internal/stats"
)

// StatsHandler serves the read-only progression views.
type StatsHandler struct {
	stats *stats.Service
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(svc *stats.Service) *StatsHandler {
	return &StatsHandler{stats: svc}
}

// GetStats handles GET /stats.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	view, err := h.stats.GetStats(r.Context(), userID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, view)
}

// GetCategoryProgress handles GET /category-progress.
func (h *StatsHandler) GetCategoryProgress(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	progress, err := h.stats.GetCategoryProgress(r.Context(), userID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, progress)
}

// GetRecentGrants handles GET /rewards/recent?seconds=N.
func (h *StatsHandler) GetRecentGrants(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	seconds, err := queryInt(r, "seconds", 60)
	if err != nil {
		RespondError(w, err)
		return
	}
	grants, err := h.stats.GetRecentGrants(r.Context(), userID, seconds)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, grants)
}

// GetLeaderboard handles GET /leaderboard?filter=&limit=.
func (h *StatsHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	filter, err := stats.ParseLeaderboardFilter(r.URL.Query().Get("filter"))
	if err != nil {
		RespondError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		RespondError(w, err)
		return
	}
	entries, err := h.stats.GetLeaderboard(r.Context(), filter, limit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, entries)
}
