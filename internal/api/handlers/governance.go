package handlers

import (
	"net/http"
	"time"

	"github.com/sokoflow/sokoflow/internal/api/types"
	"github.com/sokoflow/sokoflow/internal/database/models"
)

// GetLimits returns the organization's effective safety limits.
func (h *Handler) GetLimits(w http.ResponseWriter, r *http.Request) {
	limits := h.gov.ResolveEffectiveLimits(r.Context(), OrgParam(r))
	h.respondJSON(w, http.StatusOK, limits)
}

// GetUsage returns the organization's usage counters for a UTC day
// (?date=YYYY-MM-DD, default today).
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = models.UsageDate(time.Now())
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}

	usage, err := h.gov.GetUsage(r.Context(), OrgParam(r), date)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "usage load failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	h.respondJSON(w, http.StatusOK, types.UsageResponse{
		UsageDate:             usage.UsageDate,
		WorkflowRunsCount:     usage.WorkflowRunsCount,
		MessagesSentCount:     usage.MessagesSentCount,
		AIRequestsCount:       usage.AIRequestsCount,
		ConcurrentRunsCurrent: usage.ConcurrentRunsCurrent,
	})
}

// ListViolations returns recorded safety violations, newest first
// (?limitCode=&limit=).
func (h *Handler) ListViolations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	violations, err := h.gov.ListViolations(r.Context(), OrgParam(r),
		q.Get("limitCode"), parseIntParam(q.Get("limit")))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "violation list failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list violations")
		return
	}

	resp := make([]*types.ViolationResponse, 0, len(violations))
	for _, v := range violations {
		resp = append(resp, &types.ViolationResponse{
			ID:        v.ID,
			LimitCode: v.LimitCode,
			Details:   v.Details,
			CreatedAt: v.CreatedAt,
		})
	}
	h.respondJSON(w, http.StatusOK, resp)
}
