package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sokoflow/sokoflow/internal/api/types"
	"github.com/sokoflow/sokoflow/internal/auth"
	"github.com/sokoflow/sokoflow/internal/database/models"
	"github.com/sokoflow/sokoflow/internal/database/repository"
	"github.com/sokoflow/sokoflow/internal/dlq"
	"github.com/sokoflow/sokoflow/internal/pagination"
	"github.com/sokoflow/sokoflow/internal/workflow"
)

// ListDLQItems lists dead-letter items with filters and keyset pagination.
func (h *Handler) ListDLQItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.DLQFilter{
		OrganizationID: OrgParam(r),
		StepType:       q.Get("stepType"),
		ErrorCategory:  q.Get("errorCategory"),
		Status:         models.DLQStatus(q.Get("status")),
		Limit:          pagination.ClampLimit(parseIntParam(q.Get("limit"))),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		filter.To = t
	}
	if v := q.Get("cursor"); v != "" {
		cursor, err := pagination.Decode(v)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		filter.Cursor = cursor
	}

	items, err := h.dlq.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "dlq list failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list dead letter items")
		return
	}

	resp := types.DLQListResponse{
		Items:    make([]*types.DLQItemResponse, 0, len(items)),
		PageInfo: pagination.PageInfo{Limit: filter.Limit},
	}
	for _, item := range items {
		resp.Items = append(resp.Items, types.DLQItemFromModel(item))
	}
	if len(items) == filter.Limit {
		last := items[len(items)-1]
		resp.PageInfo.HasNext = true
		resp.PageInfo.NextCursor = pagination.Cursor{
			CreatedAt: last.CreatedAt, ID: last.ID,
		}.Encode()
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetDLQItem retrieves one dead-letter item.
func (h *Handler) GetDLQItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.dlq.GetByID(r.Context(), OrgParam(r), chi.URLParam(r, "dlqID"))
	if errors.Is(err, repository.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "dead letter item not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "dlq load failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load dead letter item")
		return
	}
	h.respondJSON(w, http.StatusOK, types.DLQItemFromModel(item))
}

// ReplayDLQItem marks the item REPLAYING and enqueues the replay job.
func (h *Handler) ReplayDLQItem(w http.ResponseWriter, r *http.Request) {
	var req types.ReplayDLQItemRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.respondValidationError(w, err)
		return
	}

	item, err := h.dlq.Replay(r.Context(), OrgParam(r), chi.URLParam(r, "dlqID"), dlq.ReplayRequest{
		Mode:                workflow.ReplayMode(req.Mode),
		FromStepIndex:       req.FromStepIndex,
		OverrideRetryPolicy: req.OverrideRetryPolicy,
		RequestedByUserID:   actorID(r),
	})
	if h.respondDLQError(w, r, err, "replay") {
		return
	}
	h.respondJSON(w, http.StatusAccepted, types.DLQItemFromModel(item))
}

// ResolveDLQItem closes the item as RESOLVED.
func (h *Handler) ResolveDLQItem(w http.ResponseWriter, r *http.Request) {
	h.finalizeDLQItem(w, r, h.dlq.Resolve, "resolve")
}

// IgnoreDLQItem closes the item as IGNORED.
func (h *Handler) IgnoreDLQItem(w http.ResponseWriter, r *http.Request) {
	h.finalizeDLQItem(w, r, h.dlq.Ignore, "ignore")
}

func (h *Handler) finalizeDLQItem(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orgID, id, by, reason string) error, op string) {
	var req types.ResolveDLQItemRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.respondValidationError(w, err)
		return
	}

	id := chi.URLParam(r, "dlqID")
	err := fn(r.Context(), OrgParam(r), id, actorID(r), req.Reason)
	if h.respondDLQError(w, r, err, op) {
		return
	}

	item, err := h.dlq.GetByID(r.Context(), OrgParam(r), id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load dead letter item")
		return
	}
	h.respondJSON(w, http.StatusOK, types.DLQItemFromModel(item))
}

// respondDLQError maps service errors to HTTP codes. Returns true when a
// response was written.
func (h *Handler) respondDLQError(w http.ResponseWriter, r *http.Request, err error, op string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, repository.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "dead letter item not found")
	case errors.Is(err, dlq.ErrItemFinalized):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dlq.ErrReasonRequired), errors.Is(err, dlq.ErrInvalidStepIndex):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "dlq "+op+" failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "dead letter operation failed")
	}
	return true
}

// actorID returns the authenticated user's ID for audit fields.
func actorID(r *http.Request) string {
	if actor := auth.ActorFromContext(r.Context()); actor != nil {
		return actor.UserID
	}
	return ""
}

func parseIntParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
