package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sokoflow/sokoflow/internal/api/types"
	"github.com/sokoflow/sokoflow/internal/database/models"
	"github.com/sokoflow/sokoflow/internal/database/repository"
)

// ListExecutions lists an organization's executions, optionally filtered by
// status.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, offset := getPaginationParams(r)
	status := models.ExecutionStatus(r.URL.Query().Get("status"))

	executions, err := h.repos.Executions.ListByOrganization(
		r.Context(), OrgParam(r), status, limit, offset)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "execution list failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	resp := make([]*types.ExecutionResponse, 0, len(executions))
	for _, e := range executions {
		resp = append(resp, types.ExecutionFromModel(e))
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetExecution retrieves one execution with its step attempt records.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.repos.Executions.GetByID(r.Context(), chi.URLParam(r, "executionID"))
	if errors.Is(err, repository.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "execution load failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}
	if exec.OrganizationID != OrgParam(r) {
		h.respondError(w, http.StatusNotFound, "execution not found")
		return
	}

	steps, err := h.repos.Steps.ListByExecution(r.Context(), exec.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "execution steps load failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}

	stepResponses := make([]*types.StepResponse, 0, len(steps))
	for _, s := range steps {
		stepResponses = append(stepResponses, types.StepFromModel(s))
	}
	h.respondJSON(w, http.StatusOK, struct {
		*types.ExecutionResponse
		Steps []*types.StepResponse `json:"steps"`
	}{types.ExecutionFromModel(exec), stepResponses})
}
