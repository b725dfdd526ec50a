package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sokoflow/sokoflow/internal/api/types"
	"github.com/sokoflow/sokoflow/internal/database/models"
	"github.com/sokoflow/sokoflow/internal/database/repository"
	"github.com/sokoflow/sokoflow/internal/governance"
	"github.com/sokoflow/sokoflow/internal/queue"
	"github.com/sokoflow/sokoflow/internal/workflow"
)

// CreateWorkflow stores a workflow definition after governance validation.
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	orgID := OrgParam(r)

	var req types.CreateWorkflowRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.respondValidationError(w, err)
		return
	}

	steps, err := models.ParseSteps(req.Steps)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.gov.ValidateWorkflowDefinition(r.Context(), orgID, steps); err != nil {
		h.respondGovernanceError(w, err)
		return
	}

	wf := &models.Workflow{
		OrganizationID: orgID,
		Name:           req.Name,
		Steps:          req.Steps,
	}
	if err := h.repos.Workflows.Create(r.Context(), wf); err != nil {
		h.logger.ErrorContext(r.Context(), "workflow create failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create workflow")
		return
	}
	h.respondJSON(w, http.StatusCreated, types.WorkflowFromModel(wf))
}

// ListWorkflows lists an organization's workflow definitions.
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit, offset := getPaginationParams(r)
	workflows, err := h.repos.Workflows.ListByOrganization(r.Context(), OrgParam(r), limit, offset)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "workflow list failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}
	resp := make([]*types.WorkflowResponse, 0, len(workflows))
	for _, wf := range workflows {
		resp = append(resp, types.WorkflowFromModel(wf))
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetWorkflow retrieves one workflow definition.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.loadWorkflow(w, r)
	if wf == nil || err != nil {
		return
	}
	h.respondJSON(w, http.StatusOK, types.WorkflowFromModel(wf))
}

// TriggerWorkflow starts one execution: governance gates first, then a
// PENDING row, then the queue job. Wrapped by the idempotency middleware so
// client retries return the original 202.
func (h *Handler) TriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := OrgParam(r)

	wf, err := h.loadWorkflow(w, r)
	if wf == nil || err != nil {
		return
	}

	var req types.TriggerWorkflowRequest
	if r.ContentLength > 0 {
		if err := h.decodeAndValidate(r, &req); err != nil {
			h.respondValidationError(w, err)
			return
		}
	}

	steps, err := models.ParseSteps(wf.Steps)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.gov.ValidateWorkflowDefinition(ctx, orgID, steps); err != nil {
		h.respondGovernanceError(w, err)
		return
	}
	if err := h.gov.ConsumeWorkflowRunQuota(ctx, orgID); err != nil {
		h.respondGovernanceError(w, err)
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	exec := models.NewWorkflowExecution(orgID, wf.ID, correlationID, req.Input)
	if err := h.repos.Executions.Create(ctx, exec); err != nil {
		h.logger.ErrorContext(ctx, "execution create failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create execution")
		return
	}

	task, err := queue.NewTask(queue.TypeWorkflowExecute, &workflow.JobPayload{
		ExecutionID:   exec.ID,
		CorrelationID: correlationID,
	})
	if err == nil {
		_, err = h.enqueuer.EnqueueTask(ctx, task)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "execution enqueue failed",
			"execution_id", exec.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to enqueue execution")
		return
	}

	h.respondJSON(w, http.StatusAccepted, types.TriggerResponse{
		ExecutionID:   exec.ID,
		Status:        string(exec.Status),
		CorrelationID: correlationID,
	})
}

// loadWorkflow fetches the workflow from the URL, enforcing tenant scope.
// Writes the error response itself and returns nil when the request is done.
func (h *Handler) loadWorkflow(w http.ResponseWriter, r *http.Request) (*models.Workflow, error) {
	wf, err := h.repos.Workflows.GetByID(r.Context(), chi.URLParam(r, "workflowID"))
	if errors.Is(err, repository.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "workflow not found")
		return nil, nil
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "workflow load failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load workflow")
		return nil, err
	}
	if wf.OrganizationID != OrgParam(r) {
		h.respondError(w, http.StatusNotFound, "workflow not found")
		return nil, nil
	}
	return wf, nil
}

// respondGovernanceError maps safety violations to 422 with the limit code.
func (h *Handler) respondGovernanceError(w http.ResponseWriter, err error) {
	if code, ok := governance.ViolationCode(err); ok {
		h.respondJSON(w, http.StatusUnprocessableEntity, types.ErrorResponse{
			Error:   err.Error(),
			Details: map[string]string{"limitCode": code},
		})
		return
	}
	h.respondError(w, http.StatusInternalServerError, "governance check failed")
}
