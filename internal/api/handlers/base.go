// Package handlers contains HTTP request handlers for the API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sokoflow/sokoflow/internal/api/types"
	"github.com/sokoflow/sokoflow/internal/database/repository"
	"github.com/sokoflow/sokoflow/internal/dlq"
	"github.com/sokoflow/sokoflow/internal/governance"
	"github.com/sokoflow/sokoflow/internal/payments"
	"github.com/sokoflow/sokoflow/internal/queue"
	"github.com/sokoflow/sokoflow/internal/webhooks"
	"github.com/sokoflow/sokoflow/pkg/logging"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	repos *repository.Repositories
	gov   *governance.Service
	dlq   *dlq.Service
	// confirmations marks momo payment confirmations as processed at
	// ingress, so no other path confirms the same transaction.
	confirmations *payments.ConfirmationGuard
	webhooks      *webhooks.Service
	enqueuer      queue.Enqueuer
	// webhookSecrets maps provider name to its HMAC secret; providers
	// without an entry skip signature verification.
	webhookSecrets map[string]string
	validate       *validator.Validate
	logger         *logging.Logger
}

// Config carries the handler's collaborators.
type Config struct {
	Repositories   *repository.Repositories
	Governance     *governance.Service
	DLQ            *dlq.Service
	Confirmations  *payments.ConfirmationGuard
	Webhooks       *webhooks.Service
	Enqueuer       queue.Enqueuer
	WebhookSecrets map[string]string
	Logger         *logging.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		repos:          cfg.Repositories,
		gov:            cfg.Governance,
		dlq:            cfg.DLQ,
		confirmations:  cfg.Confirmations,
		webhooks:       cfg.Webhooks,
		enqueuer:       cfg.Enqueuer,
		webhookSecrets: cfg.WebhookSecrets,
		validate:       validator.New(),
		logger:         cfg.Logger.WithModule("api"),
	}
}

// OrgParam extracts the organization ID path parameter.
func OrgParam(r *http.Request) string {
	return chi.URLParam(r, "organizationID")
}

// respondJSON writes a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			return
		}
	}
}

// respondError writes a JSON error response with the given status code.
func (h *Handler) respondError(w http.ResponseWriter, code int, message string) {
	h.respondJSON(w, code, types.ErrorResponse{Error: message})
}

// respondValidationError writes a JSON validation error response.
func (h *Handler) respondValidationError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		details := make(map[string]string)
		for _, e := range validationErrs {
			details[e.Field()] = formatValidationError(e)
		}
		h.respondJSON(w, http.StatusBadRequest, types.ErrorResponse{
			Error:   "validation failed",
			Details: details,
		})
		return
	}
	h.respondError(w, http.StatusBadRequest, "invalid input")
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be at least " + e.Param()
	default:
		return "is invalid"
	}
}

// decodeAndValidate decodes and validates a JSON request body.
func (h *Handler) decodeAndValidate(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return h.validate.Struct(v)
}

// getPaginationParams extracts limit/offset query parameters.
func getPaginationParams(r *http.Request) (limit, offset int) {
	limit = 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
