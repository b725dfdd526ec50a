package rbac

import (
	"encoding/json"
	"net/http"

	"github.com/sokoflow/sokoflow/internal/auth"
)

// OrgIDFunc extracts the target organization ID from a request, typically
// from a chi URL parameter.
type OrgIDFunc func(r *http.Request) string

// RequireOrgRole returns middleware that admits only actors holding at
// least min role in the request's organization. Must be used after
// authentication middleware.
func RequireOrgRole(min Role, orgID OrgIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := auth.ActorFromContext(r.Context())
			if actor == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			org := orgID(r)
			if org == "" {
				writeError(w, http.StatusForbidden, "organization not specified")
				return
			}

			role, ok := actor.RoleIn(org)
			if !ok || !Role(role).Valid() || !Role(role).AtLeast(min) {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}
