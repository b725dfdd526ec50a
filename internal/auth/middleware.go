package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sokoflow/sokoflow/pkg/logging"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const actorContextKey contextKey = "auth_actor"

// ActorFromContext retrieves the authenticated actor from the request
// context. Returns nil if no actor is present.
func ActorFromContext(ctx context.Context) *Actor {
	if actor, ok := ctx.Value(actorContextKey).(*Actor); ok {
		return actor
	}
	return nil
}

// ContextWithActor returns a new context with the actor attached.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// Requirement specifies the authentication requirement for an endpoint.
type Requirement string

const (
	// Required rejects requests without a valid token with 401.
	Required Requirement = "required"
	// Optional accepts requests with or without a token; invalid tokens
	// are treated as anonymous.
	Optional Requirement = "optional"
)

// Middleware validates bearer tokens and attaches the actor to the context.
type Middleware struct {
	validator *Validator
}

// NewMiddleware creates an authentication middleware.
func NewMiddleware(validator *Validator) *Middleware {
	return &Middleware{validator: validator}
}

// Authenticate returns middleware enforcing the given requirement.
func (m *Middleware) Authenticate(requirement Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				if requirement == Required {
					writeJSONError(w, http.StatusUnauthorized, "authentication required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			actor, err := m.validator.ValidateToken(token)
			if err != nil {
				if requirement == Required {
					message := "invalid token"
					if err == ErrExpiredToken {
						message = "token expired"
					}
					writeJSONError(w, http.StatusUnauthorized, message)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := ContextWithActor(r.Context(), actor)
			ctx = context.WithValue(ctx, logging.UserIDKey, actor.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth returns middleware requiring a valid token.
func (m *Middleware) RequireAuth() func(http.Handler) http.Handler {
	return m.Authenticate(Required)
}

// ExtractToken extracts the bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}
