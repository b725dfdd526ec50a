package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sokoflow/sokoflow/internal/auth"
)

func orgFromHeader(r *http.Request) string {
	return r.Header.Get("X-Org")
}

func doRequest(handler http.Handler, actor *auth.Actor, org string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Org", org)
	if actor != nil {
		req = req.WithContext(auth.ContextWithActor(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireOrgRole(t *testing.T) {
	handler := RequireOrgRole(RoleAdmin, orgFromHeader)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	// No actor.
	assert.Equal(t, http.StatusUnauthorized, doRequest(handler, nil, "org-1").Code)

	// Member is below the admin floor.
	member := &auth.Actor{UserID: "u1", OrgRoles: map[string]string{"org-1": "MEMBER"}}
	assert.Equal(t, http.StatusForbidden, doRequest(handler, member, "org-1").Code)

	// Admin and owner pass.
	admin := &auth.Actor{UserID: "u2", OrgRoles: map[string]string{"org-1": "ADMIN"}}
	assert.Equal(t, http.StatusOK, doRequest(handler, admin, "org-1").Code)
	owner := &auth.Actor{UserID: "u3", OrgRoles: map[string]string{"org-1": "OWNER"}}
	assert.Equal(t, http.StatusOK, doRequest(handler, owner, "org-1").Code)

	// Role in a different org does not carry over.
	assert.Equal(t, http.StatusForbidden, doRequest(handler, admin, "org-2").Code)

	// Unknown role strings are rejected.
	weird := &auth.Actor{UserID: "u4", OrgRoles: map[string]string{"org-1": "SUPERUSER"}}
	assert.Equal(t, http.StatusForbidden, doRequest(handler, weird, "org-1").Code)
}

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleOwner.AtLeast(RoleMember))
	assert.True(t, RoleOwner.AtLeast(RoleOwner))
	assert.False(t, RoleMember.AtLeast(RoleAdmin))
	assert.False(t, Role("SUPERUSER").Valid())
}
