// Package auth validates bearer tokens and exposes the authenticated actor
// to downstream handlers. Tokens are HS256, issued by the account service;
// the org-to-role map travels in the "orgs" claim.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Actor is an authenticated principal with per-organization roles.
type Actor struct {
	UserID string
	// OrgRoles maps organization ID to the actor's role in it.
	OrgRoles map[string]string
}

// RoleIn returns the actor's role in the given organization.
func (a *Actor) RoleIn(orgID string) (string, bool) {
	role, ok := a.OrgRoles[orgID]
	return role, ok
}

// Config holds JWT validation configuration.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	// Leeway tolerates clock skew when checking exp/nbf.
	Leeway time.Duration
}

// tokenClaims is the expected claim set.
type tokenClaims struct {
	jwt.RegisteredClaims
	Orgs map[string]string `json:"orgs"`
}

// Validator validates tokens and extracts the actor.
type Validator struct {
	config Config
	parser *jwt.Parser
}

// NewValidator creates a validator for HS256 tokens.
func NewValidator(config Config) *Validator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	return &Validator{
		config: config,
		parser: jwt.NewParser(opts...),
	}
}

// ValidateToken checks signature and registered claims and returns the actor.
func (v *Validator) ValidateToken(tokenStr string) (*Actor, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}

	var claims tokenClaims
	_, err := v.parser.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return []byte(v.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Actor{
		UserID:   claims.Subject,
		OrgRoles: claims.Orgs,
	}, nil
}

// IssueToken signs a token for the given actor. Used by the local dev
// command and tests; production tokens come from the account service.
func IssueToken(config Config, userID string, orgRoles map[string]string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    config.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Orgs: orgRoles,
	}
	if config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{config.Audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.Secret))
}
