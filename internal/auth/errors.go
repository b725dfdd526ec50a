package auth

import "errors"

var (
	// ErrMissingToken is returned when no token is present on the request.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken is returned for malformed, unsigned or tampered tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token's exp claim has passed.
	ErrExpiredToken = errors.New("token expired")
)
