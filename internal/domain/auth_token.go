package domain

import "errors"

var (
	// ErrNoAuthToken is returned when an authentication token is required but not provided.
	ErrNoAuthToken = errors.New("no auth token")
	// ErrInvalidAuthToken is returned when a token's signature is invalid or it has expired.
	ErrInvalidAuthToken = errors.New("invalid auth token")
	// ErrUnauthorized is returned when the authenticated user lacks permission.
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthToken proves that a session was issued by the coordinator. It carries
// the identity the session belongs to and its validity period, which matches
// the session lifetime.
type AuthToken struct {
	UserID    UserID `json:"userId"`    // Identity the session was issued for
	Username  string `json:"username"`  // Login username of that identity
	IssuedAt  int64  `json:"issuedAt"`  // Unix timestamp when the token was created
	ExpiresAt int64  `json:"expiresAt"` // Unix timestamp when the token expires
}
