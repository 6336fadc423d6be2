package domain

import "errors"

var (
	// ErrSessionExists is returned when registering a session for a user that
	// already has one. Duplicate logins are rejected, never overwritten.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned when looking up or removing a session for
	// a user that has none.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotLoggedIn is returned by peer operations that require an active session.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrInvalidEndpoint is returned when a session endpoint is not a usable host:port.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// ActiveSession maps a logged-in user to the network endpoint of the peer
// node serving that user's files. At most one exists per user at any instant.
type ActiveSession struct {
	UserID   UserID `json:"userId"`
	Username string `json:"username"`
	Endpoint string `json:"endpoint"` // host:port of the peer's file-serving listener
}

// SessionResponse is the coordinator's reply to a successful login.
type SessionResponse struct {
	UserID   UserID `json:"userId"`
	Username string `json:"username"`
	Token    string `json:"token"`
}
