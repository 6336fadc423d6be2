package domain

import "errors"

var (
	// ErrUserAlreadyExists is returned when trying to create a user with an existing username.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrUserNotFound is returned when looking up a non-existent user.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned when the username/password combination is incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserID uniquely identifies a registered user account.
type UserID int64

// User represents a registered account in the credential store.
type User struct {
	ID           UserID // Unique identifier
	Username     string // Login username
	PasswordHash []byte // bcrypt hash of the password
	CreatedAt    int64  // Unix timestamp of account creation
}
