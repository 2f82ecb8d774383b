package repositories

import (
	"errors"

	"loanrisk/internal/models"
)

// Sentinel errors returned by repository implementations. Callers detect them
// with errors.Is; the wrapped message carries the detail.
var (
	// ErrNotFound indicates no user matched the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate indicates a username or email uniqueness violation.
	ErrDuplicate = errors.New("duplicate user")
)

// UserRepository defines the interface for user data access.
// Both the relational and the in-memory implementation satisfy it; business
// logic never branches on which one is behind the interface.
type UserRepository interface {
	Create(user *models.User) error
	GetByUsername(username string) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	// GetByIdentifier matches either the username or the email field.
	GetByIdentifier(identifier string) (*models.User, error)
	GetByID(id string) (*models.User, error)
	UpdatePasswordHash(userID, newHash string) error
}
