package repositories

import (
	"fmt"
	"sync"
	"time"

	"loanrisk/internal/models"

	"github.com/google/uuid"
)

// MemoryUserRepository is an in-memory implementation of UserRepository.
// Uniqueness is enforced under a single lock, so the create path has the same
// one-winner semantics as the relational implementation.
type MemoryUserRepository struct {
	users      map[string]models.User // keyed by ID
	byUsername map[string]string
	byEmail    map[string]string
	mu         sync.RWMutex
}

// NewMemoryUserRepository creates a new instance of MemoryUserRepository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:      make(map[string]models.User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

// Create adds a new user, failing with ErrDuplicate if the username or email
// is already taken.
func (r *MemoryUserRepository) Create(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byUsername[user.Username]; taken {
		return fmt.Errorf("username %s: %w", user.Username, ErrDuplicate)
	}
	if _, taken := r.byEmail[user.Email]; taken {
		return fmt.Errorf("email %s: %w", user.Email, ErrDuplicate)
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	r.users[user.ID] = *user
	r.byUsername[user.Username] = user.ID
	r.byEmail[user.Email] = user.ID
	return nil
}

// GetByUsername returns the user with the given username.
func (r *MemoryUserRepository) GetByUsername(username string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byIndex(r.byUsername, username)
}

// GetByEmail returns the user with the given email.
func (r *MemoryUserRepository) GetByEmail(email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byIndex(r.byEmail, email)
}

// GetByIdentifier matches the identifier against usernames first, then emails.
func (r *MemoryUserRepository) GetByIdentifier(identifier string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if user, err := r.byIndex(r.byUsername, identifier); err == nil {
		return user, nil
	}
	return r.byIndex(r.byEmail, identifier)
}

// GetByID returns the user with the given ID.
func (r *MemoryUserRepository) GetByID(id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

// UpdatePasswordHash replaces the stored password hash for the given user.
func (r *MemoryUserRepository) UpdatePasswordHash(userID, newHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return fmt.Errorf("user with ID %s: %w", userID, ErrNotFound)
	}
	user.PasswordHash = newHash
	r.users[userID] = user
	return nil
}

// byIndex must be called with at least a read lock held.
func (r *MemoryUserRepository) byIndex(index map[string]string, key string) (*models.User, error) {
	id, ok := index[key]
	if !ok {
		return nil, ErrNotFound
	}
	user := r.users[id]
	return &user, nil
}
