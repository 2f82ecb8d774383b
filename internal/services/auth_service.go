package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"loanrisk/internal/models"
	"loanrisk/internal/repositories"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"
)

// AuthService handles registration, login, and session token validation.
type AuthService struct {
	userRepo        repositories.UserRepository
	jwtSecret       []byte
	sessionDuration time.Duration // Default session token lifetime
	rememberDurat   time.Duration // Lifetime when "remember me" is requested
}

// NewAuthService creates a new AuthService. rememberDurat governs the token
// lifetime for "remember me" logins; pass zero to use the 30-day default.
func NewAuthService(userRepo repositories.UserRepository, jwtSecret string, rememberDurat time.Duration) *AuthService {
	if rememberDurat <= 0 {
		rememberDurat = 30 * 24 * time.Hour
	}
	return &AuthService{
		userRepo:        userRepo,
		jwtSecret:       []byte(jwtSecret),
		sessionDuration: 24 * time.Hour,
		rememberDurat:   rememberDurat,
	}
}

// RememberDuration returns the session lifetime used for "remember me"
// logins, so handlers can align cookie expiry with the token.
func (s *AuthService) RememberDuration() time.Duration {
	return s.rememberDurat
}

// Register hashes the password and stores a new user. Duplicate usernames or
// emails fail with ErrConflict, whether detected up front or by the storage
// layer's uniqueness constraint when two registrations race.
func (s *AuthService) Register(user *models.User, password string) error {
	if existing, err := s.userRepo.GetByUsername(user.Username); err == nil && existing != nil {
		return fmt.Errorf("username '%s' already taken: %w", user.Username, ErrConflict)
	}
	if existing, err := s.userRepo.GetByEmail(user.Email); err == nil && existing != nil {
		return fmt.Errorf("email '%s' already registered: %w", user.Email, ErrConflict)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = string(hashedPassword)

	if err := s.userRepo.Create(user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return fmt.Errorf("registration lost a uniqueness race: %w", ErrConflict)
		}
		return fmt.Errorf("failed to register user: %w", err)
	}
	return nil
}

// Login authenticates by username or email and returns a signed session
// token. Unknown identifiers and wrong passwords are indistinguishable to the
// caller.
func (s *AuthService) Login(identifier, password string, remember bool) (string, *models.User, error) {
	user, err := s.userRepo.GetByIdentifier(identifier)
	if err != nil {
		// Only an absent user is a credential failure; a storage outage
		// must surface as a retryable internal error instead.
		if errors.Is(err, repositories.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("failed to look up identifier: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	lifetime := s.sessionDuration
	if remember {
		lifetime = s.rememberDurat
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(lifetime).Unix(),
		"iat":      time.Now().Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	return tokenString, user, nil
}

// ValidateToken parses and validates a session token, returning the claims if
// valid.
func (s *AuthService) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		log.Printf("Session token validation error: %v", err)
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// GetUserByID resolves a session subject back to its user record.
func (s *AuthService) GetUserByID(id string) (*models.User, error) {
	return s.userRepo.GetByID(id)
}
