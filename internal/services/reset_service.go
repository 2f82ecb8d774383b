package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"loanrisk/internal/repositories"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"
)

// ResetTokenMaxAge is the default validity window for reset tokens.
const ResetTokenMaxAge = 3600 * time.Second

// resetTokenScope fixes the context the token is signed for, so a reset token
// can never pass as a session token and vice versa.
const resetTokenScope = "password-reset"

// MailPublisher delivers password-reset messages. The queue-backed
// implementation lives in pkg/mailqueue; tests substitute a mock.
type MailPublisher interface {
	PublishPasswordReset(to, username, resetURL string) error
}

// ResetService issues and verifies stateless password-reset tokens and runs
// the forgot/reset password flows on top of them.
type ResetService struct {
	userRepo repositories.UserRepository
	secret   []byte
	mail     MailPublisher // may be nil when no broker is configured
	baseURL  string
	now      func() time.Time
}

// NewResetService creates a new ResetService. The secret must be the same
// server secret that protects session integrity (or a dedicated one); baseURL
// is the externally reachable prefix for reset links.
func NewResetService(userRepo repositories.UserRepository, secret, baseURL string, mail MailPublisher) *ResetService {
	return &ResetService{
		userRepo: userRepo,
		secret:   []byte(secret),
		mail:     mail,
		baseURL:  baseURL,
		now:      time.Now,
	}
}

// Issue derives a signed token binding the email to the current timestamp.
// Validity is recomputed at verification time; nothing is stored server-side.
func (s *ResetService) Issue(email string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"scope": resetTokenScope,
		"iat":   s.now().Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign reset token: %w", err)
	}
	return tokenString, nil
}

// Verify checks the token signature and age, returning the embedded email.
// It fails closed: any signature mismatch, missing claim, wrong scope, or age
// beyond maxAge yields ErrInvalidToken.
func (s *ResetService) Verify(tokenString string, maxAge time.Duration) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	if scope, _ := claims["scope"].(string); scope != resetTokenScope {
		return "", ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return "", ErrInvalidToken
	}
	issuedAt, ok := claims["iat"].(float64)
	if !ok {
		return "", ErrInvalidToken
	}
	if s.now().Sub(time.Unix(int64(issuedAt), 0)) > maxAge {
		return "", ErrInvalidToken
	}

	return email, nil
}

// RequestReset runs the forgot-password flow. The caller always receives the
// same outcome whether or not the email is registered; only a registered
// email triggers token issuance and delivery. When delivery is unavailable
// the reset link is returned so the caller can surface it directly
// (development fallback).
func (s *ResetService) RequestReset(email string) (fallbackURL string, err error) {
	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up email for reset: %w", err)
	}

	token, err := s.Issue(user.Email)
	if err != nil {
		return "", err
	}
	resetURL := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)

	if s.mail == nil {
		log.Printf("Mail delivery not configured; reset link for %s surfaced to caller", user.Email)
		return resetURL, nil
	}
	if err := s.mail.PublishPasswordReset(user.Email, user.Username, resetURL); err != nil {
		log.Printf("Failed to publish reset mail for %s: %v", user.Email, err)
		return resetURL, nil
	}

	return "", nil
}

// ResetPassword runs the reset flow: verify the token, resolve the user, hash
// the new password, and persist it. Every failure before the final update
// collapses to ErrInvalidToken so the caller learns nothing about which step
// failed.
func (s *ResetService) ResetPassword(tokenString, newPassword string) error {
	email, err := s.Verify(tokenString, ResetTokenMaxAge)
	if err != nil {
		return ErrInvalidToken
	}

	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		return ErrInvalidToken
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash new password: %w", err)
	}

	if err := s.userRepo.UpdatePasswordHash(user.ID, string(hashedPassword)); err != nil {
		return fmt.Errorf("failed to update password for user %s: %w", user.ID, err)
	}
	return nil
}
