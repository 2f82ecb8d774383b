package middleware

import (
	"log"
	"strings"

	"loanrisk/internal/services"

	"github.com/gofiber/fiber/v2"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "session"

// Locals keys populated for authenticated requests.
const (
	LocalUserID   = "user_id"
	LocalUsername = "username"
)

// SessionToken extracts the session token from the cookie or, for API
// clients, from a Bearer Authorization header. Empty when the request is
// anonymous.
func SessionToken(c *fiber.Ctx) string {
	if cookie := c.Cookies(SessionCookie); cookie != "" {
		return cookie
	}
	authHeader := c.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// AuthRequired rejects anonymous requests with a structured 401 and stores
// the caller's identity in the request locals for subsequent handlers.
func AuthRequired(authService *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := SessionToken(c)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":  "Authentication required",
				"status": "error",
			})
		}

		claims, err := authService.ValidateToken(tokenString)
		if err != nil {
			log.Printf("Session validation failed: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":  "Invalid or expired session",
				"status": "error",
			})
		}

		c.Locals(LocalUserID, claims["user_id"])
		c.Locals(LocalUsername, claims["username"])

		return c.Next()
	}
}
