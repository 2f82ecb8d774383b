package handlers

import (
	"errors"
	"fmt"
	"log"
	"time"

	"loanrisk/internal/middleware"
	"loanrisk/internal/models"
	"loanrisk/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// genericForgotMessage is returned for every forgot-password request so the
// response never reveals whether the email is registered.
const genericForgotMessage = "If an account with that email exists, a password reset link has been sent."

// AuthHandler handles HTTP requests for authentication and password reset.
type AuthHandler struct {
	authService  *services.AuthService
	resetService *services.ResetService
	validate     *validator.Validate
	devMode      bool
}

// NewAuthHandler creates a new AuthHandler. devMode allows surfacing reset
// links directly in responses when mail delivery is unavailable.
func NewAuthHandler(authService *services.AuthService, resetService *services.ResetService, devMode bool) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		resetService: resetService,
		validate:     validator.New(),
		devMode:      devMode,
	}
}

// RegisterRoutes registers the public authentication routes.
func (h *AuthHandler) RegisterRoutes(router fiber.Router) {
	authRoutes := router.Group("/auth")
	authRoutes.Post("/register", h.HandleRegister)
	authRoutes.Post("/login", h.HandleLogin)
	authRoutes.Post("/forgot-password", h.HandleForgotPassword)
	authRoutes.Post("/reset-password", h.HandleResetPassword)
}

// RegisterProtectedRoutes registers routes that require a session.
func (h *AuthHandler) RegisterProtectedRoutes(router fiber.Router) {
	router.Post("/auth/logout", h.HandleLogout)
}

// RegisterRequest represents the request body for registration.
type RegisterRequest struct {
	Username        string `json:"username" validate:"required,min=4,max=20"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// HandleRegister handles new user registration.
func (h *AuthHandler) HandleRegister(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("Error parsing register request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}

	if err := h.validate.Struct(req); err != nil {
		validationErrors := err.(validator.ValidationErrors)
		errorMessages := make(map[string]string)
		for _, e := range validationErrors {
			errorMessages[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"errors":  errorMessages,
		})
	}

	user := &models.User{
		Username: req.Username,
		Email:    req.Email,
	}

	if err := h.authService.Register(user, req.Password); err != nil {
		log.Printf("Error registering user: %v", err)
		if errors.Is(err, services.ErrConflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"message": "Registration failed",
				"error":   "Username or email already exists",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not register user",
			"error":   "Please try again",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registration successful! Please login.",
		"user":    user,
	})
}

// LoginRequest represents the request body for login. The identifier may be
// a username or an email address.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	Remember   bool   `json:"remember"`
}

// HandleLogin authenticates a user and establishes a session.
func (h *AuthHandler) HandleLogin(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("Error parsing login request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}

	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"error":   "Identifier and password are required",
		})
	}

	token, user, err := h.authService.Login(req.Identifier, req.Password, req.Remember)
	if err != nil {
		log.Printf("Login failed for identifier %s: %v", req.Identifier, err)
		if errors.Is(err, services.ErrInvalidCredentials) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Authentication failed",
				"error":   services.ErrInvalidCredentials.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not log in",
			"error":   "Please try again",
		})
	}

	cookie := &fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if req.Remember {
		// A persisted cookie outlives the browser session.
		cookie.Expires = time.Now().Add(h.authService.RememberDuration())
	}
	c.Cookie(cookie)

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Welcome back, %s!", user.Username),
		"token":   token,
	})
}

// HandleLogout clears the session cookie. Logging out twice is not an error.
func (h *AuthHandler) HandleLogout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return c.JSON(fiber.Map{
		"message": "You have been logged out successfully",
	})
}

// ForgotPasswordRequest represents the request body for forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// HandleForgotPassword starts the reset flow. The response is identical
// whether or not the email is registered.
func (h *AuthHandler) HandleForgotPassword(c *fiber.Ctx) error {
	var req ForgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("Error parsing forgot-password request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}

	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"error":   "A valid email address is required",
		})
	}

	fallbackURL, err := h.resetService.RequestReset(req.Email)
	if err != nil {
		// The caller still gets the generic message; detail stays in the log.
		log.Printf("Forgot-password flow error for %s: %v", req.Email, err)
	}

	resp := fiber.Map{"message": genericForgotMessage}
	if h.devMode && fallbackURL != "" {
		resp["reset_url"] = fallbackURL
	}
	return c.JSON(resp)
}

// ResetPasswordRequest represents the request body for reset-password.
type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// HandleResetPassword completes the reset flow with a previously issued
// token. All verify/resolve failures collapse to one generic error.
func (h *AuthHandler) HandleResetPassword(c *fiber.Ctx) error {
	var req ResetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("Error parsing reset-password request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}

	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"error":   "Passwords must match and be at least 6 characters",
		})
	}

	if err := h.resetService.ResetPassword(req.Token, req.Password); err != nil {
		log.Printf("Password reset failed: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid or expired reset link. Please request a new one.",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Your password has been reset successfully. Please login.",
	})
}

// HandleAuthStatus reports whether the caller holds a valid session. It is
// safe for anonymous callers and never errors.
func (h *AuthHandler) HandleAuthStatus(c *fiber.Ctx) error {
	tokenString := middleware.SessionToken(c)
	if tokenString == "" {
		return c.JSON(fiber.Map{"authenticated": false})
	}

	claims, err := h.authService.ValidateToken(tokenString)
	if err != nil {
		return c.JSON(fiber.Map{"authenticated": false})
	}

	userID, _ := claims["user_id"].(string)
	user, err := h.authService.GetUserByID(userID)
	if err != nil {
		return c.JSON(fiber.Map{"authenticated": false})
	}

	return c.JSON(fiber.Map{
		"authenticated": true,
		"user": fiber.Map{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
		},
	})
}
