package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"loanrisk/internal/handlers"
	"loanrisk/internal/middleware"
	"loanrisk/internal/models"
	"loanrisk/internal/repositories"
	"loanrisk/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupApp wires a Fiber app for testing with in-memory SQLite, mirroring the
// route layout of main.
func setupApp() (*fiber.App, error) {
	viper.SetDefault("SESSION_SECRET", "test_session_secret")
	viper.AutomaticEnv()
	secret := viper.GetString("SESSION_SECRET")

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to in-memory database: %w", err)
	}

	if err := db.AutoMigrate(&models.User{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	userRepo := repositories.NewGORMUserRepository(db)

	authService := services.NewAuthService(userRepo, secret, 0)
	resetService := services.NewResetService(userRepo, secret, "http://localhost:8080", nil)
	predictionService := services.NewPredictionService("")

	authHandler := handlers.NewAuthHandler(authService, resetService, true)
	predictHandler := handlers.NewPredictHandler(predictionService)

	app := fiber.New()

	apiV1 := app.Group("/api/v1")
	authHandler.RegisterRoutes(apiV1)

	protectedRoutes := apiV1.Group("", middleware.AuthRequired(authService))
	authHandler.RegisterProtectedRoutes(protectedRoutes)
	predictHandler.RegisterRoutes(protectedRoutes)

	app.Get("/api/auth-status", authHandler.HandleAuthStatus)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return app, nil
}

// TestMain runs setup and teardown for all tests
func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	code := m.Run()
	os.Exit(code)
}

func postJSON(t *testing.T, app *fiber.App, path string, body interface{}, token string) *http.Response {
	t.Helper()
	jsonBody, err := json.Marshal(body)
	assert.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	assert.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func registerUser(t *testing.T, app *fiber.App, username, email, password string) {
	t.Helper()
	resp := postJSON(t, app, "/api/v1/auth/register", map[string]string{
		"username":         username,
		"email":            email,
		"password":         password,
		"confirm_password": password,
	}, "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func loginUser(t *testing.T, app *fiber.App, identifier, password string) string {
	t.Helper()
	resp := postJSON(t, app, "/api/v1/auth/login", map[string]interface{}{
		"identifier": identifier,
		"password":   password,
	}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	token, _ := body["token"].(string)
	assert.NotEmpty(t, token)
	return token
}

func TestAuthRegisterAndLogin(t *testing.T) {
	app, err := setupApp()
	assert.NoError(t, err)

	registerUser(t, app, "alice01", "alice01@example.com", "password123")

	// Duplicate username, even with a different email, is a conflict
	resp := postJSON(t, app, "/api/v1/auth/register", map[string]string{
		"username":         "alice01",
		"email":            "other01@example.com",
		"password":         "password123",
		"confirm_password": "password123",
	}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Duplicate email as well
	resp = postJSON(t, app, "/api/v1/auth/register", map[string]string{
		"username":         "someoneelse",
		"email":            "alice01@example.com",
		"password":         "password123",
		"confirm_password": "password123",
	}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Login by username
	token := loginUser(t, app, "alice01", "password123")

	// Login by email resolves the same account
	emailToken := loginUser(t, app, "alice01@example.com", "password123")
	assert.NotEmpty(t, emailToken)

	// The session reflects the logged-in user
	req := httptest.NewRequest(http.MethodGet, "/api/auth-status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	statusResp, err := app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, statusResp.StatusCode)
	statusBody := decodeBody(t, statusResp)
	assert.Equal(t, true, statusBody["authenticated"])
	user := statusBody["user"].(map[string]interface{})
	assert.Equal(t, "alice01", user["username"])
	assert.Equal(t, "alice01@example.com", user["email"])
	assert.NotEmpty(t, user["id"])
}

func TestRegisterValidation(t *testing.T) {
	app, err := setupApp()
	assert.NoError(t, err)

	// Username below 4 characters
	resp := postJSON(t, app, "/api/v1/auth/register", map[string]string{
		"username":         "ab",
		"email":            "short01@example.com",
		"password":         "password123",
		"confirm_password": "password123",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Mismatched confirmation
	resp = postJSON(t, app, "/api/v1/auth/register", map[string]string{
		"username":         "mismatch01",
		"email":            "mismatch01@example.com",
		"password":         "password123",
		"confirm_password": "different456",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Invalid email syntax
	resp = postJSON(t, app, "/api/v1/auth/register", map[string]string{
		"username":         "bademail01",
		"email":            "not-an-email",
		"password":         "password123",
		"confirm_password": "password123",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	app, err := setupApp()
	assert.NoError(t, err)

	registerUser(t, app, "bob02", "bob02@example.com", "password123")

	wrongPassword := postJSON(t, app, "/api/v1/auth/login", map[string]interface{}{
		"identifier": "bob02",
		"password":   "wrongpassword",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, wrongPassword.StatusCode)
	wrongPasswordBody := decodeBody(t, wrongPassword)

	unknownUser := postJSON(t, app, "/api/v1/auth/login", map[string]interface{}{
		"identifier": "nobody02",
		"password":   "password123",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, unknownUser.StatusCode)
	unknownUserBody := decodeBody(t, unknownUser)

	assert.Equal(t, wrongPasswordBody["error"], unknownUserBody["error"])
	assert.Equal(t, wrongPasswordBody["message"], unknownUserBody["message"])
}

// unavailableUserRepo fails every operation, standing in for a storage
// outage.
type unavailableUserRepo struct{}

func (r *unavailableUserRepo) Create(user *models.User) error {
	return errors.New("storage unavailable")
}

func (r *unavailableUserRepo) GetByUsername(username string) (*models.User, error) {
	return nil, errors.New("storage unavailable")
}

func (r *unavailableUserRepo) GetByEmail(email string) (*models.User, error) {
	return nil, errors.New("storage unavailable")
}

func (r *unavailableUserRepo) GetByIdentifier(identifier string) (*models.User, error) {
	return nil, errors.New("storage unavailable")
}

func (r *unavailableUserRepo) GetByID(id string) (*models.User, error) {
	return nil, errors.New("storage unavailable")
}

func (r *unavailableUserRepo) UpdatePasswordHash(userID, newHash string) error {
	return errors.New("storage unavailable")
}

func TestLoginStorageFailureIsInternal(t *testing.T) {
	repo := &unavailableUserRepo{}
	authService := services.NewAuthService(repo, "test_session_secret", 0)
	resetService := services.NewResetService(repo, "test_session_secret", "http://localhost:8080", nil)
	authHandler := handlers.NewAuthHandler(authService, resetService, true)

	app := fiber.New()
	authHandler.RegisterRoutes(app.Group("/api/v1"))

	resp := postJSON(t, app, "/api/v1/auth/login", map[string]interface{}{
		"identifier": "anyone",
		"password":   "password123",
	}, "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.NotEqual(t, services.ErrInvalidCredentials.Error(), body["error"])
}

func TestPredictEndpoint(t *testing.T) {
	app, err := setupApp()
	assert.NoError(t, err)

	registerUser(t, app, "carol03", "carol03@example.com", "password123")
	token := loginUser(t, app, "carol03", "password123")

	resp := postJSON(t, app, "/api/v1/predict", map[string]interface{}{
		"LoanAmount":        10000,
		"AnnualIncome":      50000,
		"InterestRate":      7.5,
		"FicoScore":         700,
		"DebtToIncomeRatio": 25,
		"EmploymentLength":  5,
		"OpenAccounts":      5,
	}, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(0), body["prediction"])
	assert.InDelta(t, 0.31704545454545454, body["probability"].(float64), 1e-9)
	assert.Equal(t, "Low", body["risk_level"])

	// A risky application flips the decision
	resp = postJSON(t, app, "/api/v1/predict", map[string]interface{}{
		"LoanAmount":   100000,
		"AnnualIncome": 30000,
		"FicoScore":    450,
	}, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, float64(1), body["prediction"])
	assert.Equal(t, "High", body["risk_level"])
}

func TestPredictRequiresAuth(t *testing.T) {
	app, err := setupApp()
	assert.NoError(t, err)

	resp := postJSON(t, app, "/api/v1/predict", map[string]interface{}{
		"LoanAmount": 10000,
	}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "error", body["status"])

	// The auth-status probe stays anonymous-safe
	req := httptest.NewRequest(http.MethodGet, "/api/auth-status", nil)
	statusResp, err := app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, statusResp.StatusCode)
	statusBody := decodeBody(t, statusResp)
	assert.Equal(t, false, statusBody["authenticated"])
}

func TestPredictStrict(t *testing.T) {
	app, err := setupApp()
	assert.NoError(t, err)

	registerUser(t, app, "dave04", "dave04@example.com", "password123")
	token := loginUser(t, app, "dave04", "password123")

	resp := postJSON(t, app, "/api/v1/predict/strict", map[string]interface{}{
		"LoanAmount":   10000,
		"AnnualIncome": 50000,
	}, token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "missing required field: InterestRate", body["error"])

	resp = postJSON(t, app, "/api/v1/predict/strict", map[string]interface{}{
		"LoanAmount":   10000,
		"AnnualIncome": 50000,
		"InterestRate": 7.5,
		"FicoScore":    700,
	}, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, "success", body["status"])
}

func TestPasswordResetFlow(t *testing.T) {
	app, err := setupApp()
	assert.NoError(t, err)

	registerUser(t, app, "erin05", "erin05@example.com", "oldpassword")

	// Known and unknown emails get the same message
	knownResp := postJSON(t, app, "/api/v1/auth/forgot-password", map[string]string{
		"email": "erin05@example.com",
	}, "")
	assert.Equal(t, http.StatusOK, knownResp.StatusCode)
	knownBody := decodeBody(t, knownResp)

	unknownResp := postJSON(t, app, "/api/v1/auth/forgot-password", map[string]string{
		"email": "stranger05@example.com",
	}, "")
	assert.Equal(t, http.StatusOK, unknownResp.StatusCode)
	unknownBody := decodeBody(t, unknownResp)

	assert.Equal(t, knownBody["message"], unknownBody["message"])

	// No mail queue is configured, so the link is surfaced directly
	resetURL, _ := knownBody["reset_url"].(string)
	assert.Contains(t, resetURL, "token=")
	token := resetURL[strings.Index(resetURL, "token=")+len("token="):]

	// A tampered token is rejected with the generic message
	resp := postJSON(t, app, "/api/v1/auth/reset-password", map[string]string{
		"token":            token + "x",
		"password":         "newpassword",
		"confirm_password": "newpassword",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// The genuine token resets the password
	resp = postJSON(t, app, "/api/v1/auth/reset-password", map[string]string{
		"token":            token,
		"password":         "newpassword",
		"confirm_password": "newpassword",
	}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Old password no longer works, new one does
	oldResp := postJSON(t, app, "/api/v1/auth/login", map[string]interface{}{
		"identifier": "erin05",
		"password":   "oldpassword",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, oldResp.StatusCode)
	oldResp.Body.Close()

	loginUser(t, app, "erin05", "newpassword")
}

func TestLogoutIsIdempotent(t *testing.T) {
	app, err := setupApp()
	assert.NoError(t, err)

	registerUser(t, app, "frank06", "frank06@example.com", "password123")
	token := loginUser(t, app, "frank06", "password123")

	resp := postJSON(t, app, "/api/v1/auth/logout", nil, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Logging out twice is not an error
	resp = postJSON(t, app, "/api/v1/auth/logout", nil, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestSessionCookieIsSet(t *testing.T) {
	app, err := setupApp()
	assert.NoError(t, err)

	registerUser(t, app, "grace07", "grace07@example.com", "password123")

	resp := postJSON(t, app, "/api/v1/auth/login", map[string]interface{}{
		"identifier": "grace07",
		"password":   "password123",
		"remember":   true,
	}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var sessionCookie *http.Cookie
	for _, cookie := range resp.Cookies() {
		if cookie.Name == middleware.SessionCookie {
			sessionCookie = cookie
		}
	}
	assert.NotNil(t, sessionCookie)
	assert.True(t, sessionCookie.HttpOnly)
	// Remember-me persists the cookie past the browser session
	assert.True(t, sessionCookie.Expires.After(time.Now().Add(24*time.Hour)))
	resp.Body.Close()

	// The cookie alone authenticates subsequent requests
	req := httptest.NewRequest(http.MethodGet, "/api/auth-status", nil)
	req.AddCookie(sessionCookie)
	statusResp, err := app.Test(req, -1)
	assert.NoError(t, err)
	statusBody := decodeBody(t, statusResp)
	assert.Equal(t, true, statusBody["authenticated"])
}

func TestHealthEndpoint(t *testing.T) {
	app, err := setupApp()
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
}
