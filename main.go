package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"loanrisk/internal/handlers"
	"loanrisk/internal/middleware"
	"loanrisk/internal/models"
	"loanrisk/internal/repositories"
	"loanrisk/internal/services"
	"loanrisk/pkg/mailqueue"
)

const devSecret = "dev-secret-key-change-in-production"

func main() {
	// --- Configuration ---
	viper.SetDefault("APP_PORT", ":8080")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("STORAGE", "sqlite")
	viper.SetDefault("DATABASE_URL", "loanrisk.db")
	viper.SetDefault("BASE_URL", "http://localhost:8080")
	viper.SetDefault("RABBITMQ_URL", "")
	viper.SetDefault("MAIL_FROM", "Loan Risk Service <no-reply@localhost>")
	viper.SetDefault("MODEL_PATH", "")
	viper.SetDefault("REMEMBER_DURATION_HOURS", 720)
	viper.AutomaticEnv()

	appPort := viper.GetString("APP_PORT")
	appEnv := viper.GetString("APP_ENV")

	// The session secret also signs reset tokens. In production it must come
	// from the environment; the dev default is only tolerated outside it.
	secret := viper.GetString("SESSION_SECRET")
	if secret == "" {
		if appEnv == "production" {
			log.Fatal("SESSION_SECRET environment variable must be set in production")
		}
		secret = devSecret
		log.Println("WARNING: using development secret key - set SESSION_SECRET for production")
	}

	// --- Initialize Credential Store ---
	userRepo, err := buildUserRepository(viper.GetString("STORAGE"), viper.GetString("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Failed to initialize user storage: %v", err)
	}

	// --- Initialize Mail Queue Client ---
	// Mail delivery is best-effort: a missing broker must never block the
	// forgot-password flow, so a failed connection only downgrades delivery.
	var mailClient services.MailPublisher
	if mqURL := viper.GetString("RABBITMQ_URL"); mqURL != "" {
		client, err := mailqueue.NewClient(mailqueue.Config{
			URL:  mqURL,
			From: viper.GetString("MAIL_FROM"),
		})
		if err != nil {
			log.Printf("Mail queue unavailable, reset links will be surfaced directly: %v", err)
		} else {
			defer client.Close()
			mailClient = client
		}
	} else {
		log.Println("RABBITMQ_URL not set, reset links will be surfaced directly")
	}

	// --- Initialize Services ---
	rememberDurat := time.Duration(viper.GetInt("REMEMBER_DURATION_HOURS")) * time.Hour
	authService := services.NewAuthService(userRepo, secret, rememberDurat)
	resetService := services.NewResetService(userRepo, secret, viper.GetString("BASE_URL"), mailClient)
	predictionService := services.NewPredictionService(viper.GetString("MODEL_PATH"))

	// --- Initialize Handlers ---
	authHandler := handlers.NewAuthHandler(authService, resetService, appEnv != "production")
	predictHandler := handlers.NewPredictHandler(predictionService)

	// --- Initialize Fiber App ---
	app := fiber.New()
	app.Use(logger.New())

	// --- API Routes ---
	apiV1 := app.Group("/api/v1")

	// Public authentication routes
	authHandler.RegisterRoutes(apiV1)

	// Protected routes (require a session)
	protectedRoutes := apiV1.Group("", middleware.AuthRequired(authService))
	authHandler.RegisterProtectedRoutes(protectedRoutes)
	predictHandler.RegisterRoutes(protectedRoutes)

	// Auth-status probe is anonymous-safe
	app.Get("/api/auth-status", authHandler.HandleAuthStatus)

	// --- Health Check Endpoint ---
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// --- Start HTTP Server ---
	log.Printf("Starting server on port %s", appPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(appPort); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Printf("Error during Fiber shutdown: %v", err)
	}

	log.Println("Server gracefully stopped")
}

// buildUserRepository selects the credential store backend from
// configuration. Business logic only ever sees the UserRepository interface.
func buildUserRepository(storage, databaseURL string) (repositories.UserRepository, error) {
	if storage == "memory" {
		log.Println("Using in-memory user storage")
		return repositories.NewMemoryUserRepository(), nil
	}

	var dialector gorm.Dialector
	switch storage {
	case "postgres":
		dialector = postgres.Open(databaseURL)
	default:
		dialector = sqlite.Open(databaseURL)
	}

	// TranslateError maps driver-specific unique violations to
	// gorm.ErrDuplicatedKey, which the repository relies on for Conflict
	// detection under concurrent registration.
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	// Connectivity check before serving traffic.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}
	log.Println("Database connection successful")

	if err := db.AutoMigrate(&models.User{}); err != nil {
		return nil, err
	}

	return repositories.NewGORMUserRepository(db), nil
}
