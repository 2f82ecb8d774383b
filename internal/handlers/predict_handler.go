package handlers

import (
	"errors"
	"log"

	"loanrisk/internal/services"

	"github.com/gofiber/fiber/v2"
)

// PredictHandler handles HTTP requests for loan risk scoring.
type PredictHandler struct {
	service *services.PredictionService
}

// NewPredictHandler creates a new PredictHandler.
func NewPredictHandler(service *services.PredictionService) *PredictHandler {
	return &PredictHandler{
		service: service,
	}
}

// RegisterRoutes registers the prediction routes. The caller is expected to
// mount these behind the session middleware.
func (h *PredictHandler) RegisterRoutes(router fiber.Router) {
	router.Post("/predict", h.HandlePredict)
	router.Post("/predict/strict", h.HandlePredictStrict)
}

// HandlePredict scores a loan application, substituting documented defaults
// for absent or non-numeric attributes.
func (h *PredictHandler) HandlePredict(c *fiber.Ctx) error {
	data := make(map[string]interface{})
	if err := c.BodyParser(&data); err != nil {
		log.Printf("Error parsing prediction request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "Invalid request body",
			"status": "error",
		})
	}

	prediction, err := h.service.Score(data)
	if err != nil {
		log.Printf("Error scoring loan application: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "Internal server error",
			"status": "error",
		})
	}

	return c.JSON(fiber.Map{
		"prediction":  prediction.Decision,
		"probability": prediction.Probability,
		"risk_level":  prediction.RiskLevel,
		"status":      "success",
	})
}

// HandlePredictStrict scores a loan application, requiring LoanAmount,
// AnnualIncome, InterestRate, and FicoScore to be present and numeric.
func (h *PredictHandler) HandlePredictStrict(c *fiber.Ctx) error {
	data := make(map[string]interface{})
	if err := c.BodyParser(&data); err != nil {
		log.Printf("Error parsing prediction request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "Invalid request body",
			"status": "error",
		})
	}

	prediction, err := h.service.ScoreStrict(data)
	if err != nil {
		var missing *services.MissingFieldError
		if errors.As(err, &missing) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  missing.Error(),
				"status": "error",
			})
		}
		log.Printf("Error scoring loan application: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "Internal server error",
			"status": "error",
		})
	}

	return c.JSON(fiber.Map{
		"prediction":  prediction.Decision,
		"probability": prediction.Probability,
		"risk_level":  prediction.RiskLevel,
		"status":      "success",
	})
}
