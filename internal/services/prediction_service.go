package services

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"

	"loanrisk/internal/models"
)

// Predictor maps a loan application to a default prediction. Implementations
// must be stateless per call.
type Predictor interface {
	Predict(app *models.LoanApplication) (*models.Prediction, error)
}

// PredictionService scores loan applications. It always produces a result:
// if the configured predictor fails, the request is not aborted.
type PredictionService struct {
	predictor Predictor
}

// NewPredictionService builds the scoring ladder. When modelPath names a
// readable trained-model artifact, predictions go through it with the
// heuristic formula as a silent fallback; otherwise the heuristic is used
// directly.
func NewPredictionService(modelPath string) *PredictionService {
	heuristic := &HeuristicPredictor{}

	if modelPath == "" {
		return &PredictionService{predictor: heuristic}
	}

	artifact, err := LoadArtifactPredictor(modelPath)
	if err != nil {
		log.Printf("Using heuristic scoring, model artifact unavailable: %v", err)
		return &PredictionService{predictor: heuristic}
	}

	log.Printf("Loaded trained model artifact from %s", modelPath)
	return &PredictionService{predictor: &FallbackPredictor{Primary: artifact, Fallback: heuristic}}
}

// NewPredictionServiceWith wires an explicit predictor, used by tests.
func NewPredictionServiceWith(p Predictor) *PredictionService {
	return &PredictionService{predictor: p}
}

// Score applies documented defaults for absent or non-numeric fields and
// runs the prediction.
func (s *PredictionService) Score(data map[string]interface{}) (*models.Prediction, error) {
	return s.predictor.Predict(models.LoanApplicationFromMap(data))
}

// requiredFields, in the order the strict variant reports them.
var requiredFields = []string{"LoanAmount", "AnnualIncome", "InterestRate", "FicoScore"}

// ScoreStrict behaves like Score but demands the core fields be present and
// numeric, failing with a MissingFieldError naming the first one that is not.
func (s *PredictionService) ScoreStrict(data map[string]interface{}) (*models.Prediction, error) {
	for _, field := range requiredFields {
		raw, ok := data[field]
		if !ok || !isNumeric(raw) {
			return nil, &MissingFieldError{Field: field}
		}
	}
	return s.Score(data)
}

// isNumeric mirrors the coercion rules of the lenient path: numeric strings
// count as present.
func isNumeric(v interface{}) bool {
	switch value := v.(type) {
	case float64, int:
		return true
	case string:
		_, err := strconv.ParseFloat(value, 64)
		return err == nil
	default:
		return false
	}
}

// riskLevel thresholds a probability-like score into the three labels. The
// same thresholds apply to the heuristic and the trained model.
func riskLevel(probability float64) string {
	switch {
	case probability > 0.7:
		return models.RiskHigh
	case probability > 0.4:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// HeuristicPredictor scores with a fixed weighted linear combination of six
// normalized factors, clamped to [0.1, 0.9].
type HeuristicPredictor struct{}

// maxLoanToIncome stands in for the ratio when income cannot service any
// debt; at weight 0.25 it already saturates the score clamp.
const maxLoanToIncome = 4.0

// Predict computes the heuristic risk score. It never fails.
func (p *HeuristicPredictor) Predict(app *models.LoanApplication) (*models.Prediction, error) {
	// A non-positive income must not reach the division: 0/0 is NaN, which
	// would slip through the clamp and break JSON encoding downstream.
	loanToIncome := maxLoanToIncome
	if app.AnnualIncome > 0 {
		loanToIncome = app.LoanAmount / app.AnnualIncome
	}
	ficoFactor := (850 - app.FicoScore) / 550
	dtiFactor := math.Min(1, app.DebtToIncomeRatio/50)
	interestFactor := app.InterestRate / 30
	employmentFactor := math.Max(0, 1-app.EmploymentLength/10)
	accountsFactor := math.Min(1, app.OpenAccounts/20)

	riskScore := loanToIncome*0.25 +
		ficoFactor*0.20 +
		dtiFactor*0.20 +
		interestFactor*0.15 +
		employmentFactor*0.10 +
		accountsFactor*0.10

	riskScore = math.Max(0.1, math.Min(0.9, riskScore))

	decision := 0
	if riskScore > 0.5 {
		decision = 1
	}

	return &models.Prediction{
		Decision:    decision,
		Probability: riskScore,
		RiskLevel:   riskLevel(riskScore),
	}, nil
}

// modelArtifact is the on-disk format of an externally trained logistic
// model: per-feature weights with optional standardization parameters.
type modelArtifact struct {
	Features  []string  `json:"features"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
	Means     []float64 `json:"means,omitempty"`
	Scales    []float64 `json:"scales,omitempty"`
}

// ArtifactPredictor scores with weights loaded from a trained-model artifact.
type ArtifactPredictor struct {
	artifact modelArtifact
}

// LoadArtifactPredictor reads and validates a model artifact. Called once at
// process start.
func LoadArtifactPredictor(path string) (*ArtifactPredictor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var artifact modelArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}

	if len(artifact.Features) == 0 || len(artifact.Weights) != len(artifact.Features) {
		return nil, fmt.Errorf("model artifact is malformed: %d features, %d weights",
			len(artifact.Features), len(artifact.Weights))
	}
	if len(artifact.Means) > 0 && (len(artifact.Means) != len(artifact.Features) || len(artifact.Scales) != len(artifact.Features)) {
		return nil, fmt.Errorf("model artifact standardization parameters do not match features")
	}
	for _, scale := range artifact.Scales {
		if scale == 0 {
			return nil, fmt.Errorf("model artifact has a zero scale parameter")
		}
	}

	return &ArtifactPredictor{artifact: artifact}, nil
}

// Predict evaluates the logistic model over the artifact's feature order.
func (p *ArtifactPredictor) Predict(app *models.LoanApplication) (*models.Prediction, error) {
	z := p.artifact.Intercept
	for i, name := range p.artifact.Features {
		value, ok := app.FeatureValue(name)
		if !ok {
			return nil, fmt.Errorf("model artifact references unknown feature %q", name)
		}
		if len(p.artifact.Means) > 0 {
			value = (value - p.artifact.Means[i]) / p.artifact.Scales[i]
		}
		z += p.artifact.Weights[i] * value
	}

	probability := 1 / (1 + math.Exp(-z))

	decision := 0
	if probability > 0.5 {
		decision = 1
	}

	return &models.Prediction{
		Decision:    decision,
		Probability: probability,
		RiskLevel:   riskLevel(probability),
	}, nil
}

// FallbackPredictor delegates to Primary and degrades to Fallback on any
// error, logging the cause. The caller never sees the primary's failure.
type FallbackPredictor struct {
	Primary  Predictor
	Fallback Predictor
}

// Predict tries the primary predictor first.
func (p *FallbackPredictor) Predict(app *models.LoanApplication) (*models.Prediction, error) {
	result, err := p.Primary.Predict(app)
	if err == nil {
		return result, nil
	}
	log.Printf("Model prediction failed, falling back to heuristic: %v", err)
	return p.Fallback.Predict(app)
}
