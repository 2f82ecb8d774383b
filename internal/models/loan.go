package models

import "strconv"

// Defaults substituted for loan attributes that are absent or non-numeric.
const (
	DefaultLoanAmount        = 10000.0
	DefaultAnnualIncome      = 50000.0
	DefaultInterestRate      = 7.5
	DefaultEmploymentLength  = 5.0
	DefaultFicoScore         = 700.0
	DefaultDebtToIncomeRatio = 25.0
	DefaultOpenAccounts      = 5.0
	DefaultTerm              = 36.0
)

// LoanApplication is the scoring input after defaults have been applied.
// Field names follow the wire format of the prediction API.
type LoanApplication struct {
	LoanAmount        float64 `json:"LoanAmount"`
	AnnualIncome      float64 `json:"AnnualIncome"`
	InterestRate      float64 `json:"InterestRate"`
	EmploymentLength  float64 `json:"EmploymentLength"`
	FicoScore         float64 `json:"FicoScore"`
	DebtToIncomeRatio float64 `json:"DebtToIncomeRatio"`
	OpenAccounts      float64 `json:"OpenAccounts"`
	Term              float64 `json:"Term"`
}

// Prediction is the scoring output.
type Prediction struct {
	Decision    int     `json:"prediction"`
	Probability float64 `json:"probability"`
	RiskLevel   string  `json:"risk_level"`
}

// Risk level labels.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// LoanApplicationFromMap builds a LoanApplication from a decoded JSON body,
// substituting the documented default for any field that is absent or not
// interpretable as a number.
func LoanApplicationFromMap(data map[string]interface{}) *LoanApplication {
	return &LoanApplication{
		LoanAmount:        numericField(data, "LoanAmount", DefaultLoanAmount),
		AnnualIncome:      numericField(data, "AnnualIncome", DefaultAnnualIncome),
		InterestRate:      numericField(data, "InterestRate", DefaultInterestRate),
		EmploymentLength:  numericField(data, "EmploymentLength", DefaultEmploymentLength),
		FicoScore:         numericField(data, "FicoScore", DefaultFicoScore),
		DebtToIncomeRatio: numericField(data, "DebtToIncomeRatio", DefaultDebtToIncomeRatio),
		OpenAccounts:      numericField(data, "OpenAccounts", DefaultOpenAccounts),
		Term:              numericField(data, "Term", DefaultTerm),
	}
}

func numericField(data map[string]interface{}, key string, fallback float64) float64 {
	raw, ok := data[key]
	if !ok {
		return fallback
	}
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		return fallback
	default:
		return fallback
	}
}

// FeatureValue returns the named attribute, used when feeding a trained model
// whose artifact declares its own feature order.
func (a *LoanApplication) FeatureValue(name string) (float64, bool) {
	switch name {
	case "LoanAmount":
		return a.LoanAmount, true
	case "AnnualIncome":
		return a.AnnualIncome, true
	case "InterestRate":
		return a.InterestRate, true
	case "EmploymentLength":
		return a.EmploymentLength, true
	case "FicoScore":
		return a.FicoScore, true
	case "DebtToIncomeRatio":
		return a.DebtToIncomeRatio, true
	case "OpenAccounts":
		return a.OpenAccounts, true
	case "Term":
		return a.Term, true
	default:
		return 0, false
	}
}
