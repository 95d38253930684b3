package alert

import "github.com/opensource-finance/harrier/internal/domain"

// DefaultRules returns the rules loaded when a tenant has none
// configured yet. They can be overridden through the rule API.
func DefaultRules() []*domain.AlertRule {
	return []*domain.AlertRule{
		{
			ID:          "builtin-high-risk",
			Name:        "high-risk-prediction",
			Description: "Fires on any prediction labeled HIGH.",
			Version:     "1.0",
			Expression:  `risk_label == "HIGH"`,
			Severity:    domain.SeverityCritical,
			Enabled:     true,
		},
		{
			ID:          "builtin-large-medium",
			Name:        "large-amount-medium-risk",
			Description: "Fires on MEDIUM predictions over 5000 in transaction amount.",
			Version:     "1.0",
			Expression:  `risk_label == "MEDIUM" && amount > 5000.0`,
			Severity:    domain.SeverityWarning,
			Enabled:     true,
		},
	}
}
