package domain

import (
	"time"
)

// AlertRule defines a CEL expression evaluated against every
// prediction result. Rules with a matching expression raise an Alert.
type AlertRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over the prediction (fraud_score, risk_label,
	// model scores) and the underlying transaction fields.
	Expression string `json:"expression"`

	// Severity assigned to alerts raised by this rule.
	Severity string `json:"severity"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is a raised notification for a matched rule.
type Alert struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	RuleID     string    `json:"ruleId"`
	TxID       string    `json:"txId"`
	FraudScore float64   `json:"fraudScore"`
	RiskLabel  RiskLabel `json:"riskLabel"`
	Severity   string    `json:"severity"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"createdAt"`
}
