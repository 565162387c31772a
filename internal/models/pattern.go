package models

import "time"

// StrategyPattern summarises how a strategy has fared against one error type.
type StrategyPattern struct {
	ErrorType   string    `json:"error_type"`
	Strategy    string    `json:"strategy"`
	Runs        int       `json:"runs"`
	Successes   int       `json:"successes"`
	Failures    int       `json:"failures"`
	RolledBack  int       `json:"rolled_back"`
	SuccessRate float64   `json:"success_rate"`
	Components  []string  `json:"components,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}
