package models

import "time"

// CircuitStatus is a snapshot of the breaker state of one node type.
type CircuitStatus struct {
	NodeType             string     `json:"node_type"`
	State                string     `json:"state"`
	FailureCount         int        `json:"failure_count"`
	Threshold            int        `json:"threshold"`
	LastError            string     `json:"last_error,omitempty"`
	LastFailureAt        *time.Time `json:"last_failure_at,omitempty"`
	OpenedAt             *time.Time `json:"opened_at,omitempty"`
	RecoveryAt           *time.Time `json:"recovery_at,omitempty"`
	SecondsUntilRecovery float64    `json:"seconds_until_recovery"`
	ReopenCount          int        `json:"reopen_count"`
}
