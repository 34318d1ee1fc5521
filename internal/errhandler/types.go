// Package errhandler classifies component error reports, runs root cause
// analysis, decides a recovery strategy, and fans feedback out to its
// consumers. Handling is idempotent per (query_id, error_code) within a TTL.
package errhandler

import (
	"time"

	"querysight/internal/engine"
)

// Kind is the canonical error classification.
type Kind string

const (
	KindInput      Kind = "input_error"
	KindSchema     Kind = "schema_error"
	KindQuery      Kind = "query_error"
	KindChart      Kind = "chart_error"
	KindSystem     Kind = "system_error"
	KindValidation Kind = "validation_error"
)

func knownKind(s string) bool {
	switch Kind(s) {
	case KindInput, KindSchema, KindQuery, KindChart, KindSystem, KindValidation:
		return true
	}
	return false
}

// Severity grades an error's impact.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// NextAction tells the orchestrator what to do after handling.
type NextAction string

const (
	ActionResume    NextAction = "resume"
	ActionAwaitUser NextAction = "await_user"
	ActionEscalate  NextAction = "escalate"
)

// Payload is the error report contract every component uses.
type Payload struct {
	AgentID   string      `json:"agent_id" validate:"required"`
	Timestamp string      `json:"timestamp" validate:"required"`
	Status    string      `json:"status" validate:"required"`
	Data      PayloadData `json:"data" validate:"required"`
}

// PayloadData is the error detail block inside a Payload.
type PayloadData struct {
	ErrorType string         `json:"error_type" validate:"required"`
	ErrorCode string         `json:"error_code" validate:"required"`
	Message   string         `json:"message" validate:"required"`
	Context   map[string]any `json:"context,omitempty"`
	QueryID   string         `json:"query_id" validate:"required,query_id"`
}

// Recovery is the decided strategy with its automation and user guidance.
type Recovery struct {
	Strategy         string                    `json:"strategy"`
	AutomatedActions []string                  `json:"automated_actions"`
	Suggestions      []string                  `json:"suggestions"`
	NextAction       NextAction                `json:"next_action"`
	FieldMapping     map[string]string         `json:"field_mapping,omitempty"`
	CachedData       *engine.NormalizedDataset `json:"cached_data,omitempty"`
	RetryCount       int                       `json:"retry_count,omitempty"`
}

// Record is the full outcome of handling one error payload. Duplicate
// payloads within the idempotency TTL receive the identical record.
type Record struct {
	ErrorID          string    `json:"error_id"`
	Kind             Kind      `json:"error_type"`
	Source           string    `json:"error_source"`
	Severity         Severity  `json:"severity"`
	Confidence       float64   `json:"confidence"`
	RootCause        string    `json:"root_cause"`
	Message          string    `json:"user_message"`
	Recovery         Recovery  `json:"recovery"`
	ContextPreserved bool      `json:"context_preserved"`
	QueryID          string    `json:"query_id"`
	Timestamp        time.Time `json:"timestamp"`
}
