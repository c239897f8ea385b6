package planner

import (
	"errors"
	"fmt"

	"dieetplanner/internal/guardrails"
)

// ErrorKind is the closed taxonomy of user-safe failure kinds.
type ErrorKind string

const (
	ErrInvalidRequest          ErrorKind = "INVALID_REQUEST"
	ErrGenerationFailed        ErrorKind = "GENERATION_FAILED"
	ErrGuardrailsViolation     ErrorKind = "GUARDRAILS_VIOLATION"
	ErrCulinaryViolation       ErrorKind = "CULINARY_VIOLATION"
	ErrSanityFailed            ErrorKind = "SANITY_FAILED"
	ErrInsufficientIngredients ErrorKind = "INSUFFICIENT_INGREDIENTS"
	ErrAIBudgetExceeded        ErrorKind = "AI_BUDGET_EXCEEDED"
	ErrDBCoverageTooLow        ErrorKind = "DB_COVERAGE_TOO_LOW"
	ErrLocked                  ErrorKind = "LOCKED"
	ErrEvaluatorError          ErrorKind = "EVALUATOR_ERROR"
)

// Error is the typed error surfaced to callers once retries are exhausted.
// It carries machine-readable detail and never raw prompt text.
type Error struct {
	Kind           ErrorKind                 `json:"kind"`
	Message        string                    `json:"message"`
	Issues         []ValidationIssue         `json:"issues,omitempty"`
	ReasonCodes    []string                  `json:"reason_codes,omitempty"`
	Deficits       []guardrails.ForceDeficit `json:"deficits,omitempty"`
	Violations     []CulinaryViolation       `json:"violations,omitempty"`
	RulesetVersion string                    `json:"ruleset_version,omitempty"`
	RulesetHash    string                    `json:"ruleset_hash,omitempty"`
	FailedDate     string                    `json:"failed_date,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError creates a typed planner error.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a typed planner error, if err carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the error kind, or empty for untyped errors.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}
