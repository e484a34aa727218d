package apperrors

import (
	"errors"
	"fmt"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/limits"
)

// ErrNotFound marks a missing plan, subscription or billing record.
// Repositories translate gorm.ErrRecordNotFound into this sentinel so
// callers stay storage-agnostic.
var ErrNotFound = errors.New("record not found")

// InvalidTransitionError reports an illegal lifecycle edge, e.g. mutating a
// cancelled subscription.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid subscription state transition %s -> %s", e.From, e.To)
}

// LimitExceededError is the blocking enforcement denial surfaced by the
// strict check entry points. It maps to HTTP 429 and carries a
// machine-readable upgrade path.
type LimitExceededError struct {
	LimitType      limits.LimitType
	Decision       limits.Decision
	UpgradeMessage string
	SuggestedPlans []models.Plan
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s ticket limit exceeded", e.LimitType)
}

// ProcessorError wraps a failed call to the external payment processor.
type ProcessorError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProcessorError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("payment processor %s failed: status=%d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("payment processor %s failed: %v", e.Op, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// ValidationError reports malformed limits or pricing input on the admin
// provisioning surface.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
