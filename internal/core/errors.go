package core

import (
	"errors"
	"fmt"
)

// Category is the error taxonomy from spec §7.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryPermission    Category = "permission"
	CategoryExecution     Category = "execution"
	CategoryOrchestration Category = "orchestration"
	CategoryProvider      Category = "provider"
)

// Tag names the specific error within its Category.
type Tag string

const (
	TagSchemaViolation      Tag = "SchemaViolation"
	TagDuplicateTool        Tag = "DuplicateTool"
	TagInvalidPlan          Tag = "InvalidPlan"
	TagInvalidState         Tag = "InvalidState"
	TagPermissionDenied     Tag = "PermissionDenied"
	TagPermissionTimeout    Tag = "PermissionTimeout"
	TagToolError            Tag = "ToolError"
	TagStepTimeout          Tag = "StepTimeout"
	TagCircuitOpen          Tag = "CircuitOpen"
	TagPlanTimeout          Tag = "PlanTimeout"
	TagPlanCancelled        Tag = "PlanCancelled"
	TagNoHealthyWorker      Tag = "NoHealthyWorker"
	TagHandoffTargetMissing Tag = "HandoffTargetMissing"
	TagProviderError        Tag = "ProviderError"
	TagProviderTimeout      Tag = "ProviderTimeout"
)

// recoverable marks which tags are retried per spec §7; the zero value for
// any tag not listed here is non-recoverable.
var recoverable = map[Tag]bool{
	TagToolError:       true,
	TagStepTimeout:     true,
	TagCircuitOpen:     true,
	TagProviderError:   true,
	TagProviderTimeout: true,
}

// Error is a tagged engine error. It is never thrown across the facade as
// a control-flow panic; it is attached as a value to step/plan results.
type Error struct {
	Category Category
	Tag      Tag
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tag, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Recoverable reports whether this error is retried per the Category/Tag
// policy in spec §7.
func (e *Error) Recoverable() bool {
	return recoverable[e.Tag]
}

// New constructs a tagged Error.
func New(category Category, tag Tag, message string) *Error {
	return &Error{Category: category, Tag: tag, Message: message}
}

// Wrap constructs a tagged Error around cause.
func Wrap(category Category, tag Tag, message string, cause error) *Error {
	return &Error{Category: category, Tag: tag, Message: message, Cause: cause}
}

// Is supports errors.Is(err, core.New(cat, tag, "")) by tag equality.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Tag == other.Tag
}

// IsTag reports whether err carries the given tag anywhere in its chain.
func IsTag(err error, tag Tag) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Tag == tag
}

// IsRecoverable reports whether err is a recoverable *Error per spec §7.
// A non-*Error is treated as non-recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Recoverable()
}
