package offer

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinel errors for offer configuration and evaluation.
var (
	ErrInvalidConfig     = errors.New("invalid offer configuration")
	ErrCompoundCycle     = errors.New("compound references itself")
	ErrMixedResultKinds  = errors.New("compound benefit mixes result kinds")
	ErrUnknownKind       = errors.New("unknown kind")
	ErrMissingDependency = errors.New("missing dependency")
)

// ValidationError describes a condition or benefit that cannot be saved.
type ValidationError struct {
	Kind   string
	ID     int64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Kind, e.ID, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

func invalid(kind fmt.Stringer, id int64, reason string) error {
	return &ValidationError{Kind: kind.String(), ID: id, Reason: reason}
}

// CycleError reports a compound whose children lead back to itself.
type CycleError struct {
	Entity string
	Path   []int64
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("%s cycle: %s", e.Entity, strings.Join(parts, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCompoundCycle
}

// isInvariantViolation reports errors that indicate a broken configuration
// rather than a basket the offer simply does not fit.
func isInvariantViolation(err error) bool {
	return errors.Is(err, ErrMixedResultKinds) || errors.Is(err, ErrCompoundCycle)
}
