package taql

import (
	"errors"
	"fmt"
)

// Sentinel errors for the compile and execution taxonomy. Callers match with
// errors.Is; the concrete types below carry the detail.
var (
	ErrTypeCheck      = errors.New("expression failed type checking")
	ErrPlanning       = errors.New("failed to plan expression")
	ErrEvaluation     = errors.New("failed to evaluate expression")
	ErrSnapshotSchema = errors.New("snapshot schema version mismatch")
	ErrMissingInput   = errors.New("missing input for incremental step")
)

// TypeCheckReason identifies the specific static check that failed.
type TypeCheckReason string

const (
	ReasonUnknownIndicator  TypeCheckReason = "unknown_indicator"
	ReasonTooManyArgs       TypeCheckReason = "too_many_arguments"
	ReasonDuplicateParam    TypeCheckReason = "duplicate_parameter"
	ReasonUnknownParam      TypeCheckReason = "unknown_parameter"
	ReasonMissingParam      TypeCheckReason = "missing_parameter"
	ReasonExpectedSeries    TypeCheckReason = "expected_series"
	ReasonWrongLiteralType  TypeCheckReason = "wrong_literal_type"
	ReasonNonPositivePeriod TypeCheckReason = "non_positive_period"
	ReasonInvalidField      TypeCheckReason = "invalid_field"
	ReasonInvalidOperation  TypeCheckReason = "invalid_operation"
)

// TypeCheckError is raised eagerly at compile time, fail-fast.
type TypeCheckError struct {
	Indicator string
	Param     string
	Reason    TypeCheckReason
	msg       string
}

func (e *TypeCheckError) Error() string {
	if e.Indicator != "" {
		return fmt.Sprintf("[%s] %s", e.Indicator, e.msg)
	}
	return e.msg
}

// Is allows errors.Is(err, ErrTypeCheck).
func (e *TypeCheckError) Is(target error) bool { return target == ErrTypeCheck }

func newTypeCheckError(indicator, param string, reason TypeCheckReason, format string, args ...interface{}) *TypeCheckError {
	return &TypeCheckError{
		Indicator: indicator,
		Param:     param,
		Reason:    reason,
		msg:       fmt.Sprintf(format, args...),
	}
}

// PlanningError is reserved for registry lookups that cannot be resolved
// while collecting requirements.
type PlanningError struct {
	msg string
}

func (e *PlanningError) Error() string { return "planning error: " + e.msg }

// Is allows errors.Is(err, ErrPlanning).
func (e *PlanningError) Is(target error) bool { return target == ErrPlanning }

func newPlanningError(format string, args ...interface{}) *PlanningError {
	return &PlanningError{msg: fmt.Sprintf(format, args...)}
}

// EvaluationError is a runtime failure in either execution backend.
type EvaluationError struct {
	Node NodeID
	msg  string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation error at node %d: %s", e.Node, e.msg)
}

// Is allows errors.Is(err, ErrEvaluation).
func (e *EvaluationError) Is(target error) bool { return target == ErrEvaluation }

func newEvaluationError(node NodeID, format string, args ...interface{}) *EvaluationError {
	return &EvaluationError{Node: node, msg: fmt.Sprintf(format, args...)}
}

// SnapshotSchemaError rejects a snapshot tagged with a foreign version.
type SnapshotSchemaError struct {
	Want, Got int
}

func (e *SnapshotSchemaError) Error() string {
	return fmt.Sprintf("snapshot schema version %d does not match expected %d", e.Got, e.Want)
}

// Is allows errors.Is(err, ErrSnapshotSchema).
func (e *SnapshotSchemaError) Is(target error) bool { return target == ErrSnapshotSchema }
