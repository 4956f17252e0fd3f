package model

import (
	"errors"
	"fmt"
)

// ParseError is a cell that could not be coerced to a number. It is
// absorbed as a missing value.
type ParseError struct {
	Field string
	Raw   string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parse: field %s: cannot coerce %q to number", e.Field, e.Raw)
	}
	return fmt.Sprintf("parse: cannot coerce %q to number", e.Raw)
}

// Flag reasons carried by RangeViolation.
const (
	FlagRange   = "range"
	FlagOutlier = "outlier"
)

// RangeViolation is a value set to missing by the cleaning filter: outside
// the declared plausible range, or outside the IQR fences of its group.
// Lower and Upper are the bounds it was checked against; an open side is
// Missing.
type RangeViolation struct {
	Attribute string
	EntityID  string
	Value     float64
	Reason    string
	Lower     Value
	Upper     Value
}

func (e *RangeViolation) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = FlagRange
	}
	return fmt.Sprintf("%s: %s=%g rejected for entity %q", reason, e.Attribute, e.Value, e.EntityID)
}

// MissingSourceError reports a relation that was not available.
type MissingSourceError struct {
	Source string
	Err    error
}

func (e *MissingSourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("source %s unavailable", e.Source)
}

func (e *MissingSourceError) Unwrap() error {
	return e.Err
}

// SchemaViolationError is an invariant violation in a relation: a
// duplicate key or an absent required field. It halts the run.
type SchemaViolationError struct {
	Relation string
	Field    string
	Key      string
	Reason   string
}

func (e *SchemaViolationError) Error() string {
	msg := fmt.Sprintf("schema violation in %s", e.Relation)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %s)", e.Field)
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %s)", e.Key)
	}
	return msg + ": " + e.Reason
}

// AmbiguousMatchWarning marks a resolver tie that was broken by catalog order.
type AmbiguousMatchWarning struct {
	EntityID   string
	ChosenID   string
	Score      float64
	Candidates int
}

func (w *AmbiguousMatchWarning) Error() string {
	return fmt.Sprintf("ambiguous match for %q: %d candidates tied at %.2f, chose %q",
		w.EntityID, w.Candidates, w.Score, w.ChosenID)
}

// UnmatchedEntityWarning marks an entity whose best candidate scored below threshold.
type UnmatchedEntityWarning struct {
	EntityID  string
	BestScore float64
	Threshold float64
}

func (w *UnmatchedEntityWarning) Error() string {
	return fmt.Sprintf("no match for %q: best score %.2f below threshold %.2f",
		w.EntityID, w.BestScore, w.Threshold)
}

// IsMissingSource returns true if err (or any error in its chain) is a MissingSourceError.
func IsMissingSource(err error) bool {
	var ms *MissingSourceError
	return errors.As(err, &ms)
}

// IsSchemaViolation returns true if err (or any error in its chain) is a SchemaViolationError.
func IsSchemaViolation(err error) bool {
	var sv *SchemaViolationError
	return errors.As(err, &sv)
}

// IsParseError returns true if err (or any error in its chain) is a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
