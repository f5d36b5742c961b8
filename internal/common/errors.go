// Copyright 2024 DataLineage Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"errors"
	"fmt"
)

// Category sentinels. Every structured error below unwraps to exactly one of
// these so callers can branch with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrExists       = errors.New("already exists")
	ErrValidation   = errors.New("validation failed")
	ErrIntegrity    = errors.New("lineage integrity violation")
	ErrInUse        = errors.New("version in use")
	ErrTransient    = errors.New("transient I/O error")
	ErrConflict     = errors.New("concurrent modification")
	ErrInvalidState = errors.New("invalid state transition")
)

// --- Validation errors ---

// InvalidInputError reports content or arguments rejected before any work is done.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrValidation }

// UnsupportedTransformationTypeError is returned for step types outside the registry.
type UnsupportedTransformationTypeError struct {
	Step int
	Type string
}

func (e *UnsupportedTransformationTypeError) Error() string {
	return fmt.Sprintf("step %d: unsupported transformation type %q", e.Step, e.Type)
}

func (e *UnsupportedTransformationTypeError) Unwrap() error { return ErrValidation }

// ColumnNotFoundError is returned when a step references a column missing from
// the schema it runs against.
type ColumnNotFoundError struct {
	Step   int
	Type   string
	Column string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("step %d (%s): column %q not found", e.Step, e.Type, e.Column)
}

func (e *ColumnNotFoundError) Unwrap() error { return ErrValidation }

// TypeIncompatibilityError is returned when a step cannot operate on a column's
// data type, or when its parameters belong to a different transformation type.
type TypeIncompatibilityError struct {
	Step   int
	Type   string
	Column string
	Reason string
}

func (e *TypeIncompatibilityError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("step %d (%s): %s", e.Step, e.Type, e.Reason)
	}
	return fmt.Sprintf("step %d (%s): column %q: %s", e.Step, e.Type, e.Column, e.Reason)
}

func (e *TypeIncompatibilityError) Unwrap() error { return ErrValidation }

// InvalidParameterError reports a malformed parameter value for a step.
type InvalidParameterError struct {
	Step      int
	Type      string
	Parameter string
	Reason    string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("step %d (%s): parameter %q: %s", e.Step, e.Type, e.Parameter, e.Reason)
}

func (e *InvalidParameterError) Unwrap() error { return ErrValidation }

// --- Integrity errors ---

// CycleDetectedError is returned when recording an edge would make a version
// its own ancestor.
type CycleDetectedError struct {
	ParentVersionID string
	ChildVersionID  string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("lineage cycle: %s cannot be derived from %s", e.ChildVersionID, e.ParentVersionID)
}

func (e *CycleDetectedError) Unwrap() error { return ErrIntegrity }

// DuplicateLineageError is returned when a child version already has a parent edge.
type DuplicateLineageError struct {
	ChildVersionID    string
	ExistingLineageID string
}

func (e *DuplicateLineageError) Error() string {
	return fmt.Sprintf("version %s already has incoming lineage %s", e.ChildVersionID, e.ExistingLineageID)
}

func (e *DuplicateLineageError) Unwrap() error { return ErrIntegrity }

// BrokenChainError is returned when an ancestor referenced by a version or an
// edge cannot be found.
type BrokenChainError struct {
	VersionID string // version whose chain was being walked
	MissingID string // the reference that failed to resolve
	Reason    string
}

func (e *BrokenChainError) Error() string {
	return fmt.Sprintf("broken lineage chain for %s: %s (%s)", e.VersionID, e.MissingID, e.Reason)
}

func (e *BrokenChainError) Unwrap() error { return ErrIntegrity }

// --- Resource-in-use errors ---

// VersionInUseError is returned when deleting a pinned or parented version.
type VersionInUseError struct {
	VersionID string
	Pinned    bool
	Children  int
}

func (e *VersionInUseError) Error() string {
	if e.Pinned {
		return fmt.Sprintf("version %s is pinned", e.VersionID)
	}
	return fmt.Sprintf("version %s is the parent of %d version(s)", e.VersionID, e.Children)
}

func (e *VersionInUseError) Unwrap() error { return ErrInUse }

// --- Transient errors ---

// TransientError wraps a failure from the blob or metadata store that a caller
// may reasonably retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// Transient wraps err as a TransientError. Nil, not-found and already
// categorized errors pass through unchanged.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrIntegrity) ||
		errors.Is(err, ErrInUse) || errors.Is(err, ErrConflict) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// --- Data loss ---

// DataLossError describes a step whose data loss crossed the large-loss guard.
// It is attached to warnings; it only aborts a commit in strict mode.
type DataLossError struct {
	Step       int
	Type       string
	LossPct    float64
	GuardPct   float64
	RowsBefore int
	RowsAfter  int
}

func (e *DataLossError) Error() string {
	return fmt.Sprintf("step %d (%s): would drop %.1f%% of rows (%d -> %d), guard is %.1f%%",
		e.Step, e.Type, e.LossPct, e.RowsBefore, e.RowsAfter, e.GuardPct)
}

func (e *DataLossError) Unwrap() error { return ErrValidation }
