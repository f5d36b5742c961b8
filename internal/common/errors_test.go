package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorDefinitions(t *testing.T) {
	t.Parallel()

	// Verify all errors are defined and unique
	errs := []error{
		ErrNotFound,
		ErrExists,
		ErrValidation,
		ErrIntegrity,
		ErrInUse,
		ErrTransient,
		ErrConflict,
		ErrInvalidState,
	}

	t.Run("all errors are non-nil", func(t *testing.T) {
		t.Parallel()
		for i, err := range errs {
			require.NotNil(t, err, "error at index %d should not be nil", i)
		}
	})

	t.Run("all error messages are unique", func(t *testing.T) {
		t.Parallel()
		seen := make(map[string]bool)
		for _, err := range errs {
			msg := err.Error()
			assert.False(t, seen[msg], "duplicate error message: %s", msg)
			seen[msg] = true
		}
	})
}

func TestErrorCategories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		category error
	}{
		{"InvalidInputError", &InvalidInputError{Field: "content", Reason: "empty"}, ErrValidation},
		{"UnsupportedTransformationTypeError", &UnsupportedTransformationTypeError{Step: 0, Type: "pivot"}, ErrValidation},
		{"ColumnNotFoundError", &ColumnNotFoundError{Step: 1, Type: "scale", Column: "age"}, ErrValidation},
		{"TypeIncompatibilityError", &TypeIncompatibilityError{Step: 2, Type: "scale", Column: "name"}, ErrValidation},
		{"InvalidParameterError", &InvalidParameterError{Step: 0, Type: "drop_missing", Parameter: "threshold"}, ErrValidation},
		{"DataLossError", &DataLossError{Step: 0, Type: "drop_missing", LossPct: 95}, ErrValidation},
		{"CycleDetectedError", &CycleDetectedError{ParentVersionID: "a", ChildVersionID: "a"}, ErrIntegrity},
		{"DuplicateLineageError", &DuplicateLineageError{ChildVersionID: "b"}, ErrIntegrity},
		{"BrokenChainError", &BrokenChainError{VersionID: "c", MissingID: "b"}, ErrIntegrity},
		{"VersionInUseError", &VersionInUseError{VersionID: "a", Pinned: true}, ErrInUse},
		{"TransientError", &TransientError{Op: "blob put", Err: errors.New("timeout")}, ErrTransient},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, tt.err, tt.category)
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.category, "category must survive wrapping")
		})
	}
}

func TestErrorMessagesCarryContext(t *testing.T) {
	t.Parallel()

	err := &ColumnNotFoundError{Step: 3, Type: "impute", Column: "income"}
	assert.Equal(t, `step 3 (impute): column "income" not found`, err.Error())

	inUse := &VersionInUseError{VersionID: "v1", Children: 2}
	assert.Equal(t, "version v1 is the parent of 2 version(s)", inUse.Error())

	broken := &BrokenChainError{VersionID: "v3", MissingID: "v2", Reason: "parent version missing"}
	assert.Contains(t, broken.Error(), "v3")
	assert.Contains(t, broken.Error(), "v2")
}

func TestTransient(t *testing.T) {
	t.Parallel()

	t.Run("nil stays nil", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, Transient("op", nil))
	})

	t.Run("plain error becomes transient", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("connection reset")
		err := Transient("metadata read", cause)
		assert.ErrorIs(t, err, ErrTransient)
		assert.ErrorIs(t, err, cause)

		var te *TransientError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "metadata read", te.Op)
	})

	t.Run("categorized errors pass through", func(t *testing.T) {
		t.Parallel()
		err := Transient("lookup", fmt.Errorf("version x: %w", ErrNotFound))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrTransient)

		inUse := &VersionInUseError{VersionID: "x", Pinned: true}
		assert.Same(t, inUse, Transient("delete", inUse))
	})
}
