package transform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalineage/internal/common"
)

func TestNewStep(t *testing.T) {
	t.Parallel()

	t.Run("accepts matching params", func(t *testing.T) {
		t.Parallel()
		s, err := NewStep(TypeScale, ScaleParams{Columns: []string{"age"}})
		require.NoError(t, err)
		assert.Equal(t, "age", s.Column())
	})

	t.Run("rejects params of another type", func(t *testing.T) {
		t.Parallel()
		_, err := NewStep(TypeEncode, ScaleParams{Columns: []string{"age"}})
		var te *common.TypeIncompatibilityError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "encode", te.Type)
		assert.Equal(t, "age", te.Column)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		t.Parallel()
		_, err := NewStep(Type("pivot"), ScaleParams{})
		var ue *common.UnsupportedTransformationTypeError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, "pivot", ue.Type)
	})

	t.Run("rejects missing params", func(t *testing.T) {
		t.Parallel()
		_, err := NewStep(TypeFilter, nil)
		assert.ErrorIs(t, err, common.ErrValidation)
	})
}

func TestParamChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		p     Params
		param string
	}{
		{"impute strategy", ImputeParams{Strategy: "bogus"}, "strategy"},
		{"impute constant needs value", ImputeParams{Strategy: StrategyConstant}, "value"},
		{"fill strategy", FillMissingParams{Strategy: StrategyMode}, "strategy"},
		{"threshold range", DropMissingParams{Threshold: 120}, "threshold"},
		{"inclusive zero threshold", DropMissingParams{Boundary: BoundaryInclusive}, "threshold"},
		{"boundary", DropMissingParams{Threshold: 10, Boundary: "loose"}, "boundary"},
		{"encode method", EncodeParams{Column: "c", Method: "ordinal"}, "method"},
		{"scale bounds", ScaleParams{Columns: []string{"x"}, Min: 5, Max: 1}, "max"},
		{"scale columns required", ScaleParams{}, "columns"},
		{"duplicate column", NormalizeParams{Columns: []string{"x", "x"}}, "columns"},
		{"keep", DropDuplicatesParams{Keep: "middle"}, "keep"},
		{"outlier method", OutlierRemovalParams{Column: "x", Method: "mad"}, "method"},
		{"filter numeric value", FilterParams{Column: "x", Op: OpGt, Value: "abc"}, "value"},
		{"aggregate column", AggregateParams{GroupBy: []string{"g"}, Func: AggSum}, "column"},
		{"aggregate name collision", AggregateParams{GroupBy: []string{"g"}, Func: AggCount, As: "g"}, "as"},
		{"derive operand", DeriveParams{Name: "z", Left: "x", Op: DeriveAdd}, "right"},
		{"derive both operands", DeriveParams{Name: "z", Left: "x", Op: DeriveAdd, Right: "y", Constant: floatPtr(1)}, "right"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewStep(tt.p.Type(), tt.p)
			var pe *common.InvalidParameterError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, tt.param, pe.Parameter)
		})
	}
}

func TestAllTypesKnown(t *testing.T) {
	t.Parallel()
	types := AllTypes()
	assert.Len(t, types, 14)
	for _, typ := range types {
		assert.True(t, typ.Known())
		_, ok := DefaultRegistry().Lookup(typ)
		assert.True(t, ok, "no handler for %s", typ)
	}
	assert.False(t, Type("pivot").Known())
}
