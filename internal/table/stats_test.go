package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStats(t *testing.T) {
	f, err := FromRows(
		[]string{"x", "y", "label"},
		[][]string{
			{"1", "10", "a"},
			{"2", "", "b"},
			{"3", "30", "a"},
			{"", "20", "c"},
		},
	)
	require.NoError(t, err)

	stats, err := ComputeStats(f, nil)
	require.NoError(t, err)
	require.Len(t, stats, 3)

	x := stats["x"]
	assert.True(t, x.Numeric)
	assert.Equal(t, 3, x.Count)
	assert.Equal(t, 1, x.Nulls)
	assert.InDelta(t, 2.0, x.Mean, 1e-9, "mean ignores nulls")
	assert.InDelta(t, 2.0, x.Median, 1e-9)
	assert.Equal(t, 1.0, x.Min)
	assert.Equal(t, 3.0, x.Max)
	assert.InDelta(t, 25.0, x.NullPct(), 1e-9)

	y := stats["y"]
	assert.InDelta(t, 20.0, y.Median, 1e-9)
	assert.InDelta(t, 8.16496580927726, y.StdDev, 1e-9)

	label := stats["label"]
	assert.False(t, label.Numeric)
	assert.Equal(t, KindText, label.Kind)
	assert.Equal(t, 3, label.Distinct)
	assert.Equal(t, "a", label.Mode)
}

func TestComputeStatsEvenMedianAndMissingColumn(t *testing.T) {
	f, err := FromRows([]string{"v"}, [][]string{{"4"}, {"1"}, {"3"}, {"2"}})
	require.NoError(t, err)

	stats, err := ComputeStats(f, []string{"v"})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, stats["v"].Median, 1e-9)

	_, err = ComputeStats(f, []string{"nope"})
	assert.Error(t, err)
}
