package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"datalineage/internal/table"
)

func frameOf(t *testing.T, header []string, rows ...[]string) *table.Frame {
	t.Helper()
	f, err := table.FromRows(header, rows)
	require.NoError(t, err)
	return f
}

func column(t *testing.T, f *table.Frame, name string) []string {
	t.Helper()
	col, ok := f.Column(name)
	require.True(t, ok, "column %q", name)
	out := make([]string, len(col.Cells))
	for i, c := range col.Cells {
		if c.Valid {
			out[i] = c.Value
		}
	}
	return out
}

// lossyFrame has 100 rows over columns a and b: the first 10 have both
// values missing, the next 20 miss only b.
func lossyFrame(t *testing.T) *table.Frame {
	t.Helper()
	rows := make([][]string, 100)
	for i := range rows {
		switch {
		case i < 10:
			rows[i] = []string{"", ""}
		case i < 30:
			rows[i] = []string{"1", ""}
		default:
			rows[i] = []string{"1", "2"}
		}
	}
	return frameOf(t, []string{"a", "b"}, rows...)
}

func floatPtr(v float64) *float64 { return &v }
