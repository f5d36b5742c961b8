package transform

import (
	"datalineage/internal/table"
)

func validateScale(sc StepContext, p ScaleParams, f *table.Frame) error {
	return requireNumeric(sc, f, p.Columns)
}

func executeScale(env *Env, p ScaleParams, f *table.Frame) (*table.Frame, int, error) {
	lo, hi := p.bounds()
	return rescale(env, f, p.Columns, func(st *table.ColumnStats, v float64) float64 {
		span := st.Max - st.Min
		if span == 0 {
			return lo
		}
		return lo + (v-st.Min)/span*(hi-lo)
	})
}

func validateNormalize(sc StepContext, p NormalizeParams, f *table.Frame) error {
	return requireNumeric(sc, f, p.Columns)
}

func executeNormalize(env *Env, p NormalizeParams, f *table.Frame) (*table.Frame, int, error) {
	return executeScale(env, ScaleParams{Columns: p.Columns, Min: 0, Max: 1}, f)
}

func validateStandardize(sc StepContext, p StandardizeParams, f *table.Frame) error {
	return requireNumeric(sc, f, p.Columns)
}

// executeStandardize uses the population standard deviation. A constant
// column maps to 0.
func executeStandardize(env *Env, p StandardizeParams, f *table.Frame) (*table.Frame, int, error) {
	return rescale(env, f, p.Columns, func(st *table.ColumnStats, v float64) float64 {
		if st.StdDev == 0 {
			return 0
		}
		return (v - st.Mean) / st.StdDev
	})
}

// rescale maps every non-null value of cols through fn, with statistics for
// all columns computed in one pass.
func rescale(env *Env, f *table.Frame, cols []string, fn func(*table.ColumnStats, float64) float64) (*table.Frame, int, error) {
	stats, err := env.Stats(f, cols)
	if err != nil {
		return nil, 0, err
	}
	out := f.Clone()
	for _, c := range cols {
		col, _ := f.Column(c)
		st := stats[c]
		cells := make([]table.Cell, len(col.Cells))
		for i, cell := range col.Cells {
			v, ok := cell.Float()
			if !ok {
				continue
			}
			cells[i] = table.Number(fn(st, v))
		}
		if err := out.SetColumn(c, cells); err != nil {
			return nil, 0, err
		}
	}
	return out, changedRows(f, out, cols), nil
}
