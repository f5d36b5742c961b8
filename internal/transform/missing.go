package transform

import (
	"datalineage/internal/table"
)

// fillTargets resolves the columns a fill step operates on. Without an
// explicit list, numeric strategies target every numeric column and the
// others target every column.
func fillTargets(f *table.Frame, cols []string, s Strategy) []string {
	if len(cols) > 0 {
		return cols
	}
	var out []string
	for _, info := range f.Schema() {
		if s.numeric() && info.Kind != table.KindNumeric {
			continue
		}
		out = append(out, info.Name)
	}
	return out
}

func validateFill(sc StepContext, f *table.Frame, cols []string, s Strategy) error {
	if s.numeric() {
		return requireNumeric(sc, f, cols)
	}
	return requireColumns(sc, f, cols)
}

func validateImpute(sc StepContext, p ImputeParams, f *table.Frame) error {
	return validateFill(sc, f, p.Columns, p.Strategy)
}

func executeImpute(env *Env, p ImputeParams, f *table.Frame) (*table.Frame, int, error) {
	targets := fillTargets(f, p.Columns, p.Strategy)
	out, err := fillFromStats(env, f, targets, p.Strategy, p.Value)
	if err != nil {
		return nil, 0, err
	}
	return out, changedRows(f, out, targets), nil
}

func validateFillMissing(sc StepContext, p FillMissingParams, f *table.Frame) error {
	return validateFill(sc, f, p.Columns, p.Strategy)
}

func executeFillMissing(env *Env, p FillMissingParams, f *table.Frame) (*table.Frame, int, error) {
	targets := fillTargets(f, p.Columns, p.Strategy)
	var (
		out *table.Frame
		err error
	)
	switch p.Strategy {
	case StrategyForward, StrategyBackward:
		out, err = propagate(f, targets, p.Strategy == StrategyBackward)
	default:
		out, err = fillFromStats(env, f, targets, p.Strategy, p.Value)
	}
	if err != nil {
		return nil, 0, err
	}
	return out, changedRows(f, out, targets), nil
}

// fillFromStats replaces nulls in targets with a per-column statistic or a
// constant. Statistics for all targets come from a single pass over f and
// are computed from non-null values only.
func fillFromStats(env *Env, f *table.Frame, targets []string, s Strategy, value string) (*table.Frame, error) {
	fills := make(map[string]table.Cell, len(targets))
	if s == StrategyConstant {
		for _, c := range targets {
			fills[c] = table.ParseCell(value)
		}
	} else {
		stats, err := env.Stats(f, targets)
		if err != nil {
			return nil, err
		}
		for _, c := range targets {
			st := stats[c]
			if st.Count == 0 {
				continue
			}
			switch s {
			case StrategyMean:
				fills[c] = table.Number(st.Mean)
			case StrategyMedian:
				fills[c] = table.Number(st.Median)
			case StrategyMode:
				fills[c] = table.Text(st.Mode)
			}
		}
	}

	out := f.Clone()
	for _, c := range targets {
		fill, ok := fills[c]
		if !ok {
			continue
		}
		col, _ := out.Column(c)
		cells := make([]table.Cell, len(col.Cells))
		for i, cell := range col.Cells {
			if cell.Valid {
				cells[i] = cell
			} else {
				cells[i] = fill
			}
		}
		if err := out.SetColumn(c, cells); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// propagate carries the last seen value forward (or the next value backward)
// into nulls. Nulls with nothing to carry stay null.
func propagate(f *table.Frame, targets []string, backward bool) (*table.Frame, error) {
	out := f.Clone()
	for _, c := range targets {
		col, _ := out.Column(c)
		n := len(col.Cells)
		cells := make([]table.Cell, n)
		copy(cells, col.Cells)
		carry := table.Null()
		for k := 0; k < n; k++ {
			i := k
			if backward {
				i = n - 1 - k
			}
			if cells[i].Valid {
				carry = cells[i]
			} else {
				cells[i] = carry
			}
		}
		if err := out.SetColumn(c, cells); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func validateDropMissing(sc StepContext, p DropMissingParams, f *table.Frame) error {
	return requireColumns(sc, f, p.Columns)
}

// executeDropMissing drops each row whose missing share across the checked
// columns crosses the threshold.
func executeDropMissing(env *Env, p DropMissingParams, f *table.Frame) (*table.Frame, int, error) {
	cols := p.Columns
	if len(cols) == 0 {
		cols = f.ColumnNames()
	}
	if len(cols) == 0 {
		return f.Clone(), 0, nil
	}
	keep := make([]bool, f.NumRows())
	dropped := 0
	for i := range keep {
		missing := 0
		for _, c := range cols {
			if !f.Cell(i, c).Valid {
				missing++
			}
		}
		pct := float64(missing) / float64(len(cols)) * 100
		keep[i] = !p.drops(pct)
		if !keep[i] {
			dropped++
		}
	}
	out, err := f.Filter(keep)
	if err != nil {
		return nil, 0, err
	}
	return out, dropped, nil
}
