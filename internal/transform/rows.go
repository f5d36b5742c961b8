package transform

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"datalineage/internal/table"
)

// dropRows filters f with keep and reports how many rows were removed.
func dropRows(f *table.Frame, keep []bool) (*table.Frame, int, error) {
	out, err := f.Filter(keep)
	if err != nil {
		return nil, 0, err
	}
	return out, f.NumRows() - out.NumRows(), nil
}

func validateDropDuplicates(sc StepContext, p DropDuplicatesParams, f *table.Frame) error {
	return requireColumns(sc, f, p.Columns)
}

func executeDropDuplicates(env *Env, p DropDuplicatesParams, f *table.Frame) (*table.Frame, int, error) {
	n := f.NumRows()
	keep := make([]bool, n)
	seen := make(map[string]bool, n)
	visit := func(i int) {
		key := f.RowKey(i, p.Columns)
		if !seen[key] {
			seen[key] = true
			keep[i] = true
		}
	}
	if p.Keep == KeepLast {
		for i := n - 1; i >= 0; i-- {
			visit(i)
		}
	} else {
		for i := 0; i < n; i++ {
			visit(i)
		}
	}
	return dropRows(f, keep)
}

func validateOutlierRemoval(sc StepContext, p OutlierRemovalParams, f *table.Frame) error {
	return requireNumeric(sc, f, []string{p.Column})
}

// executeOutlierRemoval drops rows whose value lies outside the fences.
// Rows with a null value are kept.
func executeOutlierRemoval(env *Env, p OutlierRemovalParams, f *table.Frame) (*table.Frame, int, error) {
	col, _ := f.Column(p.Column)
	lo, hi := math.Inf(-1), math.Inf(1)
	k := p.factor()
	switch p.method() {
	case OutlierZScore:
		stats, err := env.Stats(f, []string{p.Column})
		if err != nil {
			return nil, 0, err
		}
		if st := stats[p.Column]; st.StdDev > 0 {
			lo, hi = st.Mean-k*st.StdDev, st.Mean+k*st.StdDev
		}
	default:
		var values []float64
		for _, cell := range col.Cells {
			if v, ok := cell.Float(); ok {
				values = append(values, v)
			}
		}
		sort.Float64s(values)
		q1, q3 := quantile(values, 0.25), quantile(values, 0.75)
		iqr := q3 - q1
		lo, hi = q1-k*iqr, q3+k*iqr
	}
	keep := make([]bool, len(col.Cells))
	for i, cell := range col.Cells {
		v, ok := cell.Float()
		keep[i] = !ok || (v >= lo && v <= hi)
	}
	return dropRows(f, keep)
}

// quantile interpolates linearly between the closest ranks of sorted values.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	i := int(math.Floor(pos))
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(i)
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}

func validateFilter(sc StepContext, p FilterParams, f *table.Frame) error {
	if p.Op.ordered() {
		return requireNumeric(sc, f, []string{p.Column})
	}
	return requireColumns(sc, f, []string{p.Column})
}

// executeFilter keeps the rows matching the predicate. Null cells only match
// is_null.
func executeFilter(env *Env, p FilterParams, f *table.Frame) (*table.Frame, int, error) {
	col, _ := f.Column(p.Column)
	want, wantNumeric := strconv.ParseFloat(strings.TrimSpace(p.Value), 64)
	keep := make([]bool, len(col.Cells))
	for i, cell := range col.Cells {
		keep[i] = matches(p.Op, cell, p.Value, want, wantNumeric == nil)
	}
	return dropRows(f, keep)
}

func matches(op FilterOp, cell table.Cell, raw string, want float64, wantNumeric bool) bool {
	switch op {
	case OpIsNull:
		return !cell.Valid
	case OpNotNull:
		return cell.Valid
	}
	if !cell.Valid {
		return false
	}
	if op == OpContains {
		return strings.Contains(cell.Value, raw)
	}
	v, isNumber := cell.Float()
	if !isNumber || !wantNumeric {
		switch op {
		case OpEq:
			return cell.Value == raw
		case OpNe:
			return cell.Value != raw
		}
		return false
	}
	switch op {
	case OpEq:
		return v == want
	case OpNe:
		return v != want
	case OpGt:
		return v > want
	case OpGe:
		return v >= want
	case OpLt:
		return v < want
	case OpLe:
		return v <= want
	}
	return false
}

func validateAggregate(sc StepContext, p AggregateParams, f *table.Frame) error {
	if err := requireColumns(sc, f, p.GroupBy); err != nil {
		return err
	}
	if p.Column == "" {
		return nil
	}
	if p.Func == AggCount {
		return requireColumns(sc, f, []string{p.Column})
	}
	return requireNumeric(sc, f, []string{p.Column})
}

type group struct {
	first  int
	rows   int
	count  int
	sum    float64
	min    float64
	max    float64
	values bool
}

// executeAggregate emits one row per group in order of first appearance.
// count counts rows, or non-null values when a column is given. Groups with
// no values yield 0 for sum and null otherwise.
func executeAggregate(env *Env, p AggregateParams, f *table.Frame) (*table.Frame, int, error) {
	groups := make(map[string]*group)
	var order []string
	for i := 0; i < f.NumRows(); i++ {
		key := f.RowKey(i, p.GroupBy)
		g, ok := groups[key]
		if !ok {
			g = &group{first: i, min: math.Inf(1), max: math.Inf(-1)}
			groups[key] = g
			order = append(order, key)
		}
		g.rows++
		if p.Column == "" {
			continue
		}
		cell := f.Cell(i, p.Column)
		if !cell.Valid {
			continue
		}
		g.count++
		if v, ok := cell.Float(); ok {
			g.values = true
			g.sum += v
			g.min = math.Min(g.min, v)
			g.max = math.Max(g.max, v)
		}
	}

	name := p.outputName()
	out, err := table.New(append(append([]string(nil), p.GroupBy...), name)...)
	if err != nil {
		return nil, 0, fmt.Errorf("aggregate: %w", err)
	}
	for _, key := range order {
		g := groups[key]
		row := make([]table.Cell, 0, len(p.GroupBy)+1)
		for _, c := range p.GroupBy {
			row = append(row, f.Cell(g.first, c))
		}
		row = append(row, g.result(p))
		if err := out.AppendRow(row); err != nil {
			return nil, 0, err
		}
	}
	return out, f.NumRows() - out.NumRows(), nil
}

func (g *group) result(p AggregateParams) table.Cell {
	switch p.Func {
	case AggCount:
		if p.Column == "" {
			return table.Number(float64(g.rows))
		}
		return table.Number(float64(g.count))
	case AggSum:
		return table.Number(g.sum)
	}
	if !g.values {
		return table.Null()
	}
	switch p.Func {
	case AggMean:
		return table.Number(g.sum / float64(g.count))
	case AggMin:
		return table.Number(g.min)
	case AggMax:
		return table.Number(g.max)
	}
	return table.Null()
}

func validateDerive(sc StepContext, p DeriveParams, f *table.Frame) error {
	if err := requireNumeric(sc, f, p.Inputs()); err != nil {
		return err
	}
	if f.HasColumn(p.Name) {
		return sc.invalidParam("name", fmt.Sprintf("column %q already exists", p.Name))
	}
	return nil
}

// executeDerive appends Name = Left Op Right. Nulls and division by zero
// produce null.
func executeDerive(env *Env, p DeriveParams, f *table.Frame) (*table.Frame, int, error) {
	n := f.NumRows()
	cells := make([]table.Cell, n)
	for i := 0; i < n; i++ {
		a, ok := f.Cell(i, p.Left).Float()
		if !ok {
			continue
		}
		var b float64
		if p.Constant != nil {
			b = *p.Constant
		} else if b, ok = f.Cell(i, p.Right).Float(); !ok {
			continue
		}
		cells[i] = table.Number(apply(p.Op, a, b))
	}
	out := f.Clone()
	if err := out.SetColumn(p.Name, cells); err != nil {
		return nil, 0, err
	}
	return out, n, nil
}

func apply(op DeriveOp, a, b float64) float64 {
	switch op {
	case DeriveAdd:
		return a + b
	case DeriveSub:
		return a - b
	case DeriveMul:
		return a * b
	default:
		return a / b
	}
}
