package transform

import (
	"fmt"
	"strconv"
)

// Strategy selects how missing values are filled.
type Strategy string

const (
	StrategyMean     Strategy = "mean"
	StrategyMedian   Strategy = "median"
	StrategyMode     Strategy = "mode"
	StrategyConstant Strategy = "constant"
	StrategyForward  Strategy = "forward"
	StrategyBackward Strategy = "backward"
)

// numeric reports whether the strategy needs numeric columns.
func (s Strategy) numeric() bool { return s == StrategyMean || s == StrategyMedian }

// Boundary selects how drop_missing compares a row's missing share to the threshold.
type Boundary string

const (
	// BoundaryStrict drops rows whose missing share is strictly greater
	// than the threshold. Rows exactly at the threshold are kept.
	BoundaryStrict Boundary = "strict"
	// BoundaryInclusive also drops rows exactly at the threshold.
	BoundaryInclusive Boundary = "inclusive"
)

// ImputeParams fills nulls from a per-column statistic or a constant.
// An empty Columns list targets every eligible column.
type ImputeParams struct {
	Columns  []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Strategy Strategy `json:"strategy" yaml:"strategy"`
	Value    string   `json:"value,omitempty" yaml:"value,omitempty"`
}

func (ImputeParams) Type() Type { return TypeImpute }
func (p ImputeParams) Inputs() []string { return p.Columns }

func (p ImputeParams) check(sc StepContext) error {
	switch p.Strategy {
	case StrategyMean, StrategyMedian, StrategyMode:
	case StrategyConstant:
		if p.Value == "" {
			return sc.invalidParam("value", "required for constant strategy")
		}
	default:
		return sc.invalidParam("strategy", fmt.Sprintf("%q is not one of mean, median, mode, constant", p.Strategy))
	}
	return checkColumnList(sc, "columns", p.Columns, false)
}

// FillMissingParams fills nulls by propagation, a statistic or a constant.
type FillMissingParams struct {
	Columns  []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Strategy Strategy `json:"strategy" yaml:"strategy"`
	Value    string   `json:"value,omitempty" yaml:"value,omitempty"`
}

func (FillMissingParams) Type() Type { return TypeFillMissing }
func (p FillMissingParams) Inputs() []string { return p.Columns }

func (p FillMissingParams) check(sc StepContext) error {
	switch p.Strategy {
	case StrategyForward, StrategyBackward, StrategyMean, StrategyMedian:
	case StrategyConstant:
		if p.Value == "" {
			return sc.invalidParam("value", "required for constant strategy")
		}
	default:
		return sc.invalidParam("strategy", fmt.Sprintf("%q is not one of constant, forward, backward, mean, median", p.Strategy))
	}
	return checkColumnList(sc, "columns", p.Columns, false)
}

// DropMissingParams drops rows whose share of missing values across the
// checked columns crosses Threshold (a percentage). An empty Columns list
// checks every column.
type DropMissingParams struct {
	Columns   []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Threshold float64  `json:"threshold" yaml:"threshold"`
	Boundary  Boundary `json:"boundary,omitempty" yaml:"boundary,omitempty"`
}

func (DropMissingParams) Type() Type { return TypeDropMissing }
func (p DropMissingParams) Inputs() []string { return p.Columns }

func (p DropMissingParams) check(sc StepContext) error {
	if p.Threshold < 0 || p.Threshold > 100 {
		return sc.invalidParam("threshold", "must be a percentage in [0, 100]")
	}
	switch p.boundary() {
	case BoundaryStrict:
	case BoundaryInclusive:
		if p.Threshold == 0 {
			return sc.invalidParam("threshold", "inclusive boundary with threshold 0 would drop every row")
		}
	default:
		return sc.invalidParam("boundary", fmt.Sprintf("%q is not one of strict, inclusive", p.Boundary))
	}
	return checkColumnList(sc, "columns", p.Columns, false)
}

func (p DropMissingParams) boundary() Boundary {
	if p.Boundary == "" {
		return BoundaryStrict
	}
	return p.Boundary
}

// drops reports whether a row with missingPct percent missing is dropped.
func (p DropMissingParams) drops(missingPct float64) bool {
	if p.boundary() == BoundaryInclusive {
		return missingPct >= p.Threshold
	}
	return missingPct > p.Threshold
}

// EncodeMethod selects the categorical encoding.
type EncodeMethod string

const (
	EncodeLabel  EncodeMethod = "label"
	EncodeOneHot EncodeMethod = "one_hot"
)

// EncodeParams encodes a categorical column with the chosen method.
type EncodeParams struct {
	Column string       `json:"column" yaml:"column"`
	Method EncodeMethod `json:"method" yaml:"method"`
}

func (EncodeParams) Type() Type { return TypeEncode }
func (p EncodeParams) Inputs() []string { return []string{p.Column} }

func (p EncodeParams) check(sc StepContext) error {
	if p.Column == "" {
		return sc.invalidParam("column", "required")
	}
	if p.Method != EncodeLabel && p.Method != EncodeOneHot {
		return sc.invalidParam("method", fmt.Sprintf("%q is not one of label, one_hot", p.Method))
	}
	return nil
}

// LabelEncodeParams replaces categories with their index in sorted order.
type LabelEncodeParams struct {
	Column string `json:"column" yaml:"column"`
}

func (LabelEncodeParams) Type() Type { return TypeLabelEncode }
func (p LabelEncodeParams) Inputs() []string { return []string{p.Column} }

func (p LabelEncodeParams) check(sc StepContext) error {
	if p.Column == "" {
		return sc.invalidParam("column", "required")
	}
	return nil
}

// OneHotEncodeParams expands a categorical column into 0/1 indicator columns.
type OneHotEncodeParams struct {
	Column        string `json:"column" yaml:"column"`
	KeepOriginal  bool   `json:"keep_original,omitempty" yaml:"keep_original,omitempty"`
	MaxCategories int    `json:"max_categories,omitempty" yaml:"max_categories,omitempty"`
}

// DefaultMaxCategories bounds one-hot expansion when MaxCategories is unset.
const DefaultMaxCategories = 50

func (OneHotEncodeParams) Type() Type { return TypeOneHotEncode }
func (p OneHotEncodeParams) Inputs() []string { return []string{p.Column} }

func (p OneHotEncodeParams) check(sc StepContext) error {
	if p.Column == "" {
		return sc.invalidParam("column", "required")
	}
	if p.MaxCategories < 0 {
		return sc.invalidParam("max_categories", "must not be negative")
	}
	return nil
}

func (p OneHotEncodeParams) maxCategories() int {
	if p.MaxCategories == 0 {
		return DefaultMaxCategories
	}
	return p.MaxCategories
}

// ScaleParams rescales numeric columns linearly into [Min, Max]. When both
// bounds are zero the target range is [0, 1].
type ScaleParams struct {
	Columns []string `json:"columns" yaml:"columns"`
	Min     float64  `json:"min,omitempty" yaml:"min,omitempty"`
	Max     float64  `json:"max,omitempty" yaml:"max,omitempty"`
}

func (ScaleParams) Type() Type { return TypeScale }
func (p ScaleParams) Inputs() []string { return p.Columns }

func (p ScaleParams) check(sc StepContext) error {
	lo, hi := p.bounds()
	if lo >= hi {
		return sc.invalidParam("max", "must be greater than min")
	}
	return checkColumnList(sc, "columns", p.Columns, true)
}

func (p ScaleParams) bounds() (float64, float64) {
	if p.Min == 0 && p.Max == 0 {
		return 0, 1
	}
	return p.Min, p.Max
}

// NormalizeParams rescales numeric columns into [0, 1].
type NormalizeParams struct {
	Columns []string `json:"columns" yaml:"columns"`
}

func (NormalizeParams) Type() Type { return TypeNormalize }
func (p NormalizeParams) Inputs() []string { return p.Columns }

func (p NormalizeParams) check(sc StepContext) error {
	return checkColumnList(sc, "columns", p.Columns, true)
}

// StandardizeParams converts numeric columns to z-scores.
type StandardizeParams struct {
	Columns []string `json:"columns" yaml:"columns"`
}

func (StandardizeParams) Type() Type { return TypeStandardize }
func (p StandardizeParams) Inputs() []string { return p.Columns }

func (p StandardizeParams) check(sc StepContext) error {
	return checkColumnList(sc, "columns", p.Columns, true)
}

// DuplicateKeep selects which row of a duplicate group survives.
type DuplicateKeep string

const (
	KeepFirst DuplicateKeep = "first"
	KeepLast  DuplicateKeep = "last"
)

// DropDuplicatesParams removes repeated rows, compared on Columns (all
// columns when empty).
type DropDuplicatesParams struct {
	Columns []string      `json:"columns,omitempty" yaml:"columns,omitempty"`
	Keep    DuplicateKeep `json:"keep,omitempty" yaml:"keep,omitempty"`
}

func (DropDuplicatesParams) Type() Type { return TypeDropDuplicates }
func (p DropDuplicatesParams) Inputs() []string { return p.Columns }

func (p DropDuplicatesParams) check(sc StepContext) error {
	if p.Keep != "" && p.Keep != KeepFirst && p.Keep != KeepLast {
		return sc.invalidParam("keep", fmt.Sprintf("%q is not one of first, last", p.Keep))
	}
	return checkColumnList(sc, "columns", p.Columns, false)
}

// OutlierMethod selects the outlier rule.
type OutlierMethod string

const (
	OutlierIQR    OutlierMethod = "iqr"
	OutlierZScore OutlierMethod = "zscore"
)

// OutlierRemovalParams drops rows whose value in Column is an outlier.
// Factor defaults to 1.5 for iqr and 3 for zscore.
type OutlierRemovalParams struct {
	Column string        `json:"column" yaml:"column"`
	Method OutlierMethod `json:"method,omitempty" yaml:"method,omitempty"`
	Factor float64       `json:"factor,omitempty" yaml:"factor,omitempty"`
}

func (OutlierRemovalParams) Type() Type { return TypeOutlierRemoval }
func (p OutlierRemovalParams) Inputs() []string { return []string{p.Column} }

func (p OutlierRemovalParams) check(sc StepContext) error {
	if p.Column == "" {
		return sc.invalidParam("column", "required")
	}
	if m := p.method(); m != OutlierIQR && m != OutlierZScore {
		return sc.invalidParam("method", fmt.Sprintf("%q is not one of iqr, zscore", p.Method))
	}
	if p.Factor < 0 {
		return sc.invalidParam("factor", "must be positive")
	}
	return nil
}

func (p OutlierRemovalParams) method() OutlierMethod {
	if p.Method == "" {
		return OutlierIQR
	}
	return p.Method
}

func (p OutlierRemovalParams) factor() float64 {
	if p.Factor > 0 {
		return p.Factor
	}
	if p.method() == OutlierZScore {
		return 3
	}
	return 1.5
}

// FilterOp is a row predicate operator.
type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpNe       FilterOp = "ne"
	OpGt       FilterOp = "gt"
	OpGe       FilterOp = "ge"
	OpLt       FilterOp = "lt"
	OpLe       FilterOp = "le"
	OpContains FilterOp = "contains"
	OpIsNull   FilterOp = "is_null"
	OpNotNull  FilterOp = "not_null"
)

func (op FilterOp) ordered() bool { return op == OpGt || op == OpGe || op == OpLt || op == OpLe }

// FilterParams keeps the rows matching Column Op Value.
type FilterParams struct {
	Column string   `json:"column" yaml:"column"`
	Op     FilterOp `json:"op" yaml:"op"`
	Value  string   `json:"value,omitempty" yaml:"value,omitempty"`
}

func (FilterParams) Type() Type { return TypeFilter }
func (p FilterParams) Inputs() []string { return []string{p.Column} }

func (p FilterParams) check(sc StepContext) error {
	if p.Column == "" {
		return sc.invalidParam("column", "required")
	}
	switch p.Op {
	case OpEq, OpNe, OpContains:
	case OpGt, OpGe, OpLt, OpLe:
		if _, err := strconv.ParseFloat(p.Value, 64); err != nil {
			return sc.invalidParam("value", fmt.Sprintf("%q is not a number", p.Value))
		}
	case OpIsNull, OpNotNull:
	default:
		return sc.invalidParam("op", fmt.Sprintf("%q is not a supported operator", p.Op))
	}
	return nil
}

// AggregateFunc reduces a group of values.
type AggregateFunc string

const (
	AggSum   AggregateFunc = "sum"
	AggMean  AggregateFunc = "mean"
	AggCount AggregateFunc = "count"
	AggMin   AggregateFunc = "min"
	AggMax   AggregateFunc = "max"
)

// AggregateParams groups rows by GroupBy and reduces Column with Func into a
// column named As (default "<func>_<column>").
type AggregateParams struct {
	GroupBy []string      `json:"group_by" yaml:"group_by"`
	Column  string        `json:"column,omitempty" yaml:"column,omitempty"`
	Func    AggregateFunc `json:"func" yaml:"func"`
	As      string        `json:"as,omitempty" yaml:"as,omitempty"`
}

func (AggregateParams) Type() Type { return TypeAggregate }

func (p AggregateParams) Inputs() []string {
	cols := append([]string(nil), p.GroupBy...)
	if p.Column != "" {
		cols = append(cols, p.Column)
	}
	return cols
}

func (p AggregateParams) check(sc StepContext) error {
	if err := checkColumnList(sc, "group_by", p.GroupBy, true); err != nil {
		return err
	}
	switch p.Func {
	case AggCount:
	case AggSum, AggMean, AggMin, AggMax:
		if p.Column == "" {
			return sc.invalidParam("column", fmt.Sprintf("required for %s", p.Func))
		}
	default:
		return sc.invalidParam("func", fmt.Sprintf("%q is not one of sum, mean, count, min, max", p.Func))
	}
	for _, g := range p.GroupBy {
		if g == p.outputName() {
			return sc.invalidParam("as", fmt.Sprintf("%q collides with a group_by column", g))
		}
	}
	return nil
}

func (p AggregateParams) outputName() string {
	if p.As != "" {
		return p.As
	}
	if p.Column == "" {
		return string(p.Func)
	}
	return string(p.Func) + "_" + p.Column
}

// DeriveOp is an arithmetic operator.
type DeriveOp string

const (
	DeriveAdd DeriveOp = "add"
	DeriveSub DeriveOp = "sub"
	DeriveMul DeriveOp = "mul"
	DeriveDiv DeriveOp = "div"
)

// DeriveParams adds a column Name = Left Op (Right | Constant).
type DeriveParams struct {
	Name     string   `json:"name" yaml:"name"`
	Left     string   `json:"left" yaml:"left"`
	Op       DeriveOp `json:"op" yaml:"op"`
	Right    string   `json:"right,omitempty" yaml:"right,omitempty"`
	Constant *float64 `json:"constant,omitempty" yaml:"constant,omitempty"`
}

func (DeriveParams) Type() Type { return TypeDerive }

func (p DeriveParams) Inputs() []string {
	if p.Right != "" {
		return []string{p.Left, p.Right}
	}
	return []string{p.Left}
}

func (p DeriveParams) check(sc StepContext) error {
	if p.Name == "" {
		return sc.invalidParam("name", "required")
	}
	if p.Left == "" {
		return sc.invalidParam("left", "required")
	}
	switch p.Op {
	case DeriveAdd, DeriveSub, DeriveMul, DeriveDiv:
	default:
		return sc.invalidParam("op", fmt.Sprintf("%q is not one of add, sub, mul, div", p.Op))
	}
	if (p.Right == "") == (p.Constant == nil) {
		return sc.invalidParam("right", "exactly one of right or constant is required")
	}
	return nil
}

func checkColumnList(sc StepContext, name string, cols []string, required bool) error {
	if required && len(cols) == 0 {
		return sc.invalidParam(name, "at least one column is required")
	}
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if c == "" {
			return sc.invalidParam(name, "column names must not be empty")
		}
		if seen[c] {
			return sc.invalidParam(name, fmt.Sprintf("column %q listed twice", c))
		}
		seen[c] = true
	}
	return nil
}
