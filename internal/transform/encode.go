package transform

import (
	"fmt"
	"sort"

	"datalineage/internal/table"
)

// categories returns the distinct non-null values of a column in sorted order.
func categories(col *table.Column) []string {
	seen := make(map[string]bool)
	var out []string
	for _, cell := range col.Cells {
		if cell.Valid && !seen[cell.Value] {
			seen[cell.Value] = true
			out = append(out, cell.Value)
		}
	}
	sort.Strings(out)
	return out
}

func validateEncode(sc StepContext, p EncodeParams, f *table.Frame) error {
	if p.Method == EncodeOneHot {
		return validateOneHot(sc, OneHotEncodeParams{Column: p.Column}, f)
	}
	return validateLabelEncode(sc, LabelEncodeParams{Column: p.Column}, f)
}

func executeEncode(env *Env, p EncodeParams, f *table.Frame) (*table.Frame, int, error) {
	if p.Method == EncodeOneHot {
		return executeOneHot(env, OneHotEncodeParams{Column: p.Column}, f)
	}
	return executeLabelEncode(env, LabelEncodeParams{Column: p.Column}, f)
}

func validateLabelEncode(sc StepContext, p LabelEncodeParams, f *table.Frame) error {
	return requireColumns(sc, f, []string{p.Column})
}

// executeLabelEncode replaces each category with its index among the sorted
// categories. Nulls stay null.
func executeLabelEncode(env *Env, p LabelEncodeParams, f *table.Frame) (*table.Frame, int, error) {
	col, _ := f.Column(p.Column)
	codes := make(map[string]int)
	for i, c := range categories(col) {
		codes[c] = i
	}
	cells := make([]table.Cell, len(col.Cells))
	for i, cell := range col.Cells {
		if cell.Valid {
			cells[i] = table.Number(float64(codes[cell.Value]))
		}
	}
	out := f.Clone()
	if err := out.SetColumn(p.Column, cells); err != nil {
		return nil, 0, err
	}
	return out, changedRows(f, out, []string{p.Column}), nil
}

func oneHotName(column, category string) string {
	return column + "_" + category
}

func validateOneHot(sc StepContext, p OneHotEncodeParams, f *table.Frame) error {
	if err := requireColumns(sc, f, []string{p.Column}); err != nil {
		return err
	}
	col, _ := f.Column(p.Column)
	cats := categories(col)
	if limit := p.maxCategories(); len(cats) > limit {
		return sc.invalidParam("max_categories", fmt.Sprintf("column %q has %d categories, limit is %d", p.Column, len(cats), limit))
	}
	for _, c := range cats {
		if name := oneHotName(p.Column, c); f.HasColumn(name) {
			return sc.invalidParam("column", fmt.Sprintf("indicator column %q already exists", name))
		}
	}
	return nil
}

// executeOneHot adds a 0/1 indicator column per category right after the
// source column. Null rows get 0 in every indicator.
func executeOneHot(env *Env, p OneHotEncodeParams, f *table.Frame) (*table.Frame, int, error) {
	col, _ := f.Column(p.Column)
	out := f.Clone()
	anchor := p.Column
	for _, c := range categories(col) {
		cells := make([]table.Cell, len(col.Cells))
		for i, cell := range col.Cells {
			if cell.Valid && cell.Value == c {
				cells[i] = table.Number(1)
			} else {
				cells[i] = table.Number(0)
			}
		}
		name := oneHotName(p.Column, c)
		if err := out.InsertColumnAfter(anchor, name, cells); err != nil {
			return nil, 0, err
		}
		anchor = name
	}
	if !p.KeepOriginal {
		if err := out.DropColumn(p.Column); err != nil {
			return nil, 0, err
		}
	}
	return out, f.NumRows(), nil
}
