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

// Package table is the in-memory tabular buffer transformations run against.
//
// A Frame is column-oriented: each column holds nullable string cells and is
// interpreted as numeric on demand. Keeping the raw text means a round trip
// through CSV is byte-stable, which content hashing depends on.
package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cell is a nullable value. The zero Cell is null.
type Cell struct {
	Value string
	Valid bool
}

// Null returns a null cell.
func Null() Cell { return Cell{} }

// Text returns a non-null cell holding s.
func Text(s string) Cell { return Cell{Value: s, Valid: true} }

// Number returns a non-null cell holding the canonical text form of v.
// NaN and infinities become null.
func Number(v float64) Cell {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Null()
	}
	return Cell{Value: FormatFloat(v), Valid: true}
}

// FormatFloat renders v in the shortest form that parses back to v.
func FormatFloat(v float64) string {
	if v == 0 {
		return "0" // folds -0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Float parses the cell as a number. Null and non-numeric cells report false.
func (c Cell) Float() (float64, bool) {
	if !c.Valid {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Kind classifies a column's contents.
type Kind string

const (
	KindNumeric Kind = "numeric"
	KindText    Kind = "text"
	KindEmpty   Kind = "empty" // every cell is null
)

// Column is a named sequence of cells.
type Column struct {
	Name  string
	Cells []Cell
}

// Kind reports whether the column is numeric, text or entirely null.
func (c *Column) Kind() Kind {
	seen := false
	for _, cell := range c.Cells {
		if !cell.Valid {
			continue
		}
		seen = true
		if _, ok := cell.Float(); !ok {
			return KindText
		}
	}
	if !seen {
		return KindEmpty
	}
	return KindNumeric
}

// NullCount returns the number of null cells.
func (c *Column) NullCount() int {
	n := 0
	for _, cell := range c.Cells {
		if !cell.Valid {
			n++
		}
	}
	return n
}

// ColumnInfo describes one column of a schema.
type ColumnInfo struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Schema is the ordered column layout of a frame.
type Schema []ColumnInfo

// Has reports whether the schema contains a column.
func (s Schema) Has(name string) bool {
	for _, c := range s {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Frame is a rectangular table of named columns.
type Frame struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New creates an empty frame with the given column names.
func New(names ...string) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(names))}
	for _, name := range names {
		if err := f.addColumn(name, nil); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// FromRows builds a frame from a header and row-major text values. Empty
// strings become nulls.
func FromRows(header []string, rows [][]string) (*Frame, error) {
	f, err := New(header...)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) != len(header) {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", i, len(row), len(header))
		}
		cells := make([]Cell, len(row))
		for j, v := range row {
			cells[j] = ParseCell(v)
		}
		if err := f.AppendRow(cells); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Frame) addColumn(name string, cells []Cell) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("column name must not be empty")
	}
	if _, exists := f.index[name]; exists {
		return fmt.Errorf("duplicate column %q", name)
	}
	if len(f.cols) > 0 && len(cells) != f.rows {
		return fmt.Errorf("column %q has %d cells, frame has %d rows", name, len(cells), f.rows)
	}
	if len(f.cols) == 0 {
		f.rows = len(cells)
	}
	f.index[name] = len(f.cols)
	f.cols = append(f.cols, &Column{Name: name, Cells: cells})
	return nil
}

// NumRows returns the row count.
func (f *Frame) NumRows() int { return f.rows }

// NumCols returns the column count.
func (f *Frame) NumCols() int { return len(f.cols) }

// ColumnNames returns column names in order.
func (f *Frame) ColumnNames() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Schema returns the column layout with inferred kinds.
func (f *Frame) Schema() Schema {
	s := make(Schema, len(f.cols))
	for i, c := range f.cols {
		s[i] = ColumnInfo{Name: c.Name, Kind: c.Kind()}
	}
	return s
}

// HasColumn reports whether the frame has a column named name.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column returns the named column. The returned column is shared with the
// frame and must be treated as read-only.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.cols[i], true
}

// IsNumeric reports whether every non-null cell of the column parses as a
// number and at least one cell is non-null.
func (f *Frame) IsNumeric(name string) bool {
	c, ok := f.Column(name)
	return ok && c.Kind() == KindNumeric
}

// Cell returns the cell at row i of the named column.
func (f *Frame) Cell(row int, name string) Cell {
	c, ok := f.Column(name)
	if !ok || row < 0 || row >= f.rows {
		return Null()
	}
	return c.Cells[row]
}

// Row returns a copy of row i in column order.
func (f *Frame) Row(i int) []Cell {
	row := make([]Cell, len(f.cols))
	for j, c := range f.cols {
		row[j] = c.Cells[i]
	}
	return row
}

// AppendRow adds a row. cells must match the column count.
func (f *Frame) AppendRow(cells []Cell) error {
	if len(cells) != len(f.cols) {
		return fmt.Errorf("row has %d cells, frame has %d columns", len(cells), len(f.cols))
	}
	for j, c := range f.cols {
		c.Cells = append(c.Cells, cells[j])
	}
	f.rows++
	return nil
}

// Clone returns a deep copy. Transformations run on clones so the caller's
// buffer is never mutated.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		cols:  make([]*Column, len(f.cols)),
		index: make(map[string]int, len(f.index)),
		rows:  f.rows,
	}
	for i, c := range f.cols {
		cells := make([]Cell, len(c.Cells))
		copy(cells, c.Cells)
		out.cols[i] = &Column{Name: c.Name, Cells: cells}
		out.index[c.Name] = i
	}
	return out
}

// Filter returns a new frame holding the rows where keep is true.
func (f *Frame) Filter(keep []bool) (*Frame, error) {
	if len(keep) != f.rows {
		return nil, fmt.Errorf("filter mask has %d entries, frame has %d rows", len(keep), f.rows)
	}
	n := 0
	for _, k := range keep {
		if k {
			n++
		}
	}
	out := &Frame{
		cols:  make([]*Column, len(f.cols)),
		index: make(map[string]int, len(f.index)),
		rows:  n,
	}
	for i, c := range f.cols {
		cells := make([]Cell, 0, n)
		for r, k := range keep {
			if k {
				cells = append(cells, c.Cells[r])
			}
		}
		out.cols[i] = &Column{Name: c.Name, Cells: cells}
		out.index[c.Name] = i
	}
	return out, nil
}

// SetColumn replaces the cells of an existing column, or appends a new
// column when name is not present.
func (f *Frame) SetColumn(name string, cells []Cell) error {
	if i, ok := f.index[name]; ok {
		if len(cells) != f.rows {
			return fmt.Errorf("column %q has %d cells, frame has %d rows", name, len(cells), f.rows)
		}
		f.cols[i] = &Column{Name: name, Cells: cells}
		return nil
	}
	return f.addColumn(name, cells)
}

// InsertColumnAfter adds a new column directly after anchor.
func (f *Frame) InsertColumnAfter(anchor, name string, cells []Cell) error {
	if err := f.addColumn(name, cells); err != nil {
		return err
	}
	at, ok := f.index[anchor]
	if !ok {
		return nil
	}
	last := len(f.cols) - 1
	col := f.cols[last]
	copy(f.cols[at+2:], f.cols[at+1:last])
	f.cols[at+1] = col
	f.reindex()
	return nil
}

// DropColumn removes a column.
func (f *Frame) DropColumn(name string) error {
	i, ok := f.index[name]
	if !ok {
		return fmt.Errorf("column %q not found", name)
	}
	f.cols = append(f.cols[:i], f.cols[i+1:]...)
	f.reindex()
	if len(f.cols) == 0 {
		f.rows = 0
	}
	return nil
}

func (f *Frame) reindex() {
	f.index = make(map[string]int, len(f.cols))
	for i, c := range f.cols {
		f.index[c.Name] = i
	}
}

// RowKey renders the given columns of row i as a comparable key. Nulls are
// distinguished from empty strings. An empty column list uses every column.
func (f *Frame) RowKey(i int, columns []string) string {
	if len(columns) == 0 {
		columns = f.ColumnNames()
	}
	var b strings.Builder
	for j, name := range columns {
		if j > 0 {
			b.WriteByte(0x1f)
		}
		cell := f.Cell(i, name)
		if !cell.Valid {
			b.WriteByte(0x00)
			continue
		}
		b.WriteByte(0x01)
		b.WriteString(cell.Value)
	}
	return b.String()
}

// Head returns up to n rows as text, nulls rendered as empty strings.
func (f *Frame) Head(n int) [][]string {
	if n > f.rows {
		n = f.rows
	}
	if n < 0 {
		n = 0
	}
	out := make([][]string, n)
	for i := 0; i < n; i++ {
		row := make([]string, len(f.cols))
		for j, c := range f.cols {
			if c.Cells[i].Valid {
				row[j] = c.Cells[i].Value
			}
		}
		out[i] = row
	}
	return out
}
