package table

import (
	"fmt"
	"math"
	"sort"
)

// ColumnStats summarizes one column. Numeric fields are only meaningful when
// Numeric is true and are computed from non-null values only.
type ColumnStats struct {
	Name     string  `json:"name"`
	Kind     Kind    `json:"kind"`
	Count    int     `json:"count"`
	Nulls    int     `json:"nulls"`
	Distinct int     `json:"distinct"`
	Mode     string  `json:"mode,omitempty"`
	Numeric  bool    `json:"numeric"`
	Mean     float64 `json:"mean,omitempty"`
	Median   float64 `json:"median,omitempty"`
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`
	StdDev   float64 `json:"std_dev,omitempty"`
}

// NullPct is the share of null cells in percent.
func (s *ColumnStats) NullPct() float64 {
	total := s.Count + s.Nulls
	if total == 0 {
		return 0
	}
	return float64(s.Nulls) / float64(total) * 100
}

type accumulator struct {
	col      *Column
	numeric  bool
	count    int
	nulls    int
	mean     float64
	m2       float64
	min, max float64
	values   []float64
	freq     map[string]int
}

// ComputeStats computes statistics for the named columns in one pass over the
// rows, updating every target column per row. An empty list means all columns.
func ComputeStats(f *Frame, columns []string) (map[string]*ColumnStats, error) {
	if len(columns) == 0 {
		columns = f.ColumnNames()
	}
	accs := make([]*accumulator, 0, len(columns))
	for _, name := range columns {
		c, ok := f.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %q not found", name)
		}
		accs = append(accs, &accumulator{
			col:     c,
			numeric: true,
			min:     math.Inf(1),
			max:     math.Inf(-1),
			freq:    make(map[string]int),
		})
	}

	for row := 0; row < f.NumRows(); row++ {
		for _, a := range accs {
			cell := a.col.Cells[row]
			if !cell.Valid {
				a.nulls++
				continue
			}
			a.count++
			a.freq[cell.Value]++
			if !a.numeric {
				continue
			}
			v, ok := cell.Float()
			if !ok {
				a.numeric = false
				a.values = nil
				continue
			}
			// Welford's online mean/variance
			delta := v - a.mean
			a.mean += delta / float64(a.count)
			a.m2 += delta * (v - a.mean)
			a.min = math.Min(a.min, v)
			a.max = math.Max(a.max, v)
			a.values = append(a.values, v)
		}
	}

	out := make(map[string]*ColumnStats, len(accs))
	for _, a := range accs {
		s := &ColumnStats{
			Name:     a.col.Name,
			Count:    a.count,
			Nulls:    a.nulls,
			Distinct: len(a.freq),
			Mode:     mode(a.freq),
		}
		switch {
		case a.count == 0:
			s.Kind = KindEmpty
		case a.numeric:
			s.Kind = KindNumeric
			s.Numeric = true
			s.Mean = a.mean
			s.Median = median(a.values)
			s.Min = a.min
			s.Max = a.max
			s.StdDev = math.Sqrt(a.m2 / float64(a.count))
		default:
			s.Kind = KindText
		}
		out[a.col.Name] = s
	}
	return out, nil
}

// median sorts values in place.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

// mode returns the most frequent value; ties go to the smallest value so the
// result is deterministic.
func mode(freq map[string]int) string {
	best, bestCount := "", 0
	for v, n := range freq {
		if n > bestCount || (n == bestCount && v < best) {
			best, bestCount = v, n
		}
	}
	return best
}
