package transform

import (
	"context"
	"fmt"
	"sort"

	"datalineage/internal/table"
)

// Handler validates and executes one transformation type.
//
// Validate checks a step against the frame it will run on; it must not
// modify the frame. Execute returns a new frame and the number of rows the
// step touched (rows removed, or rows with at least one changed cell). It
// must leave its input untouched.
type Handler interface {
	Validate(sc StepContext, p Params, f *table.Frame) error
	Execute(env *Env, p Params, f *table.Frame) (*table.Frame, int, error)
}

// Env carries per-run collaborators into handlers.
type Env struct {
	ctx   context.Context
	stats func(*table.Frame, []string) (map[string]*table.ColumnStats, error)
}

// NewEnv returns an Env computing statistics directly, without a cache.
func NewEnv(ctx context.Context) *Env {
	return &Env{ctx: ctx, stats: table.ComputeStats}
}

// Context returns the run's context.
func (e *Env) Context() context.Context { return e.ctx }

// Stats computes column statistics for columns in one pass over f.
func (e *Env) Stats(f *table.Frame, columns []string) (map[string]*table.ColumnStats, error) {
	return e.stats(f, columns)
}

// handler adapts typed functions to Handler.
type handler[P Params] struct {
	validate func(sc StepContext, p P, f *table.Frame) error
	execute  func(env *Env, p P, f *table.Frame) (*table.Frame, int, error)
}

func (h handler[P]) params(sc StepContext, p Params) (P, error) {
	v, ok := p.(P)
	if !ok {
		var zero P
		return zero, sc.incompatible("", fmt.Sprintf("parameters %T cannot configure a %s step", p, sc.Type))
	}
	return v, nil
}

func (h handler[P]) Validate(sc StepContext, p Params, f *table.Frame) error {
	v, err := h.params(sc, p)
	if err != nil {
		return err
	}
	return h.validate(sc, v, f)
}

func (h handler[P]) Execute(env *Env, p Params, f *table.Frame) (*table.Frame, int, error) {
	v, err := h.params(StepContext{Type: p.Type()}, p)
	if err != nil {
		return nil, 0, err
	}
	return h.execute(env, v, f)
}

// Registry maps transformation types to handlers. It is immutable once built.
type Registry struct {
	handlers map[Type]Handler
}

// NewRegistry copies handlers into a new Registry. Every key must be a known
// transformation type.
func NewRegistry(handlers map[Type]Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[Type]Handler, len(handlers))}
	for t, h := range handlers {
		if !t.Known() {
			return nil, fmt.Errorf("register %q: unknown transformation type", t)
		}
		if h == nil {
			return nil, fmt.Errorf("register %q: nil handler", t)
		}
		r.handlers[t] = h
	}
	return r, nil
}

// Lookup returns the handler for t.
func (r *Registry) Lookup(t Type) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered types in sorted order.
func (r *Registry) Types() []Type {
	out := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// With returns a copy of r with t bound to h. r is unchanged.
func (r *Registry) With(t Type, h Handler) (*Registry, error) {
	m := make(map[Type]Handler, len(r.handlers)+1)
	for k, v := range r.handlers {
		m[k] = v
	}
	m[t] = h
	return NewRegistry(m)
}

// DefaultRegistry returns a registry with a handler for every type.
func DefaultRegistry() *Registry {
	return &Registry{handlers: map[Type]Handler{
		TypeImpute:         handler[ImputeParams]{validateImpute, executeImpute},
		TypeFillMissing:    handler[FillMissingParams]{validateFillMissing, executeFillMissing},
		TypeDropMissing:    handler[DropMissingParams]{validateDropMissing, executeDropMissing},
		TypeEncode:         handler[EncodeParams]{validateEncode, executeEncode},
		TypeLabelEncode:    handler[LabelEncodeParams]{validateLabelEncode, executeLabelEncode},
		TypeOneHotEncode:   handler[OneHotEncodeParams]{validateOneHot, executeOneHot},
		TypeScale:          handler[ScaleParams]{validateScale, executeScale},
		TypeNormalize:      handler[NormalizeParams]{validateNormalize, executeNormalize},
		TypeStandardize:    handler[StandardizeParams]{validateStandardize, executeStandardize},
		TypeDropDuplicates: handler[DropDuplicatesParams]{validateDropDuplicates, executeDropDuplicates},
		TypeOutlierRemoval: handler[OutlierRemovalParams]{validateOutlierRemoval, executeOutlierRemoval},
		TypeFilter:         handler[FilterParams]{validateFilter, executeFilter},
		TypeAggregate:      handler[AggregateParams]{validateAggregate, executeAggregate},
		TypeDerive:         handler[DeriveParams]{validateDerive, executeDerive},
	}}
}

// requireColumns reports the first column missing from f.
func requireColumns(sc StepContext, f *table.Frame, cols []string) error {
	for _, c := range cols {
		if !f.HasColumn(c) {
			return sc.columnNotFound(c)
		}
	}
	return nil
}

// requireNumeric checks that every column exists and holds numbers.
func requireNumeric(sc StepContext, f *table.Frame, cols []string) error {
	if err := requireColumns(sc, f, cols); err != nil {
		return err
	}
	for _, c := range cols {
		col, _ := f.Column(c)
		switch col.Kind() {
		case table.KindNumeric:
		case table.KindEmpty:
			return sc.incompatible(c, "column has no values")
		default:
			return sc.incompatible(c, "column is not numeric")
		}
	}
	return nil
}

// changedRows counts rows where any of the named columns differs between a and b.
// Both frames must have the same row count.
func changedRows(a, b *table.Frame, cols []string) int {
	n := 0
	for i := 0; i < a.NumRows(); i++ {
		for _, c := range cols {
			if a.Cell(i, c) != b.Cell(i, c) {
				n++
				break
			}
		}
	}
	return n
}
