package transform

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"datalineage/internal/cache"
	"datalineage/internal/common"
	"datalineage/internal/table"
)

// Options tunes an Engine. Zero fields take their defaults.
type Options struct {
	// SampleRows is the number of rows shown before and after in a preview.
	SampleRows int
	// HighLossThreshold is the loss percentage above which a step warns.
	HighLossThreshold float64
	// LargeLossGuard is the loss percentage above which a row-removing
	// step carries a DataLossError.
	LargeLossGuard float64
	// CacheRowCeiling is the row count at or above which statistics are
	// not cached.
	CacheRowCeiling int
	// CacheMaxEntries bounds the statistics cache. Negative disables it.
	CacheMaxEntries int
}

const (
	DefaultSampleRows        = 5
	DefaultHighLossThreshold = 30.0
	DefaultLargeLossGuard    = 90.0
	DefaultCacheRowCeiling   = 10000
	DefaultCacheMaxEntries   = 32
)

// DefaultOptions returns the default tuning.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.SampleRows <= 0 {
		o.SampleRows = DefaultSampleRows
	}
	if o.HighLossThreshold <= 0 {
		o.HighLossThreshold = DefaultHighLossThreshold
	}
	if o.LargeLossGuard <= 0 {
		o.LargeLossGuard = DefaultLargeLossGuard
	}
	if o.CacheRowCeiling <= 0 {
		o.CacheRowCeiling = DefaultCacheRowCeiling
	}
	if o.CacheMaxEntries == 0 {
		o.CacheMaxEntries = DefaultCacheMaxEntries
	}
	return o
}

// Warning codes.
const (
	WarnHighDataLoss  = "high_data_loss"
	WarnLargeDataLoss = "large_data_loss"
)

// Warning is a non-fatal finding about a step.
type Warning struct {
	Step    int    `json:"step"`
	Type    Type   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// Err is set for large_data_loss warnings.
	Err *common.DataLossError `json:"-"`
}

// StepImpact describes what one executed step did.
type StepImpact struct {
	Index         int     `json:"index"`
	Type          Type    `json:"type"`
	RowsBefore    int     `json:"rows_before"`
	RowsAfter     int     `json:"rows_after"`
	RowsAffected  int     `json:"rows_affected"`
	DataLossPct   float64 `json:"data_loss_pct"`
	ColumnsBefore int     `json:"columns_before"`
	ColumnsAfter  int     `json:"columns_after"`
}

// Impact summarizes a pipeline run. DataLossPercentage is relative to the
// original row count.
type Impact struct {
	OriginalRows       int          `json:"original_rows"`
	FinalRows          int          `json:"final_rows"`
	RowsAffected       int          `json:"rows_affected"`
	DataLossPercentage float64      `json:"data_loss_percentage"`
	Steps              []StepImpact `json:"steps"`
	Warnings           []Warning    `json:"warnings,omitempty"`
}

// LargeLoss returns the first large-loss error raised during the run, if any.
func (i *Impact) LargeLoss() *common.DataLossError {
	for _, w := range i.Warnings {
		if w.Err != nil {
			return w.Err
		}
	}
	return nil
}

// Preview is the outcome of running one step without committing it.
type Preview struct {
	Step          Step                          `json:"step"`
	SampleBefore  [][]string                    `json:"sample_before"`
	SampleAfter   [][]string                    `json:"sample_after"`
	ColumnsBefore []string                      `json:"columns_before"`
	ColumnsAfter  []string                      `json:"columns_after"`
	RowsBefore    int                           `json:"rows_before"`
	RowsAfter     int                           `json:"rows_after"`
	RowsAffected  int                           `json:"rows_affected"`
	DataLossPct   float64                       `json:"data_loss_pct"`
	Warnings      []Warning                     `json:"warnings,omitempty"`
	Stats         map[string]*table.ColumnStats `json:"stats"`
}

// Result is the outcome of Apply.
type Result struct {
	Frame  *table.Frame
	Impact *Impact
	Config *Config
}

// ValidationErrors itemizes every failing step of a config.
type ValidationErrors []error

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, err := range v {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d step(s) failed validation: %s", len(v), strings.Join(msgs, "; "))
}

func (v ValidationErrors) Unwrap() []error { return v }

// Engine validates, previews and applies steps using the handlers of its
// registry. It is safe for concurrent use.
type Engine struct {
	registry *Registry
	opts     Options
	stats    *cache.FIFO[string, map[string]*table.ColumnStats]
}

// New returns an Engine. A nil registry uses DefaultRegistry.
func New(registry *Registry, opts Options) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	opts = opts.withDefaults()
	return &Engine{
		registry: registry,
		opts:     opts,
		stats:    cache.NewFIFO[string, map[string]*table.ColumnStats](opts.CacheMaxEntries),
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// CacheStats reports statistics cache usage.
func (e *Engine) CacheStats() cache.FIFOStats { return e.stats.Stats() }

// Stats returns column statistics for f, served from the cache for small frames.
func (e *Engine) Stats(f *table.Frame, columns []string) (map[string]*table.ColumnStats, error) {
	if f.NumRows() >= e.opts.CacheRowCeiling {
		return table.ComputeStats(f, columns)
	}
	key := statsKey(f, columns)
	if st, ok := e.stats.Get(key); ok {
		return st, nil
	}
	st, err := table.ComputeStats(f, columns)
	if err != nil {
		return nil, err
	}
	e.stats.Set(key, st)
	return st, nil
}

func (e *Engine) env(ctx context.Context) *Env {
	return &Env{ctx: ctx, stats: e.Stats}
}

// CheckStep validates step against the frame it would run on.
func (e *Engine) CheckStep(sc StepContext, step Step, f *table.Frame) error {
	if err := step.check(sc); err != nil {
		return err
	}
	h, ok := e.registry.Lookup(step.Type)
	if !ok {
		return &common.UnsupportedTransformationTypeError{Step: sc.Index, Type: string(step.Type)}
	}
	return h.Validate(sc, step.Params, f)
}

// Validate checks every step of cfg. Each valid step runs on a scratch copy
// so later steps are checked against the schema they will actually see. On
// success the returned config is Validated; otherwise cfg is returned as is
// with a ValidationErrors listing every failing step.
func (e *Engine) Validate(ctx context.Context, cfg *Config, f *table.Frame) (*Config, error) {
	if cfg == nil || len(cfg.steps) == 0 {
		return cfg, &common.InvalidInputError{Field: "steps", Reason: "config has no steps"}
	}
	if cfg.state == StateApplied {
		return cfg, fmt.Errorf("validate %s config: %w", cfg.state, common.ErrInvalidState)
	}

	env := e.env(ctx)
	var errs ValidationErrors
	scratch := f
	for i, step := range cfg.steps {
		if err := ctx.Err(); err != nil {
			return cfg, err
		}
		sc := StepContext{Index: i, Type: step.Type}
		if err := e.CheckStep(sc, step, scratch); err != nil {
			errs = append(errs, err)
			continue
		}
		h, _ := e.registry.Lookup(step.Type)
		next, _, err := h.Execute(env, step.Params, scratch)
		if err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i, step.Type, err))
			continue
		}
		scratch = next
	}
	if len(errs) > 0 {
		log.Debugf("[Transform] Validate: %d of %d steps failed", len(errs), len(cfg.steps))
		return cfg, errs
	}
	return cfg.with(StateValidated, 0), nil
}

// Apply runs a Validated config over f. The first successful Apply consumes
// the config: applying it again, or applying the returned Applied config,
// fails with ErrInvalidState.
func (e *Engine) Apply(ctx context.Context, cfg *Config, f *table.Frame) (*Result, error) {
	if cfg == nil || cfg.state != StateValidated {
		state := StateEmpty
		if cfg != nil {
			state = cfg.state
		}
		return nil, fmt.Errorf("apply %s config: %w", state, common.ErrInvalidState)
	}
	if !cfg.consume() {
		return nil, fmt.Errorf("apply %s config: already applied: %w", cfg.state, common.ErrInvalidState)
	}
	out, impact, err := e.ApplyPipeline(ctx, f, cfg.steps)
	if err != nil {
		cfg.consumed.Store(false)
		return nil, err
	}
	return &Result{Frame: out, Impact: impact, Config: cfg.with(StateApplied, impact.DataLossPercentage)}, nil
}

// ApplyPipeline runs steps in order, each on the previous step's output.
// f is not modified.
func (e *Engine) ApplyPipeline(ctx context.Context, f *table.Frame, steps []Step) (*table.Frame, *Impact, error) {
	if len(steps) == 0 {
		return nil, nil, &common.InvalidInputError{Field: "steps", Reason: "pipeline has no steps"}
	}
	env := e.env(ctx)
	impact := &Impact{OriginalRows: f.NumRows()}
	cur := f
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		next, si, warnings, err := e.runStep(env, StepContext{Index: i, Type: step.Type}, step, cur)
		if err != nil {
			return nil, nil, err
		}
		impact.Steps = append(impact.Steps, si)
		impact.Warnings = append(impact.Warnings, warnings...)
		impact.RowsAffected += si.RowsAffected
		cur = next
	}
	impact.FinalRows = cur.NumRows()
	impact.DataLossPercentage = lossPct(impact.OriginalRows, impact.FinalRows)
	log.Debugf("[Transform] ApplyPipeline: steps=%d rows %d -> %d affected=%d loss=%.2f%%",
		len(steps), impact.OriginalRows, impact.FinalRows, impact.RowsAffected, impact.DataLossPercentage)
	return cur, impact, nil
}

// PreviewStep runs step against f and reports samples, impact and warnings.
// Nothing is committed and f is not modified.
func (e *Engine) PreviewStep(ctx context.Context, f *table.Frame, step Step) (*Preview, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats, err := e.Stats(f, nil)
	if err != nil {
		return nil, err
	}
	out, si, warnings, err := e.runStep(e.env(ctx), StepContext{Index: 0, Type: step.Type}, step, f)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Preview{
		Step:          step,
		SampleBefore:  f.Head(e.opts.SampleRows),
		SampleAfter:   out.Head(e.opts.SampleRows),
		ColumnsBefore: f.ColumnNames(),
		ColumnsAfter:  out.ColumnNames(),
		RowsBefore:    si.RowsBefore,
		RowsAfter:     si.RowsAfter,
		RowsAffected:  si.RowsAffected,
		DataLossPct:   si.DataLossPct,
		Warnings:      warnings,
		Stats:         stats,
	}, nil
}

func (e *Engine) runStep(env *Env, sc StepContext, step Step, f *table.Frame) (*table.Frame, StepImpact, []Warning, error) {
	if err := e.CheckStep(sc, step, f); err != nil {
		return nil, StepImpact{}, nil, err
	}
	h, _ := e.registry.Lookup(step.Type)
	out, affected, err := h.Execute(env, step.Params, f)
	if err != nil {
		return nil, StepImpact{}, nil, fmt.Errorf("step %d (%s): %w", sc.Index, step.Type, err)
	}
	si := StepImpact{
		Index:         sc.Index,
		Type:          step.Type,
		RowsBefore:    f.NumRows(),
		RowsAfter:     out.NumRows(),
		RowsAffected:  affected,
		DataLossPct:   lossPct(f.NumRows(), out.NumRows()),
		ColumnsBefore: f.NumCols(),
		ColumnsAfter:  out.NumCols(),
	}
	return out, si, e.warnings(si), nil
}

// removesRows lists the cleaning steps subject to the large-loss guard.
func removesRows(t Type) bool {
	switch t {
	case TypeDropMissing, TypeDropDuplicates, TypeOutlierRemoval, TypeFilter:
		return true
	}
	return false
}

func (e *Engine) warnings(si StepImpact) []Warning {
	var out []Warning
	if si.DataLossPct > e.opts.HighLossThreshold {
		w := Warning{
			Step:    si.Index,
			Type:    si.Type,
			Code:    WarnHighDataLoss,
			Message: fmt.Sprintf("step removes %.1f%% of rows (%d -> %d)", si.DataLossPct, si.RowsBefore, si.RowsAfter),
		}
		log.Warnf("[Transform] step %d (%s): %s", si.Index, si.Type, w.Message)
		out = append(out, w)
	}
	if removesRows(si.Type) && si.DataLossPct > e.opts.LargeLossGuard {
		dl := &common.DataLossError{
			Step:       si.Index,
			Type:       string(si.Type),
			LossPct:    si.DataLossPct,
			GuardPct:   e.opts.LargeLossGuard,
			RowsBefore: si.RowsBefore,
			RowsAfter:  si.RowsAfter,
		}
		log.Warnf("[Transform] %v", dl)
		out = append(out, Warning{Step: si.Index, Type: si.Type, Code: WarnLargeDataLoss, Message: dl.Error(), Err: dl})
	}
	return out
}

// lossPct is the share of rows removed, clamped to [0, 100].
func lossPct(before, after int) float64 {
	if before <= 0 || after >= before {
		return 0
	}
	return float64(before-after) / float64(before) * 100
}
