// Package run drives evaluation runs: baseline scoring, candidate-type
// registration, custom-track profiling, and baseline-vs-custom comparison
// across many dataset files.
package run

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/typegauge/typegauge/internal/gentypes"
	"github.com/typegauge/typegauge/internal/results"
	"github.com/typegauge/typegauge/pkg/classify"
	"github.com/typegauge/typegauge/pkg/dataset"
	"github.com/typegauge/typegauge/pkg/metrics"
	"github.com/typegauge/typegauge/pkg/registry"
	"github.com/typegauge/typegauge/pkg/worker"
)

const timestampLayout = "20060102_150405"

// MissingGeneratedTypesError aborts one candidate variant whose generated
// types cannot be loaded. Never fatal to the whole run.
type MissingGeneratedTypesError struct {
	Variant string
	Err     error
}

func (e *MissingGeneratedTypesError) Error() string {
	return fmt.Sprintf("variant %s: generated types unavailable: %v", e.Variant, e.Err)
}

func (e *MissingGeneratedTypesError) Unwrap() error { return e.Err }

// Variant is one candidate type set under evaluation. Types, when set, is
// used directly; otherwise the set is loaded from TypesFile.
type Variant struct {
	Name      string
	TypesFile string
	Types     []registry.GeneratedType
}

func (v Variant) load() ([]registry.GeneratedType, error) {
	if v.Types != nil {
		return v.Types, nil
	}
	if v.TypesFile == "" {
		return nil, &MissingGeneratedTypesError{Variant: v.Name, Err: errors.New("no generated-types file resolved")}
	}
	types, err := gentypes.Load(v.TypesFile)
	if err != nil {
		return nil, &MissingGeneratedTypesError{Variant: v.Name, Err: err}
	}
	return types, nil
}

// Reloader rebuilds the service's classifier set after registry mutations.
type Reloader interface {
	ReloadSemanticTypes(ctx context.Context) error
}

// Options configures an Orchestrator.
type Options struct {
	Client   *classify.Client
	Registry *registry.Manager

	// Reloader receives the post-mutation reload calls. Defaults to Client;
	// set separately when the registry lives behind a different base URL.
	Reloader Reloader

	// Results persists run reports when Dir is set.
	Results results.Store
	// Tag names the persisted artifacts; defaults to "run".
	Tag string

	Workers      int
	RateLimitRPS float64
	// ProfileTimeout bounds one per-file profiling unit in the pool.
	ProfileTimeout time.Duration

	OnProgress func(done, total int)
	Logger     *log.Logger
	Now        func() time.Time
}

// Orchestrator runs evaluations against one classification service.
type Orchestrator struct {
	opts Options
}

// New validates options and builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, errors.New("run: classification client is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("run: registry manager is required")
	}
	if opts.Reloader == nil {
		opts.Reloader = opts.Client
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.ProfileTimeout <= 0 {
		opts.ProfileTimeout = 5 * time.Minute
	}
	if opts.Tag == "" {
		opts.Tag = "run"
	}
	return &Orchestrator{opts: opts}, nil
}

// FileResult is the per-file outcome of one profiling phase. Files whose
// load or profiling failed carry Error and are excluded from the aggregate.
type FileResult struct {
	File    string             `json:"file"`
	Metrics *metrics.MetricSet `json:"metrics,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// PhaseResult aggregates one profiling phase across files.
type PhaseResult struct {
	Metrics metrics.MetricSet `json:"metrics"`
	Files   []FileResult      `json:"files"`
}

// VariantResult is the outcome of evaluating one candidate type set.
type VariantResult struct {
	Name    string `json:"name"`
	Created int    `json:"created"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`

	Phase    *PhaseResult         `json:"phase,omitempty"`
	Delta    *metrics.MetricDelta `json:"delta,omitempty"`
	Outcomes map[string]Outcome   `json:"outcomes,omitempty"`

	Error string `json:"error,omitempty"`
}

// Report is the persisted artifact of one orchestrated run.
type Report struct {
	RunID     string          `json:"run_id"`
	Mode      string          `json:"mode"`
	Timestamp string          `json:"timestamp"`
	Baseline  *PhaseResult    `json:"baseline,omitempty"`
	Variants  []VariantResult `json:"variants,omitempty"`
}

// Baseline profiles every file with the built-in classifiers and scores
// against the baseline ground-truth track.
func (o *Orchestrator) Baseline(ctx context.Context, files []string) (*Report, error) {
	report, runID := o.newReport("baseline")
	prog := NewProgress(len(files)+1, o.opts.OnProgress)
	o.opts.Logger.Printf("baseline: run=%s files=%d units=%d", runID, len(files), len(files)+1)

	phase, err := o.profilePhase(ctx, runID, files, false, baselineTruth, prog)
	if err != nil {
		o.persist(report)
		return report, err
	}
	report.Baseline = phase
	prog.Step()
	o.logPhase(runID, "baseline", phase)
	o.persist(report)
	return report, nil
}

// Comparative runs the baseline phase, then evaluates each candidate variant
// in custom-only mode against the custom ground-truth track, reporting per-
// metric deltas and per-column outcome classifications.
func (o *Orchestrator) Comparative(ctx context.Context, files []string, variants []Variant) (*Report, error) {
	return o.run(ctx, "comparative", files, variants, true, true)
}

// CustomOnly evaluates each candidate variant in custom-only mode with no
// baseline comparison.
func (o *Orchestrator) CustomOnly(ctx context.Context, files []string, variants []Variant) (*Report, error) {
	return o.run(ctx, "custom-only", files, variants, false, true)
}

// Mixed evaluates candidate variants with built-in classifiers also active
// (custom_only=false), still scoring against the custom ground-truth track.
func (o *Orchestrator) Mixed(ctx context.Context, files []string, variants []Variant) (*Report, error) {
	return o.run(ctx, "mixed", files, variants, false, false)
}

type variantPlan struct {
	v     Variant
	types []registry.GeneratedType
	err   error
}

func (o *Orchestrator) run(ctx context.Context, mode string, files []string, variants []Variant, withBaseline, customOnly bool) (*Report, error) {
	report, runID := o.newReport(mode)

	// Variant type sets load eagerly so the unit total is exact, not
	// estimated. A failed load contributes only its clear and load units.
	plans := make([]variantPlan, 0, len(variants))
	total := 0
	if withBaseline {
		total = len(files) + 1
	}
	for _, v := range variants {
		p := variantPlan{v: v}
		p.types, p.err = v.load()
		if p.err != nil {
			total += 2
		} else {
			total += 2 + len(p.types) + len(files) + 1
		}
		plans = append(plans, p)
	}
	prog := NewProgress(total, o.opts.OnProgress)
	o.opts.Logger.Printf("%s: run=%s files=%d variants=%d units=%d", mode, runID, len(files), len(variants), total)

	var baseline *PhaseResult
	if withBaseline {
		phase, err := o.profilePhase(ctx, runID, files, false, baselineTruth, prog)
		if err != nil {
			o.persist(report)
			return report, err
		}
		baseline = phase
		report.Baseline = phase
		prog.Step()
		o.logPhase(runID, "baseline", phase)
	}

	for _, p := range plans {
		vr, err := o.runVariant(ctx, runID, files, p, baseline, customOnly, prog)
		report.Variants = append(report.Variants, vr)
		if err != nil {
			o.persist(report)
			return report, err
		}
	}

	// The run owns everything it registered; leave the registry as found.
	o.clearSession(ctx, runID)

	o.persist(report)
	return report, nil
}

// runVariant executes one candidate cycle: clear, load, create, profile,
// score. Only context-level failures propagate; everything else is recorded
// on the VariantResult.
func (o *Orchestrator) runVariant(ctx context.Context, runID string, files []string, p variantPlan, baseline *PhaseResult, customOnly bool, prog *Progress) (VariantResult, error) {
	vr := VariantResult{Name: p.v.Name}

	// Strict isolation: no leakage from a previous variant's types.
	o.clearSession(ctx, runID)
	prog.Step()

	if p.err != nil {
		vr.Error = p.err.Error()
		prog.Step()
		o.opts.Logger.Printf("variant %s: run=%s aborted: %v", p.v.Name, runID, p.err)
		return vr, nil
	}
	prog.Step()

	for _, gt := range p.types {
		created, err := o.opts.Registry.Upsert(ctx, gt)
		switch {
		case err == nil && created:
			vr.Created++
		case err == nil:
			vr.Skipped++
		default:
			vr.Failed++
			o.opts.Logger.Printf("variant %s: run=%s type %s not registered: %v", p.v.Name, runID, gt.SemanticType, err)
		}
		prog.Step()
		if ctx.Err() != nil {
			return vr, ctx.Err()
		}
	}
	o.reload(ctx, runID)
	o.opts.Logger.Printf("variant %s: run=%s created=%d skipped=%d failed=%d", p.v.Name, runID, vr.Created, vr.Skipped, vr.Failed)

	phase, err := o.profilePhase(ctx, runID, files, customOnly, customTruth, prog)
	if err != nil {
		vr.Error = err.Error()
		return vr, err
	}
	vr.Phase = phase
	if baseline != nil {
		d := metrics.Delta(phase.Metrics, baseline.Metrics)
		vr.Delta = &d
		vr.Outcomes = classifyOutcomes(baseline.Metrics.Details, phase.Metrics.Details)
		for _, col := range sortedOutcomeColumns(vr.Outcomes) {
			o.opts.Logger.Printf("variant %s: run=%s column=%s outcome=%s", p.v.Name, runID, col, vr.Outcomes[col])
		}
	}
	prog.Step()
	o.logPhase(runID, "variant "+p.v.Name, phase)
	return vr, nil
}

// profilePhase fans per-file profiling out across the pool and aggregates
// the per-file scores. Failed files are logged and excluded, never fatal.
func (o *Orchestrator) profilePhase(ctx context.Context, runID string, files []string, customOnly bool, truth func(*dataset.Dataset) map[string]string, prog *Progress) (*PhaseResult, error) {
	processor := func(ctx context.Context, file string) (*metrics.MetricSet, error) {
		ds, err := dataset.Load(file)
		if err != nil {
			return nil, err
		}
		preds, err := o.opts.Client.ProfileTable(ctx, classify.ProfileRequest{
			TableName:  ds.Name,
			Columns:    ds.Headers,
			Rows:       ds.Rows,
			CustomOnly: customOnly,
		})
		if err != nil {
			return nil, err
		}
		labels := make(map[string]string, len(preds))
		for col, p := range preds {
			labels[col] = p.SemanticType
		}
		ms := metrics.Score(labels, truth(ds))
		return &ms, nil
	}

	onResult := func(worker.Result[string, *metrics.MetricSet]) error {
		prog.Step()
		return nil
	}

	res, err := worker.ProcessAllWithCallback(ctx, files, processor, onResult, worker.Options{
		Workers:        o.opts.Workers,
		RateLimitRPS:   o.opts.RateLimitRPS,
		RequestTimeout: o.opts.ProfileTimeout,
		FailurePolicy:  worker.FailurePolicyPartialOutput,
	})
	if err != nil {
		return nil, err
	}

	phase := &PhaseResult{}
	var sets []metrics.MetricSet
	for _, r := range res {
		fr := FileResult{File: r.Input}
		if r.Err != nil {
			fr.Error = r.Err.Error()
			o.opts.Logger.Printf("profile: run=%s file=%s excluded: %v", runID, r.Input, r.Err)
		} else {
			fr.Metrics = r.Output
			sets = append(sets, *r.Output)
		}
		phase.Files = append(phase.Files, fr)
	}
	phase.Metrics = metrics.Aggregate(sets)
	return phase, nil
}

func (o *Orchestrator) clearSession(ctx context.Context, runID string) {
	if err := o.opts.Registry.Clear(ctx, registry.ScopeSession); err != nil {
		o.opts.Logger.Printf("clear: run=%s session clear failed: %v", runID, err)
	}
	o.reload(ctx, runID)
}

// reload asks the service to rebuild its classifier set after registry
// mutations. Failures are logged; the service may simply not require it.
func (o *Orchestrator) reload(ctx context.Context, runID string) {
	if err := o.opts.Reloader.ReloadSemanticTypes(ctx); err != nil {
		o.opts.Logger.Printf("reload: run=%s failed: %v", runID, err)
	}
}

func (o *Orchestrator) newReport(mode string) (*Report, string) {
	runID := uuid.NewString()
	return &Report{
		RunID:     runID,
		Mode:      mode,
		Timestamp: o.opts.Now().UTC().Format(timestampLayout),
	}, runID
}

// persist writes the report, including partial reports on abort. Best
// effort: persistence problems never mask the run outcome.
func (o *Orchestrator) persist(report *Report) {
	if o.opts.Results.Dir == "" {
		return
	}
	path, err := o.opts.Results.Save(o.opts.Tag, report.Mode, report, o.opts.Now())
	if err != nil {
		o.opts.Logger.Printf("results: run=%s save failed: %v", report.RunID, err)
		return
	}
	o.opts.Logger.Printf("results: run=%s saved %s", report.RunID, path)
}

func (o *Orchestrator) logPhase(runID, phase string, pr *PhaseResult) {
	m := pr.Metrics
	o.opts.Logger.Printf("%s: run=%s accuracy=%.3f precision=%.3f recall=%.3f f1=%.3f columns=%d excluded=%d",
		phase, runID, m.Accuracy, m.Precision, m.Recall, m.F1, m.TotalColumns, m.ExcludedColumns)
}

func baselineTruth(ds *dataset.Dataset) map[string]string { return ds.BaselineTruth }
func customTruth(ds *dataset.Dataset) map[string]string   { return ds.CustomTruth }
