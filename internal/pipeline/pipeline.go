// Package pipeline runs one annotation pass: shadows, coverage, weights and
// the route evaluator, in that order.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/shaderoute/internal/coverage"
	"github.com/sells-group/shaderoute/internal/mapdata"
	"github.com/sells-group/shaderoute/internal/model"
	"github.com/sells-group/shaderoute/internal/route"
	"github.com/sells-group/shaderoute/internal/shadow"
	"github.com/sells-group/shaderoute/internal/store"
	"github.com/sells-group/shaderoute/internal/sun"
	"github.com/sells-group/shaderoute/internal/weights"
)

// Phase names, in execution order.
const (
	PhaseShadows   = "shadows"
	PhaseCoverage  = "coverage"
	PhaseWeights   = "weights"
	PhaseEvaluator = "evaluator"
)

// Options configures a Pipeline.
type Options struct {
	Place    string
	Shadow   shadow.Options
	Divisors []float64
	Workers  int
}

// Pipeline orchestrates the annotation phases. The store is optional.
type Pipeline struct {
	opts      Options
	store     store.Store
	projector *shadow.Projector
	acc       *coverage.Accumulator
	synth     *weights.Synthesizer
}

// New validates opts and creates a Pipeline. st may be nil to skip run
// history.
func New(opts Options, st store.Store) (*Pipeline, error) {
	projector, err := shadow.NewProjector(opts.Shadow)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: shadow options")
	}
	divisors := opts.Divisors
	if len(divisors) == 0 {
		divisors = weights.DefaultDivisors()
	}
	synth, err := weights.NewSynthesizer(divisors)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: divisors")
	}
	opts.Shadow = projector.Options()
	opts.Divisors = synth.Divisors()

	return &Pipeline{
		opts:      opts,
		store:     st,
		projector: projector,
		acc:       coverage.NewAccumulator(coverage.Options{Workers: opts.Workers}),
		synth:     synth,
	}, nil
}

// Options returns the effective options after defaults.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Result is everything one run produced.
type Result struct {
	RunID         string
	Sun           sun.Position
	Dataset       *mapdata.Dataset
	Bounds        *geom.Bounds
	Casts         []shadow.Cast
	Coverage      coverage.Coverage
	Weights       *weights.Table
	Evaluator     *route.Evaluator
	ShadowStats   shadow.Stats
	CoverageStats coverage.Stats
	Phases        []model.PhaseResult
}

// Shadows returns the non-nil shadow of every building.
func (r *Result) Shadows() []*geom.MultiPolygon {
	out := make([]*geom.MultiPolygon, 0, len(r.Casts))
	for _, c := range r.Casts {
		if c.Shadow != nil {
			out = append(out, c.Shadow)
		}
	}
	return out
}

// Stats summarises the run for persistence and reporting.
func (r *Result) Stats() model.RunStats {
	s := model.RunStats{
		Buildings:       r.ShadowStats.Buildings,
		Shadowed:        r.ShadowStats.Shadowed,
		NoShadow:        r.ShadowStats.NoShadow,
		Degraded:        r.ShadowStats.Degraded,
		Edges:           r.CoverageStats.Edges,
		ShadedEdges:     r.CoverageStats.Shaded,
		FailedEdges:     r.CoverageStats.Failed,
		MeanCoveragePct: r.CoverageStats.MeanCoverage(),
	}
	if r.Weights != nil {
		s.WeightKeys = r.Weights.Keys()
	}
	return s
}

// Run annotates ds for the sun at pos. Any phase error aborts the run; later
// phases never see partial output of an earlier one.
func (p *Pipeline) Run(ctx context.Context, ds *mapdata.Dataset, pos sun.Position) (*Result, error) {
	if ds == nil || ds.Graph == nil {
		return nil, eris.New("pipeline: no dataset")
	}
	if err := ds.Graph.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: street graph")
	}

	log := zap.L().With(zap.String("component", "pipeline"), zap.String("place", p.opts.Place))
	log.Info("pipeline: starting run",
		zap.Float64("azimuth", pos.Azimuth),
		zap.Float64("altitude", pos.Altitude),
		zap.Int("buildings", len(ds.Buildings)),
		zap.Int("edges", ds.Graph.NumEdges()),
	)
	if !pos.AboveHorizon() {
		log.Warn("pipeline: sun below horizon",
			zap.Float64("altitude", pos.Altitude),
			zap.String("altitude_policy", string(p.opts.Shadow.AltitudePolicy)),
		)
	}

	result := &Result{
		Sun:     pos,
		Dataset: ds,
		Bounds:  ds.Bounds(),
	}

	runID := p.createRun(ctx, ds, pos, log)
	result.RunID = runID

	setStatus := func(status model.RunStatus) {
		if p.store == nil || runID == "" {
			return
		}
		if err := p.store.UpdateRunStatus(ctx, runID, status); err != nil {
			log.Warn("pipeline: failed to update status", zap.Error(err))
		}
	}

	trackPhase := func(name string, fn func() error) error {
		var phase *model.RunPhase
		if p.store != nil && runID != "" {
			var err error
			phase, err = p.store.CreatePhase(ctx, runID, name)
			if err != nil {
				log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(err))
			}
		}

		start := time.Now()
		fnErr := fn()
		duration := time.Since(start).Milliseconds()

		pr := model.PhaseResult{Name: name, Duration: duration}
		if fnErr != nil {
			pr.Status = model.PhaseStatusFailed
			pr.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			pr.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			// The run context may already be cancelled; the phase row still
			// needs closing.
			if err := p.store.CompletePhase(context.WithoutCancel(ctx), phase.ID, &pr); err != nil {
				log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(err))
			}
		}
		result.Phases = append(result.Phases, pr)
		return fnErr
	}

	fail := func(err error) (*Result, error) {
		if p.store != nil && runID != "" {
			if sErr := p.store.UpdateRunStatus(context.WithoutCancel(ctx), runID, model.RunStatusFailed); sErr != nil {
				log.Warn("pipeline: failed to mark run failed", zap.Error(sErr))
			}
		}
		return result, err
	}

	setStatus(model.RunStatusProjecting)
	if err := trackPhase(PhaseShadows, func() error {
		casts, stats, err := p.projector.ProjectAll(ctx, ds.Buildings, pos)
		result.Casts, result.ShadowStats = casts, stats
		return err
	}); err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusCovering)
	if err := trackPhase(PhaseCoverage, func() error {
		cov, stats, err := p.acc.Annotate(ctx, ds.Graph, result.Shadows())
		result.Coverage, result.CoverageStats = cov, stats
		return err
	}); err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusWeighting)
	if err := trackPhase(PhaseWeights, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		table, err := p.synth.Synthesize(ds.Graph, result.Coverage)
		result.Weights = table
		return err
	}); err != nil {
		return fail(err)
	}

	if err := trackPhase(PhaseEvaluator, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := route.NewEvaluator(ds.Graph, result.Coverage, result.Weights, result.Bounds)
		result.Evaluator = ev
		return err
	}); err != nil {
		return fail(err)
	}

	if p.store != nil && runID != "" {
		stats := result.Stats()
		if err := p.store.CompleteRun(ctx, runID, &stats); err != nil {
			log.Warn("pipeline: failed to complete run", zap.Error(err))
		}
	}

	log.Info("pipeline: run complete",
		zap.String("run_id", runID),
		zap.Int("shadowed", result.ShadowStats.Shadowed),
		zap.Int("shaded_edges", result.CoverageStats.Shaded),
		zap.Float64("mean_coverage_pct", result.CoverageStats.MeanCoverage()),
	)
	return result, nil
}

// createRun records the run when a store is configured. A store failure is
// logged and the run proceeds without history.
func (p *Pipeline) createRun(ctx context.Context, ds *mapdata.Dataset, pos sun.Position, log *zap.Logger) string {
	if p.store == nil {
		return ""
	}
	run, err := p.store.CreateRun(ctx, model.RunSpec{
		Place:          p.opts.Place,
		CRS:            ds.CRS,
		SunTime:        pos.Time,
		Azimuth:        pos.Azimuth,
		Altitude:       pos.Altitude,
		Model:          string(p.opts.Shadow.Model),
		AltitudePolicy: string(p.opts.Shadow.AltitudePolicy),
		Divisors:       p.opts.Divisors,
	})
	if err != nil {
		log.Warn("pipeline: failed to create run", zap.Error(err))
		return ""
	}
	return run.ID
}

// RecordRoutes stores answered routes against the run. It is a no-op
// without a store or run id.
func (p *Pipeline) RecordRoutes(ctx context.Context, runID string, routes []route.Route) error {
	if p.store == nil || runID == "" || len(routes) == 0 {
		return nil
	}
	records := make([]model.RouteRecord, 0, len(routes))
	for _, r := range routes {
		nodes := make([]int64, len(r.Nodes))
		for i, n := range r.Nodes {
			nodes[i] = int64(n)
		}
		records = append(records, model.RouteRecord{
			WeightKey:    r.Key,
			OriginNode:   int64(r.Origin),
			DestNode:     int64(r.Destination),
			Nodes:        nodes,
			Cost:         r.Cost,
			Length:       r.Length,
			ShadedLength: r.ShadedLength,
		})
	}
	return eris.Wrap(p.store.SaveRoutes(ctx, runID, records), "pipeline: record routes")
}
