package coverage

import (
	"context"
	"math"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/shaderoute/internal/streetgraph"
	"github.com/sells-group/shaderoute/internal/topo"
)

// ErrUnmergeable is returned for a MultiLineString edge whose parts do not
// join into one line.
var ErrUnmergeable = eris.New("coverage: edge geometry does not merge into a single line")

// Coverage maps each edge to the percentage of its length in shadow, 0–100.
type Coverage map[streetgraph.EdgeKey]float64

// Of returns the coverage of k, or 0 when k was never measured.
func (c Coverage) Of(k streetgraph.EdgeKey) float64 {
	return c[k]
}

// Stats summarises an Annotate pass.
type Stats struct {
	Edges        int     `json:"edges"`
	Shaded       int     `json:"shaded"`
	FullyShaded  int     `json:"fully_shaded"`
	Failed       int     `json:"failed"`
	ShadowParts  int     `json:"shadow_parts"`
	TotalLength  float64 `json:"total_length"`
	ShadedLength float64 `json:"shaded_length"`
}

// MeanCoverage is the length-weighted coverage of the whole network.
func (s Stats) MeanCoverage() float64 {
	if s.TotalLength <= 0 {
		return 0
	}
	return s.ShadedLength / s.TotalLength * 100
}

// Options configures an Accumulator.
type Options struct {
	Workers int // parallel edge workers; <= 0 uses GOMAXPROCS
}

// Accumulator computes per-edge shadow coverage.
type Accumulator struct {
	workers int
}

// NewAccumulator creates an Accumulator.
func NewAccumulator(opts Options) *Accumulator {
	w := opts.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	return &Accumulator{workers: w}
}

// Annotate measures every edge of g against the union of shadows. Nil
// shadows are skipped. The graph is not modified. An edge whose geometry
// cannot be measured is logged and gets coverage 0.
func (a *Accumulator) Annotate(ctx context.Context, g *streetgraph.Graph, shadows []*geom.MultiPolygon) (Coverage, Stats, error) {
	log := zap.L().With(zap.String("component", "coverage.accumulator"))

	if err := g.Validate(); err != nil {
		return nil, Stats{}, err
	}

	parts, err := unionParts(shadows)
	if err != nil {
		return nil, Stats{}, err
	}

	edges := g.Edges()
	values := make([]float64, len(edges))
	failed := make([]bool, len(edges))

	workers := a.workers
	if workers > len(edges) {
		workers = len(edges)
	}
	chunk := 0
	if workers > 0 {
		chunk = (len(edges) + workers - 1) / workers
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(a.workers)

	for start := 0; start < len(edges); start += chunk {
		end := min(start+chunk, len(edges))
		eg.Go(func() error {
			eng := topo.NewEngine()
			idx, err := newIndex(eng, parts)
			if err != nil {
				return err
			}
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				pct, err := measure(idx, edges[i].Geometry)
				if err != nil {
					log.Warn("edge coverage failed, using 0",
						zap.String("edge", edges[i].EdgeKey.String()),
						zap.Error(err),
					)
					failed[i] = true
					continue
				}
				values[i] = pct
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, Stats{}, err
	}

	cov := make(Coverage, len(edges))
	stats := Stats{Edges: len(edges), ShadowParts: len(parts)}
	for i, e := range edges {
		pct := values[i]
		cov[e.EdgeKey] = pct
		stats.TotalLength += e.Length
		stats.ShadedLength += pct / 100 * e.Length
		if failed[i] {
			stats.Failed++
		}
		if pct > 0 {
			stats.Shaded++
		}
		if pct >= 100 {
			stats.FullyShaded++
		}
		log.Debug("edge coverage",
			zap.String("edge", e.EdgeKey.String()),
			zap.Float64("coverage_pct", pct),
		)
	}

	log.Info("coverage computed",
		zap.Int("edges", stats.Edges),
		zap.Int("shaded", stats.Shaded),
		zap.Int("failed", stats.Failed),
		zap.Int("shadow_parts", stats.ShadowParts),
		zap.Float64("mean_coverage_pct", stats.MeanCoverage()),
	)
	return cov, stats, nil
}

// unionParts dissolves all shadows into disjoint polygons. The result is
// plain go-geom data, safe to share across workers that each load it into
// their own GEOS context.
func unionParts(shadows []*geom.MultiPolygon) ([]*geom.Polygon, error) {
	eng := topo.NewEngine()
	gs := make([]*geos.Geom, 0, len(shadows))
	for i, s := range shadows {
		if s == nil || s.Empty() {
			continue
		}
		g, err := eng.FromGeom(s)
		if err != nil {
			return nil, eris.Wrapf(err, "coverage: load shadow %d", i)
		}
		gs = append(gs, g)
	}
	if len(gs) == 0 {
		return nil, nil
	}

	u, err := eng.UnionAll(gs)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: union shadows")
	}
	t, err := topo.ToGeom(u)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: read shadow union")
	}
	return topo.Polygons(t), nil
}

// measure returns the covered percentage of one edge geometry.
func measure(idx *index, geometry geom.T) (float64, error) {
	if geometry == nil {
		return 0, eris.New("coverage: edge has no geometry")
	}

	var pct float64
	err := topo.Safe(func() error {
		line, err := idx.eng.FromGeom(geometry)
		if err != nil {
			return err
		}
		if line.TypeID() == geos.TypeIDMultiLineString {
			line = line.LineMerge()
			if line.TypeID() != geos.TypeIDLineString {
				return ErrUnmergeable
			}
		}
		if !line.IsValid() {
			line = line.MakeValid()
		}

		total := line.Length()
		if total <= 0 {
			return nil
		}

		cands, err := idx.candidates(geometry.Bounds())
		if err != nil {
			return err
		}
		covered := 0.0
		for _, c := range cands {
			if !c.Intersects(line) {
				continue
			}
			covered += Classify(c.Intersection(line)).Length
		}
		pct = clamp(covered / total * 100)
		return nil
	})
	return pct, err
}

func clamp(pct float64) float64 {
	if math.IsNaN(pct) || pct < 0 {
		return 0
	}
	return math.Min(pct, 100)
}
