// Package shadow projects building footprints into 2D shadow polygons from
// the sun's azimuth and altitude.
package shadow

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/sells-group/shaderoute/internal/sun"
	"github.com/sells-group/shaderoute/internal/topo"
)

// ErrInvalidGeometry marks an empty or self-intersecting footprint.
var ErrInvalidGeometry = eris.New("shadow: invalid footprint geometry")

// Model selects how a footprint is turned into a shadow.
type Model string

const (
	// ModelTranslation sweeps the footprint rigidly along the shadow vector.
	ModelTranslation Model = "translation"
	// ModelDistorted stretches far-side vertices more than near-side ones,
	// giving a trapezoidal elongation.
	ModelDistorted Model = "distorted"
)

// ParseModel validates a model name.
func ParseModel(s string) (Model, error) {
	switch m := Model(s); m {
	case ModelTranslation, ModelDistorted:
		return m, nil
	default:
		return "", eris.Errorf("shadow: unknown model %q", s)
	}
}

// AltitudePolicy decides what a building yields when the sun is at or below
// the horizon.
type AltitudePolicy string

const (
	// PolicyNull casts no shadow at all.
	PolicyNull AltitudePolicy = "null"
	// PolicyFootprint returns the bare footprint.
	PolicyFootprint AltitudePolicy = "footprint"
)

// ParseAltitudePolicy validates a policy name.
func ParseAltitudePolicy(s string) (AltitudePolicy, error) {
	switch p := AltitudePolicy(s); p {
	case PolicyNull, PolicyFootprint:
		return p, nil
	default:
		return "", eris.Errorf("shadow: unknown altitude policy %q", s)
	}
}

// Options configures a Projector.
type Options struct {
	Model          Model
	AltitudePolicy AltitudePolicy
	MinTanAltitude float64 // floor on tan(altitude) so low suns stay finite
	BufferMeters   float64 // overlap margin for the distorted model
	QuadSegs       int     // buffer arc resolution
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		Model:          ModelDistorted,
		AltitudePolicy: PolicyNull,
		MinTanAltitude: 0.1,
		BufferMeters:   0.5,
		QuadSegs:       16,
	}
}

// Stats summarises a ProjectAll pass.
type Stats struct {
	Buildings int `json:"buildings"`
	Shadowed  int `json:"shadowed"`
	NoShadow  int `json:"no_shadow"`
	Degraded  int `json:"degraded"`
}

// Projector turns footprints into shadows. It owns a GEOS context and is not
// safe for concurrent use.
type Projector struct {
	opts Options
	eng  *topo.Engine
}

// NewProjector validates opts, filling zero numeric fields from DefaultOptions.
func NewProjector(opts Options) (*Projector, error) {
	def := DefaultOptions()
	if opts.Model == "" {
		opts.Model = def.Model
	}
	if opts.AltitudePolicy == "" {
		opts.AltitudePolicy = def.AltitudePolicy
	}
	if _, err := ParseModel(string(opts.Model)); err != nil {
		return nil, err
	}
	if _, err := ParseAltitudePolicy(string(opts.AltitudePolicy)); err != nil {
		return nil, err
	}
	if opts.MinTanAltitude <= 0 {
		opts.MinTanAltitude = def.MinTanAltitude
	}
	switch {
	case opts.BufferMeters < 0:
		return nil, eris.Errorf("shadow: negative buffer %v", opts.BufferMeters)
	case opts.BufferMeters == 0:
		opts.BufferMeters = def.BufferMeters
	}
	if opts.QuadSegs <= 0 {
		opts.QuadSegs = def.QuadSegs
	}
	return &Projector{opts: opts, eng: topo.NewEngine()}, nil
}

// Options returns the effective options.
func (p *Projector) Options() Options {
	return p.opts
}

// Length is the plan-view shadow length for a building of the given height.
func (p *Projector) Length(height, altitude float64) float64 {
	return height / math.Max(math.Tan(altitude*math.Pi/180), p.opts.MinTanAltitude)
}

// Vector returns the plan-view displacement pointing away from the sun.
func Vector(azimuth, length float64) (dx, dy float64) {
	az := azimuth * math.Pi / 180
	return -math.Sin(az) * length, -math.Cos(az) * length
}

// keepFootprint is the degraded result: the footprint itself, flagged.
func keepFootprint(fp *geom.Polygon) (*geom.MultiPolygon, bool, error) {
	out, err := topo.AsMultiPolygon(fp)
	if err != nil {
		return nil, true, eris.Wrap(err, "shadow: keep footprint")
	}
	return out, true, nil
}

// Project returns the shadow of footprint for a building of the given height.
// The result always covers the footprint when the sun is up. When the sun is
// down the AltitudePolicy decides between nil and the bare footprint. Bad
// footprints are logged and returned unchanged.
func (p *Projector) Project(footprint *geom.Polygon, height float64, pos sun.Position) (*geom.MultiPolygon, error) {
	out, _, err := p.project(footprint, height, pos)
	return out, err
}

func (p *Projector) project(footprint *geom.Polygon, height float64, pos sun.Position) (*geom.MultiPolygon, bool, error) {
	if math.IsNaN(height) || math.IsInf(height, 0) || height < 0 {
		return nil, false, eris.Errorf("shadow: invalid height %v", height)
	}

	if pos.Altitude <= 0 {
		if p.opts.AltitudePolicy == PolicyNull {
			return nil, false, nil
		}
		out, err := topo.AsMultiPolygon(footprint)
		if err != nil {
			return nil, false, eris.Wrap(err, "shadow: keep footprint")
		}
		return out, false, nil
	}

	fp, err := topo.ClosedPolygon(footprint)
	if err != nil {
		zap.L().Warn("shadow: empty or degenerate footprint, keeping it unshadowed", zap.Error(err))
		return keepFootprint(footprint)
	}

	if height == 0 {
		out, _, err := keepFootprint(fp)
		return out, false, err
	}

	length := p.Length(height, pos.Altitude)
	dx, dy := Vector(pos.Azimuth, length)

	var shadowT geom.T
	err = topo.Safe(func() error {
		g, err := p.eng.FromGeom(fp)
		if err != nil {
			return err
		}
		if !g.IsValid() {
			return ErrInvalidGeometry
		}

		var result *geos.Geom
		switch p.opts.Model {
		case ModelTranslation:
			result, err = p.translate(fp, g, dx, dy)
		default:
			result, err = p.distort(fp, g, height, dx, dy)
		}
		if err != nil {
			return err
		}
		shadowT, err = topo.ToGeom(result)
		return err
	})
	if err != nil {
		zap.L().Warn("shadow: projection failed, keeping footprint unshadowed", zap.Error(err))
		return keepFootprint(fp)
	}

	out, err := topo.FillHoles(shadowT)
	if err != nil {
		zap.L().Warn("shadow: fill holes failed, keeping footprint unshadowed", zap.Error(err))
		return keepFootprint(fp)
	}

	zap.L().Debug("shadow: projected",
		zap.Float64("height", height),
		zap.Float64("altitude", pos.Altitude),
		zap.Float64("azimuth", pos.Azimuth),
		zap.Float64("length", length),
		zap.Float64("dx", dx),
		zap.Float64("dy", dy),
	)
	return out, false, nil
}

// translate unions the footprint, its translated copy, and the parallelogram
// swept by every footprint edge, so building and shadow form one shape.
func (p *Projector) translate(fp *geom.Polygon, g *geos.Geom, dx, dy float64) (*geos.Geom, error) {
	parts := []*geos.Geom{g}

	shell := fp.LinearRing(0).Coords()
	moved := make([]geom.Coord, len(shell))
	for i, c := range shell {
		moved[i] = geom.Coord{c.X() + dx, c.Y() + dy}
	}
	copyG, err := p.eng.FromGeom(geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{moved}))
	if err != nil {
		return nil, err
	}
	parts = append(parts, copyG)

	for i := 0; i+1 < len(shell); i++ {
		a, b := shell[i], shell[i+1]
		ex, ey := b.X()-a.X(), b.Y()-a.Y()
		if math.Abs(ex*dy-ey*dx) < 1e-9 {
			continue // edge parallel to the sun, sweeps no area
		}
		quad := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
			{a.X(), a.Y()},
			{b.X(), b.Y()},
			{b.X() + dx, b.Y() + dy},
			{a.X() + dx, a.Y() + dy},
			{a.X(), a.Y()},
		}})
		qg, err := p.eng.FromGeom(quad)
		if err != nil {
			return nil, err
		}
		parts = append(parts, qg)
	}

	return p.eng.UnionAll(parts)
}

// distort displaces each vertex along the shadow vector by an amount that
// grows with its distance past the footprint centre, then unions the
// buffered result with the buffered footprint.
func (p *Projector) distort(fp *geom.Polygon, g *geos.Geom, height, dx, dy float64) (*geos.Geom, error) {
	shell := fp.LinearRing(0).Coords()
	vertices := shell[:len(shell)-1]

	var cx, cy float64
	for _, c := range vertices {
		cx += c.X()
		cy += c.Y()
	}
	cx /= float64(len(vertices))
	cy /= float64(len(vertices))

	norm := math.Hypot(dx, dy)
	ring := make([]geom.Coord, 0, len(shell))
	for _, c := range vertices {
		proj := ((c.X()-cx)*dx + (c.Y()-cy)*dy) / norm
		factor := 0.2
		if proj >= 0 {
			factor = 0.5 + proj/(2*height)
		}
		ring = append(ring, geom.Coord{c.X() + dx*factor, c.Y() + dy*factor})
	}
	ring = append(ring, ring[0])

	sg, err := p.eng.FromGeom(geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{ring}))
	if err != nil {
		return nil, err
	}
	if !sg.IsValid() {
		sg = sg.MakeValid()
	}

	buf := p.opts.BufferMeters
	quads := p.opts.QuadSegs
	return g.Buffer(buf, quads).Union(sg.Buffer(buf, quads)), nil
}

// ProjectAll projects every building in order. A building that cannot be
// projected keeps its plain footprint; only invalid heights abort the pass.
func (p *Projector) ProjectAll(ctx context.Context, buildings []Building, pos sun.Position) ([]Cast, Stats, error) {
	log := zap.L().With(zap.String("component", "shadow.projector"))

	casts := make([]Cast, 0, len(buildings))
	stats := Stats{Buildings: len(buildings)}

	for _, b := range buildings {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		out, degraded, err := p.project(b.Footprint, b.Height, pos)
		if err != nil {
			return nil, stats, eris.Wrapf(err, "shadow: building %s", b.ID)
		}
		if degraded {
			stats.Degraded++
			log.Warn("building kept unshadowed", zap.String("building", b.ID))
		}
		if out == nil || out.Empty() {
			stats.NoShadow++
			casts = append(casts, Cast{BuildingID: b.ID})
			continue
		}
		stats.Shadowed++
		casts = append(casts, Cast{BuildingID: b.ID, Shadow: out})
	}

	log.Info("shadows projected",
		zap.Int("buildings", stats.Buildings),
		zap.Int("shadowed", stats.Shadowed),
		zap.Int("no_shadow", stats.NoShadow),
		zap.Int("degraded", stats.Degraded),
		zap.String("model", string(p.opts.Model)),
	)
	return casts, stats, nil
}
