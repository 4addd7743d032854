package shadow

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/shaderoute/internal/sun"
	"github.com/sells-group/shaderoute/internal/topo"
)

func square(x0, y0, size float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{x0, y0}, {x0 + size, y0}, {x0 + size, y0 + size}, {x0, y0 + size}, {x0, y0},
	}})
}

func newProjector(t *testing.T, model Model, policy AltitudePolicy) *Projector {
	t.Helper()
	opts := DefaultOptions()
	opts.Model = model
	opts.AltitudePolicy = policy
	p, err := NewProjector(opts)
	require.NoError(t, err)
	return p
}

func southSun(alt float64) sun.Position {
	return sun.Position{Azimuth: 180, Altitude: alt}
}

func assertCovers(t *testing.T, shadow *geom.MultiPolygon, fp *geom.Polygon) {
	t.Helper()
	eng := topo.NewEngine()
	s, err := eng.FromGeom(shadow)
	require.NoError(t, err)
	f, err := eng.FromGeom(fp)
	require.NoError(t, err)
	assert.True(t, s.Buffer(1e-6, 4).Contains(f), "shadow does not cover footprint")
}

func TestTranslation_NorthExtent(t *testing.T) {
	p := newProjector(t, ModelTranslation, PolicyNull)
	fp := square(0, 0, 10)

	out, err := p.Project(fp, 10, southSun(45))
	require.NoError(t, err)
	require.NotNil(t, out)

	b := out.Bounds()
	assert.InDelta(t, 20.0, b.Max(1), 1e-6)
	assert.InDelta(t, 0.0, b.Min(1), 1e-6)
	assert.InDelta(t, 0.0, b.Min(0), 1e-6)
	assert.InDelta(t, 10.0, b.Max(0), 1e-6)
	assert.InDelta(t, 200.0, out.Area(), 1e-4)
	assertCovers(t, out, fp)
}

func TestTranslation_DiagonalSweepHasNoGap(t *testing.T) {
	p := newProjector(t, ModelTranslation, PolicyNull)
	fp := square(0, 0, 10)

	// Sun in the south-west pushes the shadow north-east.
	out, err := p.Project(fp, 10, sun.Position{Azimuth: 225, Altitude: 45})
	require.NoError(t, err)

	require.Equal(t, 1, out.NumPolygons())
	assertCovers(t, out, fp)
	b := out.Bounds()
	d := 10 / math.Sqrt2
	assert.InDelta(t, 10+d, b.Max(0), 1e-6)
	assert.InDelta(t, 10+d, b.Max(1), 1e-6)
}

func TestDistorted_ExtendsAwayFromSun(t *testing.T) {
	p := newProjector(t, ModelDistorted, PolicyNull)
	fp := square(0, 0, 10)

	out, err := p.Project(fp, 10, southSun(45))
	require.NoError(t, err)
	require.NotNil(t, out)

	// Far side vertices move 10·(0.5+5/20)=7.5 north, plus the 0.5 m buffer.
	b := out.Bounds()
	assert.InDelta(t, 18.0, b.Max(1), 1e-6)
	assert.InDelta(t, -0.5, b.Min(1), 1e-6)
	assertCovers(t, out, fp)
}

func TestProject_LowSunIsFinite(t *testing.T) {
	p := newProjector(t, ModelTranslation, PolicyNull)
	out, err := p.Project(square(0, 0, 10), 10, southSun(0.5))
	require.NoError(t, err)

	// tan floor 0.1 caps the length at 10× height.
	assert.InDelta(t, 110.0, out.Bounds().Max(1), 1e-6)
}

func TestProject_SunBelowHorizon(t *testing.T) {
	fp := square(0, 0, 10)

	null := newProjector(t, ModelDistorted, PolicyNull)
	out, err := null.Project(fp, 10, southSun(-5))
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = null.Project(fp, 10, southSun(0))
	require.NoError(t, err)
	assert.Nil(t, out)

	keep := newProjector(t, ModelDistorted, PolicyFootprint)
	out, err = keep.Project(fp, 10, southSun(-5))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.InDelta(t, 100.0, out.Area(), 1e-9)
}

func TestProject_SunBelowHorizonKeeps3DFootprint(t *testing.T) {
	fp := geom.NewPolygon(geom.XYZ).MustSetCoords([][]geom.Coord{{
		{0, 0, 0}, {10, 0, 0}, {10, 10, 0}, {0, 10, 0}, {0, 0, 0},
	}})

	keep := newProjector(t, ModelDistorted, PolicyFootprint)
	out, err := keep.Project(fp, 10, southSun(-5))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.False(t, out.Empty())
	assert.Equal(t, geom.XY, out.Layout())
	assert.Equal(t, 1, out.NumPolygons())
	assert.InDelta(t, 100.0, out.Area(), 1e-9)

	casts, stats, err := keep.ProjectAll(context.Background(), []Building{{ID: "z", Footprint: fp, Height: 10}}, southSun(-5))
	require.NoError(t, err)
	require.Len(t, casts, 1)
	assert.NotNil(t, casts[0].Shadow)
	assert.Equal(t, 0, stats.NoShadow)
}

func TestProject_CoversFootprint(t *testing.T) {
	lShape := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{0, 0}, {20, 0}, {20, 6}, {6, 6}, {6, 20}, {0, 20}, {0, 0},
	}})
	holed := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
		{{0, 0}, {12, 0}, {12, 12}, {0, 12}, {0, 0}},
		{{4, 4}, {4, 8}, {8, 8}, {8, 4}, {4, 4}},
	})

	tests := []struct {
		name string
		fp   *geom.Polygon
		pos  sun.Position
	}{
		{"square oblique", square(0, 0, 10), sun.Position{Azimuth: 70, Altitude: 30}},
		{"l-shape south", lShape, southSun(40)},
		{"l-shape oblique", lShape, sun.Position{Azimuth: 70, Altitude: 25}},
		{"l-shape into notch", lShape, sun.Position{Azimuth: 225, Altitude: 35}},
		{"holed south", holed, southSun(45)},
		{"holed oblique", holed, sun.Position{Azimuth: 70, Altitude: 20}},
	}

	for _, model := range []Model{ModelTranslation, ModelDistorted} {
		p := newProjector(t, model, PolicyNull)
		for _, tt := range tests {
			t.Run(string(model)+"/"+tt.name, func(t *testing.T) {
				out, err := p.Project(tt.fp, 12, tt.pos)
				require.NoError(t, err)
				require.NotNil(t, out)
				assertCovers(t, out, tt.fp)
				for i := 0; i < out.NumPolygons(); i++ {
					assert.Equal(t, 1, out.Polygon(i).NumLinearRings(), "holes left in part %d", i)
				}
			})
		}
	}
}

func TestProject_ZeroHeightIsFootprint(t *testing.T) {
	p := newProjector(t, ModelDistorted, PolicyNull)
	out, err := p.Project(square(2, 2, 4), 0, southSun(30))
	require.NoError(t, err)
	assert.InDelta(t, 16.0, out.Area(), 1e-9)
}

func TestProject_InvalidFootprintIsKept(t *testing.T) {
	p := newProjector(t, ModelTranslation, PolicyNull)
	bowtie := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{0, 0}, {10, 10}, {10, 0}, {0, 10}, {0, 0},
	}})

	out, err := p.Project(bowtie, 10, southSun(45))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, bowtie.FlatCoords(), out.Polygon(0).FlatCoords())
}

func TestProject_DegenerateFootprintIsKept(t *testing.T) {
	p := newProjector(t, ModelTranslation, PolicyNull)
	line := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{0, 0}, {10, 0}, {0, 0},
	}})

	_, degraded, err := p.project(line, 10, southSun(45))
	require.NoError(t, err)
	assert.True(t, degraded)
}

func TestProject_RejectsBadHeight(t *testing.T) {
	p := newProjector(t, ModelTranslation, PolicyNull)
	_, err := p.Project(square(0, 0, 1), math.NaN(), southSun(45))
	assert.Error(t, err)
	_, err = p.Project(square(0, 0, 1), -1, southSun(45))
	assert.Error(t, err)
}

func TestNewProjector_Validates(t *testing.T) {
	_, err := NewProjector(Options{Model: "cone"})
	assert.Error(t, err)

	_, err = NewProjector(Options{AltitudePolicy: "always"})
	assert.Error(t, err)

	p, err := NewProjector(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), p.Options())
}

func TestVector_PointsAwayFromSun(t *testing.T) {
	dx, dy := Vector(180, 10)
	assert.InDelta(t, 0.0, dx, 1e-9)
	assert.InDelta(t, 10.0, dy, 1e-9)

	dx, dy = Vector(90, 5)
	assert.InDelta(t, -5.0, dx, 1e-9)
	assert.InDelta(t, 0.0, dy, 1e-9)
}

func TestProjectAll(t *testing.T) {
	p := newProjector(t, ModelTranslation, PolicyNull)
	buildings := []Building{
		{ID: "a", Footprint: square(0, 0, 10), Height: 10},
		{ID: "flat", Footprint: square(20, 0, 5), Height: 0},
		{ID: "bad", Footprint: geom.NewPolygon(geom.XY), Height: 5},
	}

	casts, stats, err := p.ProjectAll(context.Background(), buildings, southSun(45))
	require.NoError(t, err)
	require.Len(t, casts, 3)
	assert.Equal(t, "a", casts[0].BuildingID)
	assert.NotNil(t, casts[0].Shadow)
	assert.NotNil(t, casts[1].Shadow)
	assert.Nil(t, casts[2].Shadow)
	assert.Equal(t, Stats{Buildings: 3, Shadowed: 2, NoShadow: 1, Degraded: 1}, stats)
}

func TestProjectAll_Cancelled(t *testing.T) {
	p := newProjector(t, ModelTranslation, PolicyNull)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := p.ProjectAll(ctx, []Building{{ID: "a", Footprint: square(0, 0, 1), Height: 1}}, southSun(45))
	assert.ErrorIs(t, err, context.Canceled)
}
