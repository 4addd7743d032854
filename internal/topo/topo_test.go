package topo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"
)

func square(x0, y0, size float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{x0, y0}, {x0 + size, y0}, {x0 + size, y0 + size}, {x0, y0 + size}, {x0, y0},
	}})
}

func TestClosedPolygon_ClosesOpenRing(t *testing.T) {
	open := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{0, 0}, {4, 0}, {4, 4}, {0, 4},
	}})

	closed, err := ClosedPolygon(open)
	require.NoError(t, err)

	ring := closed.LinearRing(0).Coords()
	require.Len(t, ring, 5)
	assert.Equal(t, ring[0], ring[4])
}

func TestClosedPolygon_DropsZ(t *testing.T) {
	p := geom.NewPolygon(geom.XYZ).MustSetCoords([][]geom.Coord{{
		{0, 0, 1}, {4, 0, 1}, {4, 4, 1}, {0, 0, 1},
	}})

	closed, err := ClosedPolygon(p)
	require.NoError(t, err)
	assert.Equal(t, geom.XY, closed.Layout())
}

func TestClosedPolygon_RejectsDegenerate(t *testing.T) {
	p := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{0, 0}, {1, 1},
	}})

	_, err := ClosedPolygon(p)
	assert.Error(t, err)

	_, err = ClosedPolygon(geom.NewPolygon(geom.XY))
	assert.Error(t, err)
}

func TestRoundTripThroughGEOS(t *testing.T) {
	eng := NewEngine()
	g, err := eng.FromGeom(square(0, 0, 10))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, g.Area(), 1e-9)

	back, err := ToGeom(g)
	require.NoError(t, err)
	polys := Polygons(back)
	require.Len(t, polys, 1)
	assert.InDelta(t, 100.0, polys[0].Area(), 1e-9)
}

func TestUnionAll(t *testing.T) {
	eng := NewEngine()

	a, err := eng.FromGeom(square(0, 0, 10))
	require.NoError(t, err)
	b, err := eng.FromGeom(square(5, 0, 10))
	require.NoError(t, err)

	u, err := eng.UnionAll([]*geos.Geom{a, b})
	require.NoError(t, err)
	assert.InDelta(t, 150.0, u.Area(), 1e-9)
}

func TestUnionAll_Empty(t *testing.T) {
	eng := NewEngine()
	u, err := eng.UnionAll(nil)
	require.NoError(t, err)
	assert.True(t, u.IsEmpty())
}

func TestFillHoles(t *testing.T) {
	withHole := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
	})
	assert.InDelta(t, 96.0, withHole.Area(), 1e-9)

	filled, err := FillHoles(withHole)
	require.NoError(t, err)
	require.Equal(t, 1, filled.NumPolygons())
	assert.Equal(t, 1, filled.Polygon(0).NumLinearRings())
	assert.InDelta(t, 100.0, filled.Area(), 1e-9)
}

func TestPolygons_IgnoresLines(t *testing.T) {
	ls := geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{{0, 0}, {1, 1}})
	assert.Nil(t, Polygons(ls))

	gc := geom.NewGeometryCollection()
	require.NoError(t, gc.Push(ls, square(0, 0, 1)))
	assert.Len(t, Polygons(gc), 1)
}

func TestSafe_RecoversPanic(t *testing.T) {
	err := Safe(func() error { panic("IllegalArgumentException: boom") })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTopology)
}

func TestDifference(t *testing.T) {
	eng := NewEngine()

	diff, err := eng.Difference(square(0, 0, 10), square(0, 0, 5))
	require.NoError(t, err)
	assert.InDelta(t, 75.0, diff.Area(), 1e-9)

	none, err := eng.Difference(square(0, 0, 5), square(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, none.NumPolygons())
}

func TestAsMultiPolygon_FlattensZ(t *testing.T) {
	p := geom.NewPolygon(geom.XYZ).MustSetCoords([][]geom.Coord{{
		{0, 0, 3}, {10, 0, 3}, {10, 10, 3}, {0, 10, 3}, {0, 0, 3},
	}})

	mp, err := AsMultiPolygon(p)
	require.NoError(t, err)
	assert.Equal(t, geom.XY, mp.Layout())
	require.Equal(t, 1, mp.NumPolygons())
	assert.InDelta(t, 100.0, mp.Area(), 1e-9)
}

func TestAsMultiPolygon_Empty(t *testing.T) {
	mp, err := AsMultiPolygon(nil)
	require.NoError(t, err)
	assert.True(t, mp.Empty())
}
