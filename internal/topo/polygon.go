package topo

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// ClosedPolygon returns a 2D copy of p with every ring closed. Rings shorter
// than three distinct vertices are rejected.
func ClosedPolygon(p *geom.Polygon) (*geom.Polygon, error) {
	if p == nil || p.Empty() {
		return nil, eris.New("topo: empty polygon")
	}
	rings := make([][]geom.Coord, 0, p.NumLinearRings())
	for _, src := range p.Coords() {
		ring := make([]geom.Coord, 0, len(src)+1)
		for _, c := range src {
			ring = append(ring, geom.Coord{c.X(), c.Y()})
		}
		rings = append(rings, ring)
	}
	for i, ring := range rings {
		if len(ring) == 0 {
			return nil, eris.Errorf("topo: ring %d is empty", i)
		}
		first, last := ring[0], ring[len(ring)-1]
		if first.X() != last.X() || first.Y() != last.Y() {
			ring = append(ring, geom.Coord{first.X(), first.Y()})
		}
		if len(ring) < 4 {
			return nil, eris.Errorf("topo: ring %d has %d vertices", i, len(ring)-1)
		}
		rings[i] = ring
	}
	out, err := geom.NewPolygon(geom.XY).SetCoords(rings)
	if err != nil {
		return nil, eris.Wrap(err, "topo: rebuild polygon")
	}
	return out, nil
}

// Polygons flattens a Polygon or MultiPolygon into its polygon parts. Other
// geometry types yield nil; collections are searched recursively.
func Polygons(t geom.T) []*geom.Polygon {
	switch g := t.(type) {
	case *geom.Polygon:
		if g.Empty() {
			return nil
		}
		return []*geom.Polygon{g}
	case *geom.MultiPolygon:
		out := make([]*geom.Polygon, 0, g.NumPolygons())
		for i := 0; i < g.NumPolygons(); i++ {
			if p := g.Polygon(i); !p.Empty() {
				out = append(out, p)
			}
		}
		return out
	case *geom.GeometryCollection:
		var out []*geom.Polygon
		for _, sub := range g.Geoms() {
			out = append(out, Polygons(sub)...)
		}
		return out
	default:
		return nil
	}
}

// FillHoles drops the interior rings of every polygon part and returns the
// parts as a MultiPolygon.
func FillHoles(t geom.T) (*geom.MultiPolygon, error) {
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range Polygons(t) {
		shell := geom.NewPolygon(geom.XY)
		if err := shell.Push(p.LinearRing(0)); err != nil {
			return nil, eris.Wrap(err, "topo: push shell")
		}
		if err := mp.Push(shell); err != nil {
			return nil, eris.Wrap(err, "topo: push part")
		}
	}
	return mp, nil
}

// AsMultiPolygon wraps a single polygon as a 2D MultiPolygon. Rings are
// copied as-is apart from dropping Z and M, so invalid or open input survives.
func AsMultiPolygon(p *geom.Polygon) (*geom.MultiPolygon, error) {
	mp := geom.NewMultiPolygon(geom.XY)
	if p == nil || p.Empty() {
		return mp, nil
	}
	rings := make([][]geom.Coord, 0, p.NumLinearRings())
	for _, src := range p.Coords() {
		ring := make([]geom.Coord, 0, len(src))
		for _, c := range src {
			ring = append(ring, geom.Coord{c.X(), c.Y()})
		}
		rings = append(rings, ring)
	}
	flat, err := geom.NewPolygon(geom.XY).SetCoords(rings)
	if err != nil {
		return nil, eris.Wrap(err, "topo: flatten polygon")
	}
	if err := mp.Push(flat); err != nil {
		return nil, eris.Wrap(err, "topo: push part")
	}
	return mp, nil
}
