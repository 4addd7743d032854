// Package coverage measures how much of each street edge lies inside the
// union of building shadows.
package coverage

import (
	"github.com/twpayne/go-geos"
)

// Kind tags the shape of a line ∩ shadow intersection.
type Kind int

const (
	// KindEmpty means the edge misses every shadow.
	KindEmpty Kind = iota
	// KindLine is a single covered stretch.
	KindLine
	// KindMultiLine is several disjoint covered stretches.
	KindMultiLine
	// KindMixed is a collection that may hold points alongside lines.
	// Only the line members carry length.
	KindMixed
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindLine:
		return "line"
	case KindMultiLine:
		return "multiline"
	case KindMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Intersection is the classified result of intersecting one edge with the
// shadow union.
type Intersection struct {
	Kind   Kind
	Length float64
}

// Classify tags g and computes its covered length.
func Classify(g *geos.Geom) Intersection {
	if g == nil || g.IsEmpty() {
		return Intersection{Kind: KindEmpty}
	}
	switch g.TypeID() {
	case geos.TypeIDLineString, geos.TypeIDLinearRing:
		return Intersection{Kind: KindLine, Length: g.Length()}
	case geos.TypeIDMultiLineString:
		return Intersection{Kind: KindMultiLine, Length: g.Length()}
	default:
		return Intersection{Kind: KindMixed, Length: lineLength(g)}
	}
}

// lineLength sums the lengths of line members, descending into collections.
func lineLength(g *geos.Geom) float64 {
	switch g.TypeID() {
	case geos.TypeIDLineString, geos.TypeIDLinearRing, geos.TypeIDMultiLineString:
		return g.Length()
	case geos.TypeIDGeometryCollection:
		total := 0.0
		for i := 0; i < g.NumGeometries(); i++ {
			total += lineLength(g.Geometry(i))
		}
		return total
	default:
		return 0
	}
}
