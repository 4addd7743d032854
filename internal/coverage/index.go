package coverage

import (
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"

	"github.com/sells-group/shaderoute/internal/topo"
)

// pad keeps degenerate boxes (vertical or horizontal edges) non-zero in
// every dimension, which rtreego requires.
const pad = 1e-6

// shadowPart is one polygon of the shadow union, indexed by its envelope.
type shadowPart struct {
	id   int
	g    *geos.Geom
	rect rtreego.Rect
}

func (p *shadowPart) Bounds() rtreego.Rect {
	return p.rect
}

// index holds the shadow union parts of one worker's GEOS context.
type index struct {
	eng   *topo.Engine
	tree  *rtreego.Rtree
	parts int
}

// newIndex materialises parts into eng and indexes their envelopes.
func newIndex(eng *topo.Engine, parts []*geom.Polygon) (*index, error) {
	idx := &index{eng: eng, tree: rtreego.NewTree(2, 25, 50)}
	for i, p := range parts {
		g, err := eng.FromGeom(p)
		if err != nil {
			return nil, eris.Wrapf(err, "coverage: load shadow part %d", i)
		}
		rect, err := rectOf(p.Bounds())
		if err != nil {
			return nil, eris.Wrapf(err, "coverage: envelope of shadow part %d", i)
		}
		idx.tree.Insert(&shadowPart{id: i, g: g, rect: rect})
		idx.parts++
	}
	return idx, nil
}

// candidates returns the parts whose envelope meets b, in insertion order.
func (x *index) candidates(b *geom.Bounds) ([]*geos.Geom, error) {
	if x.parts == 0 || b == nil || b.IsEmpty() {
		return nil, nil
	}
	rect, err := rectOf(b)
	if err != nil {
		return nil, err
	}
	hits := x.tree.SearchIntersect(rect)
	found := make([]*shadowPart, 0, len(hits))
	for _, h := range hits {
		found = append(found, h.(*shadowPart))
	}
	sort.Slice(found, func(i, j int) bool { return found[i].id < found[j].id })

	out := make([]*geos.Geom, len(found))
	for i, p := range found {
		out[i] = p.g
	}
	return out, nil
}

func rectOf(b *geom.Bounds) (rtreego.Rect, error) {
	minX, minY := b.Min(0)-pad, b.Min(1)-pad
	w := math.Max(b.Max(0)-b.Min(0), 0) + 2*pad
	h := math.Max(b.Max(1)-b.Min(1), 0) + 2*pad
	rect, err := rtreego.NewRect(rtreego.Point{minX, minY}, []float64{w, h})
	if err != nil {
		return rtreego.Rect{}, eris.Wrap(err, "coverage: build envelope")
	}
	return rect, nil
}
