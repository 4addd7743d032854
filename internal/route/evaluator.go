// Package route answers shortest-path queries over the annotated street
// graph under any of its weight keys.
package route

import (
	"context"
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/sells-group/shaderoute/internal/coverage"
	"github.com/sells-group/shaderoute/internal/streetgraph"
	"github.com/sells-group/shaderoute/internal/weights"
)

var (
	// ErrOutOfBounds means a query point lies outside the data extent.
	ErrOutOfBounds = eris.New("route: point outside data bounds")
	// ErrNoRoute means origin and destination are not connected.
	ErrNoRoute = eris.New("route: no path between origin and destination")
	// ErrUnknownWeight means the requested weight key does not exist.
	ErrUnknownWeight = eris.New("route: unknown weight key")
)

// Route is one shortest path under a single weight key.
type Route struct {
	Key          string                `json:"key"`
	Origin       streetgraph.NodeID    `json:"origin"`
	Destination  streetgraph.NodeID    `json:"destination"`
	Nodes        []streetgraph.NodeID  `json:"nodes"`
	Edges        []streetgraph.EdgeKey `json:"edges"`
	Cost         float64               `json:"cost"`
	Length       float64               `json:"length"`
	ShadedLength float64               `json:"shaded_length"`
	ShadePct     float64               `json:"shade_pct"`
	Geometry     *geom.LineString      `json:"-"`
}

// nodeItem is a graph node stored in the nearest-node R-tree.
type nodeItem struct {
	node streetgraph.Node
	rect rtreego.Rect
}

func (n *nodeItem) Bounds() rtreego.Rect {
	return n.rect
}

// keyGraph is the simple digraph for one weight key. Parallel edges are
// collapsed to the cheapest; chosen remembers which edge won.
type keyGraph struct {
	g      *simple.WeightedDirectedGraph
	chosen map[[2]streetgraph.NodeID]streetgraph.EdgeKey
}

// Evaluator is read-only after construction and safe for concurrent use.
type Evaluator struct {
	graph  *streetgraph.Graph
	cov    coverage.Coverage
	table  *weights.Table
	bounds *geom.Bounds
	nodes  *rtreego.Rtree
	byKey  map[string]*keyGraph
}

// NewEvaluator builds one search graph per weight key in table. bounds is the
// accepted query extent; nil means the graph's own node bounds.
func NewEvaluator(g *streetgraph.Graph, cov coverage.Coverage, table *weights.Table, bounds *geom.Bounds) (*Evaluator, error) {
	if g.NumNodes() == 0 {
		return nil, eris.New("route: graph has no nodes")
	}
	if bounds == nil {
		bounds = g.Bounds()
	}

	e := &Evaluator{
		graph:  g,
		cov:    cov,
		table:  table,
		bounds: bounds,
		nodes:  rtreego.NewTree(2, 25, 50),
		byKey:  make(map[string]*keyGraph),
	}
	for _, n := range g.Nodes() {
		e.nodes.Insert(&nodeItem{node: n, rect: rtreego.Point{n.X, n.Y}.ToRect(1e-9)})
	}

	for _, key := range table.Keys() {
		kg, err := e.buildKeyGraph(key)
		if err != nil {
			return nil, err
		}
		e.byKey[key] = kg
	}

	zap.L().Debug("route: evaluator ready",
		zap.Int("nodes", g.NumNodes()),
		zap.Int("edges", g.NumEdges()),
		zap.Strings("keys", table.Keys()),
	)
	return e, nil
}

func (e *Evaluator) buildKeyGraph(key string) (*keyGraph, error) {
	kg := &keyGraph{
		g:      simple.NewWeightedDirectedGraph(0, math.Inf(1)),
		chosen: make(map[[2]streetgraph.NodeID]streetgraph.EdgeKey),
	}
	for _, n := range e.graph.Nodes() {
		kg.g.AddNode(simple.Node(n.ID))
	}

	best := make(map[[2]streetgraph.NodeID]float64)
	for _, edge := range e.graph.Edges() {
		if edge.From == edge.To {
			continue
		}
		w, err := e.table.Weight(key, edge.EdgeKey)
		if err != nil {
			return nil, eris.Wrapf(err, "route: weight %s", key)
		}
		pair := [2]streetgraph.NodeID{edge.From, edge.To}
		if cur, ok := best[pair]; ok && cur <= w {
			continue
		}
		best[pair] = w
		kg.chosen[pair] = edge.EdgeKey
	}

	for pair, w := range best {
		if kg.g.Node(int64(pair[0])) == nil || kg.g.Node(int64(pair[1])) == nil {
			return nil, eris.Errorf("route: edge %s references a missing node", kg.chosen[pair])
		}
		kg.g.SetWeightedEdge(kg.g.NewWeightedEdge(simple.Node(pair[0]), simple.Node(pair[1]), w))
	}
	return kg, nil
}

// Keys returns the weight keys this evaluator can route on.
func (e *Evaluator) Keys() []string {
	return e.table.Keys()
}

// Bounds returns the accepted query extent.
func (e *Evaluator) Bounds() *geom.Bounds {
	return e.bounds
}

// InBounds reports whether c lies inside the query extent.
func (e *Evaluator) InBounds(c geom.Coord) bool {
	if e.bounds.IsEmpty() || len(c) < 2 || math.IsNaN(c.X()) || math.IsNaN(c.Y()) {
		return false
	}
	return e.bounds.OverlapsPoint(geom.XY, c)
}

// Nearest returns the graph node closest to c.
func (e *Evaluator) Nearest(c geom.Coord) (streetgraph.Node, error) {
	if !e.InBounds(c) {
		return streetgraph.Node{}, eris.Wrapf(ErrOutOfBounds, "route: (%v, %v)", c.X(), c.Y())
	}
	hit := e.nodes.NearestNeighbor(rtreego.Point{c.X(), c.Y()})
	if hit == nil {
		return streetgraph.Node{}, eris.New("route: empty node index")
	}
	return hit.(*nodeItem).node, nil
}

// Route finds the cheapest path from the node nearest origin to the node
// nearest dest under key.
func (e *Evaluator) Route(ctx context.Context, origin, dest geom.Coord, key string) (*Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kg, ok := e.byKey[key]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownWeight, "route: %q", key)
	}

	for _, c := range []geom.Coord{origin, dest} {
		if !e.InBounds(c) {
			return nil, eris.Wrapf(ErrOutOfBounds, "route: (%v, %v)", c.X(), c.Y())
		}
	}

	from, err := e.Nearest(origin)
	if err != nil {
		return nil, err
	}
	to, err := e.Nearest(dest)
	if err != nil {
		return nil, err
	}

	r := &Route{Key: key, Origin: from.ID, Destination: to.ID}
	if from.ID == to.ID {
		r.Nodes = []streetgraph.NodeID{from.ID}
		r.Geometry = geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{{from.X, from.Y}, {from.X, from.Y}})
		return r, nil
	}

	tree := path.DijkstraFrom(simple.Node(from.ID), kg.g)
	nodes, cost := tree.To(int64(to.ID))
	if len(nodes) == 0 || math.IsInf(cost, 1) {
		return nil, eris.Wrapf(ErrNoRoute, "route: %d → %d under %s", from.ID, to.ID, key)
	}

	r.Cost = cost
	r.Nodes = make([]streetgraph.NodeID, len(nodes))
	for i, n := range nodes {
		r.Nodes[i] = streetgraph.NodeID(n.ID())
	}

	var coords []geom.Coord
	for i := 0; i+1 < len(r.Nodes); i++ {
		k := kg.chosen[[2]streetgraph.NodeID{r.Nodes[i], r.Nodes[i+1]}]
		edge, _ := e.graph.Edge(k)
		r.Edges = append(r.Edges, k)
		r.Length += edge.Length
		r.ShadedLength += e.cov.Of(k) / 100 * edge.Length
		coords = appendCoords(coords, edge.Geometry)
	}
	if r.Length > 0 {
		r.ShadePct = r.ShadedLength / r.Length * 100
	}
	if len(coords) >= 2 {
		r.Geometry = geom.NewLineString(geom.XY).MustSetCoords(coords)
	}
	return r, nil
}

// RouteAll runs Route once per key. An empty keys list means every key.
func (e *Evaluator) RouteAll(ctx context.Context, origin, dest geom.Coord, keys []string) ([]Route, error) {
	if len(keys) == 0 {
		keys = e.Keys()
	}
	out := make([]Route, 0, len(keys))
	for _, k := range keys {
		r, err := e.Route(ctx, origin, dest, k)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// appendCoords adds the vertices of an edge geometry, skipping a first vertex
// that repeats the current end.
func appendCoords(dst []geom.Coord, t geom.T) []geom.Coord {
	var lines [][]geom.Coord
	switch g := t.(type) {
	case *geom.LineString:
		lines = [][]geom.Coord{g.Coords()}
	case *geom.MultiLineString:
		lines = g.Coords()
	}
	for _, line := range lines {
		for _, c := range line {
			p := geom.Coord{c.X(), c.Y()}
			if n := len(dst); n > 0 && dst[n-1].Equal(geom.XY, p) {
				continue
			}
			dst = append(dst, p)
		}
	}
	return dst
}
