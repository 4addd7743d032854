// Package streetgraph holds the projected pedestrian street network: a
// directed multigraph whose edges carry polyline geometry and length.
package streetgraph

import (
	"fmt"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// ErrMissingCRS is returned when a graph has no declared projection.
var ErrMissingCRS = eris.New("streetgraph: graph has no CRS")

// NodeID identifies an intersection or path endpoint.
type NodeID int64

// Node is a graph vertex in projected coordinates (metres).
type Node struct {
	ID NodeID  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// EdgeKey identifies one edge of the multigraph. Key disambiguates parallel
// edges between the same ordered node pair.
type EdgeKey struct {
	From NodeID `json:"u"`
	To   NodeID `json:"v"`
	Key  int    `json:"key"`
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("%d-%d/%d", k.From, k.To, k.Key)
}

// Edge is one directed street segment.
type Edge struct {
	EdgeKey
	Geometry geom.T  `json:"-"` // *geom.LineString or *geom.MultiLineString
	Length   float64 `json:"length"`
	Highway  string  `json:"highway,omitempty"`
	Name     string  `json:"name,omitempty"`
}

// Graph is a directed street multigraph. It is built once, prepared, and then
// treated as read-only; derived per-edge values live in separate overlays.
type Graph struct {
	CRS string

	nodes map[NodeID]Node
	edges []Edge
	index map[EdgeKey]int
	next  map[[2]NodeID]int
}

// New creates an empty graph in the given CRS.
func New(crs string) *Graph {
	return &Graph{
		CRS:   crs,
		nodes: make(map[NodeID]Node),
		index: make(map[EdgeKey]int),
		next:  make(map[[2]NodeID]int),
	}
}

// AddNode inserts or replaces a node.
func (g *Graph) AddNode(n Node) {
	g.nodes[n.ID] = n
}

// AddEdge appends an edge from → to and returns its key. Geometry may be nil
// and length zero; Prepare fills both in.
func (g *Graph) AddEdge(from, to NodeID, geometry geom.T, length float64) EdgeKey {
	pair := [2]NodeID{from, to}
	k := EdgeKey{From: from, To: to, Key: g.next[pair]}
	g.next[pair] = k.Key + 1
	g.insert(Edge{EdgeKey: k, Geometry: geometry, Length: length})
	return k
}

// AddKeyedEdge inserts an edge with an explicit key, as read from sources
// that already number parallel edges.
func (g *Graph) AddKeyedEdge(e Edge) error {
	if _, dup := g.index[e.EdgeKey]; dup {
		return eris.Errorf("streetgraph: duplicate edge %s", e.EdgeKey)
	}
	pair := [2]NodeID{e.From, e.To}
	if e.Key >= g.next[pair] {
		g.next[pair] = e.Key + 1
	}
	g.insert(e)
	return nil
}

func (g *Graph) insert(e Edge) {
	g.index[e.EdgeKey] = len(g.edges)
	g.edges = append(g.edges, e)
}

// SetEdgeAttrs records descriptive attributes on an existing edge.
func (g *Graph) SetEdgeAttrs(k EdgeKey, highway, name string) {
	if i, ok := g.index[k]; ok {
		g.edges[i].Highway = highway
		g.edges[i].Name = name
	}
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes ordered by id.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns the edges in insertion order. The slice is shared; callers
// must not modify it.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// Edge returns the edge with key k.
func (g *Graph) Edge(k EdgeKey) (Edge, bool) {
	i, ok := g.index[k]
	if !ok {
		return Edge{}, false
	}
	return g.edges[i], true
}

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumEdges returns the edge count.
func (g *Graph) NumEdges() int { return len(g.edges) }

// Validate checks structural preconditions for geometric work.
func (g *Graph) Validate() error {
	if g.CRS == "" {
		return ErrMissingCRS
	}
	return nil
}

// Prepare guarantees every edge has geometry and a positive length.
// Missing geometry becomes a straight segment between the endpoint nodes;
// missing length is taken from the geometry. It returns the number of edges
// whose geometry was synthesized.
func (g *Graph) Prepare() (int, error) {
	if err := g.Validate(); err != nil {
		return 0, err
	}

	synthesized := 0
	for i := range g.edges {
		e := &g.edges[i]
		if e.Geometry == nil {
			u, ok := g.nodes[e.From]
			if !ok {
				return synthesized, eris.Errorf("streetgraph: edge %s references missing node %d", e.EdgeKey, e.From)
			}
			v, ok := g.nodes[e.To]
			if !ok {
				return synthesized, eris.Errorf("streetgraph: edge %s references missing node %d", e.EdgeKey, e.To)
			}
			e.Geometry = geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{{u.X, u.Y}, {v.X, v.Y}})
			synthesized++
		}
		if e.Length <= 0 || math.IsNaN(e.Length) {
			e.Length = GeometryLength(e.Geometry)
		}
		if e.Length <= 0 {
			return synthesized, eris.Errorf("streetgraph: edge %s has zero length", e.EdgeKey)
		}
	}

	if synthesized > 0 {
		zap.L().Debug("streetgraph: synthesized missing edge geometry",
			zap.Int("edges", synthesized),
		)
	}
	return synthesized, nil
}

// Bounds returns the bounding box of all node coordinates.
func (g *Graph) Bounds() *geom.Bounds {
	b := geom.NewBounds(geom.XY)
	if len(g.nodes) == 0 {
		return b
	}
	flat := make([]float64, 0, 2*len(g.nodes))
	for _, n := range g.nodes {
		flat = append(flat, n.X, n.Y)
	}
	return b.Extend(geom.NewMultiPointFlat(geom.XY, flat))
}

// GeometryLength returns the planar length of a line geometry, or 0 for
// anything else.
func GeometryLength(t geom.T) float64 {
	switch l := t.(type) {
	case *geom.LineString:
		return l.Length()
	case *geom.MultiLineString:
		return l.Length()
	default:
		return 0
	}
}
