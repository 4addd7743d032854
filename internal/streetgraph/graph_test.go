package streetgraph

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func line(coords ...geom.Coord) *geom.LineString {
	return geom.NewLineString(geom.XY).MustSetCoords(coords)
}

func TestAddEdge_AssignsParallelKeys(t *testing.T) {
	g := New("EPSG:32636")
	g.AddNode(Node{ID: 1, X: 0, Y: 0})
	g.AddNode(Node{ID: 2, X: 10, Y: 0})

	k0 := g.AddEdge(1, 2, nil, 0)
	k1 := g.AddEdge(1, 2, nil, 0)
	back := g.AddEdge(2, 1, nil, 0)

	assert.Equal(t, EdgeKey{From: 1, To: 2, Key: 0}, k0)
	assert.Equal(t, EdgeKey{From: 1, To: 2, Key: 1}, k1)
	assert.Equal(t, EdgeKey{From: 2, To: 1, Key: 0}, back)
	assert.Equal(t, 3, g.NumEdges())
}

func TestAddKeyedEdge(t *testing.T) {
	g := New("EPSG:32636")
	require.NoError(t, g.AddKeyedEdge(Edge{EdgeKey: EdgeKey{From: 1, To: 2, Key: 3}}))
	assert.Error(t, g.AddKeyedEdge(Edge{EdgeKey: EdgeKey{From: 1, To: 2, Key: 3}}))

	// Auto-assigned keys continue after explicit ones.
	k := g.AddEdge(1, 2, nil, 0)
	assert.Equal(t, 4, k.Key)
}

func TestPrepare_SynthesizesGeometry(t *testing.T) {
	g := New("EPSG:32636")
	g.AddNode(Node{ID: 1, X: 0, Y: 0})
	g.AddNode(Node{ID: 2, X: 3, Y: 4})
	k := g.AddEdge(1, 2, nil, 0)
	withGeom := g.AddEdge(2, 1, line(geom.Coord{3, 4}, geom.Coord{3, 0}, geom.Coord{0, 0}), 0)

	n, err := g.Prepare()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e, ok := g.Edge(k)
	require.True(t, ok)
	require.NotNil(t, e.Geometry)
	assert.InDelta(t, 5.0, e.Length, 1e-12)

	e2, ok := g.Edge(withGeom)
	require.True(t, ok)
	assert.InDelta(t, 7.0, e2.Length, 1e-12)
}

func TestPrepare_KeepsSourceLength(t *testing.T) {
	g := New("EPSG:32636")
	g.AddNode(Node{ID: 1, X: 0, Y: 0})
	g.AddNode(Node{ID: 2, X: 3, Y: 4})
	k := g.AddEdge(1, 2, nil, 6.5)

	_, err := g.Prepare()
	require.NoError(t, err)
	e, _ := g.Edge(k)
	assert.Equal(t, 6.5, e.Length)
}

func TestPrepare_MissingCRS(t *testing.T) {
	g := New("")
	_, err := g.Prepare()
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMissingCRS))
}

func TestPrepare_MissingNode(t *testing.T) {
	g := New("EPSG:32636")
	g.AddNode(Node{ID: 1})
	g.AddEdge(1, 99, nil, 0)

	_, err := g.Prepare()
	assert.ErrorContains(t, err, "missing node 99")
}

func TestPrepare_ZeroLength(t *testing.T) {
	g := New("EPSG:32636")
	g.AddNode(Node{ID: 1, X: 5, Y: 5})
	g.AddNode(Node{ID: 2, X: 5, Y: 5})
	g.AddEdge(1, 2, nil, 0)

	_, err := g.Prepare()
	assert.ErrorContains(t, err, "zero length")
}

func TestBounds(t *testing.T) {
	g := New("EPSG:32636")
	assert.True(t, g.Bounds().IsEmpty())

	g.AddNode(Node{ID: 1, X: -5, Y: 2})
	g.AddNode(Node{ID: 2, X: 10, Y: 7})
	g.AddNode(Node{ID: 3, X: 3, Y: -1})

	b := g.Bounds()
	assert.Equal(t, -5.0, b.Min(0))
	assert.Equal(t, -1.0, b.Min(1))
	assert.Equal(t, 10.0, b.Max(0))
	assert.Equal(t, 7.0, b.Max(1))
}

func TestNodes_Sorted(t *testing.T) {
	g := New("EPSG:32636")
	g.AddNode(Node{ID: 3})
	g.AddNode(Node{ID: 1})
	g.AddNode(Node{ID: 2})

	nodes := g.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, NodeID(1), nodes[0].ID)
	assert.Equal(t, NodeID(3), nodes[2].ID)
}

func TestGeometryLength(t *testing.T) {
	mls := geom.NewMultiLineString(geom.XY).MustSetCoords([][]geom.Coord{
		{{0, 0}, {1, 0}},
		{{5, 0}, {5, 2}},
	})
	assert.InDelta(t, 3.0, GeometryLength(mls), 1e-12)
	assert.Equal(t, 0.0, GeometryLength(geom.NewPointFlat(geom.XY, []float64{1, 1})))
}
