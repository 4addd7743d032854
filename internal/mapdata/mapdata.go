// Package mapdata loads building footprints and street networks from
// GeoJSON or ESRI shapefiles into shaderoute's domain types.
package mapdata

import (
	"context"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/shaderoute/internal/shadow"
	"github.com/sells-group/shaderoute/internal/streetgraph"
)

// ErrCRSMismatch is returned when a file declares a projection other than
// the configured one.
var ErrCRSMismatch = eris.New("mapdata: CRS mismatch")

// Format names an input encoding.
type Format string

const (
	// FormatAuto picks the format from the file extension.
	FormatAuto      Format = ""
	FormatGeoJSON   Format = "geojson"
	FormatShapefile Format = "shapefile"
)

// ParseFormat validates a format name. "auto" and "" both mean FormatAuto.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "geojson", "json":
		return FormatGeoJSON, nil
	case "shapefile", "shp":
		return FormatShapefile, nil
	default:
		return "", eris.Errorf("mapdata: unknown format %q", s)
	}
}

func formatOf(path string, f Format) Format {
	if f != FormatAuto {
		return f
	}
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return FormatShapefile
	}
	return FormatGeoJSON
}

// Options configures loading.
type Options struct {
	CRS           string  // required projection of every input, e.g. "EPSG:32636"
	Format        Format  // FormatAuto to decide per file
	SnapTolerance float64 // endpoint snapping grid for streets without u/v, metres
}

func (o Options) snap() float64 {
	if o.SnapTolerance > 0 {
		return o.SnapTolerance
	}
	return 0.01
}

// Dataset is everything one pipeline run reads.
type Dataset struct {
	CRS       string
	Graph     *streetgraph.Graph
	Buildings []shadow.Building
}

// Bounds is the combined extent of graph nodes and building footprints.
func (d *Dataset) Bounds() *geom.Bounds {
	b := d.Graph.Bounds()
	for _, bld := range d.Buildings {
		if bld.Footprint == nil || bld.Footprint.Empty() {
			continue
		}
		b = b.Extend(bld.Footprint)
	}
	return b
}

// Load reads both inputs. The street graph is prepared before returning.
func Load(ctx context.Context, buildingsPath, streetsPath string, opts Options) (*Dataset, error) {
	if opts.CRS == "" {
		return nil, streetgraph.ErrMissingCRS
	}

	buildings, err := LoadBuildings(ctx, buildingsPath, opts)
	if err != nil {
		return nil, err
	}
	g, err := LoadStreets(ctx, streetsPath, opts)
	if err != nil {
		return nil, err
	}
	if _, err := g.Prepare(); err != nil {
		return nil, eris.Wrap(err, "mapdata: prepare street graph")
	}

	zap.L().Info("mapdata: loaded",
		zap.String("crs", opts.CRS),
		zap.Int("buildings", len(buildings)),
		zap.Int("nodes", g.NumNodes()),
		zap.Int("edges", g.NumEdges()),
	)
	return &Dataset{CRS: opts.CRS, Graph: g, Buildings: buildings}, nil
}

// LoadBuildings reads building footprints. Multi-part footprints become one
// building per part.
func LoadBuildings(ctx context.Context, path string, opts Options) ([]shadow.Building, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch formatOf(path, opts.Format) {
	case FormatShapefile:
		return buildingsFromShapefile(path, opts)
	default:
		return buildingsFromGeoJSON(path, opts)
	}
}

// LoadStreets reads the street network into an unprepared graph.
func LoadStreets(ctx context.Context, path string, opts Options) (*streetgraph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch formatOf(path, opts.Format) {
	case FormatShapefile:
		return streetsFromShapefile(path, opts)
	default:
		return streetsFromGeoJSON(path, opts)
	}
}

var epsgCode = regexp.MustCompile(`(?i)EPSG[^0-9]*([0-9]+)`)

// NormalizeCRS reduces "EPSG:32636", "urn:ogc:def:crs:EPSG::32636" and
// similar spellings to "EPSG:32636". Other names are returned trimmed.
func NormalizeCRS(name string) string {
	if m := epsgCode.FindStringSubmatch(name); m != nil {
		return "EPSG:" + m[1]
	}
	return strings.TrimSpace(name)
}

func checkCRS(path, declared, want string) error {
	if declared == "" {
		return nil
	}
	if !strings.EqualFold(NormalizeCRS(declared), NormalizeCRS(want)) {
		return eris.Wrapf(ErrCRSMismatch, "mapdata: %s declares %s, want %s", path, declared, want)
	}
	return nil
}

// street is one source line before it is turned into graph edges.
type street struct {
	geometry geom.T
	u, v     int64
	hasNodes bool
	key      int
	hasKey   bool
	length   float64
	oneway   bool
	highway  string
	name     string
}

func (s street) endpoints() (geom.Coord, geom.Coord, bool) {
	var lines [][]geom.Coord
	switch g := s.geometry.(type) {
	case *geom.LineString:
		lines = [][]geom.Coord{g.Coords()}
	case *geom.MultiLineString:
		lines = g.Coords()
	}
	if len(lines) == 0 || len(lines[0]) == 0 || len(lines[len(lines)-1]) == 0 {
		return nil, nil, false
	}
	last := lines[len(lines)-1]
	return lines[0][0], last[len(last)-1], true
}

// buildGraph turns source lines into a directed multigraph. Lines with
// explicit u/v keep their node ids; the rest get nodes by snapping endpoints
// to a grid. Lines not marked oneway also get a reversed edge unless the
// source already carries one for that node pair.
func buildGraph(crs string, streets []street, tolerance float64) (*streetgraph.Graph, error) {
	g := streetgraph.New(crs)

	var maxID int64
	for _, s := range streets {
		if s.hasNodes {
			maxID = max(maxID, s.u, s.v)
		}
	}
	snapped := make(map[[2]int64]streetgraph.NodeID)
	next := maxID + 1
	nodeAt := func(c geom.Coord) streetgraph.NodeID {
		cell := [2]int64{int64(math.Round(c.X() / tolerance)), int64(math.Round(c.Y() / tolerance))}
		if id, ok := snapped[cell]; ok {
			return id
		}
		id := streetgraph.NodeID(next)
		next++
		snapped[cell] = id
		g.AddNode(streetgraph.Node{ID: id, X: c.X(), Y: c.Y()})
		return id
	}

	type pair = [2]streetgraph.NodeID
	present := make(map[pair]bool)
	var reverse []streetgraph.Edge
	skipped := 0

	for i, s := range streets {
		start, end, ok := s.endpoints()
		if !ok {
			skipped++
			continue
		}

		var u, v streetgraph.NodeID
		if s.hasNodes {
			u, v = streetgraph.NodeID(s.u), streetgraph.NodeID(s.v)
			if _, ok := g.Node(u); !ok {
				g.AddNode(streetgraph.Node{ID: u, X: start.X(), Y: start.Y()})
			}
			if _, ok := g.Node(v); !ok {
				g.AddNode(streetgraph.Node{ID: v, X: end.X(), Y: end.Y()})
			}
		} else {
			u, v = nodeAt(start), nodeAt(end)
		}

		var k streetgraph.EdgeKey
		if s.hasKey {
			k = streetgraph.EdgeKey{From: u, To: v, Key: s.key}
			if err := g.AddKeyedEdge(streetgraph.Edge{EdgeKey: k, Geometry: s.geometry, Length: s.length}); err != nil {
				return nil, eris.Wrapf(err, "mapdata: street %d", i)
			}
		} else {
			k = g.AddEdge(u, v, s.geometry, s.length)
		}
		g.SetEdgeAttrs(k, s.highway, s.name)
		present[pair{u, v}] = true

		if !s.oneway && u != v {
			reverse = append(reverse, streetgraph.Edge{
				EdgeKey:  streetgraph.EdgeKey{From: v, To: u},
				Geometry: reversed(s.geometry),
				Length:   s.length,
				Highway:  s.highway,
				Name:     s.name,
			})
		}
	}

	for _, e := range reverse {
		if present[pair{e.From, e.To}] {
			continue
		}
		k := g.AddEdge(e.From, e.To, e.Geometry, e.Length)
		g.SetEdgeAttrs(k, e.Highway, e.Name)
	}

	if skipped > 0 {
		zap.L().Debug("mapdata: skipped streets without coordinates", zap.Int("skipped", skipped))
	}
	return g, nil
}

// reversed returns a copy of a line geometry running the other way.
func reversed(t geom.T) geom.T {
	switch g := t.(type) {
	case *geom.LineString:
		return geom.NewLineString(geom.XY).MustSetCoords(reverseCoords(g.Coords()))
	case *geom.MultiLineString:
		lines := g.Coords()
		out := make([][]geom.Coord, len(lines))
		for i, l := range lines {
			out[len(lines)-1-i] = reverseCoords(l)
		}
		return geom.NewMultiLineString(geom.XY).MustSetCoords(out)
	default:
		return t
	}
}

func reverseCoords(cs []geom.Coord) []geom.Coord {
	out := make([]geom.Coord, len(cs))
	for i, c := range cs {
		out[len(cs)-1-i] = geom.Coord{c.X(), c.Y()}
	}
	return out
}

// parseOneway reads OSM-style oneway values.
func parseOneway(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "1", "-1":
		return true
	default:
		return false
	}
}

func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

// splitBuilding expands a footprint geometry into one building per polygon.
func splitBuilding(id string, t geom.T, height float64, house string) []shadow.Building {
	var polys []*geom.Polygon
	switch g := t.(type) {
	case *geom.Polygon:
		polys = []*geom.Polygon{g}
	case *geom.MultiPolygon:
		for i := 0; i < g.NumPolygons(); i++ {
			polys = append(polys, g.Polygon(i))
		}
	}

	out := make([]shadow.Building, 0, len(polys))
	for i, p := range polys {
		if p.Empty() {
			continue
		}
		bid := id
		if len(polys) > 1 {
			bid = id + "#" + strconv.Itoa(i)
		}
		out = append(out, shadow.Building{ID: bid, Footprint: p, Height: height, HouseNumber: house})
	}
	return out
}
