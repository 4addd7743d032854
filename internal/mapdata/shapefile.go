package mapdata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/shaderoute/internal/shadow"
	"github.com/sells-group/shaderoute/internal/streetgraph"
)

// shapeRecord is one shapefile row: its geometry plus upper-cased attributes.
type shapeRecord struct {
	shape shp.Shape
	attrs map[string]string
}

// readShapefile reads every record of path after checking the .prj
// projection when one is present.
func readShapefile(path, wantCRS string) ([]shapeRecord, error) {
	if err := checkPrj(path, wantCRS); err != nil {
		return nil, err
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapdata: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToUpper(strings.TrimRight(f.String(), "\x00"))
	}

	var out []shapeRecord
	for reader.Next() {
		_, shape := reader.Shape()
		attrs := make(map[string]string, len(names))
		for i, name := range names {
			val := strings.TrimRight(reader.Attribute(i), "\x00")
			attrs[name] = strings.TrimSpace(val)
		}
		out = append(out, shapeRecord{shape: shape, attrs: attrs})
	}
	return out, nil
}

var prjAuthority = regexp.MustCompile(`AUTHORITY\["EPSG",\s*"(\d+)"\]`)

// checkPrj compares the projection's EPSG authority, the last one in the
// WKT, with the configured CRS. Files without a .prj or without an
// authority are accepted.
func checkPrj(path, wantCRS string) error {
	prj := strings.TrimSuffix(path, ".shp") + ".prj"
	data, err := os.ReadFile(prj)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "mapdata: read %s", prj)
	}
	m := prjAuthority.FindAllStringSubmatch(string(data), -1)
	if len(m) == 0 {
		zap.L().Debug("mapdata: projection file has no EPSG authority", zap.String("path", prj))
		return nil
	}
	return checkCRS(path, "EPSG:"+m[len(m)-1][1], wantCRS)
}

func buildingsFromShapefile(path string, opts Options) ([]shadow.Building, error) {
	records, err := readShapefile(path, opts.CRS)
	if err != nil {
		return nil, err
	}

	var out []shadow.Building
	skipped := 0
	for i, r := range records {
		poly, ok := r.shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}
		id := r.attrs["ID"]
		if id == "" {
			id = fmt.Sprintf("b%d", i)
		}
		height := shadow.DeriveHeight(r.attrs["LEVELS"], r.attrs["HEIGHT"])
		out = append(out, splitBuilding(id, mp, height, r.attrs["HOUSENUM"])...)
	}

	if skipped > 0 {
		zap.L().Debug("mapdata: skipped shapefile building records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

func streetsFromShapefile(path string, opts Options) (*streetgraph.Graph, error) {
	records, err := readShapefile(path, opts.CRS)
	if err != nil {
		return nil, err
	}

	streets := make([]street, 0, len(records))
	skipped := 0
	for _, r := range records {
		pl, ok := r.shape.(*shp.PolyLine)
		if !ok {
			skipped++
			continue
		}
		line := polyLineToGeom(pl)
		if line == nil {
			skipped++
			continue
		}
		s := street{
			geometry: line,
			length:   parseFloat(r.attrs["LENGTH"]),
			oneway:   parseOneway(r.attrs["ONEWAY"]),
			highway:  r.attrs["HIGHWAY"],
			name:     r.attrs["NAME"],
		}
		u, okU := parseInt(r.attrs["U"])
		v, okV := parseInt(r.attrs["V"])
		if okU && okV {
			s.u, s.v, s.hasNodes = u, v, true
			if k, ok := parseInt(r.attrs["KEY"]); ok {
				s.key, s.hasKey = int(k), true
			}
		}
		streets = append(streets, s)
	}

	if skipped > 0 {
		zap.L().Debug("mapdata: skipped shapefile street records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return buildGraph(opts.CRS, streets, opts.snap())
}

// partRange returns the point range of part i.
func partRange(parts []int32, numPoints, i int) (int, int) {
	start := int(parts[i])
	end := numPoints
	if i+1 < len(parts) {
		end = int(parts[i+1])
	}
	return start, end
}

// polyLineToGeom converts a PolyLine to a LineString, or a MultiLineString
// when it has several parts.
func polyLineToGeom(pl *shp.PolyLine) geom.T {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}

	mls := geom.NewMultiLineString(geom.XY)
	for i := 0; i < int(pl.NumParts) && i < len(pl.Parts); i++ {
		start, end := partRange(pl.Parts[:pl.NumParts], len(pl.Points), i)
		if end-start < 2 {
			continue
		}
		coords := make([]geom.Coord, 0, end-start)
		for _, p := range pl.Points[start:end] {
			coords = append(coords, geom.Coord{p.X, p.Y})
		}
		ls, err := geom.NewLineString(geom.XY).SetCoords(coords)
		if err != nil {
			zap.L().Debug("mapdata: skipping malformed linestring part", zap.Int("part", i), zap.Error(err))
			continue
		}
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("mapdata: skipping malformed linestring part", zap.Int("part", i), zap.Error(err))
		}
	}

	switch mls.NumLineStrings() {
	case 0:
		return nil
	case 1:
		return mls.LineString(0)
	default:
		return mls
	}
}

// polygonToMultiPolygon converts a shapefile Polygon. Clockwise rings start a
// new polygon; counter-clockwise rings are holes of the polygon before them.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var polys [][][]geom.Coord
	for i := 0; i < int(p.NumParts) && i < len(p.Parts); i++ {
		start, end := partRange(p.Parts[:p.NumParts], len(p.Points), i)
		if end-start < 4 {
			zap.L().Debug("mapdata: skipping short polygon ring", zap.Int("part", i))
			continue
		}
		ring := make([]geom.Coord, 0, end-start)
		for _, pt := range p.Points[start:end] {
			ring = append(ring, geom.Coord{pt.X, pt.Y})
		}
		if signedArea(ring) > 0 && len(polys) > 0 {
			last := len(polys) - 1
			polys[last] = append(polys[last], ring)
			continue
		}
		polys = append(polys, [][]geom.Coord{ring})
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for i, rings := range polys {
		poly, err := geom.NewPolygon(geom.XY).SetCoords(rings)
		if err != nil {
			zap.L().Debug("mapdata: skipping malformed polygon part", zap.Int("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("mapdata: skipping malformed polygon part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is positive for counter-clockwise rings.
func signedArea(ring []geom.Coord) float64 {
	a := 0.0
	for i := 0; i+1 < len(ring); i++ {
		a += ring[i].X()*ring[i+1].Y() - ring[i+1].X()*ring[i].Y()
	}
	return a / 2
}
