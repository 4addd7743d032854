package mapdata

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/shaderoute/internal/shadow"
	"github.com/sells-group/shaderoute/internal/streetgraph"
)

// legacyCRS is the pre-RFC 7946 "crs" member, still written by GDAL and
// geopandas for projected data.
type legacyCRS struct {
	CRS *struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

func readFeatureCollection(path, wantCRS string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapdata: read %s", path)
	}

	var crs legacyCRS
	if err := json.Unmarshal(data, &crs); err != nil {
		return nil, eris.Wrapf(err, "mapdata: parse %s", path)
	}
	if crs.CRS != nil {
		if err := checkCRS(path, crs.CRS.Properties.Name, wantCRS); err != nil {
			return nil, err
		}
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "mapdata: decode feature collection %s", path)
	}
	return &fc, nil
}

// prop returns a property as a string; numbers are formatted without
// trailing zeros.
func prop(props map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := props[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func buildingsFromGeoJSON(path string, opts Options) ([]shadow.Building, error) {
	fc, err := readFeatureCollection(path, opts.CRS)
	if err != nil {
		return nil, err
	}

	var out []shadow.Building
	skipped := 0
	for i, f := range fc.Features {
		switch f.Geometry.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
		default:
			skipped++
			continue
		}

		id := f.ID
		if id == "" {
			id = prop(f.Properties, "id", "osmid", "@id")
		}
		if id == "" {
			id = fmt.Sprintf("b%d", i)
		}
		height := shadow.DeriveHeight(
			prop(f.Properties, "building:levels", "levels"),
			prop(f.Properties, "height"),
		)
		house := prop(f.Properties, "addr:housenumber", "housenumber")
		out = append(out, splitBuilding(id, f.Geometry, height, house)...)
	}

	if skipped > 0 {
		zap.L().Debug("mapdata: skipped non-polygon building features",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

func streetsFromGeoJSON(path string, opts Options) (*streetgraph.Graph, error) {
	fc, err := readFeatureCollection(path, opts.CRS)
	if err != nil {
		return nil, err
	}

	streets := make([]street, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		switch f.Geometry.(type) {
		case *geom.LineString, *geom.MultiLineString:
		default:
			skipped++
			continue
		}

		s := street{
			geometry: f.Geometry,
			length:   parseFloat(prop(f.Properties, "length")),
			oneway:   parseOneway(prop(f.Properties, "oneway")),
			highway:  prop(f.Properties, "highway"),
			name:     prop(f.Properties, "name"),
		}
		u, okU := parseInt(prop(f.Properties, "u"))
		v, okV := parseInt(prop(f.Properties, "v"))
		if okU && okV {
			s.u, s.v, s.hasNodes = u, v, true
			if k, ok := parseInt(prop(f.Properties, "key")); ok {
				s.key, s.hasKey = int(k), true
			}
		}
		streets = append(streets, s)
	}

	if skipped > 0 {
		zap.L().Debug("mapdata: skipped non-line street features",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return buildGraph(opts.CRS, streets, opts.snap())
}
