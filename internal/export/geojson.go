// Package export writes annotated networks, shadows and routes as GeoJSON.
package export

import (
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/shaderoute/internal/coverage"
	"github.com/sells-group/shaderoute/internal/pipeline"
	"github.com/sells-group/shaderoute/internal/route"
	"github.com/sells-group/shaderoute/internal/shadow"
	"github.com/sells-group/shaderoute/internal/streetgraph"
	"github.com/sells-group/shaderoute/internal/topo"
	"github.com/sells-group/shaderoute/internal/weights"
)

// Layer tags every feature so one collection can carry all outputs.
type Layer string

const (
	LayerEdges     Layer = "edges"
	LayerShadows   Layer = "shadows"
	LayerUmbra     Layer = "umbra"
	LayerBuildings Layer = "buildings"
	LayerRoutes    Layer = "routes"
)

// AllLayers lists every layer in output order.
func AllLayers() []Layer {
	return []Layer{LayerBuildings, LayerShadows, LayerUmbra, LayerEdges, LayerRoutes}
}

// Document is a FeatureCollection with the legacy "crs" member, so the
// projected output can be read back by the loader.
type Document struct {
	Type     string             `json:"type"`
	CRS      *CRS               `json:"crs,omitempty"`
	Features []*geojson.Feature `json:"features"`
}

// CRS is the named-CRS member.
type CRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// NewDocument creates an empty collection tagged with crs. An empty crs
// omits the member.
func NewDocument(crs string) *Document {
	d := &Document{Type: "FeatureCollection", Features: []*geojson.Feature{}}
	if crs != "" {
		d.CRS = &CRS{Type: "name"}
		d.CRS.Properties.Name = crs
	}
	return d
}

// Add appends features.
func (d *Document) Add(fs ...*geojson.Feature) {
	d.Features = append(d.Features, fs...)
}

// Count returns the number of features per layer.
func (d *Document) Count() map[Layer]int {
	out := make(map[Layer]int)
	for _, f := range d.Features {
		if l, ok := f.Properties["layer"].(Layer); ok {
			out[l]++
		} else if s, ok := f.Properties["layer"].(string); ok {
			out[Layer(s)]++
		}
	}
	return out
}

// Write encodes d to w.
func (d *Document) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(d); err != nil {
		return eris.Wrap(err, "export: encode geojson")
	}
	return nil
}

// WriteFile encodes d to path.
func (d *Document) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := d.Write(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "export: close %s", path)
	}
	zap.L().Info("export: wrote geojson",
		zap.String("path", path),
		zap.Int("features", len(d.Features)),
	)
	return nil
}

// Edges renders every edge with its coverage and weights.
func Edges(g *streetgraph.Graph, cov coverage.Coverage, table *weights.Table) []*geojson.Feature {
	edges := g.Edges()
	out := make([]*geojson.Feature, 0, len(edges))
	for _, e := range edges {
		props := map[string]any{
			"layer":           LayerEdges,
			"u":               int64(e.From),
			"v":               int64(e.To),
			"key":             e.Key,
			"length":          e.Length,
			"shadow_coverage": cov.Of(e.EdgeKey),
		}
		if e.Highway != "" {
			props["highway"] = e.Highway
		}
		if e.Name != "" {
			props["name"] = e.Name
		}
		if table != nil {
			for k, c := range table.Costs(e.EdgeKey) {
				props[k] = c
			}
		}
		out = append(out, &geojson.Feature{
			ID:         e.EdgeKey.String(),
			Geometry:   e.Geometry,
			Properties: props,
		})
	}
	return out
}

// Shadows renders every non-nil shadow.
func Shadows(casts []shadow.Cast) []*geojson.Feature {
	out := make([]*geojson.Feature, 0, len(casts))
	for _, c := range casts {
		if c.Shadow == nil || c.Shadow.Empty() {
			continue
		}
		out = append(out, &geojson.Feature{
			ID:       c.BuildingID,
			Geometry: c.Shadow,
			Properties: map[string]any{
				"layer":    LayerShadows,
				"building": c.BuildingID,
				"area":     c.Shadow.Area(),
			},
		})
	}
	return out
}

// Umbra renders the part of each shadow outside its own building. Buildings
// whose difference fails are logged and skipped.
func Umbra(buildings []shadow.Building, casts []shadow.Cast) []*geojson.Feature {
	byID := make(map[string]*geom.Polygon, len(buildings))
	for _, b := range buildings {
		byID[b.ID] = b.Footprint
	}

	eng := topo.NewEngine()
	out := make([]*geojson.Feature, 0, len(casts))
	for _, c := range casts {
		if c.Shadow == nil || c.Shadow.Empty() {
			continue
		}
		fp, ok := byID[c.BuildingID]
		if !ok || fp == nil {
			continue
		}
		diff, err := eng.Difference(c.Shadow, fp)
		if err != nil {
			zap.L().Warn("export: umbra difference failed",
				zap.String("building", c.BuildingID),
				zap.Error(err),
			)
			continue
		}
		if diff.NumPolygons() == 0 {
			continue
		}
		out = append(out, &geojson.Feature{
			ID:       c.BuildingID,
			Geometry: diff,
			Properties: map[string]any{
				"layer":    LayerUmbra,
				"building": c.BuildingID,
				"area":     diff.Area(),
			},
		})
	}
	return out
}

// Buildings renders footprints with height and the numeric house-number
// label.
func Buildings(buildings []shadow.Building) []*geojson.Feature {
	out := make([]*geojson.Feature, 0, len(buildings))
	for _, b := range buildings {
		if b.Footprint == nil {
			continue
		}
		props := map[string]any{
			"layer":  LayerBuildings,
			"height": b.Height,
		}
		if b.HouseNumber != "" {
			props["addr:housenumber"] = b.HouseNumber
			if n := shadow.NumericHouseNumber(b.HouseNumber); n != "" {
				props["label"] = n
			}
		}
		out = append(out, &geojson.Feature{
			ID:         b.ID,
			Geometry:   b.Footprint,
			Properties: props,
		})
	}
	return out
}

// Routes renders route paths.
func Routes(routes []route.Route) []*geojson.Feature {
	out := make([]*geojson.Feature, 0, len(routes))
	for _, r := range routes {
		if r.Geometry == nil {
			continue
		}
		nodes := make([]int64, len(r.Nodes))
		for i, n := range r.Nodes {
			nodes[i] = int64(n)
		}
		out = append(out, &geojson.Feature{
			ID:       r.Key,
			Geometry: r.Geometry,
			Properties: map[string]any{
				"layer":         LayerRoutes,
				"weight":        r.Key,
				"origin":        int64(r.Origin),
				"destination":   int64(r.Destination),
				"nodes":         nodes,
				"cost":          r.Cost,
				"length":        r.Length,
				"shaded_length": r.ShadedLength,
				"shade_pct":     r.ShadePct,
			},
		})
	}
	return out
}

// FromResult builds a document with the requested layers of a pipeline
// result. A nil or empty layers list means all layers.
func FromResult(res *pipeline.Result, routes []route.Route, layers []Layer) (*Document, error) {
	if res == nil || res.Dataset == nil {
		return nil, eris.New("export: no result")
	}
	if len(layers) == 0 {
		layers = AllLayers()
	}
	want := make(map[Layer]bool, len(layers))
	for _, l := range layers {
		want[l] = true
	}

	doc := NewDocument(res.Dataset.CRS)
	for _, l := range AllLayers() {
		if !want[l] {
			continue
		}
		switch l {
		case LayerBuildings:
			doc.Add(Buildings(res.Dataset.Buildings)...)
		case LayerShadows:
			doc.Add(Shadows(res.Casts)...)
		case LayerUmbra:
			doc.Add(Umbra(res.Dataset.Buildings, res.Casts)...)
		case LayerEdges:
			doc.Add(Edges(res.Dataset.Graph, res.Coverage, res.Weights)...)
		case LayerRoutes:
			doc.Add(Routes(routes)...)
		}
	}
	return doc, nil
}

// ParseLayers validates layer names.
func ParseLayers(names []string) ([]Layer, error) {
	valid := make(map[Layer]bool)
	for _, l := range AllLayers() {
		valid[l] = true
	}
	out := make([]Layer, 0, len(names))
	for _, n := range names {
		l := Layer(n)
		if !valid[l] {
			known := make([]string, 0, len(valid))
			for v := range valid {
				known = append(known, string(v))
			}
			sort.Strings(known)
			return nil, eris.Errorf("export: unknown layer %q (known: %v)", n, known)
		}
		out = append(out, l)
	}
	return out, nil
}

