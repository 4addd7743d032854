// Package topo bridges go-geom geometries and GEOS topology operations.
//
// Domain types throughout shaderoute are go-geom values. Operations that need
// a real topology engine (union, buffer, intersection, line merge) convert to
// GEOS over WKB, run there, and convert back.
package topo

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"
)

// ErrTopology marks a failure raised inside GEOS.
var ErrTopology = eris.New("topo: topology exception")

// Engine owns a GEOS context. Geometries from different engines must not be
// mixed; use one engine per goroutine.
type Engine struct {
	ctx *geos.Context
}

// NewEngine creates an Engine with a fresh GEOS context.
func NewEngine() *Engine {
	return &Engine{ctx: geos.NewContext()}
}

// Context returns the underlying GEOS context.
func (e *Engine) Context() *geos.Context {
	return e.ctx
}

// FromGeom converts a go-geom geometry into a GEOS geometry owned by e.
func (e *Engine) FromGeom(g geom.T) (*geos.Geom, error) {
	if g == nil {
		return nil, eris.New("topo: nil geometry")
	}
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "topo: encode WKB")
	}
	var out *geos.Geom
	err = Safe(func() error {
		var perr error
		out, perr = e.ctx.NewGeomFromWKB(data)
		return perr
	})
	if err != nil {
		return nil, eris.Wrap(err, "topo: decode WKB into GEOS")
	}
	return out, nil
}

// FromWKB parses WKB produced by ToWKB (possibly by another engine).
func (e *Engine) FromWKB(data []byte) (*geos.Geom, error) {
	var out *geos.Geom
	err := Safe(func() error {
		var perr error
		out, perr = e.ctx.NewGeomFromWKB(data)
		return perr
	})
	if err != nil {
		return nil, eris.Wrap(err, "topo: parse WKB")
	}
	return out, nil
}

// ToGeom converts a GEOS geometry back into go-geom.
func ToGeom(g *geos.Geom) (geom.T, error) {
	var data []byte
	if err := Safe(func() error {
		data = g.ToWKB()
		return nil
	}); err != nil {
		return nil, err
	}
	t, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "topo: decode WKB")
	}
	return t, nil
}

// UnionAll returns the unary union of geoms. An empty input yields an empty
// MultiPolygon.
func (e *Engine) UnionAll(geoms []*geos.Geom) (*geos.Geom, error) {
	var out *geos.Geom
	err := Safe(func() error {
		if len(geoms) == 0 {
			out = e.ctx.NewCollection(geos.TypeIDMultiPolygon, nil)
			return nil
		}
		clones := make([]*geos.Geom, 0, len(geoms))
		for _, g := range geoms {
			clones = append(clones, g.Clone())
		}
		out = e.ctx.NewCollection(geos.TypeIDGeometryCollection, clones).UnaryUnion()
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "topo: union")
	}
	return out, nil
}

// Safe runs fn and converts a GEOS panic into an error wrapping ErrTopology.
func Safe(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Wrap(ErrTopology, fmt.Sprint(r))
		}
	}()
	return fn()
}

// Difference returns the polygonal part of a minus b as a MultiPolygon.
func (e *Engine) Difference(a, b geom.T) (*geom.MultiPolygon, error) {
	ga, err := e.FromGeom(a)
	if err != nil {
		return nil, err
	}
	gb, err := e.FromGeom(b)
	if err != nil {
		return nil, err
	}
	var diff *geos.Geom
	if err := Safe(func() error {
		if !ga.IsValid() {
			ga = ga.MakeValid()
		}
		if !gb.IsValid() {
			gb = gb.MakeValid()
		}
		diff = ga.Difference(gb)
		return nil
	}); err != nil {
		return nil, eris.Wrap(err, "topo: difference")
	}
	t, err := ToGeom(diff)
	if err != nil {
		return nil, err
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range Polygons(t) {
		if err := mp.Push(p); err != nil {
			return nil, eris.Wrap(err, "topo: push difference part")
		}
	}
	return mp, nil
}
