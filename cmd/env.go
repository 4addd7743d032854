package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shaderoute/internal/config"
	"github.com/sells-group/shaderoute/internal/mapdata"
	"github.com/sells-group/shaderoute/internal/pipeline"
	"github.com/sells-group/shaderoute/internal/shadow"
	"github.com/sells-group/shaderoute/internal/store"
	"github.com/sells-group/shaderoute/internal/sun"
)

// annotateEnv holds the store, pipeline and annotated result shared by the
// annotate, route and serve commands.
type annotateEnv struct {
	Store    store.Store // may be nil
	Pipeline *pipeline.Pipeline
	Result   *pipeline.Result
}

// Close releases resources held by the environment.
func (e *annotateEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens run history. An empty database URL disables it.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	if c.Store.DatabaseURL == "" {
		return nil, nil
	}
	var poolCfg *store.PoolConfig
	if c.Store.MaxConns > 0 || c.Store.MinConns > 0 {
		poolCfg = &store.PoolConfig{MaxConns: c.Store.MaxConns, MinConns: c.Store.MinConns}
	}
	return store.Open(ctx, c.Store.DatabaseURL, poolCfg)
}

// shadowOptions converts the shadow section into projector options.
func shadowOptions(c *config.Config) (shadow.Options, error) {
	m, err := shadow.ParseModel(c.Shadow.Model)
	if err != nil {
		return shadow.Options{}, err
	}
	p, err := shadow.ParseAltitudePolicy(c.Shadow.AltitudePolicy)
	if err != nil {
		return shadow.Options{}, err
	}
	return shadow.Options{
		Model:          m,
		AltitudePolicy: p,
		MinTanAltitude: c.Shadow.MinTanAltitude,
		BufferMeters:   c.Shadow.BufferMeters,
		QuadSegs:       c.Shadow.QuadSegs,
	}, nil
}

// sunPosition computes the sun for the configured place. override, when set,
// replaces sun.time; an empty time means now in the place's timezone.
func sunPosition(c *config.Config, override string, now time.Time) (sun.Position, error) {
	raw := c.Sun.Time
	if override != "" {
		raw = override
	}
	local, err := config.ParseLocalTime(raw)
	if err != nil {
		return sun.Position{}, err
	}
	if local.IsZero() {
		loc, err := time.LoadLocation(c.Place.Timezone)
		if err != nil {
			return sun.Position{}, eris.Wrapf(err, "load timezone %q", c.Place.Timezone)
		}
		local = now.In(loc)
	}
	return sun.At(c.Place.Latitude, c.Place.Longitude, c.Place.Timezone, local)
}

// loadDataset reads the configured buildings and streets.
func loadDataset(ctx context.Context, c *config.Config) (*mapdata.Dataset, error) {
	format, err := mapdata.ParseFormat(c.Data.Format)
	if err != nil {
		return nil, err
	}
	return mapdata.Load(ctx, c.Data.Buildings, c.Data.Streets, mapdata.Options{
		CRS:           c.Place.CRS,
		Format:        format,
		SnapTolerance: c.Data.SnapTolerance,
	})
}

// initAnnotate validates config for mode, loads the data, and runs the
// pipeline once. Run history is best-effort: a store that fails to open is
// logged and skipped. Callers should defer env.Close().
func initAnnotate(ctx context.Context, c *config.Config, mode, sunTime string) (*annotateEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	opts, err := shadowOptions(c)
	if err != nil {
		return nil, err
	}
	pos, err := sunPosition(c, sunTime, time.Now())
	if err != nil {
		return nil, err
	}

	ds, err := loadDataset(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "load data")
	}

	st, err := initStore(ctx, c)
	if err != nil {
		zap.L().Warn("run history disabled", zap.Error(err))
		st = nil
	}
	env := &annotateEnv{Store: st}

	p, err := pipeline.New(pipeline.Options{
		Place:    c.Place.Name,
		Shadow:   opts,
		Divisors: c.Weights.Divisors,
		Workers:  c.Coverage.Workers,
	}, st)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Pipeline = p

	res, err := p.Run(ctx, ds, pos)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Result = res
	return env, nil
}
