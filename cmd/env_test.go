package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shaderoute/internal/config"
	"github.com/sells-group/shaderoute/internal/model"
	"github.com/sells-group/shaderoute/internal/shadow"
)

const testBuildings = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "EPSG:32636"}},
  "features": [
    {"type": "Feature", "id": "cube", "properties": {"height": 10},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]}}
  ]
}`

// A square loop around the cube; each street is two-way.
const testStreets = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"u": 1, "v": 2, "key": 0, "name": "North"},
     "geometry": {"type": "LineString", "coordinates": [[-20,15],[30,15]]}},
    {"type": "Feature", "properties": {"u": 2, "v": 4, "key": 0},
     "geometry": {"type": "LineString", "coordinates": [[30,15],[30,-5]]}},
    {"type": "Feature", "properties": {"u": 4, "v": 3, "key": 0, "name": "South"},
     "geometry": {"type": "LineString", "coordinates": [[30,-5],[-20,-5]]}},
    {"type": "Feature", "properties": {"u": 3, "v": 1, "key": 0},
     "geometry": {"type": "LineString", "coordinates": [[-20,-5],[-20,15]]}}
  ]
}`

// testConfig writes the fixture data to a temp dir and returns a config that
// annotates it at 09:00 on the June solstice in Tel Aviv.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	bpath := filepath.Join(dir, "buildings.geojson")
	spath := filepath.Join(dir, "streets.geojson")
	require.NoError(t, os.WriteFile(bpath, []byte(testBuildings), 0o600))
	require.NoError(t, os.WriteFile(spath, []byte(testStreets), 0o600))

	c := &config.Config{}
	c.Place.Name = "test"
	c.Place.Latitude = 32.08
	c.Place.Longitude = 34.78
	c.Place.Timezone = "Asia/Jerusalem"
	c.Place.CRS = "EPSG:32636"
	c.Data.Buildings = bpath
	c.Data.Streets = spath
	c.Data.Format = "auto"
	c.Sun.Time = "2024-06-21T09:00"
	c.Shadow.Model = "translation"
	c.Shadow.AltitudePolicy = "null"
	c.Shadow.MinTanAltitude = 0.1
	c.Shadow.BufferMeters = 0.5
	c.Shadow.QuadSegs = 16
	c.Weights.Divisors = []float64{1, 10, 50, 80}
	c.Store.DatabaseURL = filepath.Join(dir, "runs.db")
	c.Server.Port = 8080
	c.Server.RateBurst = 1
	c.Server.CacheSize = 10
	c.Server.CacheTTLSecs = 60
	c.Server.CORSOrigins = []string{"*"}
	return c
}

// withConfig installs c as the global config for the duration of the test.
func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestShadowOptions(t *testing.T) {
	c := testConfig(t)
	opts, err := shadowOptions(c)
	require.NoError(t, err)
	assert.Equal(t, shadow.ModelTranslation, opts.Model)
	assert.Equal(t, shadow.PolicyNull, opts.AltitudePolicy)
	assert.Equal(t, 16, opts.QuadSegs)

	c.Shadow.Model = "cubist"
	_, err = shadowOptions(c)
	require.Error(t, err)

	c.Shadow.Model = "distorted"
	c.Shadow.AltitudePolicy = "sometimes"
	_, err = shadowOptions(c)
	require.Error(t, err)
}

func TestSunPosition(t *testing.T) {
	c := testConfig(t)
	c.Sun.Time = ""

	// 09:00 UTC is noon in Tel Aviv in summer.
	now := time.Date(2024, 6, 21, 9, 0, 0, 0, time.UTC)
	fromNow, err := sunPosition(c, "", now)
	require.NoError(t, err)
	assert.True(t, fromNow.Time.Equal(now))
	assert.Greater(t, fromNow.Altitude, 60.0)
	assert.Greater(t, fromNow.Azimuth, 90.0)
	assert.Less(t, fromNow.Azimuth, 180.0)

	explicit, err := sunPosition(c, "2024-06-21T12:00", time.Time{})
	require.NoError(t, err)
	assert.True(t, explicit.Time.Equal(now))
	assert.InDelta(t, fromNow.Azimuth, explicit.Azimuth, 1e-9)

	night, err := sunPosition(c, "2024-06-21T00:30", time.Time{})
	require.NoError(t, err)
	assert.False(t, night.AboveHorizon())

	_, err = sunPosition(c, "yesterday", time.Time{})
	require.Error(t, err)

	c.Place.Timezone = "Mars/Olympus"
	_, err = sunPosition(c, "", now)
	require.Error(t, err)
}

func TestInitStore_Disabled(t *testing.T) {
	c := testConfig(t)
	c.Store.DatabaseURL = ""
	st, err := initStore(context.Background(), c)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestInitAnnotate(t *testing.T) {
	c := testConfig(t)
	ctx := context.Background()

	env, err := initAnnotate(ctx, c, "annotate", "")
	require.NoError(t, err)
	defer env.Close()

	require.NotNil(t, env.Result)
	require.NotNil(t, env.Store)
	assert.True(t, env.Result.Sun.AboveHorizon())

	stats := env.Result.Stats()
	assert.Equal(t, 1, stats.Buildings)
	assert.Equal(t, 8, stats.Edges)
	assert.Len(t, env.Result.Phases, 4)

	require.NotEmpty(t, env.Result.RunID)
	run, err := env.Store.GetRun(ctx, env.Result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, "test", run.Spec.Place)
	assert.Equal(t, "translation", run.Spec.Model)
}

func TestInitAnnotate_SunTimeOverride(t *testing.T) {
	c := testConfig(t)
	c.Store.DatabaseURL = ""

	env, err := initAnnotate(context.Background(), c, "annotate", "2024-06-21T00:30")
	require.NoError(t, err)
	defer env.Close()

	assert.Nil(t, env.Store)
	assert.Empty(t, env.Result.RunID)
	assert.False(t, env.Result.Sun.AboveHorizon())
	assert.Equal(t, 0, env.Result.Stats().Shadowed)
}

func TestInitAnnotate_InvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Place.CRS = ""
	_, err := initAnnotate(context.Background(), c, "annotate", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "place.crs")
}

func TestInitAnnotate_MissingData(t *testing.T) {
	c := testConfig(t)
	c.Data.Streets = filepath.Join(t.TempDir(), "nope.geojson")
	_, err := initAnnotate(context.Background(), c, "annotate", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load data")
}
