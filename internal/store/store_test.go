package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shaderoute/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testSpec(place string) model.RunSpec {
	return model.RunSpec{
		Place:          place,
		CRS:            "EPSG:32636",
		SunTime:        time.Date(2024, 6, 21, 9, 0, 0, 0, time.UTC),
		Azimuth:        95.5,
		Altitude:       41.2,
		Model:          "distorted",
		AltitudePolicy: "null",
		Divisors:       []float64{1, 10, 50, 80},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testSpec("Tel Aviv"))
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusQueued, run.Status)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, "Tel Aviv", got.Spec.Place)
		assert.Equal(t, "EPSG:32636", got.Spec.CRS)
		assert.InDelta(t, 95.5, got.Spec.Azimuth, 1e-9)
		assert.InDelta(t, 41.2, got.Spec.Altitude, 1e-9)
		assert.Equal(t, []float64{1, 10, 50, 80}, got.Spec.Divisors)
		assert.True(t, got.Spec.SunTime.Equal(testSpec("").SunTime))
		assert.Nil(t, got.Stats)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(context.Background(), "nope")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("UpdateRunStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testSpec("a"))
		require.NoError(t, err)

		require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusCovering))
		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusCovering, got.Status)

		err = s.UpdateRunStatus(ctx, "missing", model.RunStatusFailed)
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("CompleteRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testSpec("a"))
		require.NoError(t, err)

		stats := &model.RunStats{
			Buildings:       10,
			Shadowed:        8,
			NoShadow:        2,
			Edges:           40,
			ShadedEdges:     12,
			MeanCoveragePct: 17.5,
			WeightKeys:      []string{"length", "cost_1"},
		}
		require.NoError(t, s.CompleteRun(ctx, run.ID, stats))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusComplete, got.Status)
		require.NotNil(t, got.Stats)
		assert.Equal(t, *stats, *got.Stats)
	})

	t.Run("ListRunsFilter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateRun(ctx, testSpec("a"))
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, testSpec("b"))
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, testSpec("b"))
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunStatus(ctx, a.ID, model.RunStatusFailed))

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		byPlace, err := s.ListRuns(ctx, RunFilter{Place: "b"})
		require.NoError(t, err)
		assert.Len(t, byPlace, 2)

		failed, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, a.ID, failed[0].ID)

		limited, err := s.ListRuns(ctx, RunFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		offset, err := s.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, offset, 1)
	})

	t.Run("Phases", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testSpec("a"))
		require.NoError(t, err)

		p, err := s.CreatePhase(ctx, run.ID, "shadows")
		require.NoError(t, err)
		assert.Equal(t, model.PhaseStatusRunning, p.Status)

		require.NoError(t, s.CompletePhase(ctx, p.ID, &model.PhaseResult{
			Name:     "shadows",
			Status:   model.PhaseStatusComplete,
			Duration: 42,
		}))

		phases, err := s.ListPhases(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, phases, 1)
		assert.Equal(t, model.PhaseStatusComplete, phases[0].Status)
		require.NotNil(t, phases[0].Result)
		assert.Equal(t, int64(42), phases[0].Result.Duration)

		err = s.CompletePhase(ctx, "missing", &model.PhaseResult{Status: model.PhaseStatusFailed})
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("Routes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testSpec("a"))
		require.NoError(t, err)

		require.NoError(t, s.SaveRoutes(ctx, run.ID, nil))
		require.NoError(t, s.SaveRoutes(ctx, run.ID, []model.RouteRecord{
			{WeightKey: "length", OriginNode: 1, DestNode: 2, Nodes: []int64{1, 2}, Cost: 10, Length: 10},
			{WeightKey: "cost_2", OriginNode: 1, DestNode: 2, Nodes: []int64{1, 3, 2}, Cost: 1.4, Length: 14, ShadedLength: 14},
		}))

		routes, err := s.ListRoutes(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, routes, 2)
		byKey := map[string]model.RouteRecord{}
		for _, r := range routes {
			assert.NotEmpty(t, r.ID)
			assert.Equal(t, run.ID, r.RunID)
			byKey[r.WeightKey] = r
		}
		assert.Equal(t, []int64{1, 3, 2}, byKey["cost_2"].Nodes)
		assert.InDelta(t, 14, byKey["cost_2"].ShadedLength, 1e-9)

		none, err := s.ListRoutes(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "runs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	_, ok := s.(*SQLiteStore)
	assert.True(t, ok)

	_, err = s.CreateRun(ctx, testSpec("x"))
	require.NoError(t, err)
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "", nil)
	require.Error(t, err)
}

func TestOpen_BadPostgresURL(t *testing.T) {
	_, err := Open(context.Background(), "postgres://%zz", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: parse config")
}
