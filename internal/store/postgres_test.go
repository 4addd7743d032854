package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shaderoute/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "a", "EPSG:32636", pgxmock.AnyArg(), 95.5, 41.2, "distorted", "null",
			pgxmock.AnyArg(), "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), testSpec("a"))
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, place, crs, .* FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusFailed)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET stats`).
		WithArgs(pgxmock.AnyArg(), "complete", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.CompleteRun(context.Background(), "run-1", &model.RunStats{Buildings: 3}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRoutes_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"routes"}, routeColumns).WillReturnResult(2)

	routes := []model.RouteRecord{
		{WeightKey: "length", OriginNode: 1, DestNode: 2, Nodes: []int64{1, 2}},
		{WeightKey: "cost_2", OriginNode: 1, DestNode: 2, Nodes: []int64{1, 3, 2}},
	}
	require.NoError(t, s.SaveRoutes(context.Background(), "run-1", routes))
	for _, r := range routes {
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, "run-1", r.RunID)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRoutes_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	require.NoError(t, s.SaveRoutes(context.Background(), "run-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRoutes(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows(routeColumns).
		AddRow("r1", "run-1", "length", int64(1), int64(2), []byte(`[1,2]`), 10.0, 10.0, 0.0, testSpec("").SunTime)
	mock.ExpectQuery(`FROM routes WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnRows(rows)

	got, err := s.ListRoutes(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []int64{1, 2}, got[0].Nodes)
	assert.NoError(t, mock.ExpectationsWereMet())
}
