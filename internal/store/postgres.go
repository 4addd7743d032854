package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/shaderoute/internal/db"
	"github.com/sells-group/shaderoute/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := db.PingRetry(ctx, pool, 3, 500*time.Millisecond); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	place      TEXT NOT NULL DEFAULT '',
	crs        TEXT NOT NULL,
	sun_time   TIMESTAMPTZ,
	azimuth    DOUBLE PRECISION NOT NULL,
	altitude   DOUBLE PRECISION NOT NULL,
	model      TEXT NOT NULL,
	policy     TEXT NOT NULL,
	divisors   JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	stats      JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS routes (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	weight_key    TEXT NOT NULL,
	origin_node   BIGINT NOT NULL,
	dest_node     BIGINT NOT NULL,
	nodes         JSONB NOT NULL,
	cost          DOUBLE PRECISION NOT NULL,
	length        DOUBLE PRECISION NOT NULL,
	shaded_length DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_place ON runs(place);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_routes_run_id ON routes(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, spec model.RunSpec) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	divisorsJSON, err := json.Marshal(spec.Divisors)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal divisors")
	}

	var sunTime *time.Time
	if !spec.SunTime.IsZero() {
		t := spec.SunTime.UTC()
		sunTime = &t
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, place, crs, sun_time, azimuth, altitude, model, policy, divisors, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, spec.Place, spec.CRS, sunTime, spec.Azimuth, spec.Altitude, spec.Model, spec.AltitudePolicy,
		divisorsJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Spec:      spec,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET stats = $1, status = $2, updated_at = $3 WHERE id = $4`,
		statsJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	r, err := scanPgRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Place != "" {
		query += fmt.Sprintf(` AND place = $%d`, argIdx)
		args = append(args, filter.Place)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "phase %s", phaseID)
	}
	return nil
}

func (s *PostgresStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, name, status, result, started_at FROM run_phases
		 WHERE run_id = $1 ORDER BY started_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list phases for run %s", runID)
	}
	defer rows.Close()

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var resultJSON []byte
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &p.Status, &resultJSON, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan phase")
		}
		if resultJSON != nil {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal(resultJSON, p.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "postgres: list phases iterate")
}

var routeColumns = []string{
	"id", "run_id", "weight_key", "origin_node", "dest_node", "nodes",
	"cost", "length", "shaded_length", "created_at",
}

// SaveRoutes bulk-inserts with COPY.
func (s *PostgresStore) SaveRoutes(ctx context.Context, runID string, routes []model.RouteRecord) error {
	if len(routes) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(routes))
	for i := range routes {
		r := &routes[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.RunID = runID
		r.CreatedAt = now
		nodesJSON, err := json.Marshal(r.Nodes)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal route nodes")
		}
		rows = append(rows, []any{
			r.ID, runID, r.WeightKey, r.OriginNode, r.DestNode, nodesJSON,
			r.Cost, r.Length, r.ShadedLength, now,
		})
	}

	if _, err := db.CopyFrom(ctx, s.pool, "routes", routeColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: save routes for run %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRoutes(ctx context.Context, runID string) ([]model.RouteRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, weight_key, origin_node, dest_node, nodes, cost, length, shaded_length, created_at
		 FROM routes WHERE run_id = $1 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list routes for run %s", runID)
	}
	defer rows.Close()

	var out []model.RouteRecord
	for rows.Next() {
		var r model.RouteRecord
		var nodesJSON []byte
		if err := rows.Scan(&r.ID, &r.RunID, &r.WeightKey, &r.OriginNode, &r.DestNode, &nodesJSON,
			&r.Cost, &r.Length, &r.ShadedLength, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan route")
		}
		if err := json.Unmarshal(nodesJSON, &r.Nodes); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal route nodes")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list routes iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var sunTime *time.Time
	var divisorsJSON, statsJSON []byte

	err := row.Scan(&r.ID, &r.Spec.Place, &r.Spec.CRS, &sunTime, &r.Spec.Azimuth, &r.Spec.Altitude,
		&r.Spec.Model, &r.Spec.AltitudePolicy, &divisorsJSON, &r.Status, &statsJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}

	if sunTime != nil {
		r.Spec.SunTime = *sunTime
	}
	if err := json.Unmarshal(divisorsJSON, &r.Spec.Divisors); err != nil {
		return nil, eris.Wrap(err, "unmarshal divisors")
	}
	if statsJSON != nil {
		r.Stats = &model.RunStats{}
		if err := json.Unmarshal(statsJSON, r.Stats); err != nil {
			return nil, eris.Wrap(err, "unmarshal stats")
		}
	}
	return &r, nil
}
