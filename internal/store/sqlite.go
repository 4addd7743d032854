package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/shaderoute/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	place      TEXT NOT NULL DEFAULT '',
	crs        TEXT NOT NULL,
	sun_time   DATETIME,
	azimuth    REAL NOT NULL,
	altitude   REAL NOT NULL,
	model      TEXT NOT NULL,
	policy     TEXT NOT NULL,
	divisors   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	stats      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS routes (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	weight_key    TEXT NOT NULL,
	origin_node   INTEGER NOT NULL,
	dest_node     INTEGER NOT NULL,
	nodes         TEXT NOT NULL,
	cost          REAL NOT NULL,
	length        REAL NOT NULL,
	shaded_length REAL NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_place ON runs(place);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_routes_run_id ON routes(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, spec model.RunSpec) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	divisorsJSON, err := json.Marshal(spec.Divisors)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal divisors")
	}

	var sunTime sql.NullTime
	if !spec.SunTime.IsZero() {
		sunTime = sql.NullTime{Time: spec.SunTime.UTC(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, place, crs, sun_time, azimuth, altitude, model, policy, divisors, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, spec.Place, spec.CRS, sunTime, spec.Azimuth, spec.Altitude, spec.Model, spec.AltitudePolicy,
		string(divisorsJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Spec:      spec,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET stats = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(statsJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const runColumns = `id, place, crs, sun_time, azimuth, altitude, model, policy, divisors, status, stats, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Place != "" {
		query += ` AND place = ?`
		args = append(args, filter.Place)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, filter.limit())

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

func (s *SQLiteStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, result, started_at FROM run_phases
		 WHERE run_id = ? ORDER BY started_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list phases for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var resultJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &p.Status, &resultJSON, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phase")
		}
		if resultJSON.Valid {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), p.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "sqlite: list phases iterate")
}

func (s *SQLiteStore) SaveRoutes(ctx context.Context, runID string, routes []model.RouteRecord) error {
	if len(routes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save routes")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO routes (id, run_id, weight_key, origin_node, dest_node, nodes, cost, length, shaded_length, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save routes")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for i := range routes {
		r := &routes[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.RunID = runID
		r.CreatedAt = now
		nodesJSON, err := json.Marshal(r.Nodes)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal route nodes")
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, runID, r.WeightKey, r.OriginNode, r.DestNode, string(nodesJSON),
			r.Cost, r.Length, r.ShadedLength, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert route for run %s", runID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save routes")
}

func (s *SQLiteStore) ListRoutes(ctx context.Context, runID string) ([]model.RouteRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, weight_key, origin_node, dest_node, nodes, cost, length, shaded_length, created_at
		 FROM routes WHERE run_id = ? ORDER BY created_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list routes for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RouteRecord
	for rows.Next() {
		var r model.RouteRecord
		var nodesJSON string
		if err := rows.Scan(&r.ID, &r.RunID, &r.WeightKey, &r.OriginNode, &r.DestNode, &nodesJSON,
			&r.Cost, &r.Length, &r.ShadedLength, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan route")
		}
		if err := json.Unmarshal([]byte(nodesJSON), &r.Nodes); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal route nodes")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list routes iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var sunTime sql.NullTime
	var divisorsJSON string
	var statsJSON sql.NullString

	err := row.Scan(&r.ID, &r.Spec.Place, &r.Spec.CRS, &sunTime, &r.Spec.Azimuth, &r.Spec.Altitude,
		&r.Spec.Model, &r.Spec.AltitudePolicy, &divisorsJSON, &r.Status, &statsJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}

	if sunTime.Valid {
		r.Spec.SunTime = sunTime.Time
	}
	if err := json.Unmarshal([]byte(divisorsJSON), &r.Spec.Divisors); err != nil {
		return nil, eris.Wrap(err, "unmarshal divisors")
	}
	if statsJSON.Valid {
		r.Stats = &model.RunStats{}
		if err := json.Unmarshal([]byte(statsJSON.String), r.Stats); err != nil {
			return nil, eris.Wrap(err, "unmarshal stats")
		}
	}
	return &r, nil
}
