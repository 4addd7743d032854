// Package store persists annotation runs, their phases and the routes
// answered against them.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shaderoute/internal/model"
)

// ErrNotFound is returned when a run or phase does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Place  string          `json:"place,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the persistence interface for annotation runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, spec model.RunSpec) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
	ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error)

	// Routes
	SaveRoutes(ctx context.Context, runID string, routes []model.RouteRecord) error
	ListRoutes(ctx context.Context, runID string) ([]model.RouteRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open picks the backend from the DSN: postgres:// and postgresql:// URLs
// open a PostgresStore, anything else is a SQLite path. The schema is
// migrated before returning.
func Open(ctx context.Context, dsn string, poolCfg *PoolConfig) (Store, error) {
	if dsn == "" {
		return nil, eris.New("store: empty DSN")
	}

	var (
		s   Store
		err error
	)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		s, err = NewPostgres(ctx, dsn, poolCfg)
	} else {
		s, err = NewSQLite(dsn)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
