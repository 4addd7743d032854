package model

import "time"

// RunStatus represents the current state of an annotation run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusProjecting RunStatus = "projecting"
	RunStatusCovering   RunStatus = "covering"
	RunStatusWeighting  RunStatus = "weighting"
	RunStatusComplete   RunStatus = "complete"
	RunStatusFailed     RunStatus = "failed"
)

// RunSpec describes the inputs of one annotation run.
type RunSpec struct {
	Place          string    `json:"place"`
	CRS            string    `json:"crs"`
	SunTime        time.Time `json:"sun_time"`
	Azimuth        float64   `json:"azimuth"`
	Altitude       float64   `json:"altitude"`
	Model          string    `json:"model"`
	AltitudePolicy string    `json:"altitude_policy"`
	Divisors       []float64 `json:"divisors"`
}

// Run is a persisted annotation run.
type Run struct {
	ID        string    `json:"id"`
	Spec      RunSpec   `json:"spec"`
	Status    RunStatus `json:"status"`
	Stats     *RunStats `json:"stats,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStats summarises what a completed run produced.
type RunStats struct {
	Buildings       int      `json:"buildings"`
	Shadowed        int      `json:"shadowed"`
	NoShadow        int      `json:"no_shadow"`
	Degraded        int      `json:"degraded"`
	Edges           int      `json:"edges"`
	ShadedEdges     int      `json:"shaded_edges"`
	FailedEdges     int      `json:"failed_edges"`
	MeanCoveragePct float64  `json:"mean_coverage_pct"`
	WeightKeys      []string `json:"weight_keys"`
}

// RunPhase is one persisted phase of a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name     string      `json:"name"`
	Status   PhaseStatus `json:"status"`
	Duration int64       `json:"duration_ms"`
	Error    string      `json:"error,omitempty"`
}

// RouteRecord is a persisted route answer.
type RouteRecord struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	WeightKey    string    `json:"weight_key"`
	OriginNode   int64     `json:"origin_node"`
	DestNode     int64     `json:"dest_node"`
	Nodes        []int64   `json:"nodes"`
	Cost         float64   `json:"cost"`
	Length       float64   `json:"length"`
	ShadedLength float64   `json:"shaded_length"`
	CreatedAt    time.Time `json:"created_at"`
}
