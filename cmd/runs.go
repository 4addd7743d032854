package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/shaderoute/internal/model"
	"github.com/sells-group/shaderoute/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect annotation run history",
	Long:  "Commands for listing, viewing, and summarizing annotation runs.",
}

// openRunsStore opens the history store for the runs subcommands.
func openRunsStore(cmd *cobra.Command) (store.Store, error) {
	if err := cfg.Validate("runs"); err != nil {
		return nil, err
	}
	return initStore(cmd.Context(), cfg)
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List annotation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openRunsStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		place, _ := cmd.Flags().GetString("place")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Place:  place,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

// runDetail is a run with its phases and recorded routes.
type runDetail struct {
	*model.Run
	Phases []model.RunPhase    `json:"phases"`
	Routes []model.RouteRecord `json:"routes"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openRunsStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		phases, err := st.ListPhases(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show: phases")
		}
		routes, err := st.ListRoutes(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show: routes")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runDetail{Run: run, Phases: phases, Routes: routes})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openRunsStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		place, _ := cmd.Flags().GetString("place")
		runs, err := st.ListRuns(ctx, store.RunFilter{Place: place, Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (queued, projecting, covering, weighting, complete, failed)")
	runsListCmd.Flags().String("place", "", "filter by place name")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().String("place", "", "filter by place name")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total        int
	Complete     int
	Failed       int
	Other        int
	AvgDurSecs   float64
	AvgCoverage  float64
	AvgShadedPct float64
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var totalCov, totalShaded float64
	var withStats int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			if r.Stats != nil {
				withStats++
				totalCov += r.Stats.MeanCoveragePct
				if r.Stats.Edges > 0 {
					totalShaded += float64(r.Stats.ShadedEdges) / float64(r.Stats.Edges) * 100
				}
			}
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Other++
		}
	}

	if s.Complete > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(s.Complete)
	}
	if withStats > 0 {
		s.AvgCoverage = totalCov / float64(withStats)
		s.AvgShadedPct = totalShaded / float64(withStats)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPLACE\tSTATUS\tSUN\tMODEL\tCOVERAGE\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t---\t-----\t--------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Millisecond).String()

		place := r.Spec.Place
		if place == "" {
			place = r.Spec.CRS
		}
		if len(place) > 30 {
			place = place[:27] + "..."
		}

		cov := "-"
		if r.Stats != nil {
			cov = fmt.Sprintf("%.1f%%", r.Stats.MeanCoveragePct)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.0f°/%.0f°\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			place,
			r.Status,
			r.Spec.Azimuth, r.Spec.Altitude,
			r.Spec.Model,
			cov,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Other:\t%d\n", s.Other)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	if s.Complete > 0 {
		_, _ = fmt.Fprintf(w, "Avg coverage:\t%.1f%%\n", s.AvgCoverage)
		_, _ = fmt.Fprintf(w, "Avg shaded edges:\t%.1f%%\n", s.AvgShadedPct)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
