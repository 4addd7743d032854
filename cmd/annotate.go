package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/shaderoute/internal/export"
	"github.com/sells-group/shaderoute/internal/pipeline"
)

var (
	annotateSunTime string
	annotateOut     string
	annotateLayers  []string
)

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Project shadows and annotate the street network with shade coverage and weights",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cfg.Export.Path
		if annotateOut != "" {
			out = annotateOut
		}
		names := cfg.Export.Layers
		if len(annotateLayers) > 0 {
			names = annotateLayers
		}
		layers, err := export.ParseLayers(names)
		if err != nil {
			return err
		}

		env, err := initAnnotate(ctx, cfg, "annotate", annotateSunTime)
		if err != nil {
			return err
		}
		defer env.Close()

		if out != "" {
			doc, err := export.FromResult(env.Result, nil, layers)
			if err != nil {
				return err
			}
			if err := doc.WriteFile(out); err != nil {
				return err
			}
		}

		formatSummary(os.Stdout, env.Result)
		return nil
	},
}

func init() {
	annotateCmd.Flags().StringVar(&annotateSunTime, "sun-time", "", "local time in the place's timezone, e.g. 2024-06-21T09:00 (default from config, else now)")
	annotateCmd.Flags().StringVarP(&annotateOut, "out", "o", "", "GeoJSON output path (default from config)")
	annotateCmd.Flags().StringSliceVar(&annotateLayers, "layers", nil, "layers to export: buildings, shadows, umbra, edges, routes (default all)")
	rootCmd.AddCommand(annotateCmd)
}

// formatSummary writes the run's sun position and statistics to w.
func formatSummary(out io.Writer, res *pipeline.Result) {
	s := res.Stats()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if res.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	}
	_, _ = fmt.Fprintf(w, "Sun:\tazimuth %.1f°, altitude %.1f°\n", res.Sun.Azimuth, res.Sun.Altitude)
	_, _ = fmt.Fprintf(w, "Buildings:\t%d\n", s.Buildings)
	_, _ = fmt.Fprintf(w, "  Shadowed:\t%d\n", s.Shadowed)
	_, _ = fmt.Fprintf(w, "  No shadow:\t%d\n", s.NoShadow)
	if s.Degraded > 0 {
		_, _ = fmt.Fprintf(w, "  Degraded:\t%d\n", s.Degraded)
	}
	_, _ = fmt.Fprintf(w, "Edges:\t%d\n", s.Edges)
	_, _ = fmt.Fprintf(w, "  Shaded:\t%d\n", s.ShadedEdges)
	if s.FailedEdges > 0 {
		_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.FailedEdges)
	}
	_, _ = fmt.Fprintf(w, "Mean coverage:\t%.1f%%\n", s.MeanCoveragePct)
	_, _ = fmt.Fprintf(w, "Weights:\t%v\n", s.WeightKeys)
	for _, p := range res.Phases {
		_, _ = fmt.Fprintf(w, "Phase %s:\t%s (%dms)\n", p.Name, p.Status, p.Duration)
	}
	_ = w.Flush()
}
