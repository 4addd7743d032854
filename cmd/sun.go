package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/shaderoute/internal/sun"
)

var (
	sunTime string
	sunJSON bool
)

var sunCmd = &cobra.Command{
	Use:   "sun",
	Short: "Print the sun's azimuth and altitude for the configured place",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("sun"); err != nil {
			return err
		}
		pos, err := sunPosition(cfg, sunTime, time.Now())
		if err != nil {
			return err
		}
		if sunJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(pos)
		}
		formatSun(os.Stdout, cfg.Place.Name, pos)
		return nil
	},
}

func init() {
	sunCmd.Flags().StringVar(&sunTime, "time", "", "local time in the place's timezone (default from config, else now)")
	sunCmd.Flags().BoolVar(&sunJSON, "json", false, "print JSON")
	rootCmd.AddCommand(sunCmd)
}

// formatSun writes a sun position to w.
func formatSun(out io.Writer, place string, pos sun.Position) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if place != "" {
		_, _ = fmt.Fprintf(w, "Place:\t%s\n", place)
	}
	_, _ = fmt.Fprintf(w, "Location:\t%.5f, %.5f\n", pos.Latitude, pos.Longitude)
	_, _ = fmt.Fprintf(w, "Time:\t%s\n", pos.Time.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "Azimuth:\t%.2f°\n", pos.Azimuth)
	_, _ = fmt.Fprintf(w, "Altitude:\t%.2f°\n", pos.Altitude)
	if !pos.AboveHorizon() {
		_, _ = fmt.Fprintln(w, "Sun is below the horizon.")
	}
	_ = w.Flush()
}
