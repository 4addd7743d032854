package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/shaderoute/internal/export"
	"github.com/sells-group/shaderoute/internal/route"
)

var (
	routeFrom    string
	routeTo      string
	routeKeys    []string
	routeFormat  string
	routeSunTime string
	routeOut     string
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Find the shortest path under each weight between two points",
	Long:  "Annotates the network for the configured sun, then routes between --from and --to (projected x,y) once per weight key.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		origin, err := parseCoord(routeFrom)
		if err != nil {
			return eris.Wrap(err, "--from")
		}
		dest, err := parseCoord(routeTo)
		if err != nil {
			return eris.Wrap(err, "--to")
		}
		if err := validateFormat(routeFormat); err != nil {
			return err
		}

		env, err := initAnnotate(ctx, cfg, "route", routeSunTime)
		if err != nil {
			return err
		}
		defer env.Close()

		routes, err := env.Result.Evaluator.RouteAll(ctx, origin, dest, routeKeys)
		if err != nil {
			return err
		}

		if err := env.Pipeline.RecordRoutes(ctx, env.Result.RunID, routes); err != nil {
			zap.L().Warn("failed to record routes", zap.Error(err))
		}

		if routeOut != "" {
			doc, err := export.FromResult(env.Result, routes, []export.Layer{export.LayerEdges, export.LayerRoutes})
			if err != nil {
				return err
			}
			if err := doc.WriteFile(routeOut); err != nil {
				return err
			}
		}

		return formatRoutes(os.Stdout, routes, routeFormat)
	},
}

func init() {
	routeCmd.Flags().StringVar(&routeFrom, "from", "", "origin as x,y in the data CRS")
	routeCmd.Flags().StringVar(&routeTo, "to", "", "destination as x,y in the data CRS")
	routeCmd.Flags().StringSliceVar(&routeKeys, "keys", nil, "weight keys to route on (default all)")
	routeCmd.Flags().StringVar(&routeFormat, "format", "table", "output format: table, json, yaml")
	routeCmd.Flags().StringVar(&routeSunTime, "sun-time", "", "local time in the place's timezone (default from config, else now)")
	routeCmd.Flags().StringVarP(&routeOut, "out", "o", "", "also write edges and routes as GeoJSON")
	_ = routeCmd.MarkFlagRequired("from")
	_ = routeCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(routeCmd)
}

// parseCoord parses "x,y".
func parseCoord(s string) (geom.Coord, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, eris.Errorf("want x,y, got %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, eris.Wrapf(err, "parse x %q", parts[0])
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, eris.Wrapf(err, "parse y %q", parts[1])
	}
	return geom.Coord{x, y}, nil
}

func validateFormat(f string) error {
	switch f {
	case "table", "json", "yaml":
		return nil
	default:
		return eris.Errorf("unknown format %q (want table, json or yaml)", f)
	}
}

// routeRow is the printable form of a route.
type routeRow struct {
	Key          string  `json:"key" yaml:"key"`
	Origin       int64   `json:"origin" yaml:"origin"`
	Destination  int64   `json:"destination" yaml:"destination"`
	Nodes        []int64 `json:"nodes" yaml:"nodes"`
	Cost         float64 `json:"cost" yaml:"cost"`
	Length       float64 `json:"length" yaml:"length"`
	ShadedLength float64 `json:"shaded_length" yaml:"shaded_length"`
	ShadePct     float64 `json:"shade_pct" yaml:"shade_pct"`
}

func toRows(routes []route.Route) []routeRow {
	rows := make([]routeRow, 0, len(routes))
	for _, r := range routes {
		nodes := make([]int64, len(r.Nodes))
		for i, n := range r.Nodes {
			nodes[i] = int64(n)
		}
		rows = append(rows, routeRow{
			Key:          r.Key,
			Origin:       int64(r.Origin),
			Destination:  int64(r.Destination),
			Nodes:        nodes,
			Cost:         r.Cost,
			Length:       r.Length,
			ShadedLength: r.ShadedLength,
			ShadePct:     r.ShadePct,
		})
	}
	return rows
}

// formatRoutes writes routes to w as a table, JSON or YAML.
func formatRoutes(out io.Writer, routes []route.Route, format string) error {
	rows := toRows(routes)
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tLENGTH\tSHADED\tSHADE%\tCOST\tNODES")
	_, _ = fmt.Fprintln(w, "---\t------\t------\t------\t----\t-----")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f\t%.2f\t%d\n",
			r.Key, r.Length, r.ShadedLength, r.ShadePct, r.Cost, len(r.Nodes))
	}
	return w.Flush()
}
