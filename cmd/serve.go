package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shaderoute/internal/api"
)

var (
	servePort    int
	serveSunTime string
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Annotate once and serve route queries over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAnnotate(ctx, cfg, "serve", serveSunTime)
		if err != nil {
			return err
		}
		defer env.Close()

		srv, err := newServer(env, servePort)
		if err != nil {
			return err
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("run_id", env.Result.RunID),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveSunTime, "sun-time", "", "local time in the place's timezone (default from config, else now)")
	rootCmd.AddCommand(serveCmd)
}

// newServer builds the HTTP server for an annotated environment. Answered
// routes are recorded only when run history is enabled.
func newServer(env *annotateEnv, port int) (*http.Server, error) {
	if port == 0 {
		port = cfg.Server.Port
	}

	var rec api.Recorder
	if env.Store != nil {
		rec = env.Pipeline
	}
	s, err := api.New(env.Result, rec, api.Options{
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
		CacheSize:   cfg.Server.CacheSize,
		CacheTTL:    cfg.Server.CacheTTL(),
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}
