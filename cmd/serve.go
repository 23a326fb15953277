package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/lineaudit/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose audit control and progress over HTTP",
	Long: `Run the HTTP control surface.

POST /api/v1/audit/{start,pause,resume,stop} drive the single audit run;
GET /api/v1/audit/snapshot, /report and /verify read its state; progress
streams over SSE (/api/v1/audit/stream) and WebSocket (/api/v1/ws/progress).
Prometheus metrics are served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		flags := cmd.Flags()
		addr, _ := flags.GetString("addr")
		authToken, _ := flags.GetString("auth-token")
		drainTimeout, _ := flags.GetDuration("shutdown-timeout")
		corsOrigins, _ := flags.GetStringSlice("cors-origins")
		rateLimit, _ := flags.GetInt("rate-limit")
		rateBurst, _ := flags.GetInt("rate-burst")
		keepAlive, _ := flags.GetDuration("keepalive")

		if appCtx.Operator == "" {
			return errors.New("operator identity is required (use --operator or set USER env)")
		}

		services, err := appCtx.Services()
		if err != nil {
			return err
		}
		logger := appCtx.Logger.Desugar().Named("api")

		handler := api.NewServer(api.Config{
			Audit:       services.Orchestrator,
			Reports:     services.Reports,
			Health:      resultsDirHealth{dir: appCtx.ResultsDir},
			Metrics:     services.Metrics.Handler(),
			AuthToken:   authToken,
			Logger:      logger,
			CORSOrigins: corsOrigins,
			RateLimit:   rateLimit,
			RateBurst:   rateBurst,
			KeepAlive:   keepAlive,
		})

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s API listening on %s (results in %s)\n", colorInfo("→"), ln.Addr(), appCtx.ResultsDir)
		if authToken == "" {
			fmt.Fprintf(out, "%s no --auth-token set; control endpoints are open\n", colorWarn("!"))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// An in-flight run is stopped so its report still reaches disk.
		drain := func(ctx context.Context) {
			if err := services.Orchestrator.Stop(); err != nil {
				return
			}
			if _, err := services.Orchestrator.Wait(ctx); err != nil {
				logger.Warn("audit run did not finish before shutdown")
			}
		}

		// No WriteTimeout: SSE and WebSocket streams stay open for the whole run.
		httpServer := &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		if err := runHTTPServer(ctx, httpServer, ln, drainTimeout, drain); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s server stopped\n", colorSuccess("✓"))
		return nil
	},
}

// runHTTPServer serves on ln until ctx ends, then runs drain and shuts the
// server down, both bounded by timeout.
func runHTTPServer(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration, drain func(context.Context)) error {
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if drain != nil {
		drain(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	serveCmd.Flags().String("auth-token", "", "shared secret required in X-Auth-Token")
	serveCmd.Flags().StringP("inventory", "i", "", "inventory file used by POST /api/v1/audit/start")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "time allowed to stop the run and drain connections")
	serveCmd.Flags().Duration("keepalive", 15*time.Second, "SSE keepalive interval (0 = disabled)")
	serveCmd.Flags().StringSlice("cors-origins", nil, "allowed CORS origins (empty = allow all)")
	serveCmd.Flags().Int("rate-limit", 10, "requests per second per client (0 = disabled)")
	serveCmd.Flags().Int("rate-burst", 20, "rate limit burst size")
	serveCmd.Flags().Bool("local-ping-fallback", false, "ping from this host when the jump host is unavailable")
}

// resultsDirHealth reports unhealthy when the results directory cannot be written.
type resultsDirHealth struct {
	dir string
}

func (h resultsDirHealth) Check(ctx context.Context) error {
	if h.dir == "" {
		return errors.New("results directory not configured")
	}
	f, err := os.CreateTemp(h.dir, ".health-*")
	if err != nil {
		return fmt.Errorf("results directory not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
