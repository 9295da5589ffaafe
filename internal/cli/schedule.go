package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aburke/highgarden/internal/health"
	"github.com/aburke/highgarden/internal/middleware"
	"github.com/aburke/highgarden/internal/reportjob"
)

const shutdownTimeout = 10 * time.Second

func newScheduleCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the report daily and serve health and metrics",
		Long: "Runs the report every day at schedule_hour UTC until interrupted, and serves\n" +
			"/health, /ready and /metrics on metrics_addr.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath, true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("shutdown", "error", err)
				}
			}()

			scheduler := reportjob.NewScheduler(a.job, reportjob.SchedulerConfig{
				Hour:   cfg.ScheduleHour,
				Logger: logger,
			})
			a.checkers["scheduler"] = health.CheckerFunc(func(context.Context) error {
				if !scheduler.IsRunning() {
					return errors.New("scheduler not running")
				}
				return nil
			})

			server := &http.Server{
				Addr:         cfg.MetricsAddr,
				Handler:      opsHandler(a.registry, a.checkers, logger),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}
			serverErr := make(chan error, 1)
			go func() {
				logger.Info("starting ops server", "addr", cfg.MetricsAddr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			if err := scheduler.Start(ctx); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case err = <-serverErr:
				logger.Error("ops server failed", "error", err)
			}

			scheduler.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if serr := server.Shutdown(shutdownCtx); serr != nil {
				logger.Error("ops server forced to shutdown", "error", serr)
			}
			logger.Info("stopped")
			return err
		},
	}
}

// opsHandler serves probes and metrics.
// Middleware order: RequestID, Logging, Tracing.
func opsHandler(reg *prometheus.Registry, checkers map[string]health.Checker, logger *slog.Logger) http.Handler {
	probes := health.NewHandlers(checkers, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", probes.Health)
	mux.HandleFunc("/ready", probes.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return middleware.RequestID(middleware.Logging(logger)(middleware.Tracing("auditreport-ops")(mux)))
}
