package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"auto-backup/internal/backup"
	apperrors "auto-backup/internal/errors"
	"auto-backup/internal/logging"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	scheduleInterval    time.Duration
	scheduleMetricsAddr string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run snapshots on a fixed interval",
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler in the foreground until interrupted",
	Long: `Run the scheduler in the foreground until SIGINT or SIGTERM.

The first snapshot is taken immediately, then one every interval. Each
cycle is reported to the configured webhook and file notifications. On
shutdown an in-flight snapshot gets schedule.grace_period to finish.

Examples:
  # Snapshot every six hours
  auto-backup schedule run --interval 6h

  # Expose Prometheus metrics and a status endpoint
  auto-backup schedule run --metrics-addr :9090`,
	RunE: runSchedule,
}

func init() {
	scheduleRunCmd.Flags().DurationVar(&scheduleInterval, "interval", 0, "time between snapshots (overrides schedule.interval)")
	scheduleRunCmd.Flags().StringVar(&scheduleMetricsAddr, "metrics-addr", "", "serve /metrics and /status on this address")

	scheduleCmd.AddCommand(scheduleRunCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := backup.NewMetrics(registry)

	archiver, logger, err := openArchiver(backup.WithMetrics(metrics))
	if err != nil {
		return err
	}
	cfg := archiver.Config()

	if err := archiver.Store().HealthCheck(commandContext(cmd.Context())); err != nil {
		archiver.Close()
		return fmt.Errorf("backup store is not usable: %w", err)
	}

	interval := cfg.Schedule.Interval
	if cmd.Flags().Changed("interval") {
		interval = scheduleInterval
	}

	scheduler := backup.NewScheduler(archiver, backup.SchedulerConfig{
		Interval:    interval,
		GracePeriod: cfg.Schedule.GracePeriod,
		Options: backup.SnapshotOptions{
			Include: cfg.Schedule.Include,
			Exclude: cfg.Schedule.Exclude,
		},
		Logger:  logger,
		Metrics: metrics,
	})
	for _, observer := range backup.NewNotificationObservers(cfg.Notifications, logger) {
		scheduler.AddObserver(observer)
	}

	shutdown := apperrors.NewGracefulShutdownHandler()
	shutdown.RegisterShutdownFunc("archiver", archiver.Close)

	if scheduleMetricsAddr != "" {
		server := newMetricsServer(scheduleMetricsAddr, registry, scheduler)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server failed: %v", err)
			}
		}()
		shutdown.RegisterShutdownFunc("metrics server", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(ctx)
		})
		logger.WithFields(map[string]interface{}{"addr": scheduleMetricsAddr}).Info("Serving metrics")
	}

	// registered last so it runs first
	shutdown.RegisterShutdownFunc("scheduler", func() error {
		logger.Info("Shutdown requested, stopping scheduler")
		scheduler.Stop()
		return nil
	})

	if err := scheduler.Start(); err != nil {
		_ = archiver.Close()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	shutdown.Start()

	logger.WithFields(map[string]interface{}{
		"source_dir": cfg.SourceDir,
		"backup_dir": cfg.Storage.BasePath,
		"interval":   interval.String(),
		"keep_count": cfg.Retention.KeepCount,
	}).Info("Scheduler running, press Ctrl+C to stop")

	errs := shutdown.Wait()
	logSchedulerSummary(logger, scheduler.Status())
	for _, err := range errs {
		logger.Errorf("Shutdown step failed: %v", err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown finished with %d error(s)", len(errs))
	}
	return nil
}

func newMetricsServer(addr string, registry *prometheus.Registry, scheduler *backup.Scheduler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(scheduler.Status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func logSchedulerSummary(logger *logging.Logger, status backup.SchedulerStatus) {
	logger.WithFields(map[string]interface{}{
		"cycles":           status.Cycles,
		"failures":         status.Failures,
		"last_snapshot_id": status.LastSnapshotID,
	}).Info("Scheduler stopped")
}
