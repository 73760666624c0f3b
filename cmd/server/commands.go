package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"perkwallet/internal/config"
	"perkwallet/internal/database"
	"perkwallet/internal/handlers"
	"perkwallet/internal/models"
	"perkwallet/internal/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newRootCommand() *cobra.Command {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "perkwallet",
		Short:         "Card benefit reminder and digest jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(loaded)
			cfg = loaded
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCommand(&cfg),
		runCommand(&cfg),
		migrateCommand(&cfg),
	)
	return rootCmd
}

func serveCommand(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the cron endpoints and optionally run the in-process scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flush := setupSentry(cfg)
	defer flush()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		CronSecret:     cfg.CronSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Jobs:           a.jobService(),
		Gatherer:       a.registry,
	})

	stopScheduler := func() {}
	if cfg.Scheduler.Enabled {
		if a.jobs == nil {
			log.Warn("Scheduler enabled but no database is configured, not starting it")
		} else {
			stopScheduler = services.NewScheduler(a.jobs, cfg.Scheduler.Interval, cfg.Scheduler.DigestHour).Start(ctx)
			log.WithFields(log.Fields{
				"interval":    cfg.Scheduler.Interval,
				"digest_hour": cfg.Scheduler.DigestHour,
			}).Info("In-process scheduler started")
		}
	}
	defer stopScheduler()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server starting on port %s...", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func runCommand(cfg **config.Config) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one batch job and print its summary",
	}

	for _, job := range []string{models.JobReminders, models.JobDigest} {
		runCmd.AddCommand(&cobra.Command{
			Use:   job,
			Short: fmt.Sprintf("Run the %s job once", job),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runJob(cmd, *cfg, job)
			},
		})
	}
	return runCmd
}

func runJob(cmd *cobra.Command, cfg *config.Config, job string) error {
	flush := setupSentry(cfg)
	defer flush()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if a.jobs == nil {
		return fmt.Errorf("%w: a database is required to run jobs", config.ErrMisconfigured)
	}

	ctx := cmd.Context()
	var summary any
	switch job {
	case models.JobReminders:
		summary, err = a.jobs.RunReminders(ctx)
	default:
		summary, err = a.jobs.RunDigest(ctx)
	}
	if summary != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(summary); encErr != nil {
			return encErr
		}
	}
	return err
}

func migrateCommand(cfg **config.Config) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the SQL schema migrations",
	}

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				dsn, err := (*cfg).Database.DSN()
				if err != nil {
					return err
				}
				return database.MigrateUp(dsn)
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations, one step unless steps is given",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n <= 0 {
						return fmt.Errorf("steps must be a positive integer, got %q", args[0])
					}
					steps = n
				}
				dsn, err := (*cfg).Database.DSN()
				if err != nil {
					return err
				}
				return database.MigrateDown(dsn, steps)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				dsn, err := (*cfg).Database.DSN()
				if err != nil {
					return err
				}
				version, dirty, err := database.MigrationStatus(dsn)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
				return nil
			},
		},
	)
	return migrateCmd
}
