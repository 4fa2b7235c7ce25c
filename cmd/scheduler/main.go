package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NahidaBuer/programmer-trending/internal/app"
	"github.com/NahidaBuer/programmer-trending/internal/config"
	"github.com/NahidaBuer/programmer-trending/internal/server"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "trending-scheduler",
		Short: "Background scheduler for the programmer trending pipeline",
		Long: `Runs the periodic crawl and summary generation jobs in the background
and serves the ops HTTP endpoints. Run it as a service.`,
		SilenceUsage: true,
		RunE:         runScheduler,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	log.Info().Msg("Starting programmer trending scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().
		Strs("sources", a.Sources.IDs()).
		Str("database", cfg.Database.Driver).
		Bool("summaries", a.Generator != nil).
		Msg("Components initialised")

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv := server.New(a.Scheduler, a.Repository, a.Limiter, a.Metrics, log)
		go func() {
			serverErr <- srv.ListenAndServe(ctx, cfg.Server.Addr)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("Ops server failed")
		}
	}

	log.Info().Msg("Shutting down scheduler")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.Scheduler.Stop(shutdownCtx)

	return nil
}
