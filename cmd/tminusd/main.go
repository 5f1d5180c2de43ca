package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tminus/config"
	"tminus/internal/bootstrap"
	"tminus/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tminusd",
	Short: "T-Minus calendar federation daemon",
	Long: `tminusd runs the T-Minus calendar federation system: the HTTP API,
the sync/write worker pipeline, and the periodic maintainer, each as an
independently deployable subcommand sharing one dependency graph.`,
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(maintainerCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	logger.Init(logger.Config{
		Level:   logger.ParseLevel(level),
		Service: "tminusd",
	})
}

func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}
	return config.Load()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		app, cleanup, err := bootstrap.NewAPI(cfg)
		if err != nil {
			return fmt.Errorf("init api: %w", err)
		}
		defer cleanup()

		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logger.Info("shutting down api server (timeout: %v)", shutdownTimeout)
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- app.Shutdown() }()

			select {
			case err := <-done:
				if err != nil {
					logger.Error("error shutting down api: %v", err)
				} else {
					logger.Info("api server shut down gracefully")
				}
			case <-ctx.Done():
				logger.Warn("api shutdown timed out, forcing exit")
			}
		}()

		addr := ":" + cfg.Port
		logger.Info("starting api server on %s", addr)
		return app.Listen(addr)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the sync/write pipeline worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		w, cleanup, err := bootstrap.NewWorker(cfg)
		if err != nil {
			return fmt.Errorf("init worker: %w", err)
		}
		defer cleanup()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			logger.Info("shutting down worker (timeout: %v)", shutdownTimeout)

			done := make(chan struct{})
			go func() {
				w.Stop()
				close(done)
			}()

			select {
			case <-done:
				logger.Info("worker shut down gracefully")
			case <-time.After(shutdownTimeout):
				logger.Warn("worker shutdown timed out, forcing exit")
				os.Exit(1)
			}
		}()

		logger.Info("starting worker...")
		w.Start()
		return nil
	},
}

var maintainerCmd = &cobra.Command{
	Use:   "maintainer",
	Short: "Run the periodic maintainer (channel renewal, token refresh, hold GC, drift reconciliation)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		m, cleanup, err := bootstrap.NewMaintainer(cfg)
		if err != nil {
			return fmt.Errorf("init maintainer: %w", err)
		}
		defer cleanup()

		if err := m.Start(); err != nil {
			return fmt.Errorf("start maintainer: %w", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down maintainer (timeout: %v)", shutdownTimeout)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		m.Stop(ctx)
		logger.Info("maintainer shut down gracefully")
		return nil
	},
}
