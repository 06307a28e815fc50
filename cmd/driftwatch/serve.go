package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driftwatch/internal/api"
	"driftwatch/internal/checker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background checker",
	Long: `Run the HTTP API together with the background checker. The checker runs a
pass on startup and then every monitor.pass_interval; only due targets are
fetched on each pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Cancel on SIGINT or SIGTERM for graceful shutdown.
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		checkerSvc := checker.New(a.engine, a.cfg.Monitor.PassInterval, a.log)
		server := api.NewServer(a.cfg.Server.Port, api.NewHandlers(a.engine, a.store, a.log), a.log)

		checkerSvc.Start()
		serverErr := server.Start()
		a.log.Info("application is running")

		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received, starting graceful shutdown")
		case err := <-serverErr:
			if err != nil {
				a.log.Error("could not start HTTP server", zap.Error(err))
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownGrace)
		defer shutdownCancel()

		// Stop the checker first to prevent new passes from starting.
		checkerSvc.Stop(shutdownCtx)

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown error: %w", err)
		}
		a.log.Info("application shut down gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
