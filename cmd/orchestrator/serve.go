package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"codenerd/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background Maintenance Loop and Governor until interrupted",
	Long: `serve wires the full orchestrator core and runs its two periodic
background tasks — the Maintenance Loop's Sovereign Self-Audit and the
Governor's alert checks — until SIGINT/SIGTERM.

The Orchestrator & Dispatcher and Forge Pipeline remain available in-process
for embedding; this command only drives the tasks that require no external
trigger.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.For(logging.CategoryCLI).Sugar()
	logger.Infow("orchestrator core starting", "workspace", cfg.WorkspaceRoot)

	go app.Maintenance.Run(ctx)
	go app.Governor.Run(ctx)
	go drainGovernorAlerts(ctx, app)

	<-ctx.Done()
	logger.Info("orchestrator core shutting down")
	return nil
}

// drainGovernorAlerts logs every Governor alert as it arrives; a real
// deployment would fan these into whatever external surface (TUI, gateway)
// consumes them, both of which are out of scope for the core.
func drainGovernorAlerts(ctx context.Context, app *App) {
	logger := logging.For(logging.CategoryCLI).Sugar()
	for {
		select {
		case <-ctx.Done():
			return
		case alert, ok := <-app.Governor.Alerts:
			if !ok {
				return
			}
			logger.Infow("governor alert", "kind", alert.Kind, "severity", alert.Severity(), "description", alert.Description)
		}
	}
}
