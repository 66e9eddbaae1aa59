package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opsrelay/opsrelay/internal/config"
	"github.com/opsrelay/opsrelay/internal/dispatch"
	"github.com/opsrelay/opsrelay/internal/server"
	"github.com/opsrelay/opsrelay/pkg/types"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the opsrelay HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()
	ctx := context.Background()

	// Store
	st, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}

	// Credentials and forge client
	pool, err := buildCredentials(ctx, cfg)
	if err != nil {
		return err
	}
	client, err := buildForgeClient(cfg)
	if err != nil {
		return err
	}

	// Tracker, wired to the store's audit trail
	tracker, err := buildTracker(cfg, client, pool, logger, dispatch.WithEventFunc(func(ev types.Event) {
		if err := st.AppendEvent(context.Background(), ev); err != nil {
			logger.Warn("failed to append event", "kind", ev.Kind, "error", err)
		}
	}))
	if err != nil {
		return err
	}

	// Server
	serverCfg := types.ServerConfig{Addr: ":3000"}
	if cfg.Server != nil {
		serverCfg = *cfg.Server
		if serverCfg.Addr == "" {
			serverCfg.Addr = ":3000"
		}
	}
	srv := server.New(serverCfg, tracker, st, logger)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		_ = st.Stop(shutdownCtx)
		color.Green("Server stopped gracefully")
		return nil
	}
}
