// Package cli — serve.go implements the "forge serve" command:
// the long-running daemon (forged) that fronts internal/engine with
// internal/gateway's HTTP/WebSocket API, for the dashboard UI and any other
// non-CLI client named in spec.md §6.
//
// The teacher never runs a server — every subcommand here is a one-shot CLI
// invocation. serve is new, grounded on spec.md §4.6's gateway requirements,
// reusing root.go's cobra/--json/--verbose conventions for consistency.
package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgeware/forge/internal/config"
	"github.com/forgeware/forge/internal/containerrt"
	"github.com/forgeware/forge/internal/dockerx"
	"github.com/forgeware/forge/internal/engine"
	"github.com/forgeware/forge/internal/gateway"
	"github.com/forgeware/forge/internal/logging"
	"github.com/forgeware/forge/internal/model"
	"github.com/forgeware/forge/internal/portregistry"
	"github.com/forgeware/forge/internal/pty"
)

type serveFlags struct {
	addr string
}

const shutdownGrace = 10 * time.Second

// NewServeCommand creates the "serve" cobra command.
func NewServeCommand() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the forge daemon (HTTP/WebSocket API)",
		Long: `Run the long-lived daemon that exposes workspace lifecycle and
terminal/log streaming over HTTP and WebSocket, for the dashboard UI.

The daemon watches ~/.forge/config.json for changes and keeps the same
on-disk port registry and PTY session state the CLI subcommands use, so a
workspace created via the dashboard is visible to "forge list"
and vice versa.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", "127.0.0.1:7337", "address to listen on")
	return cmd
}

func runServe(ctx context.Context, flags *serveFlags) error {
	cfgPath, err := config.Path()
	if err != nil {
		return model.WrapCLIError(model.ExitIO, "resolving config path", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "loading config", err)
	}

	logger := logging.New(logging.Config{Verbose: verbose, JSON: jsonOutput})

	watcher, err := config.NewWatcher(cfgPath, func(updated *config.Config) {
		logger.Info("config reloaded")
		cfg = updated
	})
	if err != nil {
		return model.WrapCLIError(model.ExitIO, "watching config", err)
	}
	defer watcher.Close()

	var forced *containerrt.Forced
	if cfg.ContainerRuntime != "" {
		forced = &containerrt.Forced{Kind: containerrt.Kind(cfg.ContainerRuntime)}
	}
	runtime, err := containerrt.Discover(ctx, forced)
	if err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning, "no usable container runtime", err)
	}

	docker, err := dockerx.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = docker.Close() }()

	home, err := os.UserHomeDir()
	if err != nil {
		return model.WrapCLIError(model.ExitIO, "resolving home directory", err)
	}
	stateDir := filepath.Join(home, config.AppDirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return model.WrapCLIError(model.ExitIO, "creating state directory", err)
	}

	scanner := portregistry.NewScanner()
	registry, err := portregistry.NewRegistry(filepath.Join(stateDir, portregistry.DefaultFileName), scanner)
	if err != nil {
		return model.WrapCLIError(model.ExitIO, "loading port registry", err)
	}

	ptyManager := pty.NewManager(filepath.Join(stateDir, "sessions"), cfg.CaptureInterval())
	defer ptyManager.Close()

	repoRoot := cfg.RepositoryRoot
	if repoRoot == "" {
		wd, wdErr := os.Getwd()
		if wdErr != nil {
			return model.WrapCLIError(model.ExitGeneralError, "resolving working directory", wdErr)
		}
		repoRoot = wd
	}

	eng := engine.New(repoRoot, runtime, registry, docker)
	gw := gateway.New(eng, ptyManager, logger)
	defer gw.Close()

	server := &http.Server{
		Addr:    flags.addr,
		Handler: gw,
	}

	listener, err := net.Listen("tcp", flags.addr)
	if err != nil {
		return model.WrapCLIError(model.ExitIO, fmt.Sprintf("binding %s", flags.addr), err)
	}

	serveCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", flags.addr).Info("gateway listening")
		errCh <- server.Serve(listener)
	}()

	select {
	case <-serveCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "graceful shutdown failed", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return model.WrapCLIError(model.ExitGeneralError, "gateway server failed", err)
		}
		return nil
	}
}
