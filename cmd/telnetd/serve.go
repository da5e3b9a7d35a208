// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/telnetd/internal/auth"
	"github.com/holomush/telnetd/internal/config"
	"github.com/holomush/telnetd/internal/control"
	"github.com/holomush/telnetd/internal/daemon"
	"github.com/holomush/telnetd/internal/logging"
	"github.com/holomush/telnetd/internal/observability"
	"github.com/holomush/telnetd/internal/session"
	"github.com/holomush/telnetd/internal/shell"
	"github.com/holomush/telnetd/pkg/errutil"
)

// shutdownTimeout bounds draining connections and stopping the servers.
const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the telnet server and its control socket",
		Long: `Run the telnet server in the foreground. The listener starts at once
unless --autostart=false; the control socket accepts start, stop and status
requests until the process receives SIGINT or SIGTERM.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}
}

// runServe hosts one controller until ctx ends, a signal arrives or a
// shutdown is requested over the control socket.
func runServe(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger, err := logging.Setup("telnetd", version, cfg.Log.Format, cfg.Log.Level, logOut)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge, err := buildBridge(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ctrl, err := daemon.New(daemon.Options{
		Connections: cfg.Connections.ManagerConfig(),
		Handler:     bridge,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	socketPath, err := control.SocketPath(cfg.Control.Socket)
	if err != nil {
		return oops.Wrapf(err, "failed to resolve control socket")
	}
	if serving(ctx, socketPath) {
		return oops.Code(daemon.CodeAlreadyRunning).
			With("path", socketPath).
			Errorf("telnetd is already serving on %s", socketPath)
	}

	ctl := control.NewServer(ctrl, socketPath, control.ShutdownFunc(cancel), logger)
	if err := ctl.Start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := ctl.Stop(stopCtx); err != nil {
			logger.Warn("error stopping control server", "error", err)
		}
	}()

	if cfg.Metrics.Addr != "" {
		obs := observability.NewServer(cfg.Metrics.Addr, func() bool { return ctrl.Status().Running() }, logger)
		obsErrCh, err := obs.Start()
		if err != nil {
			return oops.Wrapf(err, "failed to start observability server")
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := obs.Stop(stopCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	if cfg.Listen.Autostart {
		if err := ctrl.Start(ctx, cfg.Listen.IP, cfg.Listen.Port); err != nil {
			return err
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("telnetd ready", "control_socket", socketPath, "autostart", cfg.Listen.Autostart)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	if ctrl.Status().Running() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := ctrl.Stop(stopCtx); err != nil {
			errutil.LogError(logger, "error stopping listener", err)
		}
	}
	logger.Info("shutdown complete")
	return nil
}

// buildBridge assembles the shell, the optional login hook and the bridge.
func buildBridge(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session.Bridge, error) {
	sh, err := buildShell(ctx, cfg.Shell, logger)
	if err != nil {
		return nil, err
	}

	var authenticator session.Authenticator
	if cfg.Auth.AuthEnabled() {
		static, err := auth.NewStatic(cfg.Auth.Users, auth.StaticOptions{
			LockoutThreshold: cfg.Auth.LockoutThreshold,
			LockoutDuration:  cfg.Auth.LockoutDuration,
			FailureDelay:     cfg.Auth.FailureDelay,
			Logger:           logger,
		})
		if err != nil {
			return nil, err
		}
		authenticator = static
	}

	return session.NewBridge(session.Options{
		Shell:         sh,
		Properties:    cfg.Shell.Properties,
		Authenticator: authenticator,
		MaxAttempts:   cfg.Auth.MaxAttempts,
		Logger:        logger,
	})
}

// buildShell returns the exec shell when a program is configured, and the
// builtin shell, extended by the optional Lua script, otherwise.
func buildShell(ctx context.Context, cfg config.ShellConfig, logger *slog.Logger) (session.Shell, error) {
	if len(cfg.Exec) > 0 {
		return shell.NewExec(cfg.Exec, logger)
	}

	registry := shell.NewRegistry(logger)
	if err := shell.RegisterBuiltins(registry); err != nil {
		return nil, err
	}
	if cfg.Script != "" {
		script, err := shell.LoadScript(cfg.Script)
		if err != nil {
			return nil, err
		}
		if err := script.Register(ctx, registry); err != nil {
			return nil, err
		}
		logger.Info("loaded shell script", "path", cfg.Script)
	}
	return shell.New(shell.Options{Prompt: cfg.Prompt, Registry: registry, Logger: logger})
}

// serving reports whether another process answers on the control socket.
func serving(ctx context.Context, socketPath string) bool {
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err := control.NewClient(socketPath).Health(ctx)
	return err == nil
}

// monitorServerErrors cancels the serve context when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("server failed, shutting down", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
