// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/telnetd/internal/config"
	"github.com/holomush/telnetd/internal/control"
	"github.com/holomush/telnetd/internal/daemon"
	"github.com/holomush/telnetd/pkg/errutil"
)

const notRunning = "telnetd is not running."

// client connects to the control socket named by the configuration.
func (o *rootOptions) client(cmd *cobra.Command) (*config.Config, *control.Client, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	path, err := control.SocketPath(cfg.Control.Socket)
	if err != nil {
		return nil, nil, oops.Wrapf(err, "failed to resolve control socket")
	}
	return cfg, control.NewClient(path), nil
}

func newStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the telnet listener on -i ip and -p port",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			st, err := c.Start(cmd.Context(), cfg.Listen.IP, cfg.Listen.Port)
			if err != nil {
				if errutil.HasCode(err, control.CodeUnavailable) {
					return oops.Code(control.CodeUnavailable).Wrapf(err, "telnetd serve is not running")
				}
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), runningLine(st.Status))
			return err
		},
	}
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the telnet listener and close its connections",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			if _, err := c.Stop(cmd.Context()); err != nil {
				if errutil.HasCode(err, control.CodeUnavailable) {
					return oops.Code(daemon.CodeNotRunning).Errorf(notRunning)
				}
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "telnetd stopped.")
			return err
		},
	}
}

func newShutdownCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the serving process to exit",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			if err := c.Shutdown(cmd.Context()); err != nil {
				if errutil.HasCode(err, control.CodeUnavailable) {
					return oops.Code(daemon.CodeNotRunning).Errorf(notRunning)
				}
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "shutdown initiated")
			return err
		},
	}
}

// statusOptions holds configuration for the status command.
type statusOptions struct {
	format string
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	so := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the telnet listener is running",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if so.format != "text" && so.format != "json" && so.format != "yaml" {
				return oops.Code(daemon.CodeUsage).Errorf("invalid format %q: must be text, json or yaml", so.format)
			}
			_, c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			st, err := queryStatus(cmd.Context(), c)
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), so.format, st)
		},
	}
	cmd.Flags().StringVar(&so.format, "format", "text", "output format (text, json or yaml)")
	return cmd
}

// queryStatus reports NOT_RUNNING when no server answers on the socket.
func queryStatus(ctx context.Context, c *control.Client) (control.StatusResponse, error) {
	st, err := c.Status(ctx)
	if errutil.HasCode(err, control.CodeUnavailable) {
		return control.StatusResponse{Status: daemon.Status{State: daemon.StateNotRunning}}, nil
	}
	return st, err
}

func writeStatus(w io.Writer, format string, st control.StatusResponse) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(st); err != nil {
			return err
		}
		return enc.Close()
	default:
		if !st.Running() {
			_, err := fmt.Fprintln(w, notRunning)
			return err
		}
		_, err := fmt.Fprintln(w, runningLine(st.Status))
		return err
	}
}

func runningLine(st daemon.Status) string {
	return "telnetd is running on " + net.JoinHostPort(st.IP, strconv.Itoa(st.Port))
}
