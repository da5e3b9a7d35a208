// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/telnetd/internal/config"
	"github.com/holomush/telnetd/internal/daemon"
	"github.com/holomush/telnetd/internal/xdg"
)

const usageLine = "telnetd [-i ip] [-p port] start | stop | status"

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

// NewRootCmd creates the root command for the telnetd CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   usageLine,
		Short: "Telnet server with an interactive shell",
		Long: `telnetd serves an interactive command shell over Telnet.

Run "telnetd serve" to host the server, then control its listener from
another terminal with start, stop and status.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return oops.Code(daemon.CodeUsage).Errorf("unknown command %q", args[0])
			}
			return cmd.Help()
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return oops.Code(daemon.CodeUsage).Wrap(err)
	})

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path (default: XDG config dir)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newStartCmd(opts))
	cmd.AddCommand(newStopCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newShutdownCmd(opts))
	cmd.AddCommand(newHashPasswordCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd. An explicit --config file
// must exist; the XDG default is optional.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, required := o.configFile, true
	if path == "" {
		required = false
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			path = ""
		}
	}
	return config.Load(path, required, cmd.Flags())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "telnetd %s (commit: %s, built: %s)\n", version, commit, date)
			return err
		},
	}
}

// noArgs rejects positional arguments as a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return oops.Code(daemon.CodeUsage).Errorf("%s takes no arguments", cmd.Name())
	}
	return nil
}
