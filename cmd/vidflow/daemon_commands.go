package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vidflow/internal/daemonctl"
)

const (
	startTimeout = 10 * time.Second
	stopGrace    = 5 * time.Second
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the vidflow daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), client, exe, ctx.launchOptions(logLevel), startTimeout)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			default:
				fmt.Fprintf(stdout, "Daemon started (pid %d) on %s\n", result.PID, client.BaseURL())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for the launched daemon")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the vidflow daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stopped, err := ctx.stopDaemon(cmd)
			if err != nil {
				return err
			}
			if !stopped {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
			}
			return nil
		},
	}
}

func newRestartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the vidflow daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			if _, err := ctx.stopDaemon(cmd); err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), client, exe, ctx.launchOptions(logLevel), startTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon restarted (pid %d)\n", result.PID)
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for the launched daemon")
	return cmd
}

// stopDaemon reports false when there was nothing to stop.
func (c *commandContext) stopDaemon(cmd *cobra.Command) (bool, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return false, err
	}
	client, err := c.client()
	if err != nil {
		return false, err
	}
	result, err := daemonctl.Stop(cmd.Context(), client, daemonctl.PIDPath(cfg), stopGrace)
	if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	printStopResult(cmd.OutOrStdout(), result)
	return true, nil
}

func printStopResult(w io.Writer, result daemonctl.StopResult) {
	if result.ForcedKill {
		fmt.Fprintf(w, "Daemon did not exit in time, killed pid %d\n", result.PID)
	}
	fmt.Fprintln(w, "Daemon stopped")
}

// launchOptions binds the launched daemon to --addr when it is a plain
// host:port pair.
func (c *commandContext) launchOptions(logLevel string) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{ConfigPath: c.configPath(), LogLevel: logLevel}
	if addr := flagValue(c.addrFlag); addr != "" && !strings.Contains(addr, "://") {
		opts.Bind = addr
	}
	return opts
}
