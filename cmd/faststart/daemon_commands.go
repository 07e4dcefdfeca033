package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"faststart/internal/daemonctl"
	"faststart/internal/daemonrun"
	"faststart/internal/ipc"
	"faststart/internal/registry"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the faststart daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
				cfg.Paths.SocketPath = socket
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "dev", false, "Development mode: source locations and gin debug output")
	return cmd
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var logLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the faststart daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx, logLevel),
				10*time.Second,
			)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	var force bool
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the faststart daemon",
		Long: "Stop the faststart daemon. While files are being optimized the daemon " +
			"refuses to stop; pass --force to cancel them. Cancelled optimizations leave " +
			"the original files untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.Stop(ctx.socketPath(), ctx.configValue(), force, 10*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.Busy {
				return fmt.Errorf("%w: %s; rerun with --force to cancel and stop", errDaemonBusy, result.Message)
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Killed unresponsive daemon process (pid %d)\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
	stopCmd.Flags().BoolVarP(&force, "force", "f", false, "Cancel running optimizations and stop")

	var asJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, bridge and registry status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			stdout := cmd.OutOrStdout()
			renderStatus(stdout, status, shouldColorize(stdout))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func renderStatus(out io.Writer, status *ipc.DaemonStatus, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Running {
		detail := fmt.Sprintf("Running (pid %d, version %s, up %s)", status.PID, status.Version,
			formatDuration(time.Duration(status.UptimeSeconds)*time.Second))
		fmt.Fprintln(out, renderStatusLine("faststart", statusOK, detail, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("faststart", statusWarn, "Not running (run `faststart start`)", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Socket", statusInfo, status.SocketPath, colorize))
	if status.APIAddress != "" {
		fmt.Fprintln(out, renderStatusLine("HTTP API", statusOK, "http://"+status.APIAddress, colorize))
	}
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Memory", statusInfo, formatBytes(int64(status.MemoryRSS)), colorize))
	}
	fmt.Fprintln(out)

	if status.Running {
		for _, line := range renderSectionHeader("Bridges", colorize) {
			fmt.Fprintln(out, line)
		}
		if len(status.Bridges) == 0 {
			fmt.Fprintln(out, renderStatusLine("Bridges", statusInfo, "None configured", colorize))
		}
		for _, b := range status.Bridges {
			kind := statusOK
			if !b.Connected {
				kind = statusWarn
			}
			detail := fmt.Sprintf("%s after %d attempt(s)", b.State, b.Attempts)
			fmt.Fprintln(out, renderStatusLine(b.Name, kind, detail, colorize))
		}
		fmt.Fprintln(out)
	}

	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, dep := range status.Dependencies {
		switch {
		case dep.Available:
			fmt.Fprintln(out, renderStatusLine(dep.Name, statusOK, dep.Detail, colorize))
		case dep.Optional:
			fmt.Fprintln(out, renderStatusLine(dep.Name, statusWarn, dep.Detail+" (falling back to movie header metadata)", colorize))
		default:
			fmt.Fprintln(out, renderStatusLine(dep.Name, statusError, dep.Detail, colorize))
		}
	}
	if status.Cache != nil {
		detail := fmt.Sprintf("%d entries, %d hits, %d misses", status.Cache.Entries, status.Cache.Hits, status.Cache.Misses)
		fmt.Fprintln(out, renderStatusLine("Probe cache", statusInfo, detail, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Files", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Total == 0 {
		fmt.Fprintln(out, "No files tracked")
		return
	}
	rows := make([][]string, 0, len(status.Counts))
	for _, s := range registry.AllStatuses() {
		if n := status.Counts[string(s)]; n > 0 {
			rows = append(rows, []string{s.Label(), fmt.Sprintf("%d", n)})
		}
	}
	rows = append(rows, []string{"Total", fmt.Sprintf("%d", status.Total)})
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	fmt.Fprintln(out)
	if len(status.Playing) > 0 {
		fmt.Fprintln(out, renderStatusLine("Playing", statusInfo, strings.Join(status.Playing, ", "), colorize))
	}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, logLevel string) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{LogLevel: strings.TrimSpace(logLevel)}
	if ctx.socketFlag != nil {
		opts.SocketPath = strings.TrimSpace(*ctx.socketFlag)
	}
	opts.ConfigPath = ctx.configPath()
	return opts
}
