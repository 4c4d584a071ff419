package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ferry/internal/api"
	"ferry/internal/daemonctl"
)

const (
	startWaitTimeout = 10 * time.Second
	minStopGrace     = 15 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ferry daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client, err := ctx.client()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), client, exe, daemonLaunchOptions(ctx), startWaitTimeout)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the ferry daemon after running batches drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client, err := ctx.client()
			if err != nil {
				return err
			}
			cfg := ctx.configValue()
			result, err := daemonctl.Stop(cmd.Context(), client, cfg, stopGrace(cfg.ItemTimeout()))
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, check, and record status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := daemonctl.BuildStatusSnapshot(cmd.Context(), client, ctx.configValue())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, status)
			}
			printDaemonStatus(cmd, status)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func printDaemonStatus(cmd *cobra.Command, status api.DaemonStatus) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("System Status", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if status.Running {
		fmt.Fprintln(stdout, renderStatusLine("Ferry", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(stdout, renderStatusLine("Ferry", statusWarn, "Not running (run `ferry start`)", colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Remote mode", statusInfo, status.RemoteMode, colorize))
	if status.Running {
		fmt.Fprintln(stdout, renderStatusLine("Active batches", statusInfo,
			fmt.Sprintf("%d of %d", status.ActiveTransfers, status.MaxConcurrent), colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))

	if len(status.Checks) > 0 {
		fmt.Fprintln(stdout)
		for _, line := range renderSectionHeader("Checks", colorize) {
			fmt.Fprintln(stdout, line)
		}
		for _, check := range status.Checks {
			kind := statusOK
			if !check.Passed {
				kind = statusError
			}
			fmt.Fprintln(stdout, renderStatusLine(check.Name, kind, check.Detail, colorize))
		}
	}

	fmt.Fprintln(stdout)
	for _, line := range renderSectionHeader("Records", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if status.Records.Total == 0 {
		fmt.Fprintln(stdout, "No records stored")
		return
	}
	rows := [][]string{
		{"Total", humanize.Comma(int64(status.Records.Total))},
		{"Transferred", humanize.Comma(int64(status.Records.Transferred))},
		{"Pending", humanize.Comma(int64(status.Records.Pending))},
		{"With errors", humanize.Comma(int64(status.Records.WithErrors))},
	}
	fmt.Fprint(stdout, renderTable([]string{"Records", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

// stopGrace gives in-flight items time to finish before SIGKILL.
func stopGrace(itemTimeout time.Duration) time.Duration {
	grace := itemTimeout + 10*time.Second
	if grace < minStopGrace {
		return minStopGrace
	}
	return grace
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{}
	if ctx.configFlag != nil {
		if config := strings.TrimSpace(*ctx.configFlag); config != "" {
			opts.ConfigPath = config
		}
	}
	return opts
}
