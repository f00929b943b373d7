package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"suitectl/internal/app"
	"suitectl/internal/cli"
	"suitectl/internal/runner"
)

var (
	startWait            bool
	startOutputFormat    string
	statusOutputFormat   string
	profilesOutputFormat string
)

// startAppCmd starts every configured service
var startAppCmd = &cobra.Command{
	Use:   "start-app",
	Short: "Start the backend and frontend",
	Long: `Start every configured service, backend before frontend, with port
failover. If one fails, the ones already started are stopped again.

Without --wait the services keep running after suitectl exits and write their
output to a log directory; stop them with 'suitectl stop-all'. With --wait
suitectl stays in the foreground and stops them on Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runStartApp,
}

// stopAllCmd stops every service, including leftovers from earlier runs
var stopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop all services, including leftovers from earlier runs",
	Long: `Stop all services and reclaim processes left behind by earlier runs.

Leftover processes are found by the process name and command-line patterns
configured for each service.`,
	Args: cobra.NoArgs,
	RunE: runStopAll,
}

// statusCmd shows the configured services
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured services with port occupancy and health",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

// profilesCmd lists the test categories
var profilesCmd = &cobra.Command{
	Use:     "profiles",
	Aliases: []string{"categories"},
	Short:   "List the test categories",
	Args:    cobra.NoArgs,
	RunE:    runProfiles,
}

func init() {
	rootCmd.AddCommand(startAppCmd)
	rootCmd.AddCommand(stopAllCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(profilesCmd)

	startAppCmd.Flags().BoolVar(&startWait, "wait", false, "Stay in the foreground and stop the services on Ctrl+C")
	startAppCmd.Flags().StringVarP(&startOutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	statusCmd.Flags().StringVarP(&statusOutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	profilesCmd.Flags().StringVarP(&profilesOutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
}

func newPrinter(cmd *cobra.Command, rawFormat string) (*cli.Printer, error) {
	format, err := cli.ParseOutputFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	return cli.NewPrinter(cmd.OutOrStdout(), cli.PrinterOptions{Format: format}), nil
}

func runStartApp(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd, startOutputFormat)
	if err != nil {
		return err
	}

	logDir := ""
	if !startWait {
		logDir = app.DefaultLogDir()
	}
	application, err := newApplication(logDir, nil)
	if err != nil {
		return err
	}

	started, err := application.StartApp(cmd.Context(), startWait)
	if err != nil {
		return err
	}
	if startWait {
		return nil
	}

	order := make([]string, 0, len(started))
	for name := range started {
		order = append(order, name)
	}
	return printer.PrintStarted(started, runner.OrderServices(order))
}

func runStopAll(cmd *cobra.Command, args []string) error {
	application, err := newApplication("", nil)
	if err != nil {
		return err
	}

	report, err := application.StopAll(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped %d owned and %d leftover processes in %s\n",
		report.OwnedStopped, report.OrphansStopped, report.Duration.Round(time.Millisecond))
	if report.HandlerErrors > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d cleanup handlers failed\n", report.HandlerErrors)
	}
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd, statusOutputFormat)
	if err != nil {
		return err
	}
	application, err := newApplication("", nil)
	if err != nil {
		return err
	}
	return printer.PrintStatus(application.Status(cmd.Context()))
}

func runProfiles(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd, profilesOutputFormat)
	if err != nil {
		return err
	}
	application, err := newApplication("", nil)
	if err != nil {
		return err
	}
	return printer.PrintProfiles(application.Profiles())
}
