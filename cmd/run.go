package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"suitectl/internal/cli"
	"suitectl/internal/runner"
)

var (
	runEnvironment string
	runVerbose     bool
	runBrowser     string
	runHeadless    bool
	runStabilize   time.Duration
)

// runCmd runs one test category
var runCmd = &cobra.Command{
	Use:   "run <category> [-- extra test arguments]",
	Short: "Run a test category",
	Long: `Run a test category such as unit, integration, functional, browser or e2e.

The services the category needs are started first (backend before frontend),
each on its declared port or the next free one. Once they are healthy and the
stabilization delay has passed, the category's test command runs with the
service ports exported as SUITECTL_<SERVICE>_PORT and SUITECTL_<SERVICE>_URL.
Services are always stopped afterwards.

Arguments after -- are passed to the test command unchanged.

Exit codes: the test command's own code, 1 when setup fails, 124 when the
category timeout is exceeded and 130 when interrupted.

Use 'suitectl profiles' to list the available categories.`,
	Example: `  suitectl run unit
  suitectl run e2e --browser=firefox --headless=false
  suitectl run integration --env py311 -- -k login`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runEnvironment, "env", "", "Scoped environment to activate for the run")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Pass -v to the test command")
	runCmd.Flags().StringVar(&runBrowser, "browser", "", "Override the browser used by browser and e2e tests")
	runCmd.Flags().BoolVar(&runHeadless, "headless", true, "Run browsers headless")
	runCmd.Flags().DurationVar(&runStabilize, "stabilize", 0, "Delay between service startup and the tests (default from config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	category := args[0]
	opts := runner.RunOptions{
		ExtraArgs:   args[1:],
		Environment: runEnvironment,
		Verbose:     runVerbose,
		Browser:     runBrowser,
	}
	if cmd.Flags().Changed("headless") {
		headless := runHeadless
		opts.Headless = &headless
	}

	var stabilize *time.Duration
	if cmd.Flags().Changed("stabilize") {
		stabilize = &runStabilize
	}

	application, err := newApplication("", stabilize)
	if err != nil {
		return err
	}

	start := time.Now()
	code := application.RunTests(cmd.Context(), category, opts)

	printer := cli.NewPrinter(cmd.ErrOrStderr(), cli.PrinterOptions{})
	fmt.Fprintln(cmd.ErrOrStderr(), printer.RunSummary(category, code, time.Since(start)))

	if code != runner.ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}
