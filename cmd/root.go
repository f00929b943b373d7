package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"suitectl/internal/app"
	"suitectl/pkg/logging"
)

var (
	configPath string
	debug      bool
	logFormat  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "suitectl",
	Short: "Run test suites against locally supervised services",
	Long: `suitectl starts the services a test suite needs (an API backend, a web
frontend), waits until they are healthy, runs the tests and always cleans up
afterwards, including after Ctrl+C.

Occupied ports are handled by failing over to the next free port, and
services left behind by earlier runs can be reclaimed with 'suitectl stop-all'.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. failed services, failing tests)
	SilenceUsage: true,
	// Errors are printed by Execute so that exit codes can be passed through.
	SilenceErrors: true,
}

// ExitError carries a specific process exit code out of a command. Err is
// printed when set.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v // Set cobra's version field as well
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Set up version template
	rootCmd.SetVersionTemplate(`{{printf "suitectl version %s\n" .Version}}`)

	err := rootCmd.Execute()
	os.Exit(exitCode(err))
}

// exitCode prints err when needed and maps it to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

// newApplication bootstraps suitectl from the global flags.
func newApplication(logDir string, stabilize *time.Duration) (*app.Application, error) {
	format := logging.Format(logFormat)
	if format != logging.FormatText && format != logging.FormatJSON {
		return nil, fmt.Errorf("unsupported log format: %s (use text or json)", logFormat)
	}

	cfg := app.NewConfig(configPath, debug, format)
	cfg.LogDir = logDir
	cfg.Stabilize = stabilize
	return app.NewApplication(cfg)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (YAML or TOML) layered over ~/.config/suitectl and ./.suitectl")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging and stream service output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", string(logging.FormatText), "Log format (text, json)")

	rootCmd.AddCommand(newVersionCmd())
}
