package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"suitectl/internal/color"
	"suitectl/internal/runner"
	"suitectl/internal/services"
)

// OutputFormat represents the output format for CLI commands
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates a user-supplied -o value.
func ParseOutputFormat(raw string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(raw)); f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s (use table, json or yaml)", raw)
	}
}

// PrinterOptions contains options for rendering command output
type PrinterOptions struct {
	Format OutputFormat
	// NoColor disables styling; it is forced on when NO_COLOR is set.
	NoColor bool
}

// Printer renders suitectl results to a writer.
type Printer struct {
	out     io.Writer
	options PrinterOptions
}

// NewPrinter creates a printer writing to out.
func NewPrinter(out io.Writer, options PrinterOptions) *Printer {
	if options.Format == "" {
		options.Format = OutputFormatTable
	}
	if !color.Enabled() {
		options.NoColor = true
	}
	return &Printer{out: out, options: options}
}

func (p *Printer) paint(c text.Color, s string) string {
	if p.options.NoColor {
		return s
	}
	return c.Sprint(s)
}

// structured handles the json and yaml formats. It reports false for table.
func (p *Printer) structured(data interface{}) (bool, error) {
	switch p.options.Format {
	case OutputFormatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(data); err != nil {
			return true, fmt.Errorf("failed to encode JSON: %w", err)
		}
		return true, nil
	case OutputFormatYAML:
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return true, fmt.Errorf("failed to encode YAML: %w", err)
		}
		return true, enc.Close()
	case OutputFormatTable:
		return false, nil
	default:
		return true, fmt.Errorf("unsupported output format: %s", p.options.Format)
	}
}

func (p *Printer) newTable(headers ...string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	if p.options.NoColor {
		t.SetStyle(table.StyleLight)
	} else {
		t.SetStyle(table.StyleRounded)
	}

	row := make(table.Row, len(headers))
	for i, h := range headers {
		row[i] = p.paint(text.FgHiCyan, strings.ToUpper(h))
	}
	t.AppendHeader(row)
	return t
}

// PrintStatus renders the supervisor's view of every registered service.
func (p *Printer) PrintStatus(statuses []services.ServiceStatus) error {
	if done, err := p.structured(map[string]interface{}{
		"services": statuses,
		"total":    len(statuses),
	}); done {
		return err
	}

	if len(statuses) == 0 {
		fmt.Fprintln(p.out, p.paint(text.FgYellow, "No services configured"))
		return nil
	}

	t := p.newTable("name", "state", "health", "port", "pid", "uptime", "last error")
	for _, st := range statuses {
		port := strconv.Itoa(st.Port)
		if st.PortInUse {
			port += " (in use)"
		}
		pid, uptime := "-", "-"
		if st.Owned {
			pid = strconv.Itoa(st.PID)
		}
		if st.StartedAt != nil {
			uptime = time.Since(*st.StartedAt).Round(time.Second).String()
		}
		lastErr := "-"
		if st.LastError != "" {
			lastErr = truncate(st.LastError, 40)
		}
		t.AppendRow(table.Row{st.Name, p.formatState(st.State), p.formatHealth(st.Health), port, pid, uptime, lastErr})
	}
	t.Render()
	return nil
}

// PrintProfiles renders the test category catalog.
func (p *Printer) PrintProfiles(profiles []runner.Profile) error {
	if done, err := p.structured(map[string]interface{}{
		"profiles": profiles,
		"total":    len(profiles),
	}); done {
		return err
	}

	t := p.newTable("category", "services", "timeout", "parallel", "options", "command")
	for _, prof := range profiles {
		svc := "-"
		if len(prof.Services) > 0 {
			svc = strings.Join(prof.Services, ", ")
		}
		timeout := "-"
		if prof.Timeout > 0 {
			timeout = prof.Timeout.String()
		}
		parallel := p.paint(text.FgHiBlack, "no")
		if prof.Parallel {
			parallel = p.paint(text.FgGreen, "yes")
		}
		t.AppendRow(table.Row{prof.Key, svc, timeout, parallel, formatOptions(prof.Options), truncate(strings.Join(prof.Command, " "), 40)})
	}
	t.Render()
	fmt.Fprintf(p.out, "\n%s %d categories\n", p.paint(text.FgHiBlue, "Total:"), len(profiles))
	return nil
}

// PrintStarted reports the ports the services came up on.
func (p *Printer) PrintStarted(ports map[string]int, order []string) error {
	if done, err := p.structured(ports); done {
		return err
	}
	for _, name := range order {
		port, ok := ports[name]
		if !ok {
			continue
		}
		fmt.Fprintf(p.out, "%s %s on http://127.0.0.1:%d\n", p.paint(text.FgGreen, "started"), name, port)
	}
	return nil
}

// RunSummary is the one-line verdict printed after `suitectl run`.
func (p *Printer) RunSummary(category string, code int, elapsed time.Duration) string {
	var verdict string
	switch code {
	case runner.ExitOK:
		verdict = "PASSED"
	case runner.ExitTimeout:
		verdict = "TIMED OUT"
	case runner.ExitInterrupted:
		verdict = "INTERRUPTED"
	default:
		verdict = "FAILED"
	}
	line := fmt.Sprintf("%s tests %s (exit code %d) in %s", category, verdict, code, elapsed.Round(time.Millisecond))
	if p.options.NoColor {
		return line
	}
	switch code {
	case runner.ExitOK:
		return color.SuccessStyle.Render(line)
	case runner.ExitTimeout, runner.ExitInterrupted:
		return color.WarningStyle.Render(line)
	default:
		return color.ErrorStyle.Render(line)
	}
}

// formatState formats service state with icons
func (p *Printer) formatState(state services.ServiceState) string {
	s := string(state)
	switch state {
	case services.StateRunning:
		return p.paint(text.FgGreen, "▶ "+s)
	case services.StateStarting, services.StateStopping:
		return p.paint(text.FgYellow, "⏳ "+s)
	case services.StateFailed:
		return p.paint(text.FgRed, "✗ "+s)
	case services.StateStopped:
		return p.paint(text.FgHiBlack, "■ "+s)
	default:
		return s
	}
}

// formatHealth adds color coding to health status
func (p *Printer) formatHealth(health services.HealthStatus) string {
	s := string(health)
	switch health {
	case services.HealthHealthy:
		return p.paint(text.FgGreen, "✓ "+s)
	case services.HealthUnhealthy:
		return p.paint(text.FgRed, "✗ "+s)
	default:
		return p.paint(text.FgHiBlack, s)
	}
}

func formatOptions(options map[string]string) string {
	if len(options) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+options[k])
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
