package runner

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"suitectl/internal/config"
)

// Option keys with dedicated command-line renderings.
const (
	optionBrowser  = "browser"
	optionHeadless = "headless"
)

// aliases maps alternative category names onto catalog keys.
var aliases = map[string]string{
	"end-to-end": "e2e",
}

// Profile is a test category: the services it needs and how its test command
// is built.
type Profile struct {
	Key      string            `json:"key" yaml:"key"`
	Services []string          `json:"services" yaml:"services"`
	Command  []string          `json:"command" yaml:"command"`
	Timeout  time.Duration     `json:"timeout" yaml:"timeout"`
	Parallel bool              `json:"parallel" yaml:"parallel"`
	Options  map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// ProfileFromDefinition converts a configured profile.
func ProfileFromDefinition(def config.ProfileDefinition) Profile {
	p := Profile{
		Key:      def.Name,
		Services: append([]string(nil), def.Services...),
		Command:  append([]string(nil), def.Command...),
		Timeout:  def.Timeout,
		Parallel: def.Parallel,
	}
	if len(def.Options) > 0 {
		p.Options = make(map[string]string, len(def.Options))
		for k, v := range def.Options {
			p.Options[k] = v
		}
	}
	return p
}

// Validate checks that the profile can be run.
func (p Profile) Validate() error {
	switch {
	case p.Key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidProfile)
	case len(p.Command) == 0 || p.Command[0] == "":
		return fmt.Errorf("%w: %s has no command", ErrInvalidProfile, p.Key)
	case p.Timeout < 0:
		return fmt.Errorf("%w: %s has a negative timeout", ErrInvalidProfile, p.Key)
	}
	return nil
}

// BuildCommand renders the argv of the test command for opts.
//
// The order is: command template, --timeout, -n auto, runtime options,
// -v, extra arguments.
func (p Profile) BuildCommand(opts RunOptions) []string {
	argv := append([]string(nil), p.Command...)

	if p.Timeout > 0 {
		argv = append(argv, "--timeout="+strconv.Itoa(int(p.Timeout.Seconds())))
	}
	if p.Parallel {
		argv = append(argv, "-n", "auto")
	}

	options := make(map[string]string, len(p.Options)+2)
	for k, v := range p.Options {
		options[k] = v
	}
	if opts.Browser != "" {
		options[optionBrowser] = opts.Browser
	}
	if opts.Headless != nil {
		options[optionHeadless] = strconv.FormatBool(*opts.Headless)
	}

	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := options[k]
		if k == optionHeadless {
			if on, err := strconv.ParseBool(v); err == nil && on {
				argv = append(argv, "--headless")
			}
			continue
		}
		if v == "" {
			continue
		}
		argv = append(argv, "--"+k+"="+v)
	}

	if opts.Verbose {
		argv = append(argv, "-v")
	}
	return append(argv, opts.ExtraArgs...)
}

// serviceRank orders services so that dependencies come up first.
func serviceRank(name string) int {
	switch name {
	case config.BackendServiceName:
		return 0
	case config.FrontendServiceName:
		return 1
	default:
		return 2
	}
}

// orderedServices returns the profile's services in start order.
func (p Profile) orderedServices() []string {
	return OrderServices(p.Services)
}

// OrderServices returns names in start order: the given order, with the
// backend ahead of the frontend.
func OrderServices(names []string) []string {
	ordered := append([]string(nil), names...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return serviceRank(ordered[i]) < serviceRank(ordered[j])
	})
	return ordered
}
