package services

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"suitectl/internal/reaper"
)

// Descriptor is the immutable definition of a supervised service.
type Descriptor struct {
	Name            string
	Command         []string
	WorkingDir      string
	Env             map[string]string
	Port            int
	HealthURL       string
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxPortAttempts int
	// OrphanMatcher identifies stray copies of this service left by earlier runs.
	OrphanMatcher reaper.Matcher
}

// Validate checks the descriptor before registration.
func (d Descriptor) Validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidDescriptor)
	case len(d.Command) == 0 || d.Command[0] == "":
		return fmt.Errorf("%w: %s has no command", ErrInvalidDescriptor, d.Name)
	case d.Port < 1 || d.Port > 65535:
		return fmt.Errorf("%w: %s port %d out of range", ErrInvalidDescriptor, d.Name, d.Port)
	case d.StartupTimeout <= 0:
		return fmt.Errorf("%w: %s startup timeout must be positive", ErrInvalidDescriptor, d.Name)
	case d.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: %s shutdown timeout must be positive", ErrInvalidDescriptor, d.Name)
	case d.MaxPortAttempts < 1:
		return fmt.Errorf("%w: %s needs at least one port attempt", ErrInvalidDescriptor, d.Name)
	}

	u, err := url.Parse(d.HealthURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s health URL %q is not absolute", ErrInvalidDescriptor, d.Name, d.HealthURL)
	}
	return nil
}

// clone deep-copies the slices and maps so the registry's copy cannot be
// mutated through the caller's.
func (d Descriptor) clone() Descriptor {
	c := d
	c.Command = append([]string(nil), d.Command...)
	if d.Env != nil {
		c.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			c.Env[k] = v
		}
	}
	return c
}

// WithPort returns a copy bound to port: every command token, environment
// value and the health URL port that mention the declared port are rewritten.
func (d Descriptor) WithPort(port int) Descriptor {
	c := d.clone()
	if port == d.Port {
		return c
	}

	from, to := strconv.Itoa(d.Port), strconv.Itoa(port)
	for i, token := range c.Command {
		c.Command[i] = strings.ReplaceAll(token, from, to)
	}
	for k, v := range c.Env {
		c.Env[k] = strings.ReplaceAll(v, from, to)
	}
	c.HealthURL = rewriteURLPort(d.HealthURL, from, to)
	c.Port = port
	return c
}

func rewriteURLPort(raw, from, to string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Port() != from {
		return strings.ReplaceAll(raw, from, to)
	}
	u.Host = net.JoinHostPort(u.Hostname(), to)
	return u.String()
}

// envList renders Env as sorted KEY=VALUE entries.
func (d Descriptor) envList() []string {
	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+d.Env[k])
	}
	return env
}
