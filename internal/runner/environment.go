package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"suitectl/pkg/logging"
)

const (
	// EnvActiveEnvironment names the activated scoped environment.
	EnvActiveEnvironment = "SUITECTL_ACTIVE_ENV"
	envPath              = "PATH"
	envVirtualEnv        = "VIRTUAL_ENV"
)

// EnvironmentActivator activates a named scoped environment for the duration
// of a run. The returned restore func puts the process environment back.
type EnvironmentActivator interface {
	Activate(name string) (restore func(), err error)
}

// DirActivator activates environments laid out as directories with a bin/
// subdirectory, such as Python virtualenvs.
type DirActivator struct {
	// Dirs maps environment names to directories and takes precedence.
	Dirs map[string]string
	// BaseDir is searched for <name>/ when a name is not in Dirs.
	BaseDir string
}

// Resolve returns the absolute directory of the named environment.
func (a DirActivator) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty environment name", ErrEnvironmentActivation)
	}

	dir, ok := a.Dirs[name]
	if !ok {
		if strings.ContainsRune(name, filepath.Separator) || name == ".." {
			return "", fmt.Errorf("%w: invalid environment name %q", ErrEnvironmentActivation, name)
		}
		if a.BaseDir == "" {
			return "", fmt.Errorf("%w: %s is not configured", ErrEnvironmentActivation, name)
		}
		dir = filepath.Join(a.BaseDir, name)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrEnvironmentActivation, name, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrEnvironmentActivation, name, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrEnvironmentActivation, abs)
	}
	return abs, nil
}

// Activate prepends the environment's bin directory to PATH and exports
// VIRTUAL_ENV and SUITECTL_ACTIVE_ENV.
func (a DirActivator) Activate(name string) (func(), error) {
	dir, err := a.Resolve(name)
	if err != nil {
		return nil, err
	}

	saved := snapshotEnv(envPath, envVirtualEnv, EnvActiveEnvironment)

	path := filepath.Join(dir, "bin")
	if current := os.Getenv(envPath); current != "" {
		path += string(os.PathListSeparator) + current
	}
	for key, value := range map[string]string{
		envPath:              path,
		envVirtualEnv:        dir,
		EnvActiveEnvironment: name,
	} {
		if err := os.Setenv(key, value); err != nil {
			saved.restore()
			return nil, fmt.Errorf("%w: %s: %v", ErrEnvironmentActivation, name, err)
		}
	}

	logging.Info("Runner", "Activated environment %s (%s)", name, dir)
	return func() {
		saved.restore()
		logging.Debug("Runner", "Restored environment after %s", name)
	}, nil
}

type envValue struct {
	value string
	set   bool
}

type envSnapshot map[string]envValue

func snapshotEnv(keys ...string) envSnapshot {
	s := make(envSnapshot, len(keys))
	for _, key := range keys {
		value, set := os.LookupEnv(key)
		s[key] = envValue{value: value, set: set}
	}
	return s
}

func (s envSnapshot) restore() {
	for key, v := range s {
		var err error
		if v.set {
			err = os.Setenv(key, v.value)
		} else {
			err = os.Unsetenv(key)
		}
		if err != nil {
			logging.Warn("Runner", "Failed to restore %s: %v", key, err)
		}
	}
}
