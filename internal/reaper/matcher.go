package reaper

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo is the subset of the OS process table the reaper matches on.
type ProcessInfo struct {
	PID     int32
	PPID    int32
	Name    string
	Cmdline string
}

// Matcher decides whether a process is one of ours.
type Matcher interface {
	Matches(p ProcessInfo) bool
	String() string
}

// PatternMatcher matches processes whose name contains NameSubstring and whose
// command line contains at least one of CmdlineSubstrings. An empty
// CmdlineSubstrings matches nothing.
type PatternMatcher struct {
	NameSubstring     string
	CmdlineSubstrings []string
}

func (m PatternMatcher) Matches(p ProcessInfo) bool {
	if !strings.Contains(p.Name, m.NameSubstring) {
		return false
	}
	for _, s := range m.CmdlineSubstrings {
		if s != "" && strings.Contains(p.Cmdline, s) {
			return true
		}
	}
	return false
}

func (m PatternMatcher) String() string {
	return fmt.Sprintf("name~%q cmdline~%q", m.NameSubstring, m.CmdlineSubstrings)
}

// ProcessLister enumerates OS processes.
type ProcessLister interface {
	List(ctx context.Context) ([]ProcessInfo, error)
}

// GopsutilLister lists processes through gopsutil.
type GopsutilLister struct{}

// List returns every process that could be inspected. Processes that exit or
// deny access mid-listing are skipped.
func (GopsutilLister) List(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cmdline, _ := p.CmdlineWithContext(ctx)
		ppid, _ := p.PpidWithContext(ctx)
		infos = append(infos, ProcessInfo{
			PID:     p.Pid,
			PPID:    ppid,
			Name:    name,
			Cmdline: cmdline,
		})
	}
	return infos, nil
}
