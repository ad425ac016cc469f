// Package target holds the immutable, compiled description of the scheduled jobs.
//
// A Target is built once from configuration and shared read-only by the scheduler,
// the dispatched runs and the extractor.
package target

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

var (
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidRegex    = errors.New("invalid regex")
	ErrMissingGroup    = errors.New("regex is missing the named group")
	ErrInvalidInterval = errors.New("run_every must be > 0")
	ErrNoCommands      = errors.New("at least one command is required")
	ErrDuplicateName   = errors.New("duplicate target name")
)

// reName is the Prometheus metric/label name grammar.
var reName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName reports whether s is usable as a target or label name.
func ValidName(s string) bool { return reName.MatchString(s) }

// Label is one (name, template) pair of a SubCommand.
// Order follows the config so resolution is deterministic.
type Label struct {
	Name     string
	Template string
}

// SubCommand is one shell invocation within a Target.
type SubCommand struct {
	Exec   string
	Labels []Label
}

// Target is one configured periodic job.
type Target struct {
	Name             string
	Commands         []SubCommand
	Regex            *regexp.Regexp
	Pattern          string // as configured, without the multi-line flag
	Group            string
	SuccessExitCodes []int
	RunEvery         time.Duration
	// Timeout bounds one command execution. Zero means no timeout.
	Timeout time.Duration
}

// Spec is the raw, uncompiled form of a Target as it comes out of the config layer.
type Spec struct {
	Name             string
	Commands         []SubCommand
	Regex            string
	RegexNamedGroup  string
	SuccessExitCodes []int
	RunEvery         time.Duration
	Timeout          time.Duration
}

// Compile validates s and builds an immutable Target.
//
// The regex is compiled in multi-line mode and must define RegexNamedGroup.
func Compile(s Spec) (*Target, error) {
	if !ValidName(s.Name) {
		return nil, fmt.Errorf("name %q: %w (must match %s)", s.Name, ErrInvalidName, reName.String())
	}
	if s.RunEvery <= 0 {
		return nil, fmt.Errorf("%s: %w", s.Name, ErrInvalidInterval)
	}
	if s.Timeout < 0 {
		return nil, fmt.Errorf("%s: timeout must be >= 0", s.Name)
	}
	if len(s.Commands) == 0 {
		return nil, fmt.Errorf("%s: %w", s.Name, ErrNoCommands)
	}

	re, err := regexp.Compile("(?m)" + s.Regex)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", s.Name, ErrInvalidRegex, err)
	}
	group := strings.TrimSpace(s.RegexNamedGroup)
	if group == "" || re.SubexpIndex(group) < 0 {
		return nil, fmt.Errorf("%s: %w %q", s.Name, ErrMissingGroup, group)
	}

	cmds := make([]SubCommand, 0, len(s.Commands))
	for i, c := range s.Commands {
		if strings.TrimSpace(c.Exec) == "" {
			return nil, fmt.Errorf("%s: commands[%d]: exec is required", s.Name, i)
		}
		labels := make([]Label, 0, len(c.Labels))
		for _, l := range c.Labels {
			if !ValidName(l.Name) {
				return nil, fmt.Errorf("%s: commands[%d]: label %q: %w", s.Name, i, l.Name, ErrInvalidName)
			}
			labels = append(labels, l)
		}
		cmds = append(cmds, SubCommand{Exec: c.Exec, Labels: labels})
	}

	codes := slices.Clone(s.SuccessExitCodes)
	if len(codes) == 0 {
		codes = []int{0}
	}

	return &Target{
		Name:             s.Name,
		Commands:         cmds,
		Regex:            re,
		Pattern:          s.Regex,
		Group:            group,
		SuccessExitCodes: codes,
		RunEvery:         s.RunEvery,
		Timeout:          s.Timeout,
	}, nil
}

// CompileAll compiles every spec and rejects duplicate names.
// Errors are prefixed with the target's position in the list.
func CompileAll(specs []Spec) ([]*Target, error) {
	out := make([]*Target, 0, len(specs))
	seen := make(map[string]int, len(specs))
	for i, s := range specs {
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("targets[%d]: %w %q (already used by targets[%d])", i, ErrDuplicateName, s.Name, prev)
		}
		t, err := Compile(s)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		seen[s.Name] = i
		out = append(out, t)
	}
	return out, nil
}

// IsSuccess reports whether code is one of the target's success exit codes.
func (t *Target) IsSuccess(code int) bool {
	return slices.Contains(t.SuccessExitCodes, code)
}
