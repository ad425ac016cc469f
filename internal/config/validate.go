package config

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"cmdexporter/internal/target"
	"cmdexporter/internal/task/scheduler"
)

const defaultHost = "0.0.0.0"

// Addr is the host:port the exposition server binds to.
func (c *Config) Addr() string {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultHost
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// HTTPTimeouts are the parsed server timeouts.
type HTTPTimeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

func (h HTTPConfig) Timeouts() (HTTPTimeouts, error) {
	var (
		t   HTTPTimeouts
		err error
	)
	if t.Read, err = parseDuration("http.read_timeout", h.ReadTimeout, 10*time.Second); err != nil {
		return t, err
	}
	if t.Write, err = parseDuration("http.write_timeout", h.WriteTimeout, 30*time.Second); err != nil {
		return t, err
	}
	if t.Idle, err = parseDuration("http.idle_timeout", h.IdleTimeout, 60*time.Second); err != nil {
		return t, err
	}
	return t, nil
}

// Validate checks everything that can be checked without starting the exporter.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port: must be in 1..65535, got %d", c.Port)
	}
	if c.Engine.MaxConcurrency < 0 {
		return fmt.Errorf("engine.max_concurrency: must be >= 0")
	}
	if c.Engine.HistorySize < 0 {
		return fmt.Errorf("engine.history_size: must be >= 0")
	}
	if c.Metrics.MaxSeries < 0 {
		return fmt.Errorf("metrics.max_series: must be >= 0")
	}
	if _, err := c.HTTP.Timeouts(); err != nil {
		return err
	}
	_, err := compileTargets(c.Targets)
	return err
}

// CompileTargets validates and compiles the configured targets in file order.
func (c *Config) CompileTargets() ([]*target.Target, error) {
	return compileTargets(c.Targets)
}

func compileTargets(list []TargetConfig) ([]*target.Target, error) {
	specs := make([]target.Spec, 0, len(list))
	for i, tc := range list {
		s, err := tc.spec()
		if err != nil {
			return nil, fmt.Errorf("targets[%d]%s: %w", i, nameSuffix(tc.Name), err)
		}
		specs = append(specs, s)
	}
	return target.CompileAll(specs)
}

func nameSuffix(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return " (" + name + ")"
}

func (tc TargetConfig) spec() (target.Spec, error) {
	every, err := scheduler.ParseInterval(tc.RunEvery)
	if err != nil {
		return target.Spec{}, fmt.Errorf("run_every: %w: %v", target.ErrInvalidInterval, err)
	}
	timeout, err := parseDuration("timeout", tc.Timeout, 0)
	if err != nil {
		return target.Spec{}, err
	}

	var cmds []target.SubCommand
	switch {
	case strings.TrimSpace(tc.Command) != "" && len(tc.Commands) > 0:
		return target.Spec{}, fmt.Errorf("command and commands are mutually exclusive")
	case strings.TrimSpace(tc.Command) != "":
		cmds = []target.SubCommand{{Exec: tc.Command}}
	default:
		cmds = make([]target.SubCommand, 0, len(tc.Commands))
		for _, cc := range tc.Commands {
			cmds = append(cmds, target.SubCommand{Exec: cc.Exec, Labels: sortedLabels(cc.Labels)})
		}
	}

	return target.Spec{
		Name:             tc.Name,
		Commands:         cmds,
		Regex:            tc.Regex,
		RegexNamedGroup:  tc.RegexNamedGroup,
		SuccessExitCodes: tc.SuccessExitCodes,
		RunEvery:         every,
		Timeout:          timeout,
	}, nil
}

// sortedLabels gives map-backed labels a stable order.
func sortedLabels(m map[string]string) []target.Label {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]target.Label, 0, len(names))
	for _, n := range names {
		out = append(out, target.Label{Name: n, Template: m[n]})
	}
	return out
}

// parseDuration parses a Go duration string. Empty or zero yields def; negative is an error.
func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
