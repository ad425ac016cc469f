package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Config struct {
	Host    string         `json:"host"`
	Port    int            `json:"port"`
	Logging LoggingConfig  `json:"logging"`
	Engine  EngineConfig   `json:"engine"`
	Metrics MetricsConfig  `json:"metrics"`
	HTTP    HTTPConfig     `json:"http"`
	Systemd SystemdConfig  `json:"systemd"`
	Targets []TargetConfig `json:"targets"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig controls how dispatched target runs execute.
//
// Defaults (when fields are omitted/zero):
//   - max_concurrency: 0 (unbounded; every run gets its own goroutine)
//   - history_size: 100
type EngineConfig struct {
	MaxConcurrency int `json:"max_concurrency,omitempty"`
	HistorySize    int `json:"history_size,omitempty"`
}

// MetricsConfig controls the in-memory sample store.
// MaxSeries 0 means unlimited.
type MetricsConfig struct {
	MaxSeries int `json:"max_series,omitempty"`
}

// HTTPConfig controls the exposition server. Timeouts are Go duration strings.
type HTTPConfig struct {
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	// Pprof mounts /debug/pprof on the exposition router.
	Pprof bool `json:"pprof,omitempty"`
}

// SystemdConfig controls sd_notify integration. Notify defaults to true; it is a no-op
// outside systemd.
type SystemdConfig struct {
	Notify *bool `json:"notify,omitempty"`
}

func (s SystemdConfig) NotifyEnabled() bool { return s.Notify == nil || *s.Notify }

// TargetConfig is one periodic command target as written in the file.
//
// Command is the older single-command form; it cannot be combined with Commands.
type TargetConfig struct {
	Name             string          `json:"name"`
	RunEvery         string          `json:"run_every"`
	Regex            string          `json:"regex"`
	RegexNamedGroup  string          `json:"regex_named_group"`
	SuccessExitCodes []int           `json:"success_exit_codes,omitempty"`
	Commands         []CommandConfig `json:"commands,omitempty"`
	Command          string          `json:"command,omitempty"`
	Timeout          string          `json:"timeout,omitempty"`
}

// CommandConfig is one sub-command. It may be written as a bare string.
type CommandConfig struct {
	Exec   string            `json:"exec"`
	Labels map[string]string `json:"labels,omitempty"`
}

func (c *CommandConfig) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = CommandConfig{Exec: s}
		return nil
	}

	type tmp struct {
		Exec   string            `json:"exec"`
		Labels map[string]string `json:"labels,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	*c = CommandConfig{Exec: t.Exec, Labels: t.Labels}
	return nil
}

// Overrides are command-line values applied on top of the file.
type Overrides struct {
	Host string
	Port int
}

func (c *Config) ApplyOverrides(o Overrides) {
	if h := strings.TrimSpace(o.Host); h != "" {
		c.Host = h
	}
	if o.Port > 0 {
		c.Port = o.Port
	}
}
