package config

import (
	"reflect"
	"sort"
	"strings"

	logx "cmdexporter/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact sorted list of changed sections and
// (2) structured attrs for logging.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if strings.TrimSpace(oldCfg.Host) != strings.TrimSpace(newCfg.Host) || oldCfg.Port != newCfg.Port {
		changed = append(changed, "listen")
		attrs = append(attrs, logx.String("listen.addr", newCfg.Addr()))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.max_concurrency", newCfg.Engine.MaxConcurrency),
			logx.Int("engine.history_size", newCfg.Engine.HistorySize),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Int("metrics.max_series", newCfg.Metrics.MaxSeries))
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.pprof", newCfg.HTTP.Pprof))
	}

	if oldCfg.Systemd.NotifyEnabled() != newCfg.Systemd.NotifyEnabled() {
		changed = append(changed, "systemd")
	}

	added, removed, modified := diffTargets(oldCfg.Targets, newCfg.Targets)
	if len(added)+len(removed)+len(modified) > 0 {
		changed = append(changed, "targets")
		attrs = append(attrs,
			logx.Strings("targets.added", added),
			logx.Strings("targets.removed", removed),
			logx.Strings("targets.modified", modified),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// diffTargets compares targets by name. Order changes alone are not reported.
func diffTargets(oldT, newT []TargetConfig) (added, removed, modified []string) {
	oldM := make(map[string]TargetConfig, len(oldT))
	for _, t := range oldT {
		oldM[t.Name] = t
	}
	newM := make(map[string]TargetConfig, len(newT))
	for _, t := range newT {
		newM[t.Name] = t
	}

	for name, n := range newM {
		o, ok := oldM[name]
		switch {
		case !ok:
			added = append(added, name)
		case !reflect.DeepEqual(o, n):
			modified = append(modified, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)
	return added, removed, modified
}
