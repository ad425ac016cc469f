package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "cmdexporter/pkg/logx"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const (
	watchDebounce   = 250 * time.Millisecond
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// ConfigManager loads the config file once and then watches it. Targets are fixed for the
// process lifetime, so a changed file is reported, never applied.
type ConfigManager struct {
	path      string
	overrides Overrides
	log       logx.Logger

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	onChange func(changed []string)
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetOverrides installs command-line values applied after every parse.
func (m *ConfigManager) SetOverrides(o Overrides) { m.overrides = o }

// OnChange installs a hook called by Watch with the sections that differ from the
// running config.
func (m *ConfigManager) OnChange(fn func(changed []string)) { m.onChange = fn }

// Parse reads, decodes and validates the file without committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(raw, utf8BOM) {
		raw = raw[len(utf8BOM):]
		m.log.Warn("stripped UTF-8 BOM from config file", logx.String("path", m.path))
	}
	jb, format, err := coerceToJSONBytes(m.path, raw)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeStrict(jb)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", format, err)
	}
	cfg.ApplyOverrides(m.overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeStrict rejects unknown fields and anything after the first document.
func decodeStrict(jb []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("trailing data after config document")
		}
		return nil, err
	}
	return &cfg, nil
}

// Load parses and commits the file. It is called once at startup.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	h := hashConfig(cfg)
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = h
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Watch reports edits of the config file until ctx is canceled; it always returns nil.
//
// The parent directory is watched so editors that replace the file by rename are seen.
// A watcher that breaks is recreated with jittered exponential backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	d := newDebouncer(watchDebounce, func() {
		if ctx.Err() == nil {
			m.check()
		}
	})
	defer d.stop()

	backoff := watchBackoffMin
	for {
		started, err := m.watchOnce(ctx, d.trigger)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			backoff = watchBackoffMin
		}
		wait := backoff + rand.N(backoff/2+1)
		m.log.Warn("config watcher stopped; restarting",
			logx.String("path", m.path),
			logx.Duration("backoff", wait),
			logx.Err(err),
		)
		backoff = min(backoff*2, watchBackoffMax)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// watchOnce runs one fsnotify watcher until it breaks or ctx is canceled.
func (m *ConfigManager) watchOnce(ctx context.Context, changed func()) (started bool, err error) {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return false, err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				changed()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return true, errors.New("error channel closed")
			}
			if werr == nil {
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(werr))
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				// Events were lost; re-check once instead of rebuilding the watcher.
				changed()
			}
		}
	}
}

// check re-parses the file and reports how it differs from the running config.
func (m *ConfigManager) check() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config on disk is invalid; the running config is unchanged",
			logx.String("path", m.path), logx.Err(err))
		return
	}

	m.mu.RLock()
	running, lastHash := m.cfg, m.lastHash
	m.mu.RUnlock()
	if h := hashConfig(cfg); h != 0 && h == lastHash {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return
	}

	changed, attrs := SummarizeConfigChange(running, cfg)
	if len(changed) == 0 {
		return
	}
	fields := append([]logx.Field{logx.String("path", m.path), logx.Strings("changed", changed)}, attrs...)
	m.log.Warn("config file changed; restart required to apply", fields...)
	if m.onChange != nil {
		m.onChange(changed)
	}
}

// debouncer coalesces bursts of triggers (editors often write a file in several steps)
// into one call after quiet.
type debouncer struct {
	mu    sync.Mutex
	quiet time.Duration
	fn    func()
	t     *time.Timer
}

func newDebouncer(quiet time.Duration, fn func()) *debouncer {
	return &debouncer{quiet: quiet, fn: fn}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.quiet, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}
