// Package metrics keeps the latest observed value and duration per label set.
//
// Entries are created on first observation and overwritten thereafter. They are never
// removed for the process lifetime.
package metrics

import (
	"errors"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCardinality is returned by Record when a new label set would exceed the series cap.
var ErrCardinality = errors.New("series limit reached")

// Label is one name/value tag.
type Label struct {
	Name  string
	Value string
}

// LabelSet is an ordered list of labels. Equality is order-insensitive (see Key).
type LabelSet []Label

// With returns ls with name set to value. An existing label with the same name is
// overwritten in place, so later calls win.
func (ls LabelSet) With(name, value string) LabelSet {
	for i := range ls {
		if ls[i].Name == name {
			ls[i].Value = value
			return ls
		}
	}
	return append(ls, Label{Name: name, Value: value})
}

// Get returns the value of name.
func (ls LabelSet) Get(name string) (string, bool) {
	for _, l := range ls {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// Sorted returns a copy ordered by label name.
func (ls LabelSet) Sorted() LabelSet {
	cp := slices.Clone(ls)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Name < cp[j].Name })
	return cp
}

// Key is the canonical, order-insensitive identity of the label set. Names and values are
// length-prefixed, so no byte inside them can fake a boundary.
func (ls LabelSet) Key() string {
	var b strings.Builder
	for _, l := range ls.Sorted() {
		for _, part := range [2]string{l.Name, l.Value} {
			b.WriteString(strconv.Itoa(len(part)))
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}

func NewStore(opts ...Option) *Store {
	s := &Store{entries: map[string]*entry{}, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Record upserts the entry for labels. Last writer wins.
func (s *Store) Record(labels LabelSet, value float64, duration time.Duration) error {
	key := labels.Key()

	s.mu.RLock()
	e := s.entries[key]
	s.mu.RUnlock()

	if e == nil {
		s.mu.Lock()
		e = s.entries[key]
		if e == nil {
			if s.maxSeries > 0 && len(s.entries) >= s.maxSeries {
				s.mu.Unlock()
				s.refused.Add(1)
				return ErrCardinality
			}
			e = &entry{labels: labels.Sorted()}
			s.entries[key] = e
		}
		s.mu.Unlock()
	}

	e.mu.Lock()
	e.value = value
	e.durationMS = duration.Milliseconds()
	e.updatedAt = s.now()
	e.mu.Unlock()
	return nil
}

// Snapshot returns a copy of all entries, sorted by label key for stable output.
// Each entry is read under its own lock, so value and duration always belong together.
func (s *Store) Snapshot() []Sample {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	entries := make([]*entry, 0, len(s.entries))
	for k, e := range s.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return keys[idx[a]] < keys[idx[b]] })

	out := make([]Sample, 0, len(entries))
	for _, i := range idx {
		e := entries[i]
		e.mu.Lock()
		out = append(out, Sample{
			Labels:     slices.Clone(e.labels),
			Value:      e.value,
			DurationMS: e.durationMS,
			UpdatedAt:  e.updatedAt,
		})
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of distinct label sets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Refused returns how many records were rejected by the series cap.
func (s *Store) Refused() uint64 { return s.refused.Load() }
