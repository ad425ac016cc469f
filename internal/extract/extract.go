// Package extract turns captured command output into labeled numeric observations.
package extract

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cmdexporter/internal/metrics"
	"cmdexporter/internal/target"
)

var (
	// ErrNoCapture means the regex did not match, or the value group did not participate.
	ErrNoCapture = errors.New("regex did not find any captures in stdout")
	// ErrNonNumeric means the value group matched text that is not a finite number.
	ErrNonNumeric = errors.New("could not parse capture to float")
)

// Fixed label names attached to every observation.
const (
	LabelName     = "name"
	LabelExitCode = "exit_code"
)

// Observation is one extracted value tagged with its resolved label set.
type Observation struct {
	Labels   metrics.LabelSet
	Value    float64
	Duration time.Duration
}

// Outcome is the part of an execution result the extractor needs.
type Outcome struct {
	Stdout   []byte
	ExitCode int
	Duration time.Duration
}

// Extract applies t's regex to the outcome's stdout and builds the observation for cmd.
func Extract(t *target.Target, cmd target.SubCommand, out Outcome) (Observation, error) {
	stdout := strings.TrimSpace(string(out.Stdout))

	groups, ok := NewMatch(t.Regex, stdout)
	if !ok {
		return Observation{}, ErrNoCapture
	}

	raw, ok := groups.get(t.Group)
	if !ok {
		return Observation{}, fmt.Errorf("%w (group %q did not participate)", ErrNoCapture, t.Group)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return Observation{}, fmt.Errorf("%w %q.\nCaptures: %s\nStdout: %s", ErrNonNumeric, raw, groups, stdout)
	}

	labels := make(metrics.LabelSet, 0, 2+len(cmd.Labels))
	labels = labels.With(LabelName, t.Name)
	labels = labels.With(LabelExitCode, strconv.Itoa(out.ExitCode))
	for _, l := range cmd.Labels {
		labels = labels.With(l.Name, Resolve(l.Template, groups))
	}

	return Observation{Labels: labels, Value: v, Duration: out.Duration}, nil
}

// placeholder matches {groupName} in label templates.
var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Resolve substitutes {group} placeholders in tmpl with capture text from m.
//
// Groups that exist in the regex but did not participate resolve to "". Placeholders
// naming a group the regex does not define are left as literal text.
func Resolve(tmpl string, m Match) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(s string) string {
		name := s[1 : len(s)-1]
		if !m.defines(name) {
			return s
		}
		v, _ := m.get(name)
		return v
	})
}

// Match is the named-group view of one regex match.
type Match struct {
	re    *regexp.Regexp
	input string
	idx   []int
}

// NewMatch runs re against input and returns the first match, if any.
func NewMatch(re *regexp.Regexp, input string) (Match, bool) {
	idx := re.FindStringSubmatchIndex(input)
	if idx == nil {
		return Match{}, false
	}
	return Match{re: re, input: input, idx: idx}, true
}

func (m Match) defines(name string) bool {
	return m.re != nil && m.re.SubexpIndex(name) >= 0
}

// get returns the text of the named group and whether it participated in the match.
func (m Match) get(name string) (string, bool) {
	if m.re == nil {
		return "", false
	}
	i := m.re.SubexpIndex(name)
	if i < 0 || 2*i+1 >= len(m.idx) {
		return "", false
	}
	lo, hi := m.idx[2*i], m.idx[2*i+1]
	if lo < 0 {
		return "", false
	}
	return m.input[lo:hi], true
}

// String renders every group of the match for diagnostics.
func (m Match) String() string {
	if m.re == nil {
		return "[]"
	}
	var b strings.Builder
	b.WriteString("[")
	for i, name := range m.re.SubexpNames() {
		if i > 0 {
			b.WriteString(", ")
		}
		if name == "" {
			name = strconv.Itoa(i)
		}
		b.WriteString(name)
		b.WriteString("=")
		lo, hi := m.idx[2*i], m.idx[2*i+1]
		if lo < 0 {
			b.WriteString("None")
			continue
		}
		b.WriteString(strconv.Quote(m.input[lo:hi]))
	}
	b.WriteString("]")
	return b.String()
}
