package heartbeat

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/pulse"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

// Placeholder is one literal substitution applied to heartbeat URLs and
// header values. Name includes the braces, e.g. "{custom1}".
type Placeholder struct {
	Name  string
	Value string
}

// timeValues carries the always-defined placeholder inputs for one check.
type timeValues struct {
	latency       string
	startTimeISO  string
	endTimeISO    string
	startTimeUnix string
	endTimeUnix   string
}

func newTimeValues(start, end time.Time, latencyMs float64) timeValues {
	return timeValues{
		latency:       formatMetric(latencyMs),
		startTimeISO:  pulse.FormatTime(start),
		endTimeISO:    pulse.FormatTime(end),
		startTimeUnix: strconv.FormatInt(start.UnixMilli(), 10),
		endTimeUnix:   strconv.FormatInt(end.UnixMilli(), 10),
	}
}

// formatMetric renders a metric value the way it appears in templates and
// query strings: shortest decimal representation, no exponent for typical
// latencies.
func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// applyTemplates substitutes the fixed time/latency placeholders first, then
// each custom placeholder once. Replacement is literal and case-sensitive;
// there is no escape grammar.
func applyTemplates(template string, tv timeValues, customs []Placeholder) string {
	s := template
	s = strings.ReplaceAll(s, "{latency}", tv.latency)
	s = strings.ReplaceAll(s, "{startTimeISO}", tv.startTimeISO)
	s = strings.ReplaceAll(s, "{endTimeISO}", tv.endTimeISO)
	s = strings.ReplaceAll(s, "{startTimeUnix}", tv.startTimeUnix)
	s = strings.ReplaceAll(s, "{endTimeUnix}", tv.endTimeUnix)

	for _, p := range customs {
		s = strings.ReplaceAll(s, p.Name, p.Value)
	}
	return s
}

// ResolveCustomPlaceholders builds the substitution set a check result
// exposes: {custom1}..{custom3} (empty string when absent), {playerCount}
// for Minecraft monitors (aliased to custom1 unless set explicitly), and
// every remaining result key as {<key>}.
func ResolveCustomPlaceholders(m *config.Monitor, r result.CheckResult) []Placeholder {
	out := make([]Placeholder, 0, len(r)+4)

	custom := func(n int) string {
		if v, ok := r.Custom(n); ok {
			return formatMetric(v)
		}
		return ""
	}
	out = append(out,
		Placeholder{"{custom1}", custom(1)},
		Placeholder{"{custom2}", custom(2)},
		Placeholder{"{custom3}", custom(3)},
	)

	if m.IsMinecraft() {
		v := ""
		if pc, ok := r.Get(result.KeyPlayerCount); ok {
			v = formatMetric(pc)
		} else if c1, ok := r.Custom(1); ok {
			v = formatMetric(c1)
		}
		out = append(out, Placeholder{"{playerCount}", v})
	}

	extras := make([]string, 0, len(r))
	for name := range r {
		switch name {
		case result.KeyLatency, result.KeyCustom1, result.KeyCustom2, result.KeyCustom3, result.KeyPlayerCount:
		default:
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		v, _ := r.Get(name)
		out = append(out, Placeholder{"{" + name + "}", formatMetric(v)})
	}

	return out
}
