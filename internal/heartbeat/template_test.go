package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

var (
	tStart = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	tEnd   = tStart.Add(123 * time.Millisecond)
)

func TestApplyTemplatesFixedPlaceholders(t *testing.T) {
	tv := newTimeValues(tStart, tEnd, 42.5)

	got := applyTemplates(
		"https://example.com/ping?rt={latency}&from={startTimeISO}&to={endTimeISO}&a={startTimeUnix}&b={endTimeUnix}",
		tv, nil)

	assert.Equal(t,
		"https://example.com/ping?rt=42.5"+
			"&from=2025-03-14T09:26:53.589Z&to=2025-03-14T09:26:53.712Z"+
			"&a=1741944413589&b=1741944413712",
		got)
}

func TestApplyTemplatesCustomsAndRepeats(t *testing.T) {
	tv := newTimeValues(tStart, tEnd, 1)
	customs := []Placeholder{
		{"{custom1}", "7"},
		{"{custom2}", ""},
	}

	got := applyTemplates("{custom1}-{custom1}-{custom2}-{unknown}", tv, customs)
	assert.Equal(t, "7-7--{unknown}", got, "every occurrence replaced, unknown names left verbatim")
}

func TestFormatMetricShortestForm(t *testing.T) {
	assert.Equal(t, "42", formatMetric(42))
	assert.Equal(t, "42.123", formatMetric(42.123))
	assert.Equal(t, "0.5", formatMetric(0.5))
}

func TestResolveCustomPlaceholdersDefaults(t *testing.T) {
	m := &config.Monitor{Name: "web"}
	r := result.FromLatency(10)
	r.Set(result.KeyCustom2, 3.25)

	got := ResolveCustomPlaceholders(m, r)

	byName := make(map[string]string, len(got))
	for _, p := range got {
		byName[p.Name] = p.Value
	}
	assert.Equal(t, "", byName["{custom1}"], "absent slots resolve to empty string")
	assert.Equal(t, "3.25", byName["{custom2}"])
	assert.Equal(t, "", byName["{custom3}"])
	assert.NotContains(t, byName, "{playerCount}")
	assert.NotContains(t, byName, "{latency}", "latency is a fixed placeholder, not a custom one")
}

func TestResolveCustomPlaceholdersMinecraftAlias(t *testing.T) {
	m := &config.Monitor{Name: "mc", MinecraftJava: &config.Minecraft{Host: "mc.example.com"}}
	r := result.FromLatency(5)
	r.Set(result.KeyCustom1, 17)

	got := ResolveCustomPlaceholders(m, r)
	byName := make(map[string]string, len(got))
	for _, p := range got {
		byName[p.Name] = p.Value
	}
	assert.Equal(t, "17", byName["{playerCount}"], "playerCount aliases custom1")

	// an explicit playerCount metric wins over the alias
	r.Set(result.KeyPlayerCount, 99)
	got = ResolveCustomPlaceholders(m, r)
	for _, p := range got {
		if p.Name == "{playerCount}" {
			assert.Equal(t, "99", p.Value)
		}
	}
}

func TestResolveCustomPlaceholdersExtrasSorted(t *testing.T) {
	m := &config.Monitor{Name: "api"}
	r := result.FromLatency(1)
	r.Set("zz_metric", 2)
	r.Set("aa_metric", 1)

	got := ResolveCustomPlaceholders(m, r)
	require.GreaterOrEqual(t, len(got), 5)

	// the three custom slots come first, then extras in name order
	var extras []string
	for _, p := range got[3:] {
		extras = append(extras, p.Name)
	}
	assert.Equal(t, []string{"{aa_metric}", "{zz_metric}"}, extras)
}
