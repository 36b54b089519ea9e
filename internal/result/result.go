// Package result defines the dynamic metric bag produced by every probe.
//
// Probes report named numeric values rather than a fixed struct so that
// HTTP jsonPath extraction and SNMP named-OID queries can contribute
// arbitrary metrics that flow through to heartbeat templates unchanged.
package result

// Well-known metric names.
const (
	KeyLatency     = "latency"
	KeyCustom1     = "custom1"
	KeyCustom2     = "custom2"
	KeyCustom3     = "custom3"
	KeyPlayerCount = "playerCount"
)

// CheckResult maps metric names to numeric values. An empty result is a
// valid outcome and means "reachable, no metrics".
type CheckResult map[string]float64

// New returns an empty CheckResult.
func New() CheckResult {
	return make(CheckResult)
}

// FromLatency returns a result carrying only a latency value, or an empty
// result when ms is negative (latency unknown; wall-clock is used instead).
func FromLatency(ms float64) CheckResult {
	r := New()
	if ms >= 0 {
		r[KeyLatency] = ms
	}
	return r
}

// Set records a metric value under the given name.
func (r CheckResult) Set(name string, value float64) {
	r[name] = value
}

// Get returns the value for name and whether it is present.
func (r CheckResult) Get(name string) (float64, bool) {
	v, ok := r[name]
	return v, ok
}

// Latency returns the probe-measured latency in milliseconds, if the probe
// recorded one.
func (r CheckResult) Latency() (float64, bool) {
	return r.Get(KeyLatency)
}

// Custom returns the value of the numbered custom slot (1..3).
func (r CheckResult) Custom(n int) (float64, bool) {
	switch n {
	case 1:
		return r.Get(KeyCustom1)
	case 2:
		return r.Get(KeyCustom2)
	case 3:
		return r.Get(KeyCustom3)
	}
	return 0, false
}
