// Package probes implements the per-protocol service checks and the registry
// that selects one for a monitor.
//
// Every probe has the same contract: it honors its configured timeout, is
// cancellation-safe via ctx, and returns either a CheckResult (service up)
// or an error (service down for this cycle).
package probes

import (
	"context"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

// Func is a single probe attempt against the monitor's declared service.
type Func func(ctx context.Context, m *config.Monitor) (result.CheckResult, error)

// Select returns the probe implied by the monitor's first populated service
// section, in fixed priority order. A monitor with no service section gets a
// no-op probe that reports an empty result (reachable, no metrics).
func Select(m *config.Monitor) Func {
	switch {
	case m.HTTP != nil:
		return HTTP
	case m.WS != nil:
		return WS
	case m.TCP != nil:
		return TCP
	case m.UDP != nil:
		return UDP
	case m.ICMP != nil:
		return ICMP
	case m.SMTP != nil:
		return SMTP
	case m.IMAP != nil:
		return IMAP
	case m.MySQL != nil:
		return MySQL
	case m.MSSQL != nil:
		return MSSQL
	case m.PostgreSQL != nil:
		return PostgreSQL
	case m.Redis != nil:
		return Redis
	case m.MinecraftJava != nil:
		return MinecraftJava
	case m.MinecraftBedrock != nil:
		return MinecraftBedrock
	case m.SNMP != nil:
		return SNMP
	default:
		return noop
	}
}

func noop(_ context.Context, _ *config.Monitor) (result.CheckResult, error) {
	return result.New(), nil
}

// timeout resolves the per-type timeout in seconds.
func timeout(t *int64, defSecs int64) int64 {
	return config.TimeoutSecs(t, defSecs)
}
