package probes

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

// ICMP sends a single echo request. Unprivileged (UDP datagram) pings are
// used so the agent does not need raw-socket capabilities.
func ICMP(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	ic := m.ICMP
	if ic == nil {
		return nil, fmt.Errorf("monitor does not contain ICMP configuration")
	}

	pinger, err := probing.NewPinger(ic.Host)
	if err != nil {
		return nil, fmt.Errorf("resolving ping target %s: %w", ic.Host, err)
	}
	pinger.Count = 1
	pinger.Timeout = time.Duration(timeout(ic.Timeout, config.DefaultTimeout)) * time.Second
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("ping to %s failed: %w", ic.Host, err)
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv < 1 {
		return nil, fmt.Errorf("ping to %s timed out", ic.Host)
	}

	return result.FromLatency(float64(stats.AvgRtt) / float64(time.Millisecond)), nil
}
