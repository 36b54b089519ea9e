package probes

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

// TCP attempts a plain connect to host:port within the timeout.
func TCP(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	t := m.TCP
	if t == nil {
		return nil, fmt.Errorf("monitor does not contain TCP configuration")
	}

	addr := net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
	dialer := net.Dialer{Timeout: time.Duration(timeout(t.Timeout, config.DefaultTimeout)) * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to TCP server: %w", err)
	}
	conn.Close()

	return result.New(), nil
}
