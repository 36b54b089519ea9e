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

// UDP sends a datagram to host:port. When expectResponse is set, the target
// must answer within the timeout; otherwise a successful send is enough
// (UDP gives no delivery signal).
func UDP(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	u := m.UDP
	if u == nil {
		return nil, fmt.Errorf("monitor does not contain UDP configuration")
	}

	to := time.Duration(timeout(u.Timeout, config.DefaultTimeout)) * time.Second
	addr := net.JoinHostPort(u.Host, strconv.Itoa(int(u.Port)))

	dialer := net.Dialer{Timeout: to}
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving UDP target: %w", err)
	}
	defer conn.Close()

	payload := "ping"
	if u.Payload != nil {
		payload = *u.Payload
	}
	if _, err := conn.Write([]byte(payload)); err != nil {
		return nil, fmt.Errorf("sending UDP datagram: %w", err)
	}

	if !u.ExpectResponse {
		return result.New(), nil
	}

	if err := conn.SetReadDeadline(time.Now().Add(to)); err != nil {
		return nil, fmt.Errorf("setting UDP read deadline: %w", err)
	}
	buf := make([]byte, 1024)
	if _, err := conn.Read(buf); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, fmt.Errorf("UDP response timed out")
		}
		return nil, fmt.Errorf("receiving UDP response: %w", err)
	}

	return result.New(), nil
}
