package probes

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
	"time"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

// SMTP connects to an smtp:// or smtps:// URL, exchanges a NOOP and quits.
func SMTP(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	s := m.SMTP
	if s == nil {
		return nil, fmt.Errorf("monitor does not contain SMTP configuration")
	}

	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing SMTP URL: %w", err)
	}

	useTLS := false
	port := "25"
	switch u.Scheme {
	case "smtp", "":
	case "smtps":
		useTLS = true
		port = "465"
	default:
		return nil, fmt.Errorf("unsupported SMTP scheme: %s", u.Scheme)
	}
	if p := u.Port(); p != "" {
		port = p
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	to := time.Duration(timeout(s.Timeout, config.DefaultTimeout)) * time.Second
	dialer := net.Dialer{Timeout: to}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to SMTP server: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(to)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting SMTP deadline: %w", err)
	}
	if useTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: u.Hostname()})
	}

	client, err := smtp.NewClient(conn, u.Hostname())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMTP greeting: %w", err)
	}
	defer client.Close()

	if err := client.Noop(); err != nil {
		return nil, fmt.Errorf("SMTP NOOP: %w", err)
	}
	if err := client.Quit(); err != nil {
		return nil, fmt.Errorf("SMTP QUIT: %w", err)
	}

	return result.New(), nil
}
