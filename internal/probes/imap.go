package probes

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

// IMAP performs a full login round-trip: greeting, LOGIN, LOGOUT. Port 993
// implies implicit TLS.
func IMAP(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	im := m.IMAP
	if im == nil {
		return nil, fmt.Errorf("monitor does not contain IMAP configuration")
	}

	to := time.Duration(timeout(im.Timeout, config.DefaultTimeout)) * time.Second
	addr := net.JoinHostPort(im.Server, strconv.Itoa(int(im.Port)))

	dialer := net.Dialer{Timeout: to}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP server: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(to)); err != nil {
		return nil, fmt.Errorf("setting IMAP deadline: %w", err)
	}

	if im.Port == 993 {
		conn = tls.Client(conn, &tls.Config{ServerName: im.Server})
		conn.SetDeadline(time.Now().Add(to))
	}

	r := bufio.NewReader(conn)

	greeting, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading IMAP greeting: %w", err)
	}
	if !strings.HasPrefix(greeting, "* OK") {
		return nil, fmt.Errorf("unexpected IMAP greeting: %s", strings.TrimSpace(greeting))
	}

	if err := imapCommand(conn, r, "a1", fmt.Sprintf("LOGIN %s %s", imapQuote(im.Username), imapQuote(im.Password))); err != nil {
		return nil, fmt.Errorf("IMAP login: %w", err)
	}
	if err := imapCommand(conn, r, "a2", "LOGOUT"); err != nil {
		return nil, fmt.Errorf("IMAP logout: %w", err)
	}

	return result.New(), nil
}

// imapCommand sends one tagged command and reads lines until the tagged
// response, requiring an OK status.
func imapCommand(conn net.Conn, r *bufio.Reader, tag, cmd string) error {
	if _, err := fmt.Fprintf(conn, "%s %s\r\n", tag, cmd); err != nil {
		return err
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		if !strings.HasPrefix(line, tag+" ") {
			continue
		}
		status := strings.TrimSpace(strings.TrimPrefix(line, tag+" "))
		if !strings.HasPrefix(status, "OK") {
			return fmt.Errorf("server replied %s", status)
		}
		return nil
	}
}

func imapQuote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
