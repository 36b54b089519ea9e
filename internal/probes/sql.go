package probes

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

// MySQL connects and runs SELECT 1 within the timeout.
func MySQL(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	my := m.MySQL
	if my == nil {
		return nil, fmt.Errorf("monitor does not contain MySQL configuration")
	}

	dsn, err := mysqlDSN(my.URL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout(my.Timeout, config.DefaultTimeout))*time.Second)
	defer cancel()

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening MySQL connection: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := selectOne(ctx, db); err != nil {
		return nil, fmt.Errorf("MySQL check: %w", err)
	}
	return result.New(), nil
}

// MSSQL connects and runs SELECT 1 within the timeout. The URL is passed
// through to the driver, which accepts sqlserver:// and ADO forms.
func MSSQL(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	ms := m.MSSQL
	if ms == nil {
		return nil, fmt.Errorf("monitor does not contain MSSQL configuration")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout(ms.Timeout, config.DefaultTimeout))*time.Second)
	defer cancel()

	db, err := sql.Open("sqlserver", ms.URL)
	if err != nil {
		return nil, fmt.Errorf("opening MSSQL connection: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := selectOne(ctx, db); err != nil {
		return nil, fmt.Errorf("MSSQL check: %w", err)
	}
	return result.New(), nil
}

// PostgreSQL connects via pgx and runs SELECT 1 within the timeout.
func PostgreSQL(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	pg := m.PostgreSQL
	if pg == nil {
		return nil, fmt.Errorf("monitor does not contain PostgreSQL configuration")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout(pg.Timeout, config.DefaultTimeout))*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, pg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer conn.Close(context.Background())

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return nil, fmt.Errorf("PostgreSQL check: %w", err)
	}
	return result.New(), nil
}

func selectOne(ctx context.Context, db *sql.DB) error {
	var one int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// mysqlDSN converts a mysql:// URL into the go-sql-driver DSN form. Raw
// DSNs (no scheme) pass through unchanged.
func mysqlDSN(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing MySQL URL: %w", err)
	}
	if u.Scheme != "mysql" {
		return "", fmt.Errorf("unsupported MySQL scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "3306"
	}

	var b strings.Builder
	if u.User != nil {
		b.WriteString(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			b.WriteByte(':')
			b.WriteString(pw)
		}
		b.WriteByte('@')
	}
	fmt.Fprintf(&b, "tcp(%s)/", net.JoinHostPort(host, port))
	b.WriteString(strings.TrimPrefix(u.Path, "/"))
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String(), nil
}
