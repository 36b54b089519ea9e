// Package config defines the monitor configuration document and its TOML
// loader. The same structures are reused for server-pushed configuration,
// which arrives as JSON over the control channel.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Default per-type probe timeouts, in seconds.
const (
	DefaultTimeout     = 3
	DefaultHTTPTimeout = 10
)

// Config is the top-level monitor set.
type Config struct {
	Monitors []Monitor `toml:"monitors" json:"monitors"`

	// MaxConcurrentChecks overrides the scheduler's global permit count.
	MaxConcurrentChecks *int `toml:"maxConcurrentChecks" json:"maxConcurrentChecks,omitempty"`
}

// Monitor declares one periodic probe. Exactly one service section is
// expected; when several are set, the registry picks the first in its fixed
// priority order, and when none is set the probe is a no-op.
type Monitor struct {
	Enabled  bool    `toml:"enabled" json:"enabled"`
	Name     string  `toml:"name" json:"name"`
	Interval int64   `toml:"interval" json:"interval"`
	Token    *string `toml:"token" json:"token,omitempty"`
	Debug    bool    `toml:"debug" json:"debug,omitempty"`

	Heartbeat *Heartbeat `toml:"heartbeat" json:"heartbeat,omitempty"`

	HTTP             *HTTP      `toml:"http" json:"http,omitempty"`
	WS               *WS        `toml:"ws" json:"ws,omitempty"`
	TCP              *TCP       `toml:"tcp" json:"tcp,omitempty"`
	UDP              *UDP       `toml:"udp" json:"udp,omitempty"`
	ICMP             *ICMP      `toml:"icmp" json:"icmp,omitempty"`
	SMTP             *SMTP      `toml:"smtp" json:"smtp,omitempty"`
	IMAP             *IMAP      `toml:"imap" json:"imap,omitempty"`
	MySQL            *Database  `toml:"mysql" json:"mysql,omitempty"`
	MSSQL            *Database  `toml:"mssql" json:"mssql,omitempty"`
	PostgreSQL       *Database  `toml:"postgresql" json:"postgresql,omitempty"`
	Redis            *Database  `toml:"redis" json:"redis,omitempty"`
	MinecraftJava    *Minecraft `toml:"minecraft-java" json:"minecraft-java,omitempty"`
	MinecraftBedrock *Minecraft `toml:"minecraft-bedrock" json:"minecraft-bedrock,omitempty"`
	SNMP             *SNMP      `toml:"snmp" json:"snmp,omitempty"`
}

// Key returns the monitor's scheduling key: token when present, else name.
func (m *Monitor) Key() string {
	if m.Token != nil && *m.Token != "" {
		return *m.Token
	}
	return m.Name
}

// IsMinecraft reports whether the monitor targets a Minecraft server, which
// additionally exposes the {playerCount} placeholder.
func (m *Monitor) IsMinecraft() bool {
	return m.MinecraftJava != nil || m.MinecraftBedrock != nil
}

// Heartbeat declares a custom per-monitor delivery URL. When present, the
// monitor always delivers through it, regardless of operating mode.
type Heartbeat struct {
	Method  string              `toml:"method" json:"method"`
	URL     string              `toml:"url" json:"url"`
	Timeout *int64              `toml:"timeout" json:"timeout,omitempty"`
	Headers []map[string]string `toml:"headers" json:"headers,omitempty"`
}

// HTTP configures an HTTP(S) probe. JSONPaths maps metric names to
// dot-separated paths (with optional [index] segments) extracted from the
// response body.
type HTTP struct {
	Method    string              `toml:"method" json:"method"`
	URL       string              `toml:"url" json:"url"`
	Timeout   *int64              `toml:"timeout" json:"timeout,omitempty"`
	Headers   []map[string]string `toml:"headers" json:"headers,omitempty"`
	JSONPaths map[string]string   `toml:"jsonPaths" json:"jsonPaths,omitempty"`
}

// WS configures a WebSocket ping/pong probe.
type WS struct {
	URL     string `toml:"url" json:"url"`
	Timeout *int64 `toml:"timeout" json:"timeout,omitempty"`
}

// TCP configures a plain TCP connect probe.
type TCP struct {
	Host    string `toml:"host" json:"host"`
	Port    uint16 `toml:"port" json:"port"`
	Timeout *int64 `toml:"timeout" json:"timeout,omitempty"`
}

// UDP configures a UDP datagram probe. With ExpectResponse set, the probe
// fails unless the target answers within the timeout.
type UDP struct {
	Host           string  `toml:"host" json:"host"`
	Port           uint16  `toml:"port" json:"port"`
	Payload        *string `toml:"payload" json:"payload,omitempty"`
	ExpectResponse bool    `toml:"expectResponse" json:"expectResponse,omitempty"`
	Timeout        *int64  `toml:"timeout" json:"timeout,omitempty"`
}

// ICMP configures an echo-request probe.
type ICMP struct {
	Host    string `toml:"host" json:"host"`
	Timeout *int64 `toml:"timeout" json:"timeout,omitempty"`
}

// SMTP configures a connection test against an smtp(s):// URL.
type SMTP struct {
	URL     string `toml:"url" json:"url"`
	Timeout *int64 `toml:"timeout" json:"timeout,omitempty"`
}

// IMAP configures a login round-trip against an IMAP server.
type IMAP struct {
	Server   string `toml:"server" json:"server"`
	Port     uint16 `toml:"port" json:"port"`
	Username string `toml:"username" json:"username"`
	Password string `toml:"password" json:"password"`
	Timeout  *int64 `toml:"timeout" json:"timeout,omitempty"`
}

// Database configures a DSN-based probe (MySQL, MSSQL, PostgreSQL, Redis).
type Database struct {
	URL     string `toml:"url" json:"url"`
	Timeout *int64 `toml:"timeout" json:"timeout,omitempty"`
}

// Minecraft configures a Java server-list ping or a Bedrock unconnected ping.
type Minecraft struct {
	Host    string  `toml:"host" json:"host"`
	Port    *uint16 `toml:"port" json:"port,omitempty"`
	Timeout *int64  `toml:"timeout" json:"timeout,omitempty"`
}

// SNMP configures an SNMP availability probe with optional named OID metrics.
type SNMP struct {
	Host          string            `toml:"host" json:"host"`
	Port          *uint16           `toml:"port" json:"port,omitempty"`
	Version       *string           `toml:"version" json:"version,omitempty"`
	Community     *string           `toml:"community" json:"community,omitempty"`
	Username      *string           `toml:"username" json:"username,omitempty"`
	AuthPassword  *string           `toml:"authPassword" json:"authPassword,omitempty"`
	AuthProtocol  *string           `toml:"authProtocol" json:"authProtocol,omitempty"`
	SecurityLevel *string           `toml:"securityLevel" json:"securityLevel,omitempty"`
	PrivPassword  *string           `toml:"privPassword" json:"privPassword,omitempty"`
	PrivCipher    *string           `toml:"privCipher" json:"privCipher,omitempty"`
	OID           *string           `toml:"oid" json:"oid,omitempty"`
	OIDs          map[string]string `toml:"oids" json:"oids,omitempty"`
	Timeout       *int64            `toml:"timeout" json:"timeout,omitempty"`
}

// Load reads and validates a TOML monitor configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// Validate checks the monitor set for logical errors.
func (c *Config) Validate() error {
	var errs []string
	seen := make(map[string]bool, len(c.Monitors))

	for i := range c.Monitors {
		m := &c.Monitors[i]
		if m.Name == "" {
			errs = append(errs, fmt.Sprintf("monitors[%d]: name is required", i))
		}
		if m.Interval < 1 {
			errs = append(errs, fmt.Sprintf("monitors[%d] %q: interval must be >= 1", i, m.Name))
		}
		if m.Heartbeat != nil {
			switch strings.ToUpper(m.Heartbeat.Method) {
			case "GET", "POST", "HEAD":
			default:
				errs = append(errs, fmt.Sprintf("monitors[%d] %q: unsupported heartbeat method %q", i, m.Name, m.Heartbeat.Method))
			}
		}
		key := m.Key()
		if seen[key] {
			errs = append(errs, fmt.Sprintf("monitors[%d] %q: duplicate scheduling key %q", i, m.Name, key))
		}
		seen[key] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ConcurrentChecks resolves the scheduler permit count: config value first,
// then PULSE_MAX_CONCURRENT_CHECKS, then the default of 5000.
func (c *Config) ConcurrentChecks() int {
	if c.MaxConcurrentChecks != nil && *c.MaxConcurrentChecks > 0 {
		return *c.MaxConcurrentChecks
	}
	return EnvInt("PULSE_MAX_CONCURRENT_CHECKS", 5000)
}

// EnvInt reads an integer environment variable, falling back to def when the
// variable is unset or malformed.
func EnvInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// TimeoutSecs returns *t in seconds, or def when t is nil or non-positive.
func TimeoutSecs(t *int64, def int64) int64 {
	if t != nil && *t > 0 {
		return *t
	}
	return def
}
