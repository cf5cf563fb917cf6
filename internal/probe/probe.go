// Package probe implements the fail-soft host checks used by the poller and
// the ad hoc check endpoints. Every probe has its own deadline and reports
// failure as a negative or zero result instead of an error.
package probe

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PingResult is the outcome of one ICMP echo.
type PingResult struct {
	Up        bool
	LatencyMs *int
}

// SessionCount is the companion API's view of management sessions.
type SessionCount struct {
	EstablishedConnections int `json:"established_connections"`
	Port                   int `json:"port"`
}

// Pinger sends one echo request to address.
type Pinger interface {
	Ping(ctx context.Context, address string) PingResult
}

// PortProber reports whether a TCP connect to address:port succeeds.
type PortProber interface {
	CheckPort(ctx context.Context, address string, port int) bool
}

// SNMPSessionCounter counts established SSH/Telnet sessions on a device.
type SNMPSessionCounter interface {
	CountSessions(ctx context.Context, address, community string) int
}

// HTTPSessionCounter asks a host's companion service for its session count.
type HTTPSessionCounter interface {
	FetchSessionCount(ctx context.Context, address, fallback string) SessionCount
}

// Ping methods.
const (
	PingMethodExec = "exec"
	PingMethodICMP = "icmp"
)

// Config holds probe tunables. Timeouts are in milliseconds to match the
// environment variables operators already use.
type Config struct {
	PingMethod        string `mapstructure:"ping_method"`
	PingTimeoutMs     int    `mapstructure:"ping_timeout_ms"`
	PortTimeoutMs     int    `mapstructure:"port_timeout_ms"`
	SNMPTimeoutMs     int    `mapstructure:"snmp_timeout_ms"`
	SNMPCommunity     string `mapstructure:"snmp_community"`
	SNMPPort          int    `mapstructure:"snmp_port"`
	SNMPVersion       string `mapstructure:"snmp_version"`
	HTTPTimeoutMs     int    `mapstructure:"http_timeout_ms"`
	CompanionPort     int    `mapstructure:"companion_port"`
	CompanionPath     string `mapstructure:"companion_path"`
	CompanionFallback string `mapstructure:"companion_fallback"`
}

// DefaultConfig returns the stock probe settings.
func DefaultConfig() Config {
	return Config{
		PingMethod:    PingMethodExec,
		PingTimeoutMs: 800,
		PortTimeoutMs: 800,
		SNMPTimeoutMs: 5000,
		SNMPCommunity: "netlink",
		SNMPPort:      161,
		SNMPVersion:   "2c",
		HTTPTimeoutMs: 2000,
		CompanionPort: 8080,
		CompanionPath: "/api/connection_count",
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.PingMethod == "" {
		c.PingMethod = d.PingMethod
	}
	if c.PingTimeoutMs <= 0 {
		c.PingTimeoutMs = d.PingTimeoutMs
	}
	if c.PortTimeoutMs <= 0 {
		c.PortTimeoutMs = d.PortTimeoutMs
	}
	if c.SNMPTimeoutMs <= 0 {
		c.SNMPTimeoutMs = d.SNMPTimeoutMs
	}
	if c.SNMPCommunity == "" {
		c.SNMPCommunity = d.SNMPCommunity
	}
	if c.SNMPPort <= 0 {
		c.SNMPPort = d.SNMPPort
	}
	if c.SNMPVersion == "" {
		c.SNMPVersion = d.SNMPVersion
	}
	if c.HTTPTimeoutMs <= 0 {
		c.HTTPTimeoutMs = d.HTTPTimeoutMs
	}
	if c.CompanionPort <= 0 {
		c.CompanionPort = d.CompanionPort
	}
	if c.CompanionPath == "" {
		c.CompanionPath = d.CompanionPath
	}
	return c
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Suite bundles one implementation of each probe.
type Suite struct {
	Pinger    Pinger
	Ports     PortProber
	SNMP      SNMPSessionCounter
	HTTP      HTTPSessionCounter
	Community string
}

// NewSuite builds the production probes from cfg.
func NewSuite(cfg Config, logger *zap.Logger) *Suite {
	cfg = cfg.WithDefaults()

	var pinger Pinger
	switch cfg.PingMethod {
	case PingMethodICMP:
		pinger = NewICMPPinger(ms(cfg.PingTimeoutMs), logger)
	default:
		if cfg.PingMethod != PingMethodExec {
			logger.Warn("unknown ping method, using exec", zap.String("ping_method", cfg.PingMethod))
		}
		pinger = NewExecPinger(ms(cfg.PingTimeoutMs), logger)
	}

	return &Suite{
		Pinger:    pinger,
		Ports:     NewPortChecker(ms(cfg.PortTimeoutMs)),
		SNMP:      NewSNMPCounter(ms(cfg.SNMPTimeoutMs), cfg.SNMPPort, cfg.SNMPVersion, logger),
		HTTP:      NewHTTPCounter(ms(cfg.HTTPTimeoutMs), cfg.CompanionPort, cfg.CompanionPath, cfg.CompanionFallback, logger),
		Community: cfg.SNMPCommunity,
	}
}
