// Package check serves on-demand probes of a single host for dashboards
// that want an immediate answer instead of waiting for the next poll.
package check

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/fleetpulse/internal/plugin"
	"github.com/HerbHall/fleetpulse/internal/probe"
	"github.com/HerbHall/fleetpulse/internal/server"
	"github.com/HerbHall/fleetpulse/pkg/models"
)

var _ plugin.Plugin = (*Module)(nil)

// Config holds the check module settings, read from plugins.check.
type Config struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// DefaultConfig returns the stock limiter settings.
func DefaultConfig() Config {
	return Config{RatePerSecond: 20, Burst: 40}
}

// Module implements the check plugin.
type Module struct {
	logger  *zap.Logger
	cfg     Config
	probes  *probe.Suite
	limiter *rate.Limiter
}

// New creates the check module.
func New(probes *probe.Suite) *Module {
	return &Module{probes: probes}
}

func (m *Module) Name() string    { return "check" }
func (m *Module) Version() string { return "0.1.0" }

func (m *Module) Init(config *viper.Viper, logger *zap.Logger) error {
	m.logger = logger

	cfg := DefaultConfig()
	if config != nil {
		if err := config.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("check config: %w", err)
		}
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultConfig().RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	m.cfg = cfg
	m.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)

	if m.probes == nil {
		m.probes = probe.NewSuite(probe.DefaultConfig(), logger.Named("probe"))
	}

	m.logger.Info("check module initialized",
		zap.Float64("rate_per_second", cfg.RatePerSecond),
		zap.Int("burst", cfg.Burst),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error { return nil }
func (m *Module) Stop() error                   { return nil }

func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/health", Handler: m.limit(m.handleHealth)},
		{Method: "GET", Path: "/proxmox-health", Handler: m.limit(m.handleProxmoxHealth)},
		{Method: "GET", Path: "/connection-count", Handler: m.limit(m.handleConnectionCount)},
		{Method: "GET", Path: "/proxmox-connection-count", Handler: m.limit(m.handleProxmoxConnectionCount)},
	}
}

// limit rejects requests beyond the shared token bucket with 429.
func (m *Module) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.limiter.Allow() {
			server.RateLimited(w, "too many ad hoc checks, retry shortly", r.URL.Path)
			return
		}
		next(w, r)
	}
}

type healthResponse struct {
	IP      string `json:"ip"`
	Up      bool   `json:"up"`
	Latency *int   `json:"latency"`
}

// handleHealth pings ip once.
func (m *Module) handleHealth(w http.ResponseWriter, r *http.Request) {
	ip := queryIP(r)
	res := m.probes.Pinger.Ping(r.Context(), ip)
	writeJSON(w, http.StatusOK, healthResponse{IP: ip, Up: res.Up, Latency: res.LatencyMs})
}

type proxmoxHealthResponse struct {
	IP      string `json:"ip"`
	Up      bool   `json:"up"`
	Latency *int   `json:"latency"`
	PingUp  bool   `json:"pingUp"`
}

// handleProxmoxHealth checks the management port and pings concurrently.
func (m *Module) handleProxmoxHealth(w http.ResponseWriter, r *http.Request) {
	ip := queryIP(r)

	var (
		wg   sync.WaitGroup
		up   bool
		ping probe.PingResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		up = m.probes.Ports.CheckPort(r.Context(), ip, models.PortManagement)
	}()
	go func() {
		defer wg.Done()
		ping = m.probes.Pinger.Ping(r.Context(), ip)
	}()
	wg.Wait()

	writeJSON(w, http.StatusOK, proxmoxHealthResponse{IP: ip, Up: up, Latency: ping.LatencyMs, PingUp: ping.Up})
}

type connectionCountResponse struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// handleConnectionCount walks ip's TCP table over SNMP.
func (m *Module) handleConnectionCount(w http.ResponseWriter, r *http.Request) {
	ip := queryIP(r)
	community := strings.TrimSpace(r.URL.Query().Get("community"))
	if community == "" {
		community = m.probes.Community
	}
	count := m.probes.SNMP.CountSessions(r.Context(), ip, community)
	writeJSON(w, http.StatusOK, connectionCountResponse{IP: ip, Count: count})
}

type proxmoxConnectionCountResponse struct {
	IP string `json:"ip"`
	probe.SessionCount
}

// handleProxmoxConnectionCount asks ip's companion service for its count.
func (m *Module) handleProxmoxConnectionCount(w http.ResponseWriter, r *http.Request) {
	ip := queryIP(r)
	if ip == "" {
		server.BadRequest(w, "missing ip parameter", r.URL.Path)
		return
	}
	count := m.probes.HTTP.FetchSessionCount(r.Context(), ip, "")
	writeJSON(w, http.StatusOK, proxmoxConnectionCountResponse{IP: ip, SessionCount: count})
}

func queryIP(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("ip"))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
