// Package config loads fleetpulse configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FLEETPULSE_SERVER_PORT.
const EnvPrefix = "FLEETPULSE"

// legacyEnv maps configuration keys to the unprefixed variables existing
// deployments already set.
var legacyEnv = map[string]string{
	"server.port":                "PORT",
	"server.cors_origin":         "CORS_ORIGIN",
	"probe.ping_timeout_ms":      "PING_TIMEOUT",
	"probe.port_timeout_ms":      "PORT_CHECK_TIMEOUT",
	"plugins.pulse.alert.hour":   "HOUR_TIMEOUT",
	"plugins.pulse.alert.minute": "MINUTE_TIMEOUT",
}

// SetDefaults registers the default value of every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4567)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("probe.ping_method", "exec")
	v.SetDefault("probe.ping_timeout_ms", 800)
	v.SetDefault("probe.port_timeout_ms", 800)
	v.SetDefault("probe.snmp_timeout_ms", 5000)
	v.SetDefault("probe.snmp_community", "netlink")
	v.SetDefault("probe.snmp_port", 161)
	v.SetDefault("probe.snmp_version", "2c")
	v.SetDefault("probe.http_timeout_ms", 2000)
	v.SetDefault("probe.companion_port", 8080)
	v.SetDefault("probe.companion_path", "/api/connection_count")
	v.SetDefault("probe.companion_fallback", "")

	v.SetDefault("plugins.pulse.enabled", true)
	v.SetDefault("plugins.pulse.poll_interval", "5s")
	v.SetDefault("plugins.pulse.poll_workers", 4)
	v.SetDefault("plugins.pulse.poll_emit_changes_only", false)
	v.SetDefault("plugins.pulse.keepalive_interval", "15s")
	v.SetDefault("plugins.pulse.subscriber_buffer", 64)
	v.SetDefault("plugins.pulse.ws_origin_patterns", []string{})
	v.SetDefault("plugins.pulse.targets.dir", ".")
	v.SetDefault("plugins.pulse.targets.devices_file", "devices.json")
	v.SetDefault("plugins.pulse.targets.proxmox_file", "proxmox.json")
	v.SetDefault("plugins.pulse.alert.enabled", true)
	v.SetDefault("plugins.pulse.alert.hour", 20)
	v.SetDefault("plugins.pulse.alert.minute", 0)
	v.SetDefault("plugins.pulse.alert.utc_offset_hours", 7)

	v.SetDefault("plugins.check.enabled", true)
	v.SetDefault("plugins.check.rate_per_second", 20)
	v.SetDefault("plugins.check.burst", 40)
}

// Load builds the configuration. path names a YAML file; when empty,
// fleetpulse.yaml is looked up in the working directory and
// /etc/fleetpulse, and its absence is not an error.
//
// Precedence, highest first: FLEETPULSE_* variables, legacy variables,
// the file, defaults. NODE_ENV=development turns on development logging
// unless log.development is set explicitly.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if strings.EqualFold(os.Getenv("NODE_ENV"), "development") {
		v.SetDefault("log.development", true)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind %s: %w", legacy, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("fleetpulse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fleetpulse")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	// Sub() drops environment overrides, so hand out a viper whose
	// settings are already resolved.
	resolved := viper.New()
	if err := resolved.MergeConfigMap(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	return resolved, nil
}

// ViperConfig is a read-only view over a viper instance. A nil viper reads
// as empty.
type ViperConfig struct {
	v *viper.Viper
}

// New wraps v.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) GetString(key string) string          { return c.v.GetString(key) }
func (c *ViperConfig) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *ViperConfig) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *ViperConfig) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }
func (c *ViperConfig) IsSet(key string) bool                { return c.v.IsSet(key) }

// Sub returns the subtree at key, or an empty config when it is absent.
func (c *ViperConfig) Sub(key string) *ViperConfig {
	return New(c.v.Sub(key))
}

// Unmarshal decodes the whole tree into target.
func (c *ViperConfig) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

// Viper returns the underlying instance.
func (c *ViperConfig) Viper() *viper.Viper { return c.v }
