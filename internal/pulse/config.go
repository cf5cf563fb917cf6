package pulse

import (
	"time"

	"github.com/HerbHall/fleetpulse/internal/event"
	"github.com/HerbHall/fleetpulse/internal/targets"
)

// Config holds the pulse module settings, read from plugins.pulse.
type Config struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PollWorkers       int           `mapstructure:"poll_workers"`
	EmitChangesOnly   bool          `mapstructure:"poll_emit_changes_only"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
	WSOriginPatterns  []string      `mapstructure:"ws_origin_patterns"`
	Targets           targets.Files `mapstructure:"targets"`
	Alert             AlertConfig   `mapstructure:"alert"`
}

// AlertConfig controls the daily chime.
type AlertConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	Hour           int  `mapstructure:"hour"`
	Minute         int  `mapstructure:"minute"`
	UTCOffsetHours int  `mapstructure:"utc_offset_hours"`
}

// DefaultConfig returns sensible defaults for the pulse module.
func DefaultConfig() Config {
	return Config{
		PollInterval:      5 * time.Second,
		PollWorkers:       4,
		KeepaliveInterval: event.DefaultKeepalive,
		SubscriberBuffer:  event.DefaultBuffer,
		Targets: targets.Files{
			Dir:            ".",
			Terminal:       targets.DefaultTerminalFile,
			Virtualization: targets.DefaultVirtualizationFile,
		},
		Alert: AlertConfig{
			Enabled:        true,
			Hour:           20,
			Minute:         0,
			UTCOffsetHours: 7,
		},
	}
}

// withDefaults fills zero numeric fields. Booleans are taken as given.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PollWorkers <= 0 {
		c.PollWorkers = d.PollWorkers
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	if c.SubscriberBuffer < 2 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
	if c.Targets.Dir == "" {
		c.Targets.Dir = d.Targets.Dir
	}
	if c.Targets.Terminal == "" {
		c.Targets.Terminal = d.Targets.Terminal
	}
	if c.Targets.Virtualization == "" {
		c.Targets.Virtualization = d.Targets.Virtualization
	}
	return c
}
