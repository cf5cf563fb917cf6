package pulse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/fleetpulse/internal/event"
)

// Chime publishes a ScheduledAlert once when the wall clock in a fixed zone
// reaches the configured hour and minute.
type Chime struct {
	hour      int
	minute    int
	zone      *time.Location
	publisher Publisher
	logger    *zap.Logger
	fired     bool
}

// NewChime creates a chime for cfg.
func NewChime(cfg AlertConfig, publisher Publisher, logger *zap.Logger) *Chime {
	offset := cfg.UTCOffsetHours * int(time.Hour/time.Second)
	return &Chime{
		hour:      cfg.Hour,
		minute:    cfg.Minute,
		zone:      time.FixedZone(fmt.Sprintf("UTC%+d", cfg.UTCOffsetHours), offset),
		publisher: publisher,
		logger:    logger,
	}
}

// Check reports whether the chime should fire at now. It returns true at
// most once per matching minute and rearms when the minute passes.
func (c *Chime) Check(now time.Time) bool {
	local := now.In(c.zone)
	if local.Hour() != c.hour || local.Minute() != c.minute {
		c.fired = false
		return false
	}
	if c.fired {
		return false
	}
	c.fired = true
	return true
}

// Run checks the clock every second until ctx is cancelled.
func (c *Chime) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if c.Check(now) {
				c.logger.Info("scheduled alert",
					zap.Int("hour", c.hour),
					zap.Int("minute", c.minute),
					zap.String("zone", c.zone.String()),
				)
				c.publisher.Publish(event.ScheduledAlert{})
			}
		}
	}
}
