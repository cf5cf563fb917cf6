package probe

import (
	"context"
	"math"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// ICMPPinger pings targets in-process using pro-bing. On Linux this needs
// net.ipv4.ping_group_range to include the service's group.
type ICMPPinger struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewICMPPinger creates a pinger that sends one echo with the given timeout.
func NewICMPPinger(timeout time.Duration, logger *zap.Logger) *ICMPPinger {
	return &ICMPPinger{
		timeout: timeout,
		logger:  logger,
	}
}

// Ping implements Pinger.
func (c *ICMPPinger) Ping(ctx context.Context, address string) PingResult {
	if address == "" {
		return PingResult{}
	}

	pinger, err := probing.NewPinger(address)
	if err != nil {
		c.logger.Debug("create pinger", zap.String("ip", address), zap.Error(err))
		return PingResult{}
	}

	pinger.Count = 1
	pinger.Timeout = c.timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	// Run pinger in a goroutine for context cancellation.
	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case runErr := <-done:
		if runErr != nil {
			c.logger.Debug("ping failed", zap.String("ip", address), zap.Error(runErr))
			return PingResult{}
		}
		stats := pinger.Statistics()
		if stats.PacketsRecv == 0 {
			return PingResult{}
		}
		latency := int(math.Round(float64(stats.AvgRtt) / float64(time.Millisecond)))
		return PingResult{Up: true, LatencyMs: &latency}

	case <-ctx.Done():
		pinger.Stop()
		return PingResult{}
	}
}
