package probe

import (
	"context"
	"math"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// latencyPattern matches "time=0.412 ms" (Linux/macOS) and "time<1ms" or
// "time=12ms" (Windows).
var latencyPattern = regexp.MustCompile(`(?i)time[=<]\s*(\d+(?:\.\d+)?)\s*ms`)

// ExecPinger runs the platform ping tool once per check.
type ExecPinger struct {
	timeout time.Duration
	command string
	goos    string
	logger  *zap.Logger
}

// NewExecPinger creates a pinger that gives the ping process timeout to
// finish before killing it.
func NewExecPinger(timeout time.Duration, logger *zap.Logger) *ExecPinger {
	return &ExecPinger{
		timeout: timeout,
		command: "ping",
		goos:    runtime.GOOS,
		logger:  logger,
	}
}

// Ping implements Pinger.
func (p *ExecPinger) Ping(ctx context.Context, address string) PingResult {
	if address == "" {
		return PingResult{}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.command, pingArgs(p.goos, address)...)
	// Stop waiting on inherited pipes shortly after the kill.
	cmd.WaitDelay = 100 * time.Millisecond

	out, err := cmd.Output()
	if err != nil {
		p.logger.Debug("ping failed", zap.String("ip", address), zap.Error(err))
		return PingResult{}
	}
	return PingResult{Up: true, LatencyMs: parseLatency(out)}
}

// pingArgs returns single-echo arguments for the given platform.
func pingArgs(goos, address string) []string {
	switch goos {
	case "windows":
		return []string{"-n", "1", "-w", "500", address}
	case "darwin":
		return []string{"-c", "1", address}
	default:
		return []string{"-c", "1", "-W", "1", address}
	}
}

// parseLatency extracts the round-trip time from ping output, rounded to
// whole milliseconds.
func parseLatency(out []byte) *int {
	m := latencyPattern.FindSubmatch(out)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return nil
	}
	n := int(math.Round(v))
	return &n
}
