package probe

import (
	"context"
	"net"
	"strconv"
	"time"
)

// PortChecker tests TCP liveness with a plain connect.
type PortChecker struct {
	timeout time.Duration
}

// NewPortChecker creates a checker whose connects give up after timeout.
func NewPortChecker(timeout time.Duration) *PortChecker {
	return &PortChecker{timeout: timeout}
}

// CheckPort implements PortProber.
func (c *PortChecker) CheckPort(ctx context.Context, address string, port int) bool {
	if address == "" || port <= 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
