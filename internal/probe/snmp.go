package probe

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"go.uber.org/zap"
)

// tcpConnStateOID is the tcpConnState column of TCP-MIB::tcpConnTable. Each
// row is indexed by localAddress(4).localPort.remAddress(4).remPort.
const tcpConnStateOID = ".1.3.6.1.2.1.6.13.1.1"

const (
	tcpStateEstablished = 5
	// Position of the local port arc in a full tcpConnState OID.
	localPortArc = 14
)

// SNMPCounter counts established terminal sessions by walking a device's TCP
// connection table.
type SNMPCounter struct {
	timeout time.Duration
	port    uint16
	version gosnmp.SnmpVersion
	logger  *zap.Logger
}

// NewSNMPCounter creates a counter. version is "1" or "2c".
func NewSNMPCounter(timeout time.Duration, port int, version string, logger *zap.Logger) *SNMPCounter {
	v := gosnmp.Version2c
	if version == "1" || version == "v1" {
		v = gosnmp.Version1
	}
	if port <= 0 || port > 65535 {
		port = 161
	}
	return &SNMPCounter{
		timeout: timeout,
		port:    uint16(port),
		version: v,
		logger:  logger,
	}
}

// CountSessions implements SNMPSessionCounter. Any SNMP failure counts as
// zero sessions.
func (c *SNMPCounter) CountSessions(ctx context.Context, address, community string) int {
	if address == "" {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	g := &gosnmp.GoSNMP{
		Target:         address,
		Port:           c.port,
		Community:      community,
		Version:        c.version,
		Context:        ctx,
		Timeout:        c.timeout,
		Retries:        0,
		MaxRepetitions: 50,
	}
	if err := g.Connect(); err != nil {
		c.logger.Warn("snmp connect failed", zap.String("ip", address), zap.Error(err))
		return 0
	}
	defer g.Conn.Close()

	type walkResult struct {
		count int
		err   error
	}
	done := make(chan walkResult, 1)
	go func() {
		count := 0
		walk := g.BulkWalk
		if c.version == gosnmp.Version1 {
			walk = g.Walk
		}
		err := walk(tcpConnStateOID, func(pdu gosnmp.SnmpPDU) error {
			if isTerminalSession(pdu.Name, gosnmp.ToBigInt(pdu.Value).Int64()) {
				count++
			}
			return nil
		})
		done <- walkResult{count: count, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			c.logger.Warn("snmp walk failed", zap.String("ip", address), zap.Error(res.err))
			return 0
		}
		return res.count
	case <-ctx.Done():
		// Closing the socket unblocks the walk goroutine.
		_ = g.Conn.Close()
		c.logger.Warn("snmp timeout", zap.String("ip", address), zap.Duration("timeout", c.timeout))
		return 0
	}
}

// isTerminalSession reports whether a tcpConnState row is an established
// connection on local port 22 or 23.
func isTerminalSession(oid string, state int64) bool {
	if state != tcpStateEstablished {
		return false
	}
	parts := strings.Split(strings.TrimPrefix(oid, "."), ".")
	if len(parts) <= localPortArc {
		return false
	}
	port, err := strconv.Atoi(parts[localPortArc])
	if err != nil {
		return false
	}
	return port == 22 || port == 23
}
