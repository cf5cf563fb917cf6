package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/fleetpulse/internal/version"
)

// maxCompanionBody bounds how much of a companion response is read.
const maxCompanionBody = 64 << 10

// HTTPCounter reads the session count published by a virtualization host's
// companion service.
type HTTPCounter struct {
	client   *http.Client
	port     int
	path     string
	fallback string
	logger   *zap.Logger
}

// NewHTTPCounter creates a counter querying http://<host>:port<path>.
// fallback is used when a request names no host.
func NewHTTPCounter(timeout time.Duration, port int, path, fallback string, logger *zap.Logger) *HTTPCounter {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &HTTPCounter{
		client:   &http.Client{Timeout: timeout},
		port:     port,
		path:     path,
		fallback: fallback,
		logger:   logger,
	}
}

func emptySessionCount() SessionCount {
	return SessionCount{EstablishedConnections: 0, Port: 8006}
}

// FetchSessionCount implements HTTPSessionCounter.
func (c *HTTPCounter) FetchSessionCount(ctx context.Context, address, fallback string) SessionCount {
	host := strings.TrimSpace(address)
	if host == "" {
		host = strings.TrimSpace(fallback)
	}
	if host == "" {
		host = c.fallback
	}
	if host == "" {
		return emptySessionCount()
	}

	count, err := c.fetch(ctx, host)
	if err != nil {
		c.logger.Warn("fetch companion session count", zap.String("ip", host), zap.Error(err))
		return emptySessionCount()
	}
	return count
}

func (c *HTTPCounter) fetch(ctx context.Context, host string) (SessionCount, error) {
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(c.port)) + c.path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return SessionCount{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return SessionCount{}, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SessionCount{}, fmt.Errorf("request %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCompanionBody))
	if err != nil {
		return SessionCount{}, fmt.Errorf("read body: %w", err)
	}

	var out SessionCount
	if err := json.Unmarshal(body, &out); err != nil {
		return SessionCount{}, fmt.Errorf("decode body: %w", err)
	}
	if out.EstablishedConnections < 0 {
		out.EstablishedConnections = 0
	}
	if out.Port == 0 {
		out.Port = 8006
	}
	return out, nil
}
