package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/HerbHall/fleetpulse/internal/event"
	"github.com/HerbHall/fleetpulse/internal/server"
	"github.com/HerbHall/fleetpulse/pkg/models"
)

// writeTimeout bounds a single write to a subscriber.
const writeTimeout = 10 * time.Second

// handleEvents streams events as Server-Sent Events.
func (m *Module) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	sub, err := m.hub.Subscribe()
	if err != nil {
		server.ServiceUnavailable(w, "event stream is shutting down", r.URL.Path)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		m.hub.Unsubscribe(sub)
		m.logger.Warn("event stream not flushable", zap.Error(err))
		return
	}

	err = m.hub.Serve(r.Context(), sub, &sseSink{w: w, rc: rc})
	logStreamEnd(m.logger, "sse", sub, err)
}

// sseSink writes "data: <json>\n\n" frames and ": heartbeat" comments.
type sseSink struct {
	w  io.Writer
	rc *http.ResponseController
}

func (s *sseSink) Send(_ context.Context, ev event.Event) error {
	b, err := event.Encode(ev)
	if err != nil {
		return err
	}
	return s.write("data: " + string(b) + "\n\n")
}

func (s *sseSink) Keepalive(context.Context) error {
	return s.write(": heartbeat\n\n")
}

func (s *sseSink) write(frame string) error {
	// Not every ResponseWriter supports deadlines; the hub still drops a
	// subscriber that stops draining its queue.
	_ = s.rc.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	return s.rc.Flush()
}

// handleWS streams the same events over a WebSocket, one JSON text message
// per event.
func (m *Module) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: m.cfg.WSOriginPatterns,
	})
	if err != nil {
		m.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub, err := m.hub.Subscribe()
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}

	// Clients never send data; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	err = m.hub.Serve(ctx, sub, &wsSink{conn: conn})
	logStreamEnd(m.logger, "websocket", sub, err)

	if errors.Is(err, event.ErrDropped) {
		conn.Close(websocket.StatusPolicyViolation, "subscriber dropped")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(ctx context.Context, ev event.Event) error {
	b, err := event.Encode(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, b)
}

func (s *wsSink) Keepalive(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Ping(ctx)
}

func logStreamEnd(logger *zap.Logger, transport string, sub *event.Subscriber, err error) {
	fields := []zap.Field{
		zap.String("transport", transport),
		zap.String("subscriber_id", sub.ID.String()),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.Debug("stream closed", fields...)
}

// handleTargets returns the current target snapshot.
func (m *Module) handleTargets(w http.ResponseWriter, _ *http.Request) {
	snap := m.registry.Snapshot()
	resp := targetsResponse{
		Devices:  snap.Terminal,
		Proxmox:  snap.Virtualization,
		LoadedAt: snap.LoadedAt,
	}
	if resp.Devices == nil {
		resp.Devices = []models.Target{}
	}
	if resp.Proxmox == nil {
		resp.Proxmox = []models.Target{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type targetsResponse struct {
	Devices  []models.Target `json:"devices"`
	Proxmox  []models.Target `json:"proxmox"`
	LoadedAt time.Time       `json:"loaded_at"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
