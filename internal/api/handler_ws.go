package api

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	echo "github.com/labstack/echo/v5"

	"github.com/splunk-chatops/dispatcher/internal/metrics"
	"github.com/splunk-chatops/dispatcher/internal/models"
)

// pingInterval is how often an idle live channel receives a liveness
// beacon.
const pingInterval = 30 * time.Second

// wsChannel adapts a coder/websocket connection to the registry's
// Channel contract. Its own mutex serializes Send with the per-channel
// ping loop so a beacon can never interleave into the middle of a
// registry dispatch.
type wsChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (ch *wsChannel) Send(ctx context.Context, payload any) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return wsjson.Write(ctx, ch.conn, payload)
}

// wsHandler upgrades the connection, attaches it to the Session Registry
// under the requesting user, and blocks until the client disconnects. A
// disconnect only detaches the channel; it never cancels in-flight
// jobs, whose terminal events reach whatever sessions remain.
func (s *Server) wsHandler(c *echo.Context) error {
	userID := requestUser(c)

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.CORS.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	ch := &wsChannel{conn: conn}
	sessionID := s.registry.Attach(userID, ch)
	metrics.ActiveSessions.Set(float64(s.registry.ActiveSessions()))
	defer func() {
		s.registry.Detach(sessionID)
		metrics.ActiveSessions.Set(float64(s.registry.ActiveSessions()))
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// Idle liveness beacon.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ch.Send(ctx, models.Envelope{Type: models.EventPing}); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Read loop: the live channel is server-push only; inbound frames are
	// drained and ignored until the peer closes.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return nil
		}
	}
}
