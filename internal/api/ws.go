package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"fleetwatch/internal/distributor"
)

const wsWriteTimeout = 5 * time.Second

// wsEnvelope is the frame format pushed to websocket clients.
type wsEnvelope struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// serveWS upgrades the connection and streams hub events. The first frame is
// always a "connected" envelope, followed by the baseline hosts_update the
// hub queues on subscribe, so a client has full state before any deltas.
func (s *Server) serveWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Debug("websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	// Clients only listen; CloseRead cancels the context when they go away.
	ctx := conn.CloseRead(c.Request.Context())

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	hello := wsEnvelope{
		Event:     "connected",
		Data:      gin.H{"version": s.version},
		Timestamp: time.Now().UTC(),
	}
	if err := writeFrame(ctx, conn, hello); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeFrame(ctx, conn, envelopeFor(ev)); err != nil {
				s.log.Debug("websocket write failed: %v", err)
				return
			}
		}
	}
}

func envelopeFor(ev distributor.Event) wsEnvelope {
	env := wsEnvelope{
		Event:     string(ev.Type),
		Timestamp: ev.Timestamp,
	}
	switch {
	case ev.State != nil:
		env.Data = gin.H{"snapshot": ev.State.Snapshot, "alerts": ev.State.Alerts}
	case ev.Alert != nil:
		env.Data = ev.Alert
	}
	return env
}

func writeFrame(ctx context.Context, conn *websocket.Conn, env wsEnvelope) error {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, env)
}
