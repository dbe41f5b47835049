package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/roman-kulish/signal-logger/internal/upload"
)

const liveWriteTimeout = 5 * time.Second

// liveUpdate is one message of the live feed
type liveUpdate struct {
	Recording bool                   `json:"recording"`
	SessionID string                 `json:"sessionId,omitempty"`
	Total     int                    `json:"total"`
	Records   []upload.RecordPayload `json:"records"`
}

// GET /api/v1/live
// Streams the latest records of the running session whenever the log grows.
func (s *Server) live(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug(fmt.Sprintf("upgrading live feed: %s", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client never sends data; reading detects when it goes away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	views := s.controller.Log().Subscribe(ctx, s.liveInterval, s.liveTail)
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(liveWriteTimeout))
			return
		case view, ok := <-views:
			if !ok {
				return
			}

			status := s.controller.Status()
			msg := liveUpdate{Recording: status.Recording, Total: view.Total}
			if status.Session != nil {
				msg.SessionID = status.Session.ID
			}
			msg.Records = upload.NewPayload(s.deviceID, msg.SessionID, view.Records).Records

			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err = conn.WriteJSON(msg); err != nil {
				s.logger.Debug(fmt.Sprintf("writing live feed: %s", err.Error()))
				return
			}
		}
	}
}
