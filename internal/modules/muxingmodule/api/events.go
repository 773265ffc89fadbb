package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/events"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// StreamEvents handles GET /api/v1/muxing/events
//
// Upgrades to a websocket and sends every mux lifecycle event as JSON.
// Events are dropped for clients that cannot keep up.
func (h *APIHandler) StreamEvents(c *gin.Context) {
	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	queue := make(chan events.MuxEvent, eventBuffer)
	unsubscribe := h.service.Subscribe(func(e events.MuxEvent) error {
		select {
		case queue <- e:
		default:
			h.logger.Debug("dropping event for slow websocket client", "type", e.Type, "mux_id", e.MuxID)
		}
		return nil
	})
	defer unsubscribe()

	// The read loop only detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case e := <-queue:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
