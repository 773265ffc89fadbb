package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the muxing API routes.
//
// API Structure:
//
//	/api/v1/muxing
//	├── /status         - Binary availability and activity
//	├── /mux            - Start a mux and stream the result; DELETE /mux/:id stops one
//	├── /processes      - Tracked muxing children and their resource usage
//	├── /sessions       - Recorded mux history
//	├── /stats          - History statistics
//	└── /events         - Live lifecycle events (websocket)
func RegisterRoutes(router *gin.Engine, handler *APIHandler) {
	v1 := router.Group("/api/v1/muxing")
	{
		v1.GET("/status", handler.GetStatus)

		v1.POST("/mux", handler.StartMux)
		v1.DELETE("/mux/:id", handler.StopMux)

		v1.GET("/processes", handler.ListProcesses)
		v1.GET("/processes/:pid/stats", handler.GetProcessStats)

		v1.GET("/sessions", handler.ListSessions)
		v1.GET("/sessions/:id", handler.GetSession)
		v1.GET("/stats", handler.GetStats)

		v1.GET("/events", handler.StreamEvents)
	}
}
