// Package api provides HTTP handlers and routes for the muxing module.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	streamChunkSize     = 32 * 1024
)

// APIHandler handles HTTP requests for the muxing module
type APIHandler struct {
	service    MuxAPIService
	logger     hclog.Logger
	wsUpgrader websocket.Upgrader
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(service MuxAPIService, logger hclog.Logger) *APIHandler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &APIHandler{
		service: service,
		logger:  logger.Named("api"),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// GetStatus handles GET /api/v1/muxing/status
func (h *APIHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Status())
}

// StartMux handles POST /api/v1/muxing/mux
//
// Request body:
//
//	{
//	  "inputs": ["movie.h264", "", "movie.aac"],  // "" is an absent slot
//	  "subtitles": [{"language": "eng", "path": "movie.srt"}],
//	  "format": "matroska"
//	}
//
// The muxed container is streamed as the response body. Disconnecting stops
// the mux.
func (h *APIHandler) StartMux(c *gin.Context) {
	var req types.MuxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	out, err := h.service.Mux(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer out.Close()

	c.Header("Content-Type", contentType(req.Format))
	c.Header("X-Mux-ID", out.ID())
	c.Status(http.StatusOK)

	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := out.Read(buf)
		if n > 0 {
			if _, err := c.Writer.Write(buf[:n]); err != nil {
				h.logger.Debug("client went away", "mux_id", out.ID(), "error", err)
				return
			}
			c.Writer.Flush()
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				h.logger.Warn("mux output ended with error", "mux_id", out.ID(), "error", readErr)
			}
			return
		}
	}
}

// StopMux handles DELETE /api/v1/muxing/mux/:id
func (h *APIHandler) StopMux(c *gin.Context) {
	if err := h.service.Stop(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": c.Param("id")})
}

// ListProcesses handles GET /api/v1/muxing/processes
func (h *APIHandler) ListProcesses(c *gin.Context) {
	processes := h.service.Processes()
	c.JSON(http.StatusOK, gin.H{
		"processes": processes,
		"count":     len(processes),
	})
}

// GetProcessStats handles GET /api/v1/muxing/processes/:pid/stats
func (h *APIHandler) GetProcessStats(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil || pid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pid"})
		return
	}

	stats, err := h.service.ProcessStats(c.Request.Context(), pid)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListSessions handles GET /api/v1/muxing/sessions?limit=N
func (h *APIHandler) ListSessions(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	sessions, err := h.service.History(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession handles GET /api/v1/muxing/sessions/:id
func (h *APIHandler) GetSession(c *gin.Context) {
	session, err := h.service.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	args, _ := session.GetArgs()
	c.JSON(http.StatusOK, gin.H{
		"session": session,
		"args":    args,
	})
}

// GetStats handles GET /api/v1/muxing/stats
func (h *APIHandler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *APIHandler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		c.Error(err)
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"type":  muxerrors.GetType(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, muxerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, muxerrors.ErrToolUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, muxerrors.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, muxerrors.ErrInvalidInput),
		errors.Is(err, muxerrors.ErrInvalidCommand),
		muxerrors.GetType(err) == muxerrors.ErrorTypeValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func contentType(format string) string {
	switch format {
	case "", "matroska":
		return "video/x-matroska"
	case "webm":
		return "video/webm"
	case "mp4", "ismv":
		return "video/mp4"
	case "mpegts":
		return "video/mp2t"
	case "ogg":
		return "application/ogg"
	}
	return "application/octet-stream"
}
