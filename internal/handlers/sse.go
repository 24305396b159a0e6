package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/sse"
)

const heartbeatInterval = 15 * time.Second

type SSEHandler struct {
	log *logger.Logger
	hub *sse.Hub
}

func NewSSEHandler(baseLog *logger.Logger, hub *sse.Hub) *SSEHandler {
	return &SSEHandler{log: baseLog.With("handler", "SSEHandler"), hub: hub}
}

// Stream holds the connection open and forwards hub events as SSE frames.
// Events carry ids only; the client re-reads state through GET /state.
func (h *SSEHandler) Stream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		RespondError(c, http.StatusInternalServerError, "streaming_unsupported", fmt.Errorf("response writer does not support flushing"))
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := h.hub.Subscribe()
	defer h.hub.Unsubscribe(client)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-client.Outbound:
			if !open {
				return
			}
			payload, err := json.Marshal(msg.Data)
			if err != nil {
				h.log.Warn("event payload marshal failed", "event", msg.Event, "error", err)
				continue
			}
			fmt.Fprint(c.Writer, sse.FormatEvent(msg, payload))
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, sse.Heartbeat())
			flusher.Flush()
		}
	}
}
