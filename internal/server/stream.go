package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/proofmind/internal/certificates"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const realtimeEventReady = "ready"

// handleEventStream serves committed certificate events as server-sent events.
// The verifier receives every owner's events; other callers receive their own.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	var (
		events  <-chan certificates.Event
		cleanup func()
	)
	if caller == h.certificates.VerifierID() {
		events, cleanup = h.realtime.SubscribeAll(ctx)
	} else {
		events, cleanup = h.realtime.Subscribe(ctx, caller.String())
	}
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(realtimeEventReady, gin.H{"source": realtimeSourceBackend, "caller": caller.String()})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	h.logger.Debug("event stream opened", zap.String("caller_id", caller.String()))
	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp_s": time.Now().UTC().Unix()})
			return true
		case event, open := <-events:
			if !open {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		}
	})
	h.logger.Debug("event stream closed", zap.String("caller_id", caller.String()))
}
