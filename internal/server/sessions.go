package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tiluckdave/prempushp/internal/presence"
)

type sessionResponsePayload struct {
	SessionID                string `json:"session_id"`
	HeartbeatIntervalSeconds int64  `json:"heartbeat_interval_s"`
}

func (h *httpHandler) handleSessionBegin(c *gin.Context) {
	id, err := h.presence.Begin(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to begin presence session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_failed"})
		return
	}
	interval := int64((h.sessionTTL / 3).Seconds())
	if interval < 1 {
		interval = 1
	}
	c.JSON(http.StatusCreated, sessionResponsePayload{
		SessionID:                id.String(),
		HeartbeatIntervalSeconds: interval,
	})
}

// handleSessionHeartbeat reports alive=false once the session has expired so
// the client can begin a new one.
func (h *httpHandler) handleSessionHeartbeat(c *gin.Context) {
	id, ok := h.sessionParam(c)
	if !ok {
		return
	}
	alive, err := h.presence.Heartbeat(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("failed to refresh presence session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alive": alive})
}

// handleSessionEnd ignores the request body, so navigator.sendBeacon payloads
// of any content type are accepted.
func (h *httpHandler) handleSessionEnd(c *gin.Context) {
	id, ok := h.sessionParam(c)
	if !ok {
		return
	}
	if err := h.presence.End(c.Request.Context(), id); err != nil {
		h.logger.Error("failed to end presence session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) sessionParam(c *gin.Context) (presence.SessionID, bool) {
	id, err := presence.ParseSessionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session"})
		return "", false
	}
	return id, true
}
