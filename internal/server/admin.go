package server

import (
	"cmp"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tiluckdave/prempushp/internal/auth"
	"github.com/tiluckdave/prempushp/internal/counters"
	"github.com/tiluckdave/prempushp/internal/presence"
)

const (
	streamEventPresence  = "presence"
	streamEventHeartbeat = "heartbeat"
)

type loginRequestPayload struct {
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type analyticsResponsePayload struct {
	Views            counters.ViewsCounter    `json:"views"`
	Pages            []counters.PageRecord    `json:"pages"`
	Products         []counters.ProductRecord `json:"products"`
	Traffic          []counters.TrafficRecord `json:"traffic"`
	RealtimeSessions int                      `json:"realtime_sessions"`
}

type presenceEventPayload struct {
	Active           int   `json:"active"`
	TimestampSeconds int64 `json:"ts"`
}

func (h *httpHandler) handleAdminLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest.Error()})
		return
	}
	token, expiresIn, err := h.admin.Login(c.Request.Context(), request.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			h.logger.Warn("admin login rejected", zap.String("client_ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_password"})
			return
		}
		h.logger.Error("failed to issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.admin.CookieName(),
		Value:    token,
		Path:     "/",
		MaxAge:   int(expiresIn),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleAdminLogout(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.admin.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) authorizeAdmin(c *gin.Context) {
	err := h.admin.ValidateRequest(c.Request)
	if err == nil {
		c.Next()
		return
	}
	if errors.Is(err, auth.ErrMissingToken) || errors.Is(err, auth.ErrExpiredToken) {
		h.logger.Info("admin token validation failed", zap.Error(err))
	} else {
		h.logger.Warn("admin token validation failed", zap.Error(err))
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func (h *httpHandler) handleAnalyticsSnapshot(c *gin.Context) {
	snapshot, err := h.counters.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read analytics snapshot", zap.Error(err))
		body := gin.H{"error": "snapshot_failed"}
		var coded codedError
		if errors.As(err, &coded) {
			body["code"] = coded.Code()
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}

	pages := nonNilSlice(snapshot.Pages)
	slices.SortStableFunc(pages, func(a, b counters.PageRecord) int {
		return cmp.Or(cmp.Compare(b.Views, a.Views), cmp.Compare(a.Slug, b.Slug))
	})
	products := nonNilSlice(snapshot.Products)
	slices.SortStableFunc(products, func(a, b counters.ProductRecord) int {
		return cmp.Or(cmp.Compare(b.Views, a.Views), cmp.Compare(a.Slug, b.Slug))
	})
	traffic := nonNilSlice(snapshot.Traffic)
	slices.SortStableFunc(traffic, func(a, b counters.TrafficRecord) int {
		return cmp.Compare(a.Date, b.Date)
	})

	c.JSON(http.StatusOK, analyticsResponsePayload{
		Views:            snapshot.Views,
		Pages:            pages,
		Products:         products,
		Traffic:          traffic,
		RealtimeSessions: h.presence.Active(),
	})
}

// handlePresenceStream pushes the live session count as server-sent events
// until the client disconnects.
func (h *httpHandler) handlePresenceStream(c *gin.Context) {
	if h.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream_unavailable"})
		return
	}
	ctx := c.Request.Context()
	updates, unsubscribe := h.dispatcher.Subscribe(ctx)
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	h.writePresence(c, presence.Update{Active: h.presence.Active(), Timestamp: time.Now().UTC()})

	ticker := time.NewTicker(h.streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			h.writePresence(c, update)
		case tick := <-ticker.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"ts": tick.UTC().Unix()})
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) writePresence(c *gin.Context, update presence.Update) {
	c.SSEvent(streamEventPresence, presenceEventPayload{
		Active:           update.Active,
		TimestampSeconds: update.Timestamp.Unix(),
	})
	c.Writer.Flush()
}

func nonNilSlice[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
