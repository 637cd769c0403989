package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tiluckdave/prempushp/internal/counters"
	"github.com/tiluckdave/prempushp/internal/forms"
	"github.com/tiluckdave/prempushp/internal/identity"
	"github.com/tiluckdave/prempushp/internal/presence"
)

const (
	defaultDetachedTimeout   = 10 * time.Second
	defaultStreamHeartbeat   = 25 * time.Second
	defaultSessionTTLSeconds = 90
)

var (
	errMissingCounterStore = errors.New("counter store dependency required")
	errMissingPresence     = errors.New("presence tracker dependency required")
	errMissingFormStore    = errors.New("form store dependency required")
	errMissingAdminGate    = errors.New("admin gate dependency required")
)

// CounterStore is the subset of the counter service the HTTP surface drives.
type CounterStore interface {
	TrackSiteView(ctx context.Context, isUnique bool) error
	AdjustRealtimeUsers(ctx context.Context, delta int64) error
	TrackPageView(ctx context.Context, slug, title string, isUnique bool) error
	TrackProductView(ctx context.Context, slug, name, category string, isUnique bool) error
	TrackProductEnquiry(ctx context.Context, slug string) error
	TrackTraffic(ctx context.Context, update counters.TrafficUpdate) error
	Snapshot(ctx context.Context) (counters.Snapshot, error)
}

// PresenceTracker manages live browser sessions.
type PresenceTracker interface {
	Begin(ctx context.Context) (presence.SessionID, error)
	Heartbeat(ctx context.Context, id presence.SessionID) (bool, error)
	End(ctx context.Context, id presence.SessionID) error
	Active() int
}

// FormStore persists site form submissions.
type FormStore interface {
	SubmitContact(ctx context.Context, submission forms.ContactSubmission) (forms.ContactResponse, error)
	SubmitDistributorApplication(ctx context.Context, submission forms.DistributorSubmission) (forms.DistributorApplication, error)
	ListContactResponses(ctx context.Context, limit int) ([]forms.ContactResponse, error)
	ListDistributorApplications(ctx context.Context, limit int) ([]forms.DistributorApplication, error)
}

// AdminGate guards the dashboard routes.
type AdminGate interface {
	Login(ctx context.Context, password string) (string, int64, error)
	ValidateRequest(r *http.Request) error
	CookieName() string
}

// Metrics receives request and event instrumentation.
type Metrics interface {
	TrackingEvent(event string)
	FormSubmitted(form string, ok bool)
	ObserveRequest(method, route string, status int, elapsed time.Duration)
	Handler() http.Handler
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Counters       CounterStore
	Presence       PresenceTracker
	Dispatcher     *presence.Dispatcher
	Forms          FormStore
	Admin          AdminGate
	Identity       *identity.CookieCodec
	Metrics        Metrics
	Logger         *zap.Logger
	AllowedOrigins []string
	SessionTTL     time.Duration
	SecureCookies  bool
	// DetachedTimeout bounds tracking writes that outlive their request.
	DetachedTimeout time.Duration
	// StreamHeartbeat is the idle interval between SSE keep-alive events.
	StreamHeartbeat time.Duration
}

// Server is the HTTP handler plus the bookkeeping of tracking writes that
// were detached from their requests.
type Server struct {
	engine  *gin.Engine
	handler *httpHandler
}

// NewHTTPHandler validates dependencies and builds the router.
func NewHTTPHandler(deps Dependencies) (*Server, error) {
	if deps.Counters == nil {
		return nil, errMissingCounterStore
	}
	if deps.Presence == nil {
		return nil, errMissingPresence
	}
	if deps.Forms == nil {
		return nil, errMissingFormStore
	}
	if deps.Admin == nil {
		return nil, errMissingAdminGate
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics Metrics = noOpMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}

	handler := &httpHandler{
		counters:        deps.Counters,
		presence:        deps.Presence,
		dispatcher:      deps.Dispatcher,
		forms:           deps.Forms,
		admin:           deps.Admin,
		identity:        deps.Identity,
		metrics:         metrics,
		logger:          logger,
		sessionTTL:      positiveOr(deps.SessionTTL, defaultSessionTTLSeconds*time.Second),
		secureCookies:   deps.SecureCookies,
		detachedTimeout: positiveOr(deps.DetachedTimeout, defaultDetachedTimeout),
		streamHeartbeat: positiveOr(deps.StreamHeartbeat, defaultStreamHeartbeat),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.observeRequest)
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	analytics := router.Group("/api/analytics")
	analytics.POST("/navigate", handler.handleNavigate)
	analytics.POST("/site-view", handler.handleSiteView)
	analytics.POST("/page-view", handler.handlePageView)
	analytics.POST("/product-view", handler.handleProductView)
	analytics.POST("/product-enquiry", handler.handleProductEnquiry)
	analytics.POST("/traffic", handler.handleTraffic)
	analytics.POST("/realtime", handler.handleRealtime)
	analytics.POST("/sessions", handler.handleSessionBegin)
	analytics.POST("/sessions/:id/heartbeat", handler.handleSessionHeartbeat)
	analytics.POST("/sessions/:id/end", handler.handleSessionEnd)

	formsGroup := router.Group("/api/forms")
	formsGroup.POST("/contact", handler.handleContactSubmit)
	formsGroup.POST("/distributor", handler.handleDistributorSubmit)

	router.POST("/api/admin/login", handler.handleAdminLogin)
	router.POST("/api/admin/logout", handler.handleAdminLogout)
	admin := router.Group("/api/admin")
	admin.Use(handler.authorizeAdmin)
	admin.GET("/analytics", handler.handleAnalyticsSnapshot)
	admin.GET("/analytics/stream", handler.handlePresenceStream)
	admin.GET("/forms/contact", handler.handleListContacts)
	admin.GET("/forms/distributor", handler.handleListDistributors)

	return &Server{engine: router, handler: handler}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Drain waits for detached tracking writes to finish or for ctx to end.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.handler.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type httpHandler struct {
	counters        CounterStore
	presence        PresenceTracker
	dispatcher      *presence.Dispatcher
	forms           FormStore
	admin           AdminGate
	identity        *identity.CookieCodec
	metrics         Metrics
	logger          *zap.Logger
	sessionTTL      time.Duration
	secureCookies   bool
	detachedTimeout time.Duration
	streamHeartbeat time.Duration
	tasks           sync.WaitGroup
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// Credentials rule out a literal "*", so a wildcard reflects the caller's origin.
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func (h *httpHandler) observeRequest(c *gin.Context) {
	started := time.Now()
	c.Next()
	h.metrics.ObserveRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(started))
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// detach runs a tracking write after the response has been sent. The write
// keeps the request's values but not its cancellation.
func (h *httpHandler) detach(c *gin.Context, operation string, work func(ctx context.Context) error) {
	parent := context.WithoutCancel(c.Request.Context())
	h.tasks.Add(1)
	go func() {
		defer h.tasks.Done()
		ctx, cancel := context.WithTimeout(parent, h.detachedTimeout)
		defer cancel()
		if err := work(ctx); err != nil {
			h.logger.Warn("tracking write failed",
				zap.String("operation", operation),
				zap.Error(err))
		}
	}()
}

func positiveOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

type noOpMetrics struct{}

func (noOpMetrics) TrackingEvent(string)                              {}
func (noOpMetrics) FormSubmitted(string, bool)                        {}
func (noOpMetrics) ObserveRequest(string, string, int, time.Duration) {}
func (noOpMetrics) Handler() http.Handler                             { return http.NotFoundHandler() }
