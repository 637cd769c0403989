package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tiluckdave/prempushp/internal/counters"
	"github.com/tiluckdave/prempushp/internal/identity"
)

const (
	homeSlug           = "home"
	productPathSegment = "products"

	eventSiteView       = "site_view"
	eventPageView       = "page_view"
	eventProductView    = "product_view"
	eventProductEnquiry = "product_enquiry"
	eventTraffic        = "traffic"
	eventRealtime       = "realtime"
)

var errInvalidRequest = errors.New("invalid_request")

type navigateRequestPayload struct {
	Path    string                 `json:"path"`
	Title   string                 `json:"title"`
	Product *productRequestPayload `json:"product"`
}

type productRequestPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type siteViewRequestPayload struct {
	Unique *bool `json:"unique"`
}

type pageViewRequestPayload struct {
	Slug   string `json:"slug"`
	Title  string `json:"title"`
	Unique *bool  `json:"unique"`
}

type productViewRequestPayload struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Unique   *bool  `json:"unique"`
}

type productEnquiryRequestPayload struct {
	Slug string `json:"slug"`
}

type trafficRequestPayload struct {
	PageView     bool  `json:"pageView"`
	ProductView  bool  `json:"productView"`
	EnquiryCount int64 `json:"enquiryCount"`
}

type realtimeRequestPayload struct {
	Delta int64 `json:"delta"`
}

// pageTarget is what a navigation resolves to: either a product page or a
// plain page with a slug.
type pageTarget struct {
	slug      string
	isProduct bool
}

// classifyPath maps a site path to a page slug or a product identifier.
// Product pages are exactly "/products/<id>"; "/products/" is a product page
// with no id, which counts as a site view only.
func classifyPath(path string) pageTarget {
	trimmed := strings.TrimPrefix(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return pageTarget{slug: homeSlug}
	}
	segments := strings.Split(trimmed, "/")
	if len(segments) == 2 && segments[0] == productPathSegment {
		return pageTarget{slug: segments[1], isProduct: true}
	}
	return pageTarget{slug: trimmed}
}

func (h *httpHandler) handleNavigate(c *gin.Context) {
	var request navigateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest.Error()})
		return
	}
	target := classifyPath(request.Path)
	var slug counters.Slug
	if target.slug != "" {
		var err error
		if slug, err = counters.NewSlug(target.slug); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_path"})
			return
		}
	}

	flags := h.identity.FromRequest(c.Request)
	tracker := identity.NewTracker(flags)
	siteUnique := tracker.IsFirstSiteVisitEver()

	title := strings.TrimSpace(request.Title)
	var (
		pageUnique bool
		product    productRequestPayload
	)
	switch {
	case slug == "":
	case target.isProduct:
		pageUnique = tracker.IsFirstProductVisit(slug.String())
		if request.Product != nil {
			product = *request.Product
		}
		if strings.TrimSpace(product.Name) == "" {
			product.Name = firstNonEmpty(title, slug.String())
		}
	default:
		pageUnique = tracker.IsFirstPageVisit(slug.String())
		if title == "" {
			title = slug.String()
		}
	}
	h.flushIdentity(c, flags)

	h.metrics.TrackingEvent(eventSiteView)
	switch {
	case slug == "":
	case target.isProduct:
		h.metrics.TrackingEvent(eventProductView)
	default:
		h.metrics.TrackingEvent(eventPageView)
	}

	h.detach(c, "navigate", func(ctx context.Context) error {
		err := h.counters.TrackSiteView(ctx, siteUnique)
		switch {
		case slug == "":
		case target.isProduct:
			err = errors.Join(err,
				h.counters.TrackProductView(ctx, slug.String(), product.Name, product.Category, pageUnique),
				h.counters.TrackTraffic(ctx, counters.TrafficUpdate{ProductView: true}))
		default:
			err = errors.Join(err,
				h.counters.TrackPageView(ctx, slug.String(), title, pageUnique),
				h.counters.TrackTraffic(ctx, counters.TrafficUpdate{PageView: true}))
		}
		return err
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *httpHandler) handleSiteView(c *gin.Context) {
	var request siteViewRequestPayload
	if err := bindOptionalJSON(c, &request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest.Error()})
		return
	}
	unique := h.resolveUnique(c, request.Unique, func(tracker *identity.Tracker) bool {
		return tracker.IsFirstSiteVisitEver()
	})
	h.metrics.TrackingEvent(eventSiteView)
	h.detach(c, eventSiteView, func(ctx context.Context) error {
		return h.counters.TrackSiteView(ctx, unique)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *httpHandler) handlePageView(c *gin.Context) {
	var request pageViewRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest.Error()})
		return
	}
	slug, err := counters.NewSlug(request.Slug)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug"})
		return
	}
	unique := h.resolveUnique(c, request.Unique, func(tracker *identity.Tracker) bool {
		return tracker.IsFirstPageVisit(slug.String())
	})
	h.metrics.TrackingEvent(eventPageView)
	h.detach(c, eventPageView, func(ctx context.Context) error {
		return h.counters.TrackPageView(ctx, slug.String(), request.Title, unique)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *httpHandler) handleProductView(c *gin.Context) {
	var request productViewRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest.Error()})
		return
	}
	slug, err := counters.NewSlug(request.Slug)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug"})
		return
	}
	unique := h.resolveUnique(c, request.Unique, func(tracker *identity.Tracker) bool {
		return tracker.IsFirstProductVisit(slug.String())
	})
	h.metrics.TrackingEvent(eventProductView)
	h.detach(c, eventProductView, func(ctx context.Context) error {
		return h.counters.TrackProductView(ctx, slug.String(), request.Name, request.Category, unique)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *httpHandler) handleProductEnquiry(c *gin.Context) {
	var request productEnquiryRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest.Error()})
		return
	}
	slug, err := counters.NewSlug(request.Slug)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug"})
		return
	}
	h.metrics.TrackingEvent(eventProductEnquiry)
	h.detach(c, eventProductEnquiry, func(ctx context.Context) error {
		return h.counters.TrackProductEnquiry(ctx, slug.String())
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *httpHandler) handleTraffic(c *gin.Context) {
	var request trafficRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.EnquiryCount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest.Error()})
		return
	}
	update := counters.TrafficUpdate{
		PageView:    request.PageView,
		ProductView: request.ProductView,
		Enquiries:   request.EnquiryCount,
	}
	h.metrics.TrackingEvent(eventTraffic)
	h.detach(c, eventTraffic, func(ctx context.Context) error {
		return h.counters.TrackTraffic(ctx, update)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// handleRealtime applies a raw gauge delta for clients that do not use
// sessions. The write is synchronous so that the caller learns about a
// rejected delta.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	var request realtimeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Delta == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_delta"})
		return
	}
	h.metrics.TrackingEvent(eventRealtime)
	if err := h.counters.AdjustRealtimeUsers(c.Request.Context(), request.Delta); err != nil {
		if errors.Is(err, counters.ErrInvalidDelta) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_delta"})
			return
		}
		h.logger.Warn("tracking write failed", zap.String("operation", eventRealtime), zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

// resolveUnique honours an explicit flag from the client and otherwise asks
// the visit cookie. The cookie is written back before the response.
func (h *httpHandler) resolveUnique(c *gin.Context, explicit *bool, decide func(*identity.Tracker) bool) bool {
	if explicit != nil {
		return *explicit
	}
	flags := h.identity.FromRequest(c.Request)
	unique := decide(identity.NewTracker(flags))
	h.flushIdentity(c, flags)
	return unique
}

func (h *httpHandler) flushIdentity(c *gin.Context, flags *identity.CookieFlags) {
	if err := flags.Flush(c.Writer); err != nil {
		h.logger.Warn("visit cookie write failed", zap.Error(err))
	}
}

// bindOptionalJSON accepts an empty body as the zero value.
func bindOptionalJSON(c *gin.Context, target any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(target)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
