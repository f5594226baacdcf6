// Package handlers provides HTTP handlers for the tracking relay endpoints
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/AtRiskMedia/tracker-go/internal/application/container"
	"github.com/AtRiskMedia/tracker-go/internal/application/services"
	"github.com/AtRiskMedia/tracker-go/internal/domain/tracking"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/cookies"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/transport"
	"github.com/gin-gonic/gin"
)

// InitRequest establishes the visitor for a site.
type InitRequest struct {
	SiteID string `json:"siteId"`
	Force  bool   `json:"force"`
}

// IdentifyRequest attaches an email to the visitor.
type IdentifyRequest struct {
	Email      string         `json:"email"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
}

// OrderRequest reports a completed order with its lines.
type OrderRequest struct {
	Total    float64         `json:"total"`
	Products []tracking.Item `json:"products"`
}

// PageViewRequest reports a page view.
type PageViewRequest struct {
	URL        string         `json:"url"`
	Properties map[string]any `json:"properties"`
}

// CampaignRequest keeps the id raw so non-string values reach validation.
type CampaignRequest struct {
	CampaignID json.RawMessage `json:"campaignId"`
}

// TrackingHandlers serves the relay API. Each request gets a Tracker over the
// request's own cookies.
type TrackingHandlers struct {
	container   *container.Container
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewTrackingHandlers creates tracking handlers with injected dependencies
func NewTrackingHandlers(c *container.Container) *TrackingHandlers {
	return &TrackingHandlers{
		container:   c,
		logger:      c.Logger,
		perfTracker: c.PerfTracker,
	}
}

func (h *TrackingHandlers) tracker(c *gin.Context) *services.Tracker {
	store := cookies.NewRequestStore(c.Writer, c.Request, h.container.CookieOptions)
	return h.container.TrackerFor(store)
}

func (h *TrackingHandlers) begin(c *gin.Context, operation string) *performance.Marker {
	h.logger.HTTP().Debug("Received tracking request", "operation", operation, "method", c.Request.Method, "path", c.Request.URL.Path)
	siteID, _ := c.Cookie(string(tracking.CookieSiteID))
	return h.perfTracker.StartOperation("relay:"+operation, siteID)
}

func (h *TrackingHandlers) finish(marker *performance.Marker, err error) {
	if err != nil {
		marker.SetError(err)
	}
	h.perfTracker.CompleteOperation(marker)
}

// PostInit handles POST /init
func (h *TrackingHandlers) PostInit(c *gin.Context) {
	start := time.Now()
	marker := h.begin(c, "init")

	var req InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.finish(marker, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	identity, err := h.tracker(c).Init(req.SiteID, req.Force)
	h.finish(marker, err)
	if err != nil {
		h.respondError(c, "init", err)
		return
	}

	h.logger.WithSite(logging.ChannelHTTP, identity.SiteID).Info("Visitor initialized",
		"visitorType", identity.VisitorType,
		"duration", time.Since(start))
	c.JSON(http.StatusOK, gin.H{
		"userId":      identity.UserID,
		"siteId":      identity.SiteID,
		"visitorType": identity.VisitorType,
	})
}

// GetIdentity handles GET /identity
func (h *TrackingHandlers) GetIdentity(c *gin.Context) {
	marker := h.begin(c, "identity")
	identity, err := h.tracker(c).Identity()
	h.finish(marker, err)
	if err != nil {
		h.respondError(c, "identity", err)
		return
	}
	c.JSON(http.StatusOK, identity)
}

// PostIdentify handles POST /identify
func (h *TrackingHandlers) PostIdentify(c *gin.Context) {
	marker := h.begin(c, "identify")

	var req IdentifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.finish(marker, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := h.tracker(c).Identify(c.Request.Context(), req.Email, req.Name, req.Properties)
	h.finish(marker, err)
	if err != nil {
		h.respondError(c, "identify", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PostCart handles POST /cart
func (h *TrackingHandlers) PostCart(c *gin.Context) {
	marker := h.begin(c, "cart")

	var item tracking.Item
	if err := c.ShouldBindJSON(&item); err != nil {
		h.finish(marker, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := h.tracker(c).AddToOrder(c.Request.Context(), item)
	h.finish(marker, err)
	if err != nil {
		h.respondError(c, "cart", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PostOrder handles POST /order
func (h *TrackingHandlers) PostOrder(c *gin.Context) {
	marker := h.begin(c, "order")

	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.finish(marker, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	products := make([]*tracking.Product, 0, len(req.Products))
	for _, item := range req.Products {
		product, err := tracking.NewProduct(item)
		if err != nil {
			h.finish(marker, err)
			h.respondError(c, "order", err)
			return
		}
		products = append(products, product)
	}

	tr := h.tracker(c)
	order := tr.CreateOrder(req.Total)
	order.Products = products

	resp, err := tr.OrderCompleted(c.Request.Context(), order)
	h.finish(marker, err)
	if err != nil {
		h.respondError(c, "order", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": order.ID, "response": resp})
}

// PostPageView handles POST /pageview
func (h *TrackingHandlers) PostPageView(c *gin.Context) {
	marker := h.begin(c, "pageview")

	var req PageViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.finish(marker, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := h.tracker(c).PageView(c.Request.Context(), req.URL, req.Properties)
	h.finish(marker, err)
	if err != nil {
		h.respondError(c, "pageview", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PostCampaign handles POST /campaign
func (h *TrackingHandlers) PostCampaign(c *gin.Context) {
	marker := h.begin(c, "campaign")

	var req CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.finish(marker, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var id any
	if len(req.CampaignID) > 0 {
		if err := json.Unmarshal(req.CampaignID, &id); err != nil {
			h.finish(marker, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaignId"})
			return
		}
	}

	err := h.tracker(c).StoreCampaignID(id)
	h.finish(marker, err)
	if err != nil {
		h.respondError(c, "campaign", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetStats handles GET /stats
func (h *TrackingHandlers) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"operations": h.perfTracker.Summaries(),
		"overall":    h.perfTracker.GetOverallStats(),
	})
}

// GetHealth handles GET /health
func (h *TrackingHandlers) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps validation failures to 400, collector rejections to 502
// and everything else to 500.
func (h *TrackingHandlers) respondError(c *gin.Context, operation string, err error) {
	logger := h.logger.WithOperation(logging.ChannelHTTP, operation)
	var statusErr *transport.StatusError
	switch {
	case errors.Is(err, tracking.ErrInvalidArgument):
		logger.Debug("Rejected tracking request", "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &statusErr):
		logger.Warn("Collector rejected event", "status", statusErr.StatusCode)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.logger.LogError(logging.ChannelHTTP, operation, err, "", nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
