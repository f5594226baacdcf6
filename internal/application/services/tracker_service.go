// Package services provides application-level services that orchestrate
// visitor identity and event dispatch over the tracking ports.
package services

import (
	"context"
	"io"
	"log/slog"

	"github.com/AtRiskMedia/tracker-go/internal/domain/tracking"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/security"
)

// Tracker resolves and persists visitor identity through a CookieStore and
// reports events through a Transport. It holds no state of its own beyond
// its collaborators, so one Tracker per cookie store is cheap.
type Tracker struct {
	cookies     tracking.CookieStore
	builder     tracking.PayloadBuilder
	transport   tracking.Transport
	encoder     tracking.PIIEncoder
	newID       func() string
	logger      *slog.Logger
	perfTracker *performance.Tracker
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithEncoder replaces the default base64 email encoder.
func WithEncoder(encoder tracking.PIIEncoder) Option {
	return func(t *Tracker) { t.encoder = encoder }
}

// WithIDGenerator replaces the visitor id generator.
func WithIDGenerator(fn func() string) Option {
	return func(t *Tracker) { t.newID = fn }
}

// WithLogger sets the logger, normally the tracker channel.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithPerfTracker records a marker for every dispatched event.
func WithPerfTracker(perfTracker *performance.Tracker) Option {
	return func(t *Tracker) { t.perfTracker = perfTracker }
}

// NewTracker creates a tracker over the given collaborators.
func NewTracker(cookies tracking.CookieStore, builder tracking.PayloadBuilder, transport tracking.Transport, opts ...Option) *Tracker {
	t := &Tracker{
		cookies:   cookies,
		builder:   builder,
		transport: transport,
		encoder:   security.Base64Encoder{},
		newID:     security.NewVisitorID,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t
}

// Init establishes the visitor identity for siteID. A visitor without a
// USER_ID, or any visitor when force is set, gets a fresh id and is reported
// as new; otherwise the stored id is kept. SITE_ID is written every time.
func (t *Tracker) Init(siteID string, force bool) (tracking.Identity, error) {
	userID, ok, err := t.cookies.Get(tracking.CookieUserID)
	if err != nil {
		return tracking.Identity{}, err
	}

	visitorType := tracking.VisitorReturning
	if !ok || userID == "" || force {
		userID = t.newID()
		if err := t.cookies.Set(tracking.CookieUserID, userID); err != nil {
			return tracking.Identity{}, err
		}
		visitorType = tracking.VisitorNew
	}

	if err := t.cookies.Set(tracking.CookieSiteID, siteID); err != nil {
		return tracking.Identity{}, err
	}

	t.logger.Debug("Visitor initialized",
		"siteId", siteID,
		"userId", logging.MaskID(userID),
		"visitorType", visitorType,
		"forced", force)

	identity, err := t.Identity()
	if err != nil {
		return tracking.Identity{}, err
	}
	identity.VisitorType = visitorType
	return identity, nil
}

// Identity reads every identity slot without writing.
func (t *Tracker) Identity() (tracking.Identity, error) {
	var identity tracking.Identity
	slots := []struct {
		name tracking.CookieName
		dst  *string
	}{
		{tracking.CookieUserID, &identity.UserID},
		{tracking.CookieSiteID, &identity.SiteID},
		{tracking.CookieUserEmail, &identity.Email},
		{tracking.CookieCampaignID, &identity.CampaignID},
	}
	for _, slot := range slots {
		value, ok, err := t.cookies.Get(slot.name)
		if err != nil {
			return tracking.Identity{}, err
		}
		if ok {
			*slot.dst = value
		}
	}
	return identity, nil
}

// Identify attaches an email to the visitor. Only the encoded email is
// stored in USER_EMAIL and sent.
func (t *Tracker) Identify(ctx context.Context, email, name string, properties map[string]any) (tracking.Response, error) {
	encoded := t.encoder.Encode(email)

	identity, err := t.Identity()
	if err != nil {
		return nil, err
	}
	identity.Email = encoded
	body := t.builder.Identify(identity, encoded, name, orEmpty(properties))

	if err := t.cookies.Set(tracking.CookieUserEmail, encoded); err != nil {
		return nil, err
	}
	return t.dispatch(ctx, "identify", identity, tracking.EndpointIdentify, body)
}

// AddToOrder validates item and reports it as a cart addition.
func (t *Tracker) AddToOrder(ctx context.Context, item tracking.Item) (tracking.Response, error) {
	product, err := tracking.NewProduct(item)
	if err != nil {
		return nil, err
	}
	identity, err := t.Identity()
	if err != nil {
		return nil, err
	}
	return t.dispatch(ctx, "add_to_order", identity, tracking.EndpointTrack, t.builder.AddToOrder(identity, product))
}

// OrderCompleted reports a finished order created with CreateOrder or
// tracking.NewOrder.
func (t *Tracker) OrderCompleted(ctx context.Context, order *tracking.Order) (tracking.Response, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	identity, err := t.Identity()
	if err != nil {
		return nil, err
	}
	return t.dispatch(ctx, "order_completed", identity, tracking.EndpointTrack, t.builder.OrderCompleted(identity, order))
}

// CreateOrder builds an order for total. It has no side effects.
func (t *Tracker) CreateOrder(total float64) *tracking.Order {
	return tracking.NewOrder(total)
}

// PageView reports a visit to url.
func (t *Tracker) PageView(ctx context.Context, url string, properties map[string]any) (tracking.Response, error) {
	identity, err := t.Identity()
	if err != nil {
		return nil, err
	}
	return t.dispatch(ctx, "page_view", identity, tracking.EndpointTrack, t.builder.PageView(identity, url, orEmpty(properties)))
}

// StoreCampaignID validates id and persists it to CAMPAIGN_ID. Storing the
// id already held is a no-op.
func (t *Tracker) StoreCampaignID(id any) error {
	campaignID, err := tracking.ParseCampaignID(id)
	if err != nil {
		return err
	}
	current, ok, err := t.cookies.Get(tracking.CookieCampaignID)
	if err != nil {
		return err
	}
	if ok && current == campaignID {
		return nil
	}
	if err := t.cookies.Set(tracking.CookieCampaignID, campaignID); err != nil {
		return err
	}
	t.logger.Debug("Campaign stored", "campaignId", campaignID)
	return nil
}

// IsValidUUID reports whether value is a bare or canonically hyphenated UUID.
func (t *Tracker) IsValidUUID(value string) bool {
	return tracking.IsValidUUID(value)
}

func (t *Tracker) dispatch(ctx context.Context, operation string, identity tracking.Identity, endpoint tracking.Endpoint, body tracking.Payload) (tracking.Response, error) {
	var marker *performance.Marker
	if t.perfTracker != nil {
		marker = t.perfTracker.StartOperation("track:"+operation, identity.SiteID)
		marker.AddMetadata("endpoint", string(endpoint))
		marker.AddMetadata("anonymous", !identity.IsKnown())
		defer t.perfTracker.CompleteOperation(marker)
	}
	if !identity.IsKnown() {
		t.logger.Debug("Dispatching event before Init", "operation", operation, "endpoint", endpoint)
	}

	resp, err := t.transport.Post(tracking.ContextWithSiteID(ctx, identity.SiteID), endpoint, body)
	if err != nil {
		if marker != nil {
			marker.SetError(err)
		}
		t.logger.Warn("Event dispatch failed",
			"operation", operation,
			"endpoint", endpoint,
			"siteId", identity.SiteID,
			"error", err)
		return nil, err
	}
	if marker != nil {
		marker.SetSuccess(true)
	}
	t.logger.Debug("Event dispatched",
		"operation", operation,
		"endpoint", endpoint,
		"siteId", identity.SiteID,
		"userId", logging.MaskID(identity.UserID))
	return resp, nil
}

func orEmpty(properties map[string]any) map[string]any {
	if properties == nil {
		return map[string]any{}
	}
	return properties
}
