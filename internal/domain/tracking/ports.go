package tracking

import "context"

// Endpoint names a collection endpoint on the remote analytics API.
type Endpoint string

const (
	EndpointIdentify Endpoint = "identify"
	EndpointTrack    Endpoint = "track"
)

// Payload is the wire-format body of a tracking request.
type Payload map[string]any

// Response is whatever the collection endpoint answered with.
type Response map[string]any

// CookieStore persists string values under the tracker's fixed slots.
// Get reports ok=false when the slot holds nothing.
type CookieStore interface {
	Get(name CookieName) (value string, ok bool, err error)
	Set(name CookieName, value string) error
}

type siteIDKey struct{}

// ContextWithSiteID carries the visitor's site id to the transport, which may
// use it to scope request credentials.
func ContextWithSiteID(ctx context.Context, siteID string) context.Context {
	return context.WithValue(ctx, siteIDKey{}, siteID)
}

// SiteIDFromContext returns the site id set by ContextWithSiteID, or "".
func SiteIDFromContext(ctx context.Context) string {
	siteID, _ := ctx.Value(siteIDKey{}).(string)
	return siteID
}

// Transport delivers a payload to an endpoint. It either returns the
// decoded response or fails; there is no partial result.
type Transport interface {
	Post(ctx context.Context, endpoint Endpoint, body Payload) (Response, error)
}

// PayloadBuilder maps validated event data onto the receiving API's field names.
type PayloadBuilder interface {
	Identify(identity Identity, encodedEmail, name string, properties map[string]any) Payload
	AddToOrder(identity Identity, product *Product) Payload
	OrderCompleted(identity Identity, order *Order) Payload
	PageView(identity Identity, url string, properties map[string]any) Payload
}

// PIIEncoder obfuscates personally identifying text. Encode must be
// deterministic.
type PIIEncoder interface {
	Encode(plaintext string) string
}
