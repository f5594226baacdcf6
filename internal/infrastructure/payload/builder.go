// Package payload maps tracking events onto the collection API's wire format.
package payload

import (
	"time"

	"github.com/AtRiskMedia/tracker-go/internal/domain/tracking"
)

// ActionType values understood by the collection API.
const (
	ActionIdentify       = "IDENTIFY"
	ActionAddedToOrder   = "ADDED_TO_ORDER"
	ActionOrderCompleted = "ORDER_COMPLETED"
	ActionPageViewed     = "PAGE_VIEWED"
)

// Builder implements tracking.PayloadBuilder. It holds no state beyond its clock.
type Builder struct {
	now func() time.Time
}

// NewBuilder returns a builder stamping payloads with the wall clock.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// NewBuilderWithClock is used where payload timestamps must be fixed.
func NewBuilderWithClock(now func() time.Time) *Builder {
	return &Builder{now: now}
}

var _ tracking.PayloadBuilder = (*Builder)(nil)

func (b *Builder) Identify(identity tracking.Identity, encodedEmail, name string, properties map[string]any) tracking.Payload {
	p := b.base(ActionIdentify, identity)
	p["Email"] = encodedEmail
	p["Name"] = name
	p["Properties"] = copyProperties(properties)
	return p
}

func (b *Builder) AddToOrder(identity tracking.Identity, product *tracking.Product) tracking.Payload {
	p := b.base(ActionAddedToOrder, identity)
	p["Product"] = productFields(product)
	return p
}

func (b *Builder) OrderCompleted(identity tracking.Identity, order *tracking.Order) tracking.Payload {
	p := b.base(ActionOrderCompleted, identity)

	products := make([]map[string]any, 0, len(order.Products))
	for _, product := range order.Products {
		products = append(products, productFields(product))
	}
	p["Order"] = map[string]any{
		"orderId":    order.ID,
		"orderTotal": order.Total,
		"createdAt":  order.CreatedAt.UTC().Format(time.RFC3339),
		"products":   products,
	}
	return p
}

func (b *Builder) PageView(identity tracking.Identity, url string, properties map[string]any) tracking.Payload {
	p := b.base(ActionPageViewed, identity)
	p["Url"] = url
	p["Properties"] = copyProperties(properties)
	return p
}

func (b *Builder) base(action string, identity tracking.Identity) tracking.Payload {
	p := tracking.Payload{
		"ActionType": action,
		"SiteId":     identity.SiteID,
		"ContactId":  identity.UserID,
		"CreatedAt":  b.now().UTC().Format(time.RFC3339),
	}
	if identity.Email != "" {
		p["Email"] = identity.Email
	}
	if identity.CampaignID != "" {
		p["CampaignId"] = identity.CampaignID
	}
	return p
}

// productFields flattens properties into the product map; built-in keys win.
func productFields(product *tracking.Product) map[string]any {
	fields := make(map[string]any, len(product.Properties)+8)
	for k, v := range product.Properties {
		fields[k] = v
	}
	fields["itemCode"] = product.Code
	fields["itemPrice"] = product.Price
	fields["itemUrl"] = product.URL
	fields["itemQuantity"] = product.Quantity
	fields["itemTotalPrice"] = product.Total()
	if product.ID != "" {
		fields["itemId"] = product.ID
	}
	if product.Name != "" {
		fields["itemName"] = product.Name
	}
	if product.Image != "" {
		fields["itemImage"] = product.Image
	}
	return fields
}

func copyProperties(properties map[string]any) map[string]any {
	out := make(map[string]any, len(properties))
	for k, v := range properties {
		out[k] = v
	}
	return out
}
