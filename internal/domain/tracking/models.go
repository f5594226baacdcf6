package tracking

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Item is the caller-supplied description of a cart line. Properties is left
// untyped because it usually arrives from decoded JSON and must be checked.
type Item struct {
	Code       string  `json:"code"`
	Price      float64 `json:"price"`
	URL        string  `json:"url"`
	Quantity   int     `json:"quantity"`
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Image      string  `json:"image,omitempty"`
	Properties any     `json:"properties,omitempty"`
}

// Product is a validated cart line.
type Product struct {
	Code       string
	Price      float64
	URL        string
	Quantity   int
	ID         string
	Name       string
	Image      string
	Properties map[string]any
}

// Total is price times quantity.
func (p *Product) Total() float64 {
	return p.Price * float64(p.Quantity)
}

// NewProduct validates item and returns the product built from it.
func NewProduct(item Item) (*Product, error) {
	if strings.TrimSpace(item.Code) == "" {
		return nil, invalid("code", "must not be empty")
	}
	if strings.TrimSpace(item.URL) == "" {
		return nil, invalid("url", "must not be empty")
	}
	if item.Quantity == 0 {
		return nil, invalid("quantity", "must not be zero")
	}
	props, err := NormalizeProperties(item.Properties)
	if err != nil {
		return nil, err
	}

	return &Product{
		Code:       item.Code,
		Price:      item.Price,
		URL:        item.URL,
		Quantity:   item.Quantity,
		ID:         item.ID,
		Name:       item.Name,
		Image:      item.Image,
		Properties: props,
	}, nil
}

// NormalizeProperties accepts nil or a string-keyed mapping and returns a
// copy; any other value is rejected.
func NormalizeProperties(value any) (map[string]any, error) {
	switch props := value.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		out := make(map[string]any, len(props))
		for k, v := range props {
			out[k] = v
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(props))
		for k, v := range props {
			out[k] = v
		}
		return out, nil
	default:
		return nil, invalid("properties", fmt.Sprintf("expected a mapping, got %T", value))
	}
}

// Order is a completed purchase.
type Order struct {
	ID        string
	Total     float64
	CreatedAt time.Time
	Products  []*Product
}

// NewOrder stamps a new order with an id and the current UTC time.
func NewOrder(total float64, products ...*Product) *Order {
	lines := make([]*Product, 0, len(products))
	for _, p := range products {
		if p != nil {
			lines = append(lines, p)
		}
	}
	return &Order{
		ID:        ulid.Make().String(),
		Total:     total,
		CreatedAt: time.Now().UTC(),
		Products:  lines,
	}
}

// Validate reports whether order was produced by NewOrder.
func (o *Order) Validate() error {
	if o == nil {
		return invalid("order", "must not be nil")
	}
	if o.CreatedAt.IsZero() {
		return invalid("order", "not constructed with NewOrder")
	}
	return nil
}
