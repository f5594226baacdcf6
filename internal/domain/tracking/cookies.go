// Package tracking defines the visitor tracking domain: identity, cookie
// slots, commerce value objects, and the capabilities the tracker depends on.
package tracking

// CookieName identifies one of the fixed storage slots the tracker reads and writes.
type CookieName string

const (
	CookieSiteID     CookieName = "SITE_ID"
	CookieUserID     CookieName = "USER_ID"
	CookieUserEmail  CookieName = "USER_EMAIL"
	CookieCampaignID CookieName = "CAMPAIGN_ID"
)

// CookieNames returns every slot the tracker may touch.
func CookieNames() []CookieName {
	return []CookieName{CookieSiteID, CookieUserID, CookieUserEmail, CookieCampaignID}
}

// IsKnown reports whether name is one of the tracker's slots.
func (n CookieName) IsKnown() bool {
	for _, known := range CookieNames() {
		if n == known {
			return true
		}
	}
	return false
}

func (n CookieName) String() string { return string(n) }

// VisitorType distinguishes first contact from a visitor seen before.
type VisitorType string

const (
	VisitorNew       VisitorType = "new"
	VisitorReturning VisitorType = "returning"
)

// Identity is the visitor identity resolved from the cookie slots.
type Identity struct {
	UserID      string      `json:"userId"`
	SiteID      string      `json:"siteId"`
	Email       string      `json:"email,omitempty"` // already PII-encoded
	CampaignID  string      `json:"campaignId,omitempty"`
	VisitorType VisitorType `json:"visitorType,omitempty"`
}

// IsKnown reports whether a user id has been issued.
func (i Identity) IsKnown() bool {
	return i.UserID != ""
}
