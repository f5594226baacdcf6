package tracking

import (
	"fmt"

	"github.com/google/uuid"
)

// IsValidUUID reports whether value is 32 hex characters, either bare or in
// the canonical 8-4-4-4-12 hyphen grouping.
func IsValidUUID(value string) bool {
	// uuid.Parse also accepts braced and urn forms; only bare and canonical are allowed here.
	if len(value) != 32 && len(value) != 36 {
		return false
	}
	_, err := uuid.Parse(value)
	return err == nil
}

// ParseCampaignID validates a campaign id arriving as an untyped value.
func ParseCampaignID(value any) (string, error) {
	id, ok := value.(string)
	if !ok {
		return "", invalid("campaignId", fmt.Sprintf("expected string, got %T", value))
	}
	if !IsValidUUID(id) {
		return "", invalid("campaignId", "not a valid UUID")
	}
	return id, nil
}
