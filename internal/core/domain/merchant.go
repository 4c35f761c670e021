package domain

import (
	"time"

	"github.com/google/uuid"
)

// MerchantStatus represents the state of a merchant account.
type MerchantStatus string

const (
	MerchantStatusActive      MerchantStatus = "ACTIVE"
	MerchantStatusSuspended   MerchantStatus = "SUSPENDED"
	MerchantStatusDeactivated MerchantStatus = "DEACTIVATED"
)

// Merchant represents a registered merchant in the system.
// WebhookURL/WebhookSecretEnc is the legacy single-URL delivery pair
// kept for merchants that predate per-endpoint registration.
type Merchant struct {
	ID               uuid.UUID      `json:"id"`
	Name             string         `json:"name"`
	WebhookURL       *string        `json:"webhook_url,omitempty"`
	WebhookSecretEnc *string        `json:"-"` // Encrypted, never expose
	Status           MerchantStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// IsActive returns true if the merchant account is active.
func (m *Merchant) IsActive() bool {
	return m.Status == MerchantStatusActive
}

// HasLegacyWebhook returns true if the merchant still carries a
// single-URL webhook configuration.
func (m *Merchant) HasLegacyWebhook() bool {
	return m.WebhookURL != nil && *m.WebhookURL != ""
}
