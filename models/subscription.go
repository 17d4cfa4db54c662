package models

import "time"

// Subscription statuses
const (
	SubscriptionActive       = "active"
	SubscriptionUnsubscribed = "unsubscribed"
)

// Subscription links a lead to a list. At most one row exists per
// (lead, list); unsubscribing flips the status, resubscribing reuses the
// same row instead of inserting a second one.
type Subscription struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	LeadID uint   `gorm:"not null;uniqueIndex:idx_subscriptions_lead_list" json:"lead_id"`
	ListID string `gorm:"not null;size:36;uniqueIndex:idx_subscriptions_lead_list" json:"list_id"`
	Status string `gorm:"not null;default:'active';index" json:"status"` // active, unsubscribed

	Source *string `json:"source"`
	Funnel *string `json:"funnel"`

	SubscribedAt   time.Time  `gorm:"not null" json:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at"`
	CreatedAt      time.Time  `json:"created_at"`

	// Relations
	Lead        Lead                 `json:"-"`
	Enrollments []SequenceEnrollment `gorm:"foreignKey:SubscriptionID" json:"enrollments,omitempty"`
}
