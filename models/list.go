package models

import "time"

// List statuses
const (
	ListActive   = "active"
	ListArchived = "archived"
)

// List represents a mailing list. Subscribing to an unknown slug creates
// the list on the fly; archived lists stop accepting subscriptions.
type List struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	Name   string `gorm:"not null" json:"name"`
	Slug   string `gorm:"not null;uniqueIndex" json:"slug"`
	Status string `gorm:"not null;default:'active'" json:"status"` // active, archived

	// WelcomeSequenceID points at the sequence newly created subscriptions
	// are enrolled in. Set when a subscribe-triggered sequence activates.
	WelcomeSequenceID *string `gorm:"size:36" json:"welcome_sequence_id"`

	NotifyEmail *string `json:"notify_email"`
	FromEmail   *string `json:"from_email"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Subscriptions []Subscription `gorm:"foreignKey:ListID" json:"subscriptions,omitempty"`
	Sequences     []Sequence     `gorm:"foreignKey:ListID" json:"sequences,omitempty"`
}
