package models

import "time"

// Sequence statuses
const (
	SequenceDraft  = "draft"
	SequenceActive = "active"
	SequencePaused = "paused"
)

// Sequence trigger types
const (
	TriggerSubscribe = "subscribe"
	TriggerTag       = "tag"
	TriggerManual    = "manual"
)

// SequenceStep statuses
const (
	StepActive = "active"
	StepPaused = "paused"
)

// SequenceEnrollment statuses
const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentCancelled = "cancelled"
)

// Sequence represents an automated email sequence attached to a list.
// Only active sequences accept enrollments.
type Sequence struct {
	ID           string  `gorm:"primaryKey;size:36" json:"id"`
	ListID       string  `gorm:"not null;size:36;index" json:"list_id"`
	Name         string  `gorm:"not null" json:"name"`
	Description  string  `json:"description"`
	Status       string  `gorm:"not null;default:'draft'" json:"status"`           // draft, active, paused
	TriggerType  string  `gorm:"not null;default:'subscribe'" json:"trigger_type"` // subscribe, tag, manual
	TriggerValue *string `json:"trigger_value"`                                    // tag name for tag triggers

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Steps       []SequenceStep       `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Enrollments []SequenceEnrollment `gorm:"foreignKey:SequenceID" json:"enrollments,omitempty"`
}

// SequenceStep is one email in a sequence. Positions are 1-based and
// contiguous within a sequence.
type SequenceStep struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	SequenceID string `gorm:"not null;size:36;uniqueIndex:idx_sequence_steps_position" json:"sequence_id"`
	Position   int    `gorm:"not null;uniqueIndex:idx_sequence_steps_position" json:"position"`

	Subject     string  `gorm:"not null" json:"subject"`
	BodyHTML    string  `gorm:"type:text" json:"body_html"`
	PreviewText *string `json:"preview_text"`

	DelayMinutes int     `gorm:"not null;default:0" json:"delay_minutes"`
	SendAtTime   *string `gorm:"size:5" json:"send_at_time"`              // HH:MM, optional
	Status       string  `gorm:"not null;default:'active'" json:"status"` // active, paused

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SequenceEnrollment tracks a subscription's progress through a sequence.
// At most one active enrollment exists per (subscription, sequence); the
// store enforces it with a partial unique index.
type SequenceEnrollment struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	SubscriptionID string `gorm:"not null;size:36;index" json:"subscription_id"`
	SequenceID     string `gorm:"not null;size:36;index" json:"sequence_id"`

	CurrentStep int    `gorm:"not null;default:1" json:"current_step"`
	Status      string `gorm:"not null;default:'active';index" json:"status"` // active, completed, cancelled

	EnrolledAt  time.Time  `gorm:"not null" json:"enrolled_at"`
	LastSentAt  *time.Time `json:"last_sent_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CancelledAt *time.Time `json:"cancelled_at"`
	CreatedAt   time.Time  `json:"created_at"`
}
