package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Lead is the canonical identity for an email address. A lead can hold
// subscriptions on many lists; profile fields are filled once and kept
// (first write wins), tags and metadata are merged on every capture.
type Lead struct {
	gorm.Model
	Email   string  `gorm:"not null;uniqueIndex" json:"email"`
	Name    *string `json:"name"`
	Source  *string `json:"source"`
	Funnel  *string `json:"funnel"`
	Segment *string `json:"segment"`

	// Tags and Metadata are JSON-encoded TEXT, NULL when empty.
	Tags     *string `gorm:"type:text" json:"tags"`
	Metadata *string `gorm:"type:text" json:"metadata"`

	QuizResult *string `gorm:"type:text" json:"quiz_result,omitempty"`
	IPCountry  *string `json:"ip_country,omitempty"`

	// Relations
	Subscriptions []Subscription `gorm:"foreignKey:LeadID" json:"subscriptions,omitempty"`
	Touches       []Touch        `gorm:"foreignKey:LeadID" json:"-"`
}

// TagList decodes the stored tags column. A missing or malformed column
// reads as no tags.
func (l *Lead) TagList() []string {
	if l.Tags == nil || *l.Tags == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(*l.Tags), &tags); err != nil {
		return nil
	}
	return tags
}

// MetadataMap decodes the stored metadata column.
func (l *Lead) MetadataMap() map[string]string {
	if l.Metadata == nil || *l.Metadata == "" {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(*l.Metadata), &meta); err != nil {
		return nil
	}
	return meta
}

// Touch is an append-only audit record of a capture event. It never
// influences engine decisions.
type Touch struct {
	gorm.Model
	LeadID    uint      `gorm:"not null;index" json:"lead_id"`
	Source    *string   `json:"source"`
	Funnel    *string   `json:"funnel"`
	TouchedAt time.Time `gorm:"not null" json:"touched_at"`
}
