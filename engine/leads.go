package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"courier/models"
	"courier/utils"

	"gorm.io/gorm"
)

// maxQuizResultLength caps the stored quiz result blob.
const maxQuizResultLength = 5000

// leadProfile carries the optional identity fields of a capture event.
// Empty strings mean "not provided".
type leadProfile struct {
	Name       string
	Source     string
	Funnel     string
	Segment    string
	Metadata   map[string]string
	QuizResult string
	Country    string
}

// leadResolution is the outcome of an upsert-by-email: the stored lead
// plus the tag movement the orchestration needs for trigger matching.
type leadResolution struct {
	Lead            *models.Lead
	IsNew           bool
	ExistingSegment string
	NewSegment      string
	Delta           []string
}

// resolveOrCreateLead upserts the lead identified by the (already
// normalized and validated) email. New leads store the incoming profile
// as-is; existing leads get COALESCE semantics on name/source/funnel/
// segment, a shallow metadata overlay, and a tag merge. tags must
// already be sanitized.
func (e *Engine) resolveOrCreateLead(email string, tags []string, profile leadProfile) (*leadResolution, error) {
	var lead models.Lead
	err := e.DB.Where("email = ?", email).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		res, createErr := e.createLead(email, tags, profile)
		if createErr == nil || !isDuplicateKey(createErr) {
			return res, createErr
		}
		// Lost a concurrent insert race on the unique email index;
		// fall through to the update path against the winner's row.
		if err := e.DB.Where("email = ?", email).First(&lead).Error; err != nil {
			return nil, fmt.Errorf("failed to load lead after insert race: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up lead: %w", err)
	}

	return e.updateLead(&lead, tags, profile)
}

func (e *Engine) createLead(email string, tags []string, profile leadProfile) (*leadResolution, error) {
	segment := e.Tags.SegmentOf(tags)
	if segment == "" && profile.Segment != "" {
		segment = profile.Segment
	}

	lead := models.Lead{
		Email:      email,
		Name:       utils.NilIfEmpty(profile.Name),
		Source:     utils.NilIfEmpty(profile.Source),
		Funnel:     utils.NilIfEmpty(profile.Funnel),
		Segment:    utils.NilIfEmpty(segment),
		Tags:       encodeTags(tags),
		Metadata:   encodeMetadata(profile.Metadata),
		QuizResult: encodeQuizResult(profile.QuizResult),
		IPCountry:  utils.NilIfEmpty(profile.Country),
	}
	if err := e.DB.Create(&lead).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create lead: %w", err)
	}

	e.Logger.Printf("Created lead %d (%s)", lead.ID, lead.Email)

	// Every incoming tag is new for a fresh lead.
	return &leadResolution{
		Lead:       &lead,
		IsNew:      true,
		NewSegment: e.Tags.SegmentOf(tags),
		Delta:      tags,
	}, nil
}

func (e *Engine) updateLead(lead *models.Lead, tags []string, profile leadProfile) (*leadResolution, error) {
	existingTags := lead.TagList()
	merged, existingSegment, newSegment := e.Tags.Merge(existingTags, tags)
	delta := e.Tags.Delta(existingTags, tags)

	segment := newSegment
	if segment == "" {
		segment = profile.Segment
	}

	// Profile fields fill in only when still NULL; a lead's first
	// answer sticks. Tags and metadata always merge.
	updates := map[string]interface{}{
		"name":     gorm.Expr("COALESCE(name, ?)", utils.NilIfEmpty(profile.Name)),
		"source":   gorm.Expr("COALESCE(source, ?)", utils.NilIfEmpty(profile.Source)),
		"funnel":   gorm.Expr("COALESCE(funnel, ?)", utils.NilIfEmpty(profile.Funnel)),
		"segment":  gorm.Expr("COALESCE(segment, ?)", utils.NilIfEmpty(segment)),
		"tags":     encodeTags(merged),
		"metadata": encodeMetadata(overlayMetadata(lead.MetadataMap(), profile.Metadata)),
	}
	if profile.QuizResult != "" {
		updates["quiz_result"] = gorm.Expr("COALESCE(quiz_result, ?)", encodeQuizResult(profile.QuizResult))
	}
	if profile.Country != "" {
		updates["ip_country"] = gorm.Expr("COALESCE(ip_country, ?)", profile.Country)
	}

	if err := e.DB.Model(lead).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update lead: %w", err)
	}
	if err := e.DB.First(lead, lead.ID).Error; err != nil {
		return nil, fmt.Errorf("failed to reload lead: %w", err)
	}

	return &leadResolution{
		Lead:            lead,
		IsNew:           false,
		ExistingSegment: existingSegment,
		NewSegment:      newSegment,
		Delta:           delta,
	}, nil
}

// logTouch appends an audit record for a capture event. Best effort:
// failures are logged, never surfaced.
func (e *Engine) logTouch(leadID uint, source, funnel string) {
	touch := models.Touch{
		LeadID:    leadID,
		Source:    utils.NilIfEmpty(source),
		Funnel:    utils.NilIfEmpty(funnel),
		TouchedAt: time.Now(),
	}
	if err := e.DB.Create(&touch).Error; err != nil {
		e.Logger.Printf("Failed to log touch for lead %d: %v", leadID, err)
		utils.LogError("touch_insert", err, map[string]interface{}{"lead_id": leadID})
	}
}

func encodeTags(tags []string) *string {
	if len(tags) == 0 {
		return nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil
	}
	return utils.Pointer(string(b))
}

func encodeMetadata(meta map[string]string) *string {
	if len(meta) == 0 {
		return nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return utils.Pointer(string(b))
}

func encodeQuizResult(quizResult string) *string {
	if quizResult == "" {
		return nil
	}
	if r := []rune(quizResult); len(r) > maxQuizResultLength {
		quizResult = string(r[:maxQuizResultLength])
	}
	return &quizResult
}

// overlayMetadata merges incoming keys over stored ones. Shallow:
// incoming wins per key, untouched stored keys survive.
func overlayMetadata(stored, incoming map[string]string) map[string]string {
	if len(incoming) == 0 {
		return stored
	}
	merged := make(map[string]string, len(stored)+len(incoming))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// isDuplicateKey recognizes unique-constraint violations across the
// postgres and sqlite drivers.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
