package engine

import (
	"errors"
	"fmt"

	"courier/models"
	"courier/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// resolveOrCreateList finds a list by slug or id, creating it from the
// slug on first sight. Archived lists do not accept subscriptions.
func (e *Engine) resolveOrCreateList(slugOrID string) (*models.List, error) {
	var list models.List
	err := e.DB.Where("slug = ? OR id = ?", slugOrID, slugOrID).First(&list).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		slug := utils.Slugify(slugOrID)
		if slug == "" {
			return nil, newValidationError("list slug is required")
		}
		list = models.List{
			ID:     uuid.NewString(),
			Name:   utils.TitleFromSlug(slug),
			Slug:   slug,
			Status: models.ListActive,
		}
		if err := e.DB.Create(&list).Error; err != nil {
			if !isDuplicateKey(err) {
				return nil, fmt.Errorf("failed to create list: %w", err)
			}
			// Concurrent subscribe created it first.
			if err := e.DB.Where("slug = ?", slug).First(&list).Error; err != nil {
				return nil, fmt.Errorf("failed to load list after insert race: %w", err)
			}
		} else {
			e.Logger.Printf("Created list %s (%s)", list.ID, list.Slug)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up list: %w", err)
	}

	if list.Status != models.ListActive {
		return nil, ErrNotFound
	}
	return &list, nil
}

// findDefaultList resolves the configured capture list. Unlike
// subscribe, capture never creates the list.
func (e *Engine) findDefaultList() (*models.List, error) {
	var list models.List
	err := e.DB.Where("slug = ? AND status = ?", e.defaultListSlug, models.ListActive).First(&list).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up default list: %w", err)
	}
	return &list, nil
}

// MatchByTags returns the active tag-triggered sequences of the list
// whose trigger value appears in tags. Creation order decides when
// several sequences share a trigger tag.
func (e *Engine) MatchByTags(listID string, tags []string) ([]models.Sequence, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	var sequences []models.Sequence
	err := e.DB.
		Where("list_id = ? AND trigger_type = ? AND status = ?",
			listID, models.TriggerTag, models.SequenceActive).
		Order("created_at, id").
		Find(&sequences).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tag sequences: %w", err)
	}

	wanted := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		wanted[t] = struct{}{}
	}

	var matched []models.Sequence
	for _, seq := range sequences {
		if seq.TriggerValue == nil {
			continue
		}
		if _, ok := wanted[*seq.TriggerValue]; ok {
			matched = append(matched, seq)
		}
	}
	return matched, nil
}
