package engine

import (
	"errors"
	"fmt"
	"time"

	"courier/models"
	"courier/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// resolveOrCreateSubscription upserts the (lead, list) membership row.
// The bool reports whether the caller should treat the subscription as
// new: true for a freshly created row and for a reactivated
// soft-unsubscribed one, false when the lead was already active on the
// list.
func (e *Engine) resolveOrCreateSubscription(leadID uint, listID, source, funnel string) (*models.Subscription, bool, error) {
	var sub models.Subscription
	err := e.DB.Where("lead_id = ? AND list_id = ?", leadID, listID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sub = models.Subscription{
			ID:           uuid.NewString(),
			LeadID:       leadID,
			ListID:       listID,
			Status:       models.SubscriptionActive,
			Source:       utils.NilIfEmpty(source),
			Funnel:       utils.NilIfEmpty(funnel),
			SubscribedAt: time.Now(),
		}
		if err := e.DB.Create(&sub).Error; err != nil {
			if !isDuplicateKey(err) {
				return nil, false, fmt.Errorf("failed to create subscription: %w", err)
			}
			// Concurrent subscribe won the insert; reuse its row.
			if err := e.DB.Where("lead_id = ? AND list_id = ?", leadID, listID).First(&sub).Error; err != nil {
				return nil, false, fmt.Errorf("failed to load subscription after insert race: %w", err)
			}
			return e.reactivateIfNeeded(&sub)
		}
		e.Logger.Printf("Created subscription %s (lead %d, list %s)", sub.ID, leadID, listID)
		return &sub, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up subscription: %w", err)
	}

	return e.reactivateIfNeeded(&sub)
}

func (e *Engine) reactivateIfNeeded(sub *models.Subscription) (*models.Subscription, bool, error) {
	if sub.Status == models.SubscriptionActive {
		return sub, false, nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":          models.SubscriptionActive,
		"unsubscribed_at": nil,
		"subscribed_at":   now,
	}
	if err := e.DB.Model(sub).Updates(updates).Error; err != nil {
		return nil, false, fmt.Errorf("failed to reactivate subscription: %w", err)
	}
	sub.Status = models.SubscriptionActive
	sub.UnsubscribedAt = nil
	sub.SubscribedAt = now

	e.Logger.Printf("Reactivated subscription %s", sub.ID)
	return sub, true, nil
}

// Unsubscribe soft-deletes the membership: the row survives with its
// history, active enrollments are cancelled, and a later subscribe
// reactivates the same row.
func (e *Engine) Unsubscribe(subscriptionID string) error {
	var sub models.Subscription
	if err := e.DB.First(&sub, "id = ?", subscriptionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to look up subscription: %w", err)
	}

	if _, err := e.CancelAllForSubscription(sub.ID); err != nil {
		e.Logger.Printf("Failed to cancel enrollments for subscription %s: %v", sub.ID, err)
		utils.LogError("unsubscribe_cancel", err, map[string]interface{}{"subscription_id": sub.ID})
	}

	if sub.Status == models.SubscriptionUnsubscribed {
		return nil
	}
	updates := map[string]interface{}{
		"status":          models.SubscriptionUnsubscribed,
		"unsubscribed_at": time.Now(),
	}
	if err := e.DB.Model(&sub).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// DeleteSubscription permanently removes a subscription and its
// enrollment history. When the lead has no other subscriptions left, the
// lead and its touches go too.
func (e *Engine) DeleteSubscription(subscriptionID string) error {
	var sub models.Subscription
	if err := e.DB.First(&sub, "id = ?", subscriptionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to look up subscription: %w", err)
	}

	if err := e.DB.Where("subscription_id = ?", sub.ID).Delete(&models.SequenceEnrollment{}).Error; err != nil {
		return fmt.Errorf("failed to delete enrollments: %w", err)
	}
	if err := e.DB.Delete(&sub).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	var remaining int64
	if err := e.DB.Model(&models.Subscription{}).Where("lead_id = ?", sub.LeadID).Count(&remaining).Error; err != nil {
		return fmt.Errorf("failed to count remaining subscriptions: %w", err)
	}
	if remaining > 0 {
		return nil
	}

	// Last membership gone: remove the lead entirely.
	if err := e.DB.Unscoped().Where("lead_id = ?", sub.LeadID).Delete(&models.Touch{}).Error; err != nil {
		return fmt.Errorf("failed to delete touches: %w", err)
	}
	if err := e.DB.Unscoped().Delete(&models.Lead{}, sub.LeadID).Error; err != nil {
		return fmt.Errorf("failed to delete lead: %w", err)
	}
	e.Logger.Printf("Deleted lead %d with last subscription %s", sub.LeadID, sub.ID)
	return nil
}
