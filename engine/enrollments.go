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

// Enroll creates an active enrollment at step 1. At most one active
// enrollment may exist per (subscription, sequence); a second attempt
// returns ErrDuplicateEnrollment. The partial unique index backstops the
// pre-check under concurrency.
func (e *Engine) Enroll(subscriptionID, sequenceID string) (*models.SequenceEnrollment, error) {
	var count int64
	err := e.DB.Model(&models.SequenceEnrollment{}).
		Where("subscription_id = ? AND sequence_id = ? AND status = ?",
			subscriptionID, sequenceID, models.EnrollmentActive).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check existing enrollment: %w", err)
	}
	if count > 0 {
		return nil, ErrDuplicateEnrollment
	}

	enrollment := models.SequenceEnrollment{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		SequenceID:     sequenceID,
		CurrentStep:    1,
		Status:         models.EnrollmentActive,
		EnrolledAt:     time.Now(),
	}
	if err := e.DB.Create(&enrollment).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicateEnrollment
		}
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	e.Logger.Printf("Enrolled subscription %s in sequence %s", subscriptionID, sequenceID)
	return &enrollment, nil
}

// EnrollInSequence enrolls a subscription in a sequence after checking
// both exist and the sequence is active. Used by the manual-enroll admin
// path; the orchestration paths match against active sequences already.
func (e *Engine) EnrollInSequence(subscriptionID, sequenceID string) (*models.SequenceEnrollment, error) {
	var seq models.Sequence
	if err := e.DB.First(&seq, "id = ?", sequenceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up sequence: %w", err)
	}
	if seq.Status != models.SequenceActive {
		return nil, newValidationError("sequence is not active")
	}

	var sub models.Subscription
	if err := e.DB.First(&sub, "id = ?", subscriptionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up subscription: %w", err)
	}
	if sub.ListID != seq.ListID {
		return nil, newValidationError("subscription and sequence belong to different lists")
	}

	return e.Enroll(subscriptionID, sequenceID)
}

// enrollByTags enrolls the subscription in every active tag-triggered
// sequence matching the delta tags. Per-sequence failures are logged and
// skipped so one bad sequence cannot block the rest.
func (e *Engine) enrollByTags(subscriptionID, listID string, tags []string) error {
	sequences, err := e.MatchByTags(listID, tags)
	if err != nil {
		return err
	}

	for _, seq := range sequences {
		if _, err := e.Enroll(subscriptionID, seq.ID); err != nil {
			if errors.Is(err, ErrDuplicateEnrollment) {
				continue
			}
			e.Logger.Printf("Failed to enroll subscription %s in sequence %s: %v", subscriptionID, seq.ID, err)
			utils.LogError("tag_enrollment", err, map[string]interface{}{
				"subscription_id": subscriptionID,
				"sequence_id":     seq.ID,
			})
		}
	}
	return nil
}

// CancelBySegment retires the subscription's active enrollments in
// sequences triggered by the superseded segment tag. Callers must run it
// before enrolling into the new segment's sequences, so a lead never
// rides two segment tracks at once. No-op unless the event carries a
// segment that differs from the existing one: segments never auto-clear,
// so an event without a segment tag leaves the current track running.
func (e *Engine) CancelBySegment(subscriptionID, listID, oldSegment, newSegment string) (int64, error) {
	if oldSegment == "" || newSegment == "" || oldSegment == newSegment {
		return 0, nil
	}

	var sequenceIDs []string
	err := e.DB.Model(&models.Sequence{}).
		Where("list_id = ? AND trigger_type = ? AND trigger_value = ?",
			listID, models.TriggerTag, oldSegment).
		Pluck("id", &sequenceIDs).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load superseded sequences: %w", err)
	}
	if len(sequenceIDs) == 0 {
		return 0, nil
	}

	result := e.DB.Model(&models.SequenceEnrollment{}).
		Where("subscription_id = ? AND sequence_id IN ? AND status = ?",
			subscriptionID, sequenceIDs, models.EnrollmentActive).
		Updates(map[string]interface{}{
			"status":       models.EnrollmentCancelled,
			"cancelled_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cancel enrollments: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		e.Logger.Printf("Cancelled %d enrollment(s) for subscription %s (segment %s -> %s)",
			result.RowsAffected, subscriptionID, oldSegment, newSegment)
	}
	return result.RowsAffected, nil
}

// CancelAllForSubscription retires every active enrollment of a
// subscription. Used by unsubscribe.
func (e *Engine) CancelAllForSubscription(subscriptionID string) (int64, error) {
	result := e.DB.Model(&models.SequenceEnrollment{}).
		Where("subscription_id = ? AND status = ?", subscriptionID, models.EnrollmentActive).
		Updates(map[string]interface{}{
			"status":       models.EnrollmentCancelled,
			"cancelled_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cancel enrollments: %w", result.Error)
	}
	return result.RowsAffected, nil
}
