package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"courier/models"
	"courier/utils"

	"gorm.io/gorm"
)

// Sender delivers one sequence email. Satisfied by utils.Mailer.
type Sender interface {
	Send(to, subject, htmlBody, from string) error
}

// SequenceWorker walks active enrollments and sends the step each one is
// pointing at once it comes due. It never creates or cancels
// enrollments; it only advances and completes them.
type SequenceWorker struct {
	DB     *gorm.DB
	Mailer Sender
	Logger *log.Logger

	Interval time.Duration
}

func NewSequenceWorker(db *gorm.DB, mailer Sender, logger *log.Logger) *SequenceWorker {
	return &SequenceWorker{
		DB:       db,
		Mailer:   mailer,
		Logger:   logger,
		Interval: 1 * time.Minute,
	}
}

func (sw *SequenceWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	startup := time.NewTimer(10 * time.Second)
	defer startup.Stop()
	select {
	case <-ctx.Done():
		sw.Logger.Println("Sequence worker shutting down...")
		return
	case <-startup.C:
	}

	sw.Logger.Println("Sequence worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sequence worker shutting down...")
			return
		case <-ticker.C:
			sw.processDueEnrollments()
		}
	}
}

func (sw *SequenceWorker) processDueEnrollments() {
	// Only active enrollments on active subscriptions of active sequences
	// get mail. Pausing a sequence or unsubscribing freezes delivery
	// without touching the enrollment rows.
	var enrollments []models.SequenceEnrollment
	err := sw.DB.
		Select("sequence_enrollments.*").
		Joins("JOIN subscriptions ON subscriptions.id = sequence_enrollments.subscription_id").
		Joins("JOIN sequences ON sequences.id = sequence_enrollments.sequence_id").
		Where("sequence_enrollments.status = ?", models.EnrollmentActive).
		Where("subscriptions.status = ?", models.SubscriptionActive).
		Where("sequences.status = ?", models.SequenceActive).
		Find(&enrollments).Error
	if err != nil {
		sw.Logger.Printf("Error fetching active enrollments: %v", err)
		return
	}

	for _, enrollment := range enrollments {
		if err := sw.processEnrollment(enrollment); err != nil {
			sw.Logger.Printf("Error processing enrollment %s: %v", enrollment.ID, err)
			utils.LogError("sequence_delivery", err, map[string]interface{}{
				"enrollment_id": enrollment.ID,
			})
		}
	}
}

func (sw *SequenceWorker) processEnrollment(enrollment models.SequenceEnrollment) error {
	var step models.SequenceStep
	err := sw.DB.Where("sequence_id = ? AND position = ?",
		enrollment.SequenceID, enrollment.CurrentStep).First(&step).Error
	if err == gorm.ErrRecordNotFound {
		// Pointer ran past the last step; the sequence is done.
		return sw.completeEnrollment(enrollment)
	}
	if err != nil {
		return fmt.Errorf("failed to load step: %w", err)
	}

	// A paused step holds the pointer until it is resumed or deleted.
	if step.Status != models.StepActive {
		return nil
	}

	now := time.Now()
	if !StepDue(enrollment, step, now) {
		return nil
	}

	var sub models.Subscription
	if err := sw.DB.Preload("Lead").First(&sub, "id = ?", enrollment.SubscriptionID).Error; err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	var seq models.Sequence
	if err := sw.DB.First(&seq, "id = ?", enrollment.SequenceID).Error; err != nil {
		return fmt.Errorf("failed to load sequence: %w", err)
	}
	from := ""
	var list models.List
	if err := sw.DB.First(&list, "id = ?", seq.ListID).Error; err == nil && list.FromEmail != nil {
		from = *list.FromEmail
	}

	if err := sw.Mailer.Send(sub.Lead.Email, step.Subject, step.BodyHTML, from); err != nil {
		return fmt.Errorf("failed to send step %d: %w", step.Position, err)
	}

	// Guarded advance: only moves if nobody else already moved this
	// pointer, so two workers can never double-advance.
	result := sw.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ? AND current_step = ?",
			enrollment.ID, models.EnrollmentActive, enrollment.CurrentStep).
		Updates(map[string]interface{}{
			"current_step": gorm.Expr("current_step + ?", 1),
			"last_sent_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to advance enrollment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		sw.Logger.Printf("Enrollment %s advanced elsewhere, skipping", enrollment.ID)
		return nil
	}

	sw.Logger.Printf("Sent step %d of sequence %s to %s", step.Position, seq.ID, sub.Lead.Email)

	// If that was the last step, close the enrollment out.
	var remaining int64
	err = sw.DB.Model(&models.SequenceStep{}).
		Where("sequence_id = ? AND position = ?", enrollment.SequenceID, enrollment.CurrentStep+1).
		Count(&remaining).Error
	if err != nil {
		return fmt.Errorf("failed to check next step: %w", err)
	}
	if remaining == 0 {
		enrollment.CurrentStep++
		return sw.completeEnrollment(enrollment)
	}
	return nil
}

func (sw *SequenceWorker) completeEnrollment(enrollment models.SequenceEnrollment) error {
	result := sw.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, models.EnrollmentActive).
		Updates(map[string]interface{}{
			"status":       models.EnrollmentCompleted,
			"completed_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete enrollment: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		sw.Logger.Printf("Completed enrollment %s", enrollment.ID)
	}
	return nil
}

// StepDue reports whether the enrollment's current step should send at
// now: the delay since the previous send (or the enrollment) has passed,
// and the optional send_at_time window has been reached today.
func StepDue(enrollment models.SequenceEnrollment, step models.SequenceStep, now time.Time) bool {
	base := enrollment.EnrolledAt
	if enrollment.LastSentAt != nil {
		base = *enrollment.LastSentAt
	}
	due := base.Add(time.Duration(step.DelayMinutes) * time.Minute)
	if now.Before(due) {
		return false
	}

	if step.SendAtTime != nil && *step.SendAtTime != "" {
		if now.Format("15:04") < *step.SendAtTime {
			return false
		}
	}
	return true
}
