package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"courier/config"
	"courier/models"
	"courier/utils"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sentMail struct {
	To      string
	Subject string
	From    string
}

type fakeSender struct {
	sent []sentMail
	fail bool
}

func (f *fakeSender) Send(to, subject, htmlBody, from string) error {
	if f.fail {
		return fmt.Errorf("smtp unavailable")
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, From: from})
	return nil
}

func newWorkerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))
	return db
}

type fixture struct {
	db         *gorm.DB
	list       models.List
	sequence   models.Sequence
	sub        models.Subscription
	enrollment models.SequenceEnrollment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newWorkerTestDB(t)

	f := &fixture{db: db}
	f.list = models.List{
		ID: uuid.NewString(), Name: "Weekly Digest", Slug: "weekly-digest",
		Status: models.ListActive, FromEmail: utils.Pointer("digest@example.com"),
	}
	require.NoError(t, db.Create(&f.list).Error)

	f.sequence = models.Sequence{
		ID: uuid.NewString(), ListID: f.list.ID, Name: "Welcome",
		Status: models.SequenceActive, TriggerType: models.TriggerSubscribe,
	}
	require.NoError(t, db.Create(&f.sequence).Error)

	lead := models.Lead{Email: "jamie@example.com"}
	require.NoError(t, db.Create(&lead).Error)

	f.sub = models.Subscription{
		ID: uuid.NewString(), LeadID: lead.ID, ListID: f.list.ID,
		Status: models.SubscriptionActive, SubscribedAt: time.Now(),
	}
	require.NoError(t, db.Create(&f.sub).Error)

	f.enrollment = models.SequenceEnrollment{
		ID: uuid.NewString(), SubscriptionID: f.sub.ID, SequenceID: f.sequence.ID,
		CurrentStep: 1, Status: models.EnrollmentActive,
		EnrolledAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(&f.enrollment).Error)
	return f
}

func (f *fixture) addStep(t *testing.T, position, delayMinutes int, status string) models.SequenceStep {
	t.Helper()
	step := models.SequenceStep{
		ID: uuid.NewString(), SequenceID: f.sequence.ID, Position: position,
		Subject: fmt.Sprintf("Step %d", position), BodyHTML: "<p>hello</p>",
		DelayMinutes: delayMinutes, Status: status,
	}
	require.NoError(t, f.db.Create(&step).Error)
	return step
}

func (f *fixture) reloadEnrollment(t *testing.T) models.SequenceEnrollment {
	t.Helper()
	var enrollment models.SequenceEnrollment
	require.NoError(t, f.db.First(&enrollment, "id = ?", f.enrollment.ID).Error)
	return enrollment
}

func newTestWorker(db *gorm.DB, sender Sender) *SequenceWorker {
	return NewSequenceWorker(db, sender, log.New(io.Discard, "", 0))
}

func TestStepDue(t *testing.T) {
	now := time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC)

	enrollment := models.SequenceEnrollment{EnrolledAt: now.Add(-time.Hour)}
	step := models.SequenceStep{DelayMinutes: 30}
	assert.True(t, StepDue(enrollment, step, now))

	step.DelayMinutes = 90
	assert.False(t, StepDue(enrollment, step, now))

	// Once a step was sent, the delay counts from that send.
	enrollment.LastSentAt = utils.Pointer(now.Add(-10 * time.Minute))
	step.DelayMinutes = 30
	assert.False(t, StepDue(enrollment, step, now))
	enrollment.LastSentAt = utils.Pointer(now.Add(-31 * time.Minute))
	assert.True(t, StepDue(enrollment, step, now))

	// send_at_time holds delivery until that time of day.
	step.SendAtTime = utils.Pointer("15:00")
	assert.False(t, StepDue(enrollment, step, now))
	step.SendAtTime = utils.Pointer("14:00")
	assert.True(t, StepDue(enrollment, step, now))
}

func TestWorkerSendsAndAdvances(t *testing.T) {
	f := newFixture(t)
	f.addStep(t, 1, 0, models.StepActive)
	f.addStep(t, 2, 60, models.StepActive)

	sender := &fakeSender{}
	sw := newTestWorker(f.db, sender)
	sw.processDueEnrollments()

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "jamie@example.com", sender.sent[0].To)
	assert.Equal(t, "Step 1", sender.sent[0].Subject)
	assert.Equal(t, "digest@example.com", sender.sent[0].From)

	enrollment := f.reloadEnrollment(t)
	assert.Equal(t, 2, enrollment.CurrentStep)
	assert.Equal(t, models.EnrollmentActive, enrollment.Status)
	require.NotNil(t, enrollment.LastSentAt)

	// Step 2 is 60 minutes out; an immediate second pass sends nothing.
	sw.processDueEnrollments()
	assert.Len(t, sender.sent, 1)
}

func TestWorkerCompletesAfterLastStep(t *testing.T) {
	f := newFixture(t)
	f.addStep(t, 1, 0, models.StepActive)

	sender := &fakeSender{}
	sw := newTestWorker(f.db, sender)
	sw.processDueEnrollments()

	require.Len(t, sender.sent, 1)
	enrollment := f.reloadEnrollment(t)
	assert.Equal(t, models.EnrollmentCompleted, enrollment.Status)
	assert.NotNil(t, enrollment.CompletedAt)

	// Completed enrollments are never picked up again.
	sw.processDueEnrollments()
	assert.Len(t, sender.sent, 1)
}

func TestWorkerSkipsPausedStepsAndInactiveRows(t *testing.T) {
	f := newFixture(t)
	f.addStep(t, 1, 0, models.StepPaused)

	sender := &fakeSender{}
	sw := newTestWorker(f.db, sender)

	// A paused step holds the pointer without sending.
	sw.processDueEnrollments()
	assert.Empty(t, sender.sent)
	assert.Equal(t, 1, f.reloadEnrollment(t).CurrentStep)

	// An unsubscribed member gets nothing even with an active step.
	require.NoError(t, f.db.Model(&models.SequenceStep{}).
		Where("sequence_id = ?", f.sequence.ID).
		Update("status", models.StepActive).Error)
	require.NoError(t, f.db.Model(&models.Subscription{}).
		Where("id = ?", f.sub.ID).
		Update("status", models.SubscriptionUnsubscribed).Error)
	sw.processDueEnrollments()
	assert.Empty(t, sender.sent)

	// Neither does a paused sequence.
	require.NoError(t, f.db.Model(&models.Subscription{}).
		Where("id = ?", f.sub.ID).
		Update("status", models.SubscriptionActive).Error)
	require.NoError(t, f.db.Model(&models.Sequence{}).
		Where("id = ?", f.sequence.ID).
		Update("status", models.SequencePaused).Error)
	sw.processDueEnrollments()
	assert.Empty(t, sender.sent)
}

func TestWorkerLeavesPointerOnSendFailure(t *testing.T) {
	f := newFixture(t)
	f.addStep(t, 1, 0, models.StepActive)

	sender := &fakeSender{fail: true}
	sw := newTestWorker(f.db, sender)
	sw.processDueEnrollments()

	enrollment := f.reloadEnrollment(t)
	assert.Equal(t, 1, enrollment.CurrentStep)
	assert.Nil(t, enrollment.LastSentAt)
	assert.Equal(t, models.EnrollmentActive, enrollment.Status)
}

func TestWorkerCompletesEnrollmentWithNoSteps(t *testing.T) {
	f := newFixture(t)

	sender := &fakeSender{}
	sw := newTestWorker(f.db, sender)
	sw.processDueEnrollments()

	assert.Empty(t, sender.sent)
	assert.Equal(t, models.EnrollmentCompleted, f.reloadEnrollment(t).Status)
}

func TestWorkerStopsDuringStartupDelay(t *testing.T) {
	f := newFixture(t)
	sw := newTestWorker(f.db, &fakeSender{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		sw.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop during the startup delay")
	}
}
