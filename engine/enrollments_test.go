package engine_test

import (
	"testing"
	"time"

	"courier/engine"
	"courier/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollIsIdempotent(t *testing.T) {
	eng, db := newTestEngine(t, engine.Config{})

	list := makeList(t, db, "weekly-digest")
	seq := makeSequence(t, db, list.ID, models.TriggerTag, "father")

	result, err := eng.Subscribe(engine.SubscribeInput{List: "weekly-digest", Email: "jamie@example.com"})
	require.NoError(t, err)

	enrollment, err := eng.Enroll(result.SubscriptionID, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, enrollment.CurrentStep)
	assert.Equal(t, models.EnrollmentActive, enrollment.Status)

	_, err = eng.Enroll(result.SubscriptionID, seq.ID)
	assert.ErrorIs(t, err, engine.ErrDuplicateEnrollment)

	// A cancelled enrollment does not block a fresh one.
	_, err = eng.CancelAllForSubscription(result.SubscriptionID)
	require.NoError(t, err)
	_, err = eng.Enroll(result.SubscriptionID, seq.ID)
	require.NoError(t, err)
}

func TestEnrollInSequenceChecks(t *testing.T) {
	eng, db := newTestEngine(t, engine.Config{})

	list := makeList(t, db, "weekly-digest")
	other := makeList(t, db, "other-list")
	seq := makeSequence(t, db, list.ID, models.TriggerManual, "")
	draft := makeSequence(t, db, list.ID, models.TriggerManual, "")
	require.NoError(t, db.Model(draft).Update("status", models.SequenceDraft).Error)

	onOther, err := eng.Subscribe(engine.SubscribeInput{List: other.Slug, Email: "jamie@example.com"})
	require.NoError(t, err)

	_, err = eng.EnrollInSequence(onOther.SubscriptionID, "missing-sequence")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	var verr *engine.ValidationError
	_, err = eng.EnrollInSequence(onOther.SubscriptionID, draft.ID)
	assert.ErrorAs(t, err, &verr)

	// Subscribed to the wrong list.
	_, err = eng.EnrollInSequence(onOther.SubscriptionID, seq.ID)
	assert.ErrorAs(t, err, &verr)

	onList, err := eng.Subscribe(engine.SubscribeInput{List: list.Slug, Email: "jamie@example.com"})
	require.NoError(t, err)
	_, err = eng.EnrollInSequence(onList.SubscriptionID, seq.ID)
	require.NoError(t, err)
}

func TestCancelBySegment(t *testing.T) {
	eng, db := newTestEngine(t, engine.Config{})

	list := makeList(t, db, "weekly-digest")
	fatherSeq := makeSequence(t, db, list.ID, models.TriggerTag, "father")
	welcome := makeSequence(t, db, list.ID, models.TriggerSubscribe, "")

	result, err := eng.Subscribe(engine.SubscribeInput{List: "weekly-digest", Email: "jamie@example.com"})
	require.NoError(t, err)

	_, err = eng.Enroll(result.SubscriptionID, fatherSeq.ID)
	require.NoError(t, err)
	_, err = eng.Enroll(result.SubscriptionID, welcome.ID)
	require.NoError(t, err)

	t.Run("no-op without a segment change", func(t *testing.T) {
		n, err := eng.CancelBySegment(result.SubscriptionID, list.ID, "", "mother")
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = eng.CancelBySegment(result.SubscriptionID, list.ID, "father", "father")
		require.NoError(t, err)
		assert.Zero(t, n)

		// Segments never auto-clear: an event with no segment leaves the
		// current track alone.
		n, err = eng.CancelBySegment(result.SubscriptionID, list.ID, "father", "")
		require.NoError(t, err)
		assert.Zero(t, n)
		require.Len(t, activeEnrollments(t, db, result.SubscriptionID), 2)
	})

	t.Run("cancels only the old segment's sequences", func(t *testing.T) {
		n, err := eng.CancelBySegment(result.SubscriptionID, list.ID, "father", "mother")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		enrollments := activeEnrollments(t, db, result.SubscriptionID)
		require.Len(t, enrollments, 1)
		assert.Equal(t, welcome.ID, enrollments[0].SequenceID)
	})

	t.Run("second cancellation finds nothing", func(t *testing.T) {
		n, err := eng.CancelBySegment(result.SubscriptionID, list.ID, "father", "mother")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestMatchByTagsOrderAndFilter(t *testing.T) {
	eng, db := newTestEngine(t, engine.Config{})

	list := makeList(t, db, "weekly-digest")
	first := makeSequence(t, db, list.ID, models.TriggerTag, "father")
	second := makeSequence(t, db, list.ID, models.TriggerTag, "father")
	require.NoError(t, db.Model(first).Update("created_at", time.Now().Add(-time.Minute)).Error)
	paused := makeSequence(t, db, list.ID, models.TriggerTag, "mother")
	require.NoError(t, db.Model(paused).Update("status", models.SequencePaused).Error)
	makeSequence(t, db, list.ID, models.TriggerSubscribe, "")

	matched, err := eng.MatchByTags(list.ID, []string{"father", "mother", "buyer"})
	require.NoError(t, err)
	require.Len(t, matched, 2)
	// Creation order breaks the tie between sequences sharing a tag.
	assert.Equal(t, first.ID, matched[0].ID)
	assert.Equal(t, second.ID, matched[1].ID)

	matched, err = eng.MatchByTags(list.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, matched)
}
