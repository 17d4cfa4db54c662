package controller

import (
	"errors"
	"log"

	"courier/engine"
	"courier/models"
	"courier/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SequenceController struct {
	DB     *gorm.DB
	Engine *engine.Engine
	Logger *log.Logger
}

func NewSequenceController(db *gorm.DB, eng *engine.Engine, logger *log.Logger) *SequenceController {
	return &SequenceController{
		DB:     db,
		Engine: eng,
		Logger: logger,
	}
}

// CreateSequence creates a draft sequence on a list
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input struct {
		ListID       string `json:"list_id" validate:"required"`
		Name         string `json:"name" validate:"required,max=200"`
		Description  string `json:"description"`
		TriggerType  string `json:"trigger_type" validate:"omitempty,oneof=subscribe tag manual"`
		TriggerValue string `json:"trigger_value" validate:"omitempty,max=30"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	var list models.List
	if err := sc.DB.First(&list, "id = ?", input.ListID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "List not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch list", err)
	}

	triggerType := input.TriggerType
	if triggerType == "" {
		triggerType = models.TriggerSubscribe
	}
	if triggerType == models.TriggerTag && input.TriggerValue == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Tag-triggered sequences need a trigger_value", nil)
	}

	sequence := models.Sequence{
		ID:           uuid.NewString(),
		ListID:       list.ID,
		Name:         input.Name,
		Description:  input.Description,
		Status:       models.SequenceDraft,
		TriggerType:  triggerType,
		TriggerValue: utils.NilIfEmpty(input.TriggerValue),
	}
	if err := sc.DB.Create(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", err)
	}

	sc.Logger.Printf("Created sequence %s on list %s", sequence.ID, list.ID)
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sequence))
}

// GetSequences returns sequences, filterable by list and status
func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	query := sc.DB.Model(&models.Sequence{})
	if listID := c.Query("list_id"); listID != "" {
		query = query.Where("list_id = ?", listID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var sequences []models.Sequence
	if err := query.Order("created_at").Find(&sequences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequences", err)
	}

	type sequenceWithCounts struct {
		models.Sequence
		StepCount         int64 `json:"step_count"`
		ActiveEnrollments int64 `json:"active_enrollments"`
	}
	out := make([]sequenceWithCounts, 0, len(sequences))
	for _, seq := range sequences {
		var steps, active int64
		sc.DB.Model(&models.SequenceStep{}).Where("sequence_id = ?", seq.ID).Count(&steps)
		sc.DB.Model(&models.SequenceEnrollment{}).
			Where("sequence_id = ? AND status = ?", seq.ID, models.EnrollmentActive).
			Count(&active)
		out = append(out, sequenceWithCounts{Sequence: seq, StepCount: steps, ActiveEnrollments: active})
	}

	return c.JSON(utils.SuccessResponse(out))
}

// GetSequence returns one sequence with its steps in order
func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c.Params("id"))
	if err != nil {
		return sc.respondSequenceError(c, err)
	}

	var steps []models.SequenceStep
	if err := sc.DB.Where("sequence_id = ?", sequence.ID).Order("position").Find(&steps).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch steps", err)
	}
	sequence.Steps = steps

	return c.JSON(utils.SuccessResponse(sequence))
}

// UpdateSequence updates sequence settings. Activating a
// subscribe-triggered sequence points the list's welcome sequence at it.
func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c.Params("id"))
	if err != nil {
		return sc.respondSequenceError(c, err)
	}

	var input struct {
		Name         *string `json:"name" validate:"omitempty,max=200"`
		Description  *string `json:"description"`
		Status       *string `json:"status" validate:"omitempty,oneof=draft active paused"`
		TriggerType  *string `json:"trigger_type" validate:"omitempty,oneof=subscribe tag manual"`
		TriggerValue *string `json:"trigger_value" validate:"omitempty,max=30"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	updates := map[string]interface{}{}
	if input.Name != nil {
		updates["name"] = *input.Name
	}
	if input.Description != nil {
		updates["description"] = *input.Description
	}
	if input.Status != nil {
		updates["status"] = *input.Status
	}
	if input.TriggerType != nil {
		updates["trigger_type"] = *input.TriggerType
	}
	if input.TriggerValue != nil {
		updates["trigger_value"] = utils.NilIfEmpty(*input.TriggerValue)
	}
	if len(updates) == 0 {
		return c.JSON(utils.SuccessResponse(sequence))
	}

	if err := sc.DB.Model(sequence).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence", err)
	}
	if err := sc.DB.First(sequence, "id = ?", sequence.ID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reload sequence", err)
	}

	// A newly activated subscribe-triggered sequence becomes the list's
	// welcome sequence.
	if sequence.Status == models.SequenceActive && sequence.TriggerType == models.TriggerSubscribe {
		if err := sc.DB.Model(&models.List{}).
			Where("id = ?", sequence.ListID).
			Update("welcome_sequence_id", sequence.ID).Error; err != nil {
			sc.Logger.Printf("Failed to set welcome sequence on list %s: %v", sequence.ListID, err)
			utils.LogError("welcome_pointer", err, map[string]interface{}{
				"list_id":     sequence.ListID,
				"sequence_id": sequence.ID,
			})
		}
	}

	return c.JSON(utils.SuccessResponse(sequence))
}

// AddStep appends a step to the sequence
func (sc *SequenceController) AddStep(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c.Params("id"))
	if err != nil {
		return sc.respondSequenceError(c, err)
	}

	var input struct {
		Subject      string  `json:"subject" validate:"required,max=300"`
		BodyHTML     string  `json:"body_html" validate:"required"`
		PreviewText  string  `json:"preview_text" validate:"omitempty,max=300"`
		DelayMinutes int     `json:"delay_minutes" validate:"min=0"`
		SendAtTime   *string `json:"send_at_time" validate:"omitempty,len=5"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	var maxPosition int
	row := sc.DB.Model(&models.SequenceStep{}).
		Where("sequence_id = ?", sequence.ID).
		Select("COALESCE(MAX(position), 0)").
		Row()
	if err := row.Scan(&maxPosition); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute step position", err)
	}

	step := models.SequenceStep{
		ID:           uuid.NewString(),
		SequenceID:   sequence.ID,
		Position:     maxPosition + 1,
		Subject:      input.Subject,
		BodyHTML:     input.BodyHTML,
		PreviewText:  utils.NilIfEmpty(input.PreviewText),
		DelayMinutes: input.DelayMinutes,
		SendAtTime:   input.SendAtTime,
		Status:       models.StepActive,
	}
	if err := sc.DB.Create(&step).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create step", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(step))
}

// UpdateStep updates a step's content or scheduling
func (sc *SequenceController) UpdateStep(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c.Params("id"))
	if err != nil {
		return sc.respondSequenceError(c, err)
	}

	var step models.SequenceStep
	if err := sc.DB.First(&step, "id = ? AND sequence_id = ?", c.Params("stepId"), sequence.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Step not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch step", err)
	}

	var input struct {
		Subject      *string `json:"subject" validate:"omitempty,max=300"`
		BodyHTML     *string `json:"body_html"`
		PreviewText  *string `json:"preview_text" validate:"omitempty,max=300"`
		DelayMinutes *int    `json:"delay_minutes" validate:"omitempty,min=0"`
		SendAtTime   *string `json:"send_at_time" validate:"omitempty,len=5"`
		Status       *string `json:"status" validate:"omitempty,oneof=active paused"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	updates := map[string]interface{}{}
	if input.Subject != nil {
		updates["subject"] = *input.Subject
	}
	if input.BodyHTML != nil {
		updates["body_html"] = *input.BodyHTML
	}
	if input.PreviewText != nil {
		updates["preview_text"] = utils.NilIfEmpty(*input.PreviewText)
	}
	if input.DelayMinutes != nil {
		updates["delay_minutes"] = *input.DelayMinutes
	}
	if input.SendAtTime != nil {
		updates["send_at_time"] = utils.NilIfEmpty(*input.SendAtTime)
	}
	if input.Status != nil {
		updates["status"] = *input.Status
	}
	if len(updates) == 0 {
		return c.JSON(utils.SuccessResponse(step))
	}

	if err := sc.DB.Model(&step).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update step", err)
	}
	return c.JSON(utils.SuccessResponse(step))
}

// DeleteStep removes a step and closes the position gap it leaves
func (sc *SequenceController) DeleteStep(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c.Params("id"))
	if err != nil {
		return sc.respondSequenceError(c, err)
	}

	var step models.SequenceStep
	if err := sc.DB.First(&step, "id = ? AND sequence_id = ?", c.Params("stepId"), sequence.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Step not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch step", err)
	}

	err = sc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&step).Error; err != nil {
			return err
		}
		// Keep positions contiguous so enrollment pointers stay meaningful.
		return tx.Model(&models.SequenceStep{}).
			Where("sequence_id = ? AND position > ?", sequence.ID, step.Position).
			Update("position", gorm.Expr("position - 1")).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete step", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": true}))
}

// GetEnrollments lists a sequence's enrollments
func (sc *SequenceController) GetEnrollments(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c.Params("id"))
	if err != nil {
		return sc.respondSequenceError(c, err)
	}

	query := sc.DB.Where("sequence_id = ?", sequence.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var enrollments []models.SequenceEnrollment
	if err := query.Order("enrolled_at DESC").Find(&enrollments).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch enrollments", err)
	}

	return c.JSON(utils.SuccessResponse(enrollments))
}

// EnrollSubscriber manually enrolls an email already subscribed to the
// sequence's list
func (sc *SequenceController) EnrollSubscriber(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c.Params("id"))
	if err != nil {
		return sc.respondSequenceError(c, err)
	}

	var input struct {
		Email string `json:"email" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	email := utils.NormalizeEmail(input.Email)
	var lead models.Lead
	if err := sc.DB.Where("email = ?", email).First(&lead).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead", err)
	}

	var sub models.Subscription
	if err := sc.DB.Where("lead_id = ? AND list_id = ? AND status = ?",
		lead.ID, sequence.ListID, models.SubscriptionActive).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead is not subscribed to this sequence's list", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch subscription", err)
	}

	enrollment, err := sc.Engine.EnrollInSequence(sub.ID, sequence.ID)
	if err != nil {
		if errors.Is(err, engine.ErrDuplicateEnrollment) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Already enrolled in this sequence", nil)
		}
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, verr.Message, nil)
		}
		if errors.Is(err, engine.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence or subscription not found", nil)
		}
		sc.Logger.Printf("Failed to enroll %s in sequence %s: %v", email, sequence.ID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enroll", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(enrollment))
}

func (sc *SequenceController) findSequence(id string) (*models.Sequence, error) {
	var sequence models.Sequence
	if err := sc.DB.First(&sequence, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sequence, nil
}

func (sc *SequenceController) respondSequenceError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequence", err)
}
