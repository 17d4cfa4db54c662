package controller

import (
	"errors"
	"log"
	"strconv"

	"courier/engine"
	"courier/models"
	"courier/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ListController struct {
	DB     *gorm.DB
	Engine *engine.Engine
	Logger *log.Logger
}

func NewListController(db *gorm.DB, eng *engine.Engine, logger *log.Logger) *ListController {
	return &ListController{
		DB:     db,
		Engine: eng,
		Logger: logger,
	}
}

// CreateList creates a new mailing list
func (lc *ListController) CreateList(c *fiber.Ctx) error {
	var input struct {
		Name        string `json:"name" validate:"required,max=200"`
		Slug        string `json:"slug" validate:"omitempty,max=200"`
		NotifyEmail string `json:"notify_email" validate:"omitempty,email"`
		FromEmail   string `json:"from_email" validate:"omitempty,email"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	slug := input.Slug
	if slug == "" {
		slug = input.Name
	}
	slug = utils.Slugify(slug)
	if slug == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Could not derive a slug from the name", nil)
	}

	var existing models.List
	if err := lc.DB.Where("slug = ?", slug).First(&existing).Error; err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "A list with this slug already exists", nil)
	}

	list := models.List{
		ID:          uuid.NewString(),
		Name:        input.Name,
		Slug:        slug,
		Status:      models.ListActive,
		NotifyEmail: utils.NilIfEmpty(input.NotifyEmail),
		FromEmail:   utils.NilIfEmpty(input.FromEmail),
	}
	if err := lc.DB.Create(&list).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create list", err)
	}

	lc.Logger.Printf("Created list %s (%s)", list.ID, list.Slug)
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(list))
}

// GetLists returns all lists with their active subscriber counts
func (lc *ListController) GetLists(c *fiber.Ctx) error {
	var lists []models.List
	if err := lc.DB.Order("created_at").Find(&lists).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lists", err)
	}

	type listWithCount struct {
		models.List
		SubscriberCount int64 `json:"subscriber_count"`
	}
	out := make([]listWithCount, 0, len(lists))
	for _, list := range lists {
		var count int64
		lc.DB.Model(&models.Subscription{}).
			Where("list_id = ? AND status = ?", list.ID, models.SubscriptionActive).
			Count(&count)
		out = append(out, listWithCount{List: list, SubscriberCount: count})
	}

	return c.JSON(utils.SuccessResponse(out))
}

// GetList returns a single list
func (lc *ListController) GetList(c *fiber.Ctx) error {
	list, err := lc.findList(c.Params("id"))
	if err != nil {
		return lc.respondNotFound(c, err)
	}

	var count int64
	lc.DB.Model(&models.Subscription{}).
		Where("list_id = ? AND status = ?", list.ID, models.SubscriptionActive).
		Count(&count)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"list":             list,
		"subscriber_count": count,
	}))
}

// UpdateList updates list settings
func (lc *ListController) UpdateList(c *fiber.Ctx) error {
	list, err := lc.findList(c.Params("id"))
	if err != nil {
		return lc.respondNotFound(c, err)
	}

	var input struct {
		Name              *string `json:"name" validate:"omitempty,max=200"`
		Status            *string `json:"status" validate:"omitempty,oneof=active archived"`
		NotifyEmail       *string `json:"notify_email" validate:"omitempty,email"`
		FromEmail         *string `json:"from_email" validate:"omitempty,email"`
		WelcomeSequenceID *string `json:"welcome_sequence_id"`
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
	if input.Status != nil {
		updates["status"] = *input.Status
	}
	if input.NotifyEmail != nil {
		updates["notify_email"] = utils.NilIfEmpty(*input.NotifyEmail)
	}
	if input.FromEmail != nil {
		updates["from_email"] = utils.NilIfEmpty(*input.FromEmail)
	}
	if input.WelcomeSequenceID != nil {
		if *input.WelcomeSequenceID == "" {
			updates["welcome_sequence_id"] = nil
		} else {
			var seq models.Sequence
			if err := lc.DB.First(&seq, "id = ? AND list_id = ?", *input.WelcomeSequenceID, list.ID).Error; err != nil {
				return utils.ErrorResponse(c, fiber.StatusBadRequest, "Welcome sequence does not belong to this list", nil)
			}
			updates["welcome_sequence_id"] = *input.WelcomeSequenceID
		}
	}
	if len(updates) == 0 {
		return c.JSON(utils.SuccessResponse(list))
	}

	if err := lc.DB.Model(list).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update list", err)
	}
	if err := lc.DB.First(list, "id = ?", list.ID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reload list", err)
	}

	return c.JSON(utils.SuccessResponse(list))
}

// GetSubscribers returns a list's subscribers joined with their leads
func (lc *ListController) GetSubscribers(c *fiber.Ctx) error {
	list, err := lc.findList(c.Params("id"))
	if err != nil {
		return lc.respondNotFound(c, err)
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit > 200 {
		limit = 200
	}
	offset := (page - 1) * limit

	query := lc.DB.Model(&models.Subscription{}).Where("list_id = ?", list.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count subscribers", err)
	}

	var subscriptions []models.Subscription
	if err := query.Preload("Lead").
		Order("subscribed_at DESC").Offset(offset).Limit(limit).
		Find(&subscriptions).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch subscribers", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  subscriptions,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// AddSubscriber subscribes an email to the list through the engine, so
// welcome/tag enrollment behaves exactly like the public endpoint.
func (lc *ListController) AddSubscriber(c *fiber.Ctx) error {
	list, err := lc.findList(c.Params("id"))
	if err != nil {
		return lc.respondNotFound(c, err)
	}

	var input struct {
		Email   string   `json:"email" validate:"required"`
		Name    string   `json:"name"`
		Source  string   `json:"source"`
		Funnel  string   `json:"funnel"`
		Segment string   `json:"segment"`
		Tags    []string `json:"tags"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	source := input.Source
	if source == "" {
		source = "manual"
	}

	result, err := lc.Engine.Subscribe(engine.SubscribeInput{
		List:    list.Slug,
		Email:   input.Email,
		Name:    input.Name,
		Source:  source,
		Funnel:  input.Funnel,
		Segment: input.Segment,
		Tags:    input.Tags,
	})
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, verr.Message, nil)
		}
		lc.Logger.Printf("Failed to add subscriber to list %s: %v", list.ID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to add subscriber", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(result))
}

// RemoveSubscription unsubscribes. Soft by default; ?permanent=true
// deletes the subscription with its enrollment history and removes the
// lead entirely when this was its last list.
func (lc *ListController) RemoveSubscription(c *fiber.Ctx) error {
	id := c.Params("subscriptionId")

	var err error
	if c.QueryBool("permanent") {
		err = lc.Engine.DeleteSubscription(id)
	} else {
		err = lc.Engine.Unsubscribe(id)
	}
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Subscription not found", nil)
		}
		lc.Logger.Printf("Failed to remove subscription %s: %v", id, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to remove subscription", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"removed": true}))
}

func (lc *ListController) findList(idOrSlug string) (*models.List, error) {
	var list models.List
	err := lc.DB.Where("id = ? OR slug = ?", idOrSlug, idOrSlug).First(&list).Error
	if err != nil {
		return nil, err
	}
	return &list, nil
}

func (lc *ListController) respondNotFound(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "List not found", nil)
	}
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch list", err)
}
