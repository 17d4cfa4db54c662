package controller

import (
	"errors"
	"log"

	"courier/engine"
	"courier/utils"

	"github.com/gofiber/fiber/v2"
)

// SubscribeController serves the public capture endpoints. Everything it
// does goes through the engine.
type SubscribeController struct {
	Engine *engine.Engine
	Logger *log.Logger
}

func NewSubscribeController(eng *engine.Engine, logger *log.Logger) *SubscribeController {
	return &SubscribeController{
		Engine: eng,
		Logger: logger,
	}
}

type subscribeRequest struct {
	List     string            `json:"list"`
	ListID   string            `json:"listId"`
	Email    string            `json:"email" validate:"required"`
	Name     string            `json:"name"`
	Source   string            `json:"source"`
	Funnel   string            `json:"funnel"`
	Segment  string            `json:"segment"`
	Tags     []string          `json:"tags"`
	Metadata map[string]string `json:"metadata"`
}

// Subscribe handles POST /api/subscribe: a list-targeted opt-in.
func (sc *SubscribeController) Subscribe(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	list := req.List
	if list == "" {
		list = req.ListID
	}

	result, err := sc.Engine.Subscribe(engine.SubscribeInput{
		List:     list,
		Email:    req.Email,
		Name:     req.Name,
		Source:   req.Source,
		Funnel:   req.Funnel,
		Segment:  req.Segment,
		Tags:     req.Tags,
		Metadata: req.Metadata,
		Country:  c.Get("CF-IPCountry"),
	})
	if err != nil {
		return sc.respondError(c, "Failed to subscribe", err)
	}

	message := "Already subscribed"
	if result.New {
		message = "Subscribed"
	}
	return c.JSON(fiber.Map{
		"success":         true,
		"message":         message,
		"subscription_id": result.SubscriptionID,
		"new":             result.New,
	})
}

type captureRequest struct {
	Email      string            `json:"email" validate:"required"`
	Name       string            `json:"name"`
	Source     string            `json:"source"`
	Funnel     string            `json:"funnel"`
	Segment    string            `json:"segment"`
	Tags       []string          `json:"tags"`
	Metadata   map[string]string `json:"metadata"`
	QuizResult string            `json:"quiz_result"`
}

// Capture handles POST /api/lead: capture against the default list.
func (sc *SubscribeController) Capture(c *fiber.Ctx) error {
	var req captureRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	result, err := sc.Engine.Capture(engine.CaptureInput{
		Email:      req.Email,
		Name:       req.Name,
		Source:     req.Source,
		Funnel:     req.Funnel,
		Segment:    req.Segment,
		Tags:       req.Tags,
		Metadata:   req.Metadata,
		QuizResult: req.QuizResult,
		Country:    c.Get("CF-IPCountry"),
	})
	if err != nil {
		return sc.respondError(c, "Failed to capture lead", err)
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"lead_id":         result.LeadID,
		"subscription_id": result.SubscriptionID,
		"new":             result.New,
	})
}

func (sc *SubscribeController) respondError(c *fiber.Ctx, message string, err error) error {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, verr.Message, nil)
	}
	if errors.Is(err, engine.ErrNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "List not found", nil)
	}
	sc.Logger.Printf("%s: %v", message, err)
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, message, err)
}
