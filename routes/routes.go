package routes

import (
	"log"
	"os"

	controller "courier/controllers"
	"courier/engine"
	"courier/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"
)

// SetupPublicRoutes registers the unauthenticated capture endpoints.
func SetupPublicRoutes(app *fiber.App, eng *engine.Engine) {
	subscribeController := controller.NewSubscribeController(eng, log.New(os.Stdout, "SUBSCRIBE: ", log.LstdFlags))

	requestLogger := logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	})
	captureLimiter := middleware.CaptureRateLimiter()

	// Registered per-route so the limiter never touches /api/v1.
	app.Post("/api/subscribe", requestLogger, captureLimiter, subscribeController.Subscribe)
	app.Post("/api/lead", requestLogger, captureLimiter, subscribeController.Capture)
}

// SetupAdminRoutes registers the bearer-key protected management API.
func SetupAdminRoutes(app *fiber.App, db *gorm.DB, eng *engine.Engine) {
	leadController := controller.NewLeadController(db, log.New(os.Stdout, "LEAD: ", log.LstdFlags))
	listController := controller.NewListController(db, eng, log.New(os.Stdout, "LIST: ", log.LstdFlags))
	sequenceController := controller.NewSequenceController(db, eng, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Lead routes
	lead := api.Group("/leads")
	lead.Get("/", leadController.GetLeads)
	lead.Get("/export", leadController.ExportLeads)
	lead.Get("/:id", leadController.GetLead)

	api.Get("/stats", leadController.GetStats)

	// List routes
	list := api.Group("/lists")
	list.Post("/", listController.CreateList)
	list.Get("/", listController.GetLists)
	list.Get("/:id", listController.GetList)
	list.Put("/:id", listController.UpdateList)
	list.Get("/:id/subscribers", listController.GetSubscribers)
	list.Post("/:id/subscribers", listController.AddSubscriber)
	list.Delete("/:id/subscribers/:subscriptionId", listController.RemoveSubscription)

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.GetSequences)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id", sequenceController.UpdateSequence)
	sequence.Post("/:id/steps", sequenceController.AddStep)
	sequence.Put("/:id/steps/:stepId", sequenceController.UpdateStep)
	sequence.Delete("/:id/steps/:stepId", sequenceController.DeleteStep)
	sequence.Get("/:id/enrollments", sequenceController.GetEnrollments)
	sequence.Post("/:id/enrollments", sequenceController.EnrollSubscriber)
}

func SetupRoutes(app *fiber.App, db *gorm.DB, eng *engine.Engine) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupPublicRoutes(app, eng)
	SetupAdminRoutes(app, db, eng)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	log.Println("Routes initialized successfully")
}
