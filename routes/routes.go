package routes

import (
	"log"
	"os"

	controller "mailflare/controllers"
	"mailflare/middleware"
	"mailflare/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"
)

func SetupRoutes(app *fiber.App, db *gorm.DB, dispatcher *utils.Dispatcher) {
	SetupAuthRoutes(app)
	SetupAPIRoutes(app, db, dispatcher)
}

func SetupAuthRoutes(app *fiber.App) {
	authLogger := log.New(os.Stdout, "AUTH: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Auth routes group with logging middleware
	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints (no authentication required)
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Get("/me", controller.GetCurrentUser)

	authLogger.Println("Authentication routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, dispatcher *utils.Dispatcher) {
	mailingController := controller.NewMailingController(db, dispatcher, log.New(os.Stdout, "MAILING: ", log.LstdFlags))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Recipient routes
	recipient := api.Group("/recipients")
	recipient.Post("/", controller.CreateRecipient)
	recipient.Get("/", controller.ListRecipients)
	recipient.Get("/:id", controller.GetRecipient)
	recipient.Put("/:id", controller.UpdateRecipient)
	recipient.Delete("/:id", controller.DeleteRecipient)

	// Message routes
	message := api.Group("/messages")
	message.Post("/", controller.CreateMessage)
	message.Get("/", controller.ListMessages)
	message.Get("/:id", controller.GetMessage)
	message.Put("/:id", controller.UpdateMessage)
	message.Delete("/:id", controller.DeleteMessage)

	// Mailing routes
	mailing := api.Group("/mailings")
	mailing.Post("/", mailingController.CreateMailing)
	mailing.Get("/", mailingController.ListMailings)
	mailing.Get("/:id", mailingController.GetMailing)
	mailing.Put("/:id", mailingController.UpdateMailing)
	mailing.Delete("/:id", mailingController.DeleteMailing)
	mailing.Post("/:id/send", mailingController.SendMailingNow)
	mailing.Get("/:id/attempts", mailingController.ListAttempts)

	// Manager-only kill switch
	mailing.Post("/:id/disable", middleware.ManagerOnly(), mailingController.DisableMailing)
	mailing.Post("/:id/enable", middleware.ManagerOnly(), mailingController.EnableMailing)

	// Dashboard routes
	dashboard := api.Group("/dashboard")
	dashboard.Get("/stats", controller.GetDashboard)
}
