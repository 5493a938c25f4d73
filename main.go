package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"mailflare/config"
	"mailflare/middleware"
	"mailflare/routes"
	"mailflare/utils"
	"mailflare/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "MAILFLARE: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Optional redis cache for dashboard stats and the scheduler marker
	config.ConnectCache()

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Wire the dispatch engine: gorm-backed store and ledger, SMTP mailer
	mailer := utils.NewMailer()
	store := utils.NewMailingStore(config.DB)
	ledger := utils.NewAttemptLedger(config.DB)
	dispatcher := utils.NewDispatcher(store, ledger, mailer,
		config.AppConfig.FromEmail,
		log.New(os.Stdout, "DISPATCH: ", log.LstdFlags))

	// Initialize and start the dispatch worker. This is the only place a
	// worker is created, so at most one scheduled pass runs per process.
	dispatchWorker := worker.NewDispatchWorker(dispatcher, config.Cache,
		log.New(os.Stdout, "WORKER: ", log.LstdFlags),
		config.AppConfig.Scheduler.FirstRunDelay,
		config.AppConfig.Scheduler.CheckInterval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatchWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, dispatcher)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
