package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linguachat-backend/internal/config"
	"linguachat-backend/internal/db"
	"linguachat-backend/internal/handlers"
	applog "linguachat-backend/internal/log"
	"linguachat-backend/internal/mediator"
	"linguachat-backend/internal/models"
	"linguachat-backend/internal/notify"
	"linguachat-backend/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func Run() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	applog.Init(cfg.Env)

	if err := db.InitDB(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.CloseDB()
	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Services
	userService := services.NewUserService(cfg.JWTSecret)
	roomService := services.NewRoomService()
	messageService := services.NewMessageService(cfg.EditWindow, cfg.HistoryDefaultLimit)
	dictService := services.NewDictionaryService(cfg.DictionaryBudget, cfg.DictionaryCacheTTL)

	med := mediator.NewClient(
		cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout,
		cfg.Languages(), cfg.ContextTurns,
		messageService, dictService,
	)

	hub := handlers.NewHub()
	pushClient := notify.NewPushClient(cfg.PushBaseURL, 10*time.Second)
	fanout := notify.NewFanout(roomService, hub, userService, pushClient, cfg.PushBatchSize)

	gateway := handlers.NewGateway(hub, messageService, roomService, med, fanout, cfg.UploadDir)
	audio := handlers.NewAudioIngestor(gateway, roomService, med, cfg.UploadDir, cfg.BaseURL, cfg.AudibleMinConfidence)

	validate := validator.New()

	// Fiber App
	app := fiber.New()

	// Middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New())

	// Ensure upload dir exists and serve uploaded files
	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		log.Warn().Err(err).Msg("failed to create upload dir")
	}
	app.Static("/uploads", cfg.UploadDir)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Routes
	api := app.Group("/api")

	// Public Routes
	api.Post("/register", func(c *fiber.Ctx) error {
		var req models.RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		user, err := userService.Register(c.Context(), req)
		if err != nil {
			if errors.Is(err, services.ErrUserExists) {
				return c.Status(400).JSON(fiber.Map{"error": "username already exists"})
			}
			return c.Status(500).JSON(fiber.Map{"error": "registration failed"})
		}
		return c.Status(201).JSON(user)
	})

	api.Post("/login", func(c *fiber.Ctx) error {
		var req models.LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		res, err := userService.Login(c.Context(), req)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(res)
	})

	// Protected Routes
	protected := api.Group("/")
	protected.Use(handlers.AuthMiddleware(userService))

	protected.Post("/rooms/direct", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		var req models.CreateDirectRoomRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "recipient id required"})
		}

		res, err := roomService.GetOrCreateDirectRoom(c.Context(), userID, req.RecipientID)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to create room"})
		}
		return c.JSON(res)
	})

	protected.Post("/rooms/group", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		var req models.CreateGroupRoomRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}

		res, err := roomService.CreateGroupRoom(c.Context(), userID, req.Name, req.MemberIDs)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to create room"})
		}
		return c.Status(201).JSON(res)
	})

	protected.Get("/rooms", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		rooms, err := roomService.Rooms(c.Context(), userID)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to list rooms"})
		}
		if rooms == nil {
			rooms = []models.Room{}
		}
		return c.JSON(fiber.Map{"rooms": rooms})
	})

	protected.Get("/profile", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		user, err := userService.GetUser(c.Context(), userID)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				return c.Status(404).JSON(fiber.Map{"error": "user not found"})
			}
			return c.Status(500).JSON(fiber.Map{"error": "failed to load profile"})
		}
		return c.JSON(user)
	})

	protected.Delete("/rooms/:room_id", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		err := roomService.DeleteRoom(c.Context(), c.Params("room_id"), userID)
		switch {
		case errors.Is(err, services.ErrNotMember):
			return c.Status(403).JSON(fiber.Map{"error": "not a room member"})
		case errors.Is(err, services.ErrNotOwner):
			return c.Status(403).JSON(fiber.Map{"error": "only an admin can delete a room"})
		case err != nil:
			return c.Status(500).JSON(fiber.Map{"error": "failed to delete room"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	protected.Put("/profile/push-token", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		var req models.PushTokenRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "push token required"})
		}
		if err := userService.SetPushToken(c.Context(), userID, req.PushToken); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to save push token"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	protected.Post("/dictionary", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		var req models.DictionaryEntryRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := dictService.AddEntry(c.Context(), userID, req.Term, req.Meaning); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to save entry"})
		}
		return c.Status(201).JSON(fiber.Map{"status": "ok"})
	})

	protected.Post("/uploads", handlers.UploadMediaHandler(cfg.UploadDir))
	protected.Post("/rooms/audio", audio.SubmitHandler())
	protected.Get("/rooms/:room_id/messages", gateway.HistoryHandler())
	protected.Get("/rooms/:room_id/messages/search", gateway.SearchHandler())
	protected.Post("/messages/:message_id/remediate", gateway.RemediateHandler())

	// WebSocket Route
	// Note: Middleware order matters. AuthMiddleware checks token.
	// WSUpgradeMiddleware checks if it's a WS request.
	app.Use("/ws", handlers.WSUpgradeMiddleware)
	app.Use("/ws", handlers.AuthMiddleware(userService))
	app.Get("/ws", handlers.WebSocketHandler(gateway))

	// Start Server
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	// Graceful Shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c // Block until signal
	log.Info().Msg("gracefully shutting down")
	_ = app.Shutdown()
	log.Info().Msg("server shutdown complete")
}
