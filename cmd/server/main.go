package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"serialspec/internal/admin"
	"serialspec/internal/auth"
	"serialspec/internal/config"
	"serialspec/internal/demo"
	"serialspec/internal/demo/endpoints"
	"serialspec/internal/engine"
	"serialspec/internal/instrument"
	"serialspec/internal/metadata"
	"serialspec/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("config loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("driver", cfg.Database.Driver),
		zap.String("db", cfg.Database.Name))

	// 3. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// 4. Install the demo school schema, seeding it when configured
	if err := demo.Install(ctx, db, cfg.Demo.Seed, logger); err != nil {
		logger.Fatal("failed to install demo schema", zap.Error(err))
	}

	// 5. Create registry and load metadata
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, db.DB, reg, logger); err != nil {
		logger.Fatal("failed to load metadata", zap.Error(err))
	}

	// 6. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler(logger),
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(instrument.Middleware(logger))

	// 7. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 8. Metadata routes (admin only) and declared endpoints
	var middleware []fiber.Handler
	if cfg.Auth.Enabled {
		middleware = append(middleware, auth.Middleware(cfg.JWTSecret))
		admin.RegisterAdminRoutes(app, admin.NewHandler(reg), middleware...)
	}
	handler := engine.NewHandler(db, reg, cfg.Fetch.MaxDepth, logger, endpoints.All()...)
	engine.RegisterRoutes(app, handler, middleware...)

	// 9. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("starting server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}
