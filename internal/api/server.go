package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/quotegate/backend/internal/api/handlers"
	"github.com/quotegate/backend/internal/ingestion"
	"github.com/quotegate/backend/internal/metrics"
	"github.com/quotegate/backend/internal/middleware/ratelimit"
	"github.com/quotegate/backend/internal/middleware/security"
	"github.com/quotegate/backend/internal/middleware/validation"
	"github.com/quotegate/backend/internal/query"
	"github.com/quotegate/backend/pkg/config"
	"github.com/quotegate/backend/pkg/logger"
)

// Store is what the HTTP surface reads from the relational store.
type Store interface {
	handlers.ChunkCounter
	handlers.RunReader
}

type Deps struct {
	Engine    *query.Engine
	Processor *ingestion.Processor
	Store     Store
}

// NewServer builds the fiber app with middleware and every route mounted.
func NewServer(cfg config.ServerConfig, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:    cfg.BodyLimit,
	})

	origins := splitOrigins(cfg.AllowOrigins)

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: origins,
		IsDevelopment:  cfg.Development,
	}))

	queryHandler := handlers.NewQueryHandler(deps.Engine)
	documentHandler := handlers.NewDocumentHandler(deps.Processor, deps.Store)
	evalHandler := handlers.NewEvalHandler(deps.Store)
	wsHandler := handlers.NewWebSocketHandler(deps.Engine)

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimitPerMin,
		Logger:               logger.GetLogger(),
	})

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1", limiter.Middleware(), validation.Middleware(validation.Config{
		MaxQueryLength:  cfg.MaxQueryLength,
		MaxDocumentSize: cfg.BodyLimit,
		Logger:          logger.GetLogger(),
	}))

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/route", queryHandler.HandleRoute)

	api.Post("/documents", documentHandler.UploadDocument)
	api.Get("/documents/stats", documentHandler.Stats)

	api.Get("/eval/runs", evalHandler.ListRuns)
	api.Get("/eval/runs/:id", evalHandler.GetRun)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		n, err := deps.Store.CountChunks()
		if err != nil || n == 0 {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not_ready",
				"chunks": n,
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
			"chunks": n,
			"mode":   deps.Engine.Features().Name(),
		})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/query", websocket.New(wsHandler.HandleConnection))

	return app
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" && o != "*" {
			out = append(out, o)
		}
	}
	return out
}
