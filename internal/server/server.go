package server

import (
	"backend-routewars/internal/config"
	"backend-routewars/internal/route"
	"backend-routewars/internal/stream"
	"backend-routewars/internal/territory"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	territorySvc := territory.NewService(s.DB)
	routeSvc := route.NewService(s.DB, s.Stream, territorySvc, s.Cfg.AccuracyCeilingM)
	ingestLimit := IngestLimit(s.Cfg.IngestPerMinute, s.Cfg.IngestBurst)

	route.RegisterRoutes(s.App.Group("/routes"), routeSvc, ingestLimit)
	territory.RegisterRoutes(s.App.Group("/territories"), territorySvc)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
