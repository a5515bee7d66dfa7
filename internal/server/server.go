package server

import (
	"context"
	"errors"
	"time"

	"backend-skatespots/internal/audit"
	"backend-skatespots/internal/auth"
	"backend-skatespots/internal/config"
	"backend-skatespots/internal/meetup"
	"backend-skatespots/internal/moderation"
	"backend-skatespots/internal/ratelimit"
	"backend-skatespots/internal/spot"
	"backend-skatespots/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const purgeInterval = 15 * time.Minute

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub

	Auth       *auth.Service
	Spots      *spot.Service
	Moderation *moderation.Service
	Meetups    *meetup.Service
	Audit      *audit.Service
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
	}))

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
		Auth:   auth.NewService(cfg.JWTSecret, cfg.AdminEmail),
	}

	var recorder audit.Recorder = audit.Nop{}
	if db != nil {
		s.Audit = audit.NewService(db)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Audit.EnsureSchema(ctx); err != nil {
			zap.L().Warn("audit schema unavailable", zap.Error(err))
		}
		cancel()
		recorder = s.Audit
	}

	s.Spots = spot.NewService(redisClient, s.Stream)
	s.Moderation = moderation.NewService(redisClient, s.Spots, recorder, s.Stream)
	s.Meetups = meetup.NewService(redisClient, s.Spots, s.Stream, meetup.Options{
		SpotCacheTTL:   cfg.SpotCacheTTL,
		NearbyCacheTTL: cfg.NearbyCacheTTL,
		MaxEntries:     cfg.CacheMaxEntries,
	})
	s.Spots.OnDelete(s.Meetups.DeleteForSpot)

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		if s.Redis != nil {
			if err := s.Redis.Ping(c.Context()).Err(); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "redis": err.Error()})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	ipLimit := ratelimit.NewIPLimiter(s.Cfg.IPRatePerSecond, s.Cfg.IPRateBurst, s.Cfg.CacheMaxEntries).Middleware()
	authMiddleware := auth.JWTMiddleware(s.Auth)
	adminOnly := auth.AdminOnly(s.Auth)

	api := s.App.Group("/api")
	auth.RegisterRoutes(api, s.Auth)
	spot.RegisterRoutes(api, s.Spots, spot.Deps{
		Auth:          s.Auth,
		Limiter:       ratelimit.NewPointLimiter(s.Redis, s.Cfg.PointRateLimit, s.Cfg.PointRateWindow),
		WriteLimit:    ipLimit,
		ImportURL:     s.Cfg.SpotImportURL,
		ImportTimeout: s.Cfg.SpotImportTimeout,
	})
	moderation.RegisterRoutes(api, s.Moderation, s.Auth, ipLimit)
	meetup.RegisterRoutes(api.Group("/meetups"), s.Meetups, s.Auth, ipLimit)
	audit.RegisterRoutes(api.Group("/admin"), s.Audit, authMiddleware, adminOnly)
	stream.RegisterRoutes(api.Group("/stream"), s.Stream)
}

// PurgeLoop deletes expired meetups every interval until ctx is done.
func (s *Server) PurgeLoop(ctx context.Context, interval time.Duration) {
	if s.Redis == nil {
		return
	}
	if interval <= 0 {
		interval = purgeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Meetups.PurgeExpired(ctx)
			if err != nil {
				zap.L().Warn("meetup purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Info("purged expired meetups", zap.Int("count", n))
			}
		}
	}
}

// Close stops the event hub and waits for background meetup cleanups.
func (s *Server) Close() {
	s.Stream.Close()
	s.Meetups.Wait()
}

// errorHandler renders every error as {"error": msg}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		zap.L().Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
