package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fittrack/internal/activity"
	"fittrack/internal/auth"
	"fittrack/internal/config"
	"fittrack/internal/db"
	"fittrack/internal/foreground"
	"fittrack/internal/location"
	"fittrack/internal/outbox"
	"fittrack/internal/stream"
	"fittrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const defaultTrackerID = "device"

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      db.Querier
	Redis   *redis.Client
	Stream  *stream.Hub
	Feed    *location.FeedSource
	Tracker *tracking.Tracker
	Log     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer wires the tracking agent and the activity backend and starts the tracker.
func NewServer(cfg config.Config, pg *pgxpool.Pool, redisClient *redis.Client) *Server {
	if cfg.TrackerID == "" {
		cfg.TrackerID = defaultTrackerID
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
		Feed:   location.NewFeedSource(cfg.LocationPermission),
		Log:    slog.Default().With("component", "server"),
		done:   make(chan struct{}),
	}
	if pg != nil {
		s.DB = pg
	}

	locations := location.NewStream(s.Feed, location.Options{
		Interval:         cfg.FixInterval,
		MinDisplacementM: cfg.MinDisplacementM,
		MaxAccuracyM:     cfg.MaxAccuracyM,
		StaleAfter:       cfg.StaleAfter,
	}, slog.Default().With("component", "location"))

	s.Tracker = tracking.NewTracker(tracking.Deps{
		Locations:   locations,
		Saver:       s.saver(),
		Outbox:      outbox.New(redisClient, outbox.Key(cfg.TrackerID)),
		Foreground:  foreground.NewNotifier(s.Stream, cfg.TrackerID, slog.Default().With("component", "foreground")),
		Publisher:   s.Stream,
		Topic:       cfg.TrackerID,
		SaveTimeout: cfg.SaveTimeout,
		Log:         slog.Default().With("component", "tracker"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		s.Tracker.Run(ctx)
	}()

	registerRoutes(s)
	return s
}

// saver picks the remote backend when configured, else the local activity store.
func (s *Server) saver() activity.Saver {
	if s.Cfg.BackendURL != "" {
		token := s.Cfg.BackendToken
		if token == "" && s.Cfg.JWTSecret != "" {
			signed, err := auth.SignToken(s.Cfg.JWTSecret, s.Cfg.TrackerID, auth.DeviceTokenTTL)
			if err != nil {
				s.Log.Error("backend token signing failed", "action", "backend_token_failed", "error", err.Error())
			}
			token = signed
		}
		return activity.NewClient(s.Cfg.BackendURL, token, s.Cfg.SaveTimeout)
	}
	if s.DB != nil {
		return activity.NewService(s.DB).Saver(s.Cfg.TrackerID)
	}
	s.Log.Warn("no persistence backend, finished sessions will be retained", "action", "saver_missing")
	return nil
}

// snapshot sends new observers of the tracker topic the current state.
func (s *Server) snapshot(topic string) ([]byte, bool) {
	if topic != s.Cfg.TrackerID {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	state, err := s.Tracker.Snapshot(ctx)
	if err != nil {
		return nil, false
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, false
	}
	msg, err := json.Marshal(stream.Envelope{Type: stream.TypeState, Data: data})
	if err != nil {
		return nil, false
	}
	return msg, true
}

// Close stops the tracker, waits for pending saves and stops the redis relay.
func (s *Server) Close() {
	s.cancel()
	<-s.done
	s.Tracker.Wait()
	s.Stream.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), s.Cfg.JWTSecret)
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracker, s.Feed, jwtMiddleware)
	if s.DB != nil {
		activity.RegisterRoutes(s.App.Group("/activities"), activity.NewService(s.DB), jwtMiddleware)
	}
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, s.snapshot)
}
