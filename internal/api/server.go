package api

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/Luna-leo/seriesd/internal/logger"
)

var startTime = time.Now()

// Server is the HTTP surface of seriesd.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	host   string
	port   int
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	BodyLimit       int64
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8100,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		BodyLimit:       512 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewServer creates the Fiber app with the shared middleware stack.
func NewServer(config *ServerConfig, logger zerolog.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	app := fiber.New(fiber.Config{
		AppName:               "seriesd",
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		IdleTimeout:           config.IdleTimeout,
		BodyLimit:             int(config.BodyLimit),
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		// Uploads may arrive gzip-compressed; handlers decompress
		// themselves, so the body must reach them untouched.
		DisablePreParseMultipartForm: true,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Content-Encoding",
	}))
	app.Use(requestLogger(logger))

	return &Server{
		app:    app,
		logger: logger.With().Str("component", "api-server").Logger(),
		host:   config.Host,
		port:   config.Port,
	}
}

// RegisterRoutes registers the routes the server itself owns; dataset,
// query and cache handlers register theirs on the app.
func (s *Server) RegisterRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/ready", s.readyHandler)
	s.app.Get("/api/v1/logs", s.logsHandler)
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	uptime := time.Since(startTime)
	return c.JSON(fiber.Map{
		"status":     "ok",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"uptime":     uptime.String(),
		"uptime_sec": uptime.Seconds(),
	})
}

func (s *Server) readyHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "ready",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"uptime_sec": time.Since(startTime).Seconds(),
	})
}

// logsHandler returns recent application log entries from the in-memory
// ring.
func (s *Server) logsHandler(c *fiber.Ctx) error {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	level := c.Query("level")

	entries := logger.GetRing().Recent(limit, level)
	return c.JSON(fiber.Map{
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"count":        len(entries),
		"limit":        limit,
		"level_filter": level,
		"logs":         entries,
	})
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.logger.Info().
		Str("host", s.host).
		Int("port", s.port).
		Msg("Starting HTTP server")

	go func() {
		addr := fmt.Sprintf("%s:%d", s.host, s.port)
		if err := s.app.Listen(addr); err != nil {
			s.logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info().Msg("Shutting down server gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("Server stopped")
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then shuts down.
func (s *Server) WaitForShutdown(shutdownTimeout time.Duration) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	s.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	if err := s.Shutdown(shutdownTimeout); err != nil {
		s.logger.Error().Err(err).Msg("Shutdown error")
	}
}

// GetApp returns the underlying Fiber app for handler registration.
func (s *Server) GetApp() *fiber.App {
	return s.app
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("Request error")

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

// requestLogger logs failed requests only.
func requestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if status >= 400 {
			logEvent := logger.Warn()
			if status >= 500 {
				logEvent = logger.Error()
			}
			logEvent.
				Str("method", c.Method()).
				Str("path", c.Path()).
				Int("status", status).
				Dur("duration_ms", time.Since(start)).
				Str("ip", c.IP()).
				Msg("HTTP request error")
		}
		return err
	}
}
