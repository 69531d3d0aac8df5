package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mailtriage/internal/conversation"
	"github.com/mailtriage/internal/slack"
	"github.com/mailtriage/pkg/models"
)

// Transcripts is satisfied by *conversation.Engine
type Transcripts interface {
	Transcript(ctx context.Context, key models.ItemKey) (*conversation.Transcript, error)
}

// Options configures the server
type Options struct {
	Port int
	// SigningSecret enables the Slack Events API endpoint
	SigningSecret string
	// JWTSecret, when set, requires a bearer token on /api/v1
	JWTSecret string
}

// Server represents the API server
type Server struct {
	echo    *echo.Echo
	port    int
	secret  string
	tokens  *TokenService
	jobs    slack.Jobs
	router  *slack.Router
	items   Transcripts
	logger  zerolog.Logger
	started time.Time
}

// NewServer creates a new API server
func NewServer(opts Options, jobs slack.Jobs, items Transcripts, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	logger = logger.With().Str("component", "api").Logger()

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	server := &Server{
		echo:    e,
		port:    opts.Port,
		secret:  opts.SigningSecret,
		jobs:    jobs,
		router:  slack.NewRouter(jobs, logger),
		items:   items,
		logger:  logger,
		started: time.Now(),
	}

	if opts.JWTSecret != "" {
		server.tokens = NewTokenService(opts.JWTSecret)
	}
	server.setupRoutes()

	return server
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.echo
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
			"uptime": time.Since(s.started).Round(time.Second).String(),
		})
	})

	if s.secret != "" {
		s.echo.POST("/slack/events", s.slackEvents)
	}

	v1 := s.echo.Group("/api/v1")
	if s.tokens != nil {
		v1.Use(RequireAuth(s.tokens))
	}
	v1.POST("/fetch", s.enqueueFetch)
	v1.POST("/handle-one", s.enqueueHandleOne)
	v1.POST("/threads/:ts/reply", s.enqueueReply)
	v1.GET("/items/:type/:id", s.getTranscript)
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.port).Msg("API server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}
