// Package api serves toxbot's HTTP service API: health, active bridges,
// sentiment stats, bot statistics, on-demand jobs and bot start/stop.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/chat"
	"github.com/zulandar/toxbot/internal/models"
	"gorm.io/gorm"
)

// BridgeService is the slice of the bridge manager the API exposes.
type BridgeService interface {
	Active(ctx context.Context) ([]models.FeedbackBridge, error)
	Sweep(ctx context.Context, now time.Time) (int64, error)
	Now() time.Time
}

// JobRunner runs a scheduled job on demand.
type JobRunner interface {
	Trigger(ctx context.Context, name string) (string, error)
}

// BotService starts and stops the bot connection.
type BotService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
}

// Server is the API HTTP server.
type Server struct {
	db      *gorm.DB
	bridges BridgeService
	jobs    JobRunner
	guilds  chat.GuildCounter
	service BotService
	port    int
	out     io.Writer
	engine  *gin.Engine
}

// ServerOpts holds configuration for the API server.
type ServerOpts struct {
	DB      *gorm.DB
	Bridges BridgeService
	Jobs    JobRunner         // optional; job routes answer 503 without it
	Guilds  chat.GuildCounter // optional; botstats reports guilds as unknown
	Service BotService        // optional; service routes answer 503 without it
	Port    int               // defaults to 8080
	Out     io.Writer
}

// NewServer validates opts and registers every route.
func NewServer(opts ServerOpts) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("api: db is required")
	}
	if opts.Bridges == nil {
		return nil, fmt.Errorf("api: bridge service is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		db:      opts.DB,
		bridges: opts.Bridges,
		jobs:    opts.Jobs,
		guilds:  opts.Guilds,
		service: opts.Service,
		port:    opts.Port,
		out:     opts.Out,
		engine:  engine,
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("api: shutdown")
		}
	}()

	if s.out != nil {
		fmt.Fprintf(s.out, "API listening on http://localhost:%d\n", s.port)
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// requestLogger logs one line per request through zerolog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("api: request")
	}
}
