package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/solai17/bytefeed/internal/db"
	"github.com/solai17/bytefeed/internal/engage"
	"github.com/solai17/bytefeed/internal/feed"
	"github.com/solai17/bytefeed/internal/globaltime"
	"github.com/solai17/bytefeed/internal/ingest"
	"github.com/solai17/bytefeed/internal/queue"
)

// userHeader carries the caller identity; authentication happens upstream.
const userHeader = "X-User-ID"

// Ingestor accepts one validated inbound document.
type Ingestor interface {
	IngestDocument(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// QueueDriver exposes the processing queue's operational surface.
type QueueDriver interface {
	ProcessBatch(ctx context.Context) (queue.BatchReport, error)
	Stats(ctx context.Context) (db.QueueStats, error)
	ResetFailed(ctx context.Context) (int64, error)
}

// FeedProvider serves ranked pages and single items.
type FeedProvider interface {
	Page(ctx context.Context, userID string, mode feed.Mode, pageSize int, cursor string) (feed.Page, error)
	Next(ctx context.Context, userID string) (feed.NextItem, error)
}

// Engager records user interactions.
type Engager interface {
	Vote(ctx context.Context, userID, byteUUID string, value int) (engage.VoteResult, error)
	View(ctx context.Context, userID, byteUUID string, dwellTimeMS int64, markRead bool) error
	ToggleSave(ctx context.Context, userID, byteUUID string) (bool, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	ingestor Ingestor
	queue    QueueDriver
	feed     FeedProvider
	engage   Engager
	logger   zerolog.Logger
	opts     Options
}

func NewServer(ingestor Ingestor, queueDriver QueueDriver, feedProvider FeedProvider, engager Engager, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		ingestor: ingestor,
		queue:    queueDriver,
		feed:     feedProvider,
		engage:   engager,
		logger:   logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.ingestor == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("bytefeed server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("bytefeed server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/documents", s.handleIngestDocument)
	api.POST("/queue/process", s.handleProcessBatch)
	api.GET("/queue/stats", s.handleQueueStats)
	api.POST("/queue/reset-failed", s.handleResetFailed)
	api.GET("/feed", s.handleFeedPage)
	api.GET("/feed/next", s.handleFeedNext)
	api.POST("/bytes/:byte_uuid/vote", s.handleVote)
	api.POST("/bytes/:byte_uuid/view", s.handleView)
	api.POST("/bytes/:byte_uuid/save", s.handleToggleSave)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "bytefeed",
		"time":    globaltime.UTC(),
	})
}
