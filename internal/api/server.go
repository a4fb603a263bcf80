package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"vidflow/internal/config"
	"vidflow/internal/daemon"
	"vidflow/internal/logging"
	"vidflow/internal/manifest"
	"vidflow/internal/notifications"
	"vidflow/internal/services"
	"vidflow/internal/stage"
	"vidflow/internal/workflow"
)

// Backend is the flow surface the HTTP handlers call. *daemon.Daemon
// satisfies it.
type Backend interface {
	CreateFlow(ctx context.Context, url string, opts stage.Options) (workflow.FlowTicket, error)
	GetFlow(ctx context.Context, taskID string) (workflow.FlowView, error)
	ListFlows(ctx context.Context) ([]workflow.FlowView, error)
	RemoveTask(ctx context.Context, taskID string) error
	RetryTask(ctx context.Context, taskID string) (*manifest.Manifest, error)
	Status(ctx context.Context) daemon.Status
}

// EventSource feeds the SSE stream. *notifications.Hub satisfies it.
type EventSource interface {
	Fetch(ctx context.Context, taskID string, since uint64, limit int, wait bool) ([]notifications.Event, uint64, error)
	Tail(taskID string, limit int) ([]notifications.Event, uint64)
}

var (
	_ Backend     = (*daemon.Daemon)(nil)
	_ EventSource = (*notifications.Hub)(nil)
)

// Server is the fiber application serving the vidflow API.
type Server struct {
	bind      string
	token     string
	keepalive time.Duration
	backend   Backend
	events    EventSource
	logger    *slog.Logger
	app       *fiber.App

	// streams end when ctx is cancelled
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	stopOnce sync.Once
}

// NewServer builds the application and registers every route.
func NewServer(cfg *config.Config, backend Backend, events EventSource, logger *slog.Logger) (*Server, error) {
	if cfg == nil || backend == nil || events == nil {
		return nil, errors.New("api server requires config, backend, and event source")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	keepalive := cfg.SSEKeepalive()
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		bind:      strings.TrimSpace(cfg.API.Bind),
		token:     strings.TrimSpace(cfg.API.Token),
		keepalive: keepalive,
		backend:   backend,
		events:    events,
		logger:    logging.NewComponentLogger(logger, "api-server"),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "vidflow",
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024,
		ReadTimeout:           15 * time.Second,
		IdleTimeout:           60 * time.Second,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	s.app.Use(s.accessLog)

	s.app.Get("/health", s.handleHealth)

	api := s.app.Group("/api", bearerAuth(s.token))
	api.Get("/status", s.handleStatus)
	api.Post("/flows", s.handleCreateFlow)
	api.Get("/flows", s.handleListFlows)
	api.Get("/flows/:id", s.handleGetFlow)
	api.Delete("/flows/:id", s.handleRemoveFlow)
	api.Post("/flows/:id/retry", s.handleRetryFlow)
	api.Get("/flows/:id/events", s.handleEvents)
	return s, nil
}

// App exposes the fiber application, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Start listens on the configured bind address and serves until ctx ends or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.app.Listener(listener); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.ctx.Done():
		}
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.token != ""),
		logging.String(logging.FieldEventType, "api_listen"),
	)
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop ends open event streams and shuts the server down.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			s.logger.Warn("api server shutdown incomplete", logging.Error(err))
		}
	})
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	requestID, _ := c.Locals(requestid.ConfigDefault.ContextKey).(string)
	if requestID != "" {
		c.SetUserContext(services.WithRequestID(c.UserContext(), requestID))
	}
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else {
			status = fiber.StatusInternalServerError
		}
	}
	attrs := []logging.Attr{
		logging.String("method", c.Method()),
		logging.String("path", c.Path()),
		logging.Int("status", status),
		logging.Duration("duration", time.Since(start)),
		logging.String(logging.FieldCorrelationID, requestID),
	}
	if status >= fiber.StatusInternalServerError {
		s.logger.Warn("http request failed", logging.Args(attrs...)...)
	} else {
		s.logger.Debug("http request", logging.Args(attrs...)...)
	}
	return err
}
