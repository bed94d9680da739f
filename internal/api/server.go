// Package api serves the job query surface over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/job"
	"github.com/arittr/spectacular-codex/internal/logging"
	"github.com/arittr/spectacular-codex/internal/plan"
)

// maxPlanBytes bounds a submitted plan body.
const maxPlanBytes = 1 << 20

// Starter launches plan runs.
type Starter interface {
	Start(ctx context.Context, p *plan.Plan) (plan.RunID, error)
}

// Config configures the server.
type Config struct {
	// Addr is the listen address (default "127.0.0.1:7420")
	Addr string
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
}

// Server is the HTTP API.
type Server struct {
	echo   *echo.Echo
	runs   Starter
	jobs   *job.Store
	addr   string
	logger *logging.Logger
}

// NewServer creates the server. runs may be nil, which disables POST /runs.
func NewServer(cfg Config, runs Starter, jobs *job.Store) (*Server, error) {
	if jobs == nil {
		return nil, errors.New("api: job store is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7420"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	logger := cfg.Logger.WithComponent("api")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", c.Response().Status,
				"duration", time.Since(start),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return err
		}
	})

	s := &Server{echo: e, runs: runs, jobs: jobs, addr: cfg.Addr, logger: logger}
	s.registerRoutes(cfg.Gatherer)
	return s, nil
}

func (s *Server) registerRoutes(g prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))

	s.echo.GET("/runs", s.handleList)
	s.echo.GET("/runs/:id", s.handleGet)
	if s.runs != nil {
		s.echo.POST("/runs", s.handleStart)
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StartResponse is the body of POST /runs.
type StartResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleList(c echo.Context) error {
	return c.JSON(http.StatusOK, s.jobs.List())
}

func (s *Server) handleGet(c echo.Context) error {
	id := plan.RunID(c.Param("id"))
	j, ok := s.jobs.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, errors.NewRunNotFoundError(id.String()).Error())
	}
	return c.JSON(http.StatusOK, j)
}

// handleStart accepts a YAML plan body and starts it.
func (s *Server) handleStart(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPlanBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}
	p, err := plan.Parse(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	id, err := s.runs.Start(c.Request().Context(), p)
	switch {
	case errors.Is(err, errors.ErrRunInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, errors.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("start run failed", "error", err)
		msg := "internal error"
		if errors.IsUserFacing(err) {
			msg = err.Error()
		}
		return echo.NewHTTPError(http.StatusInternalServerError, msg)
	}
	return c.JSON(http.StatusAccepted, StartResponse{RunID: id.String()})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
