// Package server exposes the agent engine over a small HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hearthd/hearth/agent"
	"github.com/hearthd/hearth/ha"
	"github.com/hearthd/hearth/internal/profile"
	"github.com/hearthd/hearth/llm"
	"github.com/hearthd/hearth/metrics"
	"github.com/hearthd/hearth/store"
)

// Server hosts the ask endpoint plus health and metrics.
type Server struct {
	echo    *echo.Echo
	profile *profile.Profile
	llm     llm.Service
	backend ha.Backend
	store   *store.Store
	metrics *metrics.Metrics
}

// NewServer wires the HTTP server. store may be nil to disable persistence.
func NewServer(p *profile.Profile, llmSvc llm.Service, backend ha.Backend, st *store.Store, m *metrics.Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		profile: p,
		llm:     llmSvc,
		backend: backend,
		store:   st,
		metrics: m,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": p.Version})
	})
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.POST("/api/v1/ask", s.askHandler)

	return s
}

type askRequest struct {
	Text string `json:"text"`
	Arch string `json:"arch,omitempty"`
}

type askResponse struct {
	Answer     string `json:"answer"`
	Intent     string `json:"intent"`
	Arch       string `json:"arch"`
	LLMCalls   int    `json:"llm_calls"`
	ToolCalls  int    `json:"tool_calls"`
	DurationMs int64  `json:"duration_ms"`
}

func (s *Server) askHandler(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	arch := req.Arch
	if arch == "" {
		arch = s.profile.Arch
	}
	cfg, err := agent.PresetConfig(arch)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	engine := agent.New(cfg, s.llm, s.backend,
		agent.WithLogger(slog.Default()),
		agent.WithRecorder(s.metrics),
	)

	start := time.Now()
	result, err := engine.Run(c.Request().Context(), req.Text)
	if err != nil {
		slog.Error("server: engine run failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "engine failure")
	}
	s.metrics.RecordRun(arch, time.Since(start))

	if s.store != nil {
		run := &store.Run{
			UserText:   req.Text,
			Intent:     string(result.Intent),
			Arch:       result.Arch,
			Answer:     result.Answer,
			LLMCalls:   result.LLMCalls,
			ToolCalls:  result.ToolCalls,
			DurationMs: result.DurationMs,
		}
		if err := s.store.CreateRun(c.Request().Context(), run); err != nil {
			// Persistence is best-effort; the answer still goes out.
			slog.Warn("server: failed to persist run", "error", err)
		}
	}

	return c.JSON(http.StatusOK, askResponse{
		Answer:     result.Answer,
		Intent:     string(result.Intent),
		Arch:       result.Arch,
		LLMCalls:   result.LLMCalls,
		ToolCalls:  result.ToolCalls,
		DurationMs: result.DurationMs,
	})
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	slog.Info("server: listening", "addr", addr)

	// Warm up the LLM connection in the background so the first request is
	// not paying the handshake cost.
	go s.llm.Warmup(ctx)

	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		slog.Error("server: shutdown failed", "error", err)
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("server: failed to close store", "error", err)
		}
	}
	slog.Info("server: stopped")
}
