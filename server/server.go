// Package server exposes the administrative HTTP surface: session store
// stats, per-kind inspection and clearing, and a health endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/outwareai/boss-workflow/internal/profile"
	"github.com/outwareai/boss-workflow/plugin/session"
)

// HealthChecker reports durable store health. *store.Store implements it.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server is the admin HTTP server.
type Server struct {
	echoServer *echo.Echo
	profile    *profile.Profile
	sessions   session.Service
	store      HealthChecker
}

// NewServer creates the admin server and registers its routes.
func NewServer(profile *profile.Profile, sessions session.Service, store HealthChecker) *Server {
	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.CORS())

	s := &Server{
		echoServer: echoServer,
		profile:    profile,
		sessions:   sessions,
		store:      store,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echoServer.GET("/healthz", s.health)

	admin := s.echoServer.Group("/api/v1/admin")
	admin.GET("/stats", s.stats)
	admin.GET("/sessions/:kind", s.listSessions)
	admin.DELETE("/sessions/:kind", s.clearKind)
	admin.DELETE("/sessions", s.clearAll)
}

// Echo exposes the underlying instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echoServer
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	slog.Info("admin server listening", "address", address)
	if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down admin server", "error", err)
	}
}

type healthResponse struct {
	Status         string `json:"status"`
	SessionBackend string `json:"session_backend"`
	SessionStore   string `json:"session_store"`
	DurableStore   string `json:"durable_store"`
}

func (s *Server) health(c echo.Context) error {
	ctx := c.Request().Context()
	resp := healthResponse{
		Status:         "ok",
		SessionBackend: s.sessions.BackendMode(),
		SessionStore:   "ok",
		DurableStore:   "ok",
	}

	if err := s.sessions.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.SessionStore = err.Error()
	}
	if err := s.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.DurableStore = err.Error()
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (s *Server) stats(c echo.Context) error {
	stats, err := s.sessions.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

type sessionListResponse struct {
	Kind        session.Kind `json:"kind"`
	Count       int          `json:"count"`
	Identifiers []string     `json:"identifiers"`
}

func (s *Server) listSessions(c echo.Context) error {
	kind := session.Kind(c.Param("kind"))
	if !kind.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown session kind %q", kind))
	}

	identifiers, err := s.sessions.ListKeys(c.Request().Context(), kind)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sessionListResponse{
		Kind:        kind,
		Count:       len(identifiers),
		Identifiers: identifiers,
	})
}

func (s *Server) clearKind(c echo.Context) error {
	kind := session.Kind(c.Param("kind"))
	if !kind.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown session kind %q", kind))
	}

	if err := s.sessions.Clear(c.Request().Context(), kind); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	slog.Info("session kind cleared", "kind", kind)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) clearAll(c echo.Context) error {
	if err := s.sessions.ClearAll(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	slog.Info("all session kinds cleared")
	return c.NoContent(http.StatusNoContent)
}
