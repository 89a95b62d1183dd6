package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/chainbrief/config"
	"github.com/mohammad-safakhou/chainbrief/internal/pipeline"
	"github.com/mohammad-safakhou/chainbrief/internal/search"
	"github.com/mohammad-safakhou/chainbrief/internal/store"
)

// Server exposes the pipeline over HTTP and, in serve mode, drives the
// scheduled tick loop.
type Server struct {
	cfg    *config.Config
	store  *store.Store
	runner *pipeline.Runner
	index  *search.Index
	logger *log.Logger
	echo   *echo.Echo
	stop   chan struct{}
}

func New(cfg *config.Config, st *store.Store, runner *pipeline.Runner, idx *search.Index, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	s := &Server{
		cfg:    cfg,
		store:  st,
		runner: runner,
		index:  idx,
		logger: logger,
		stop:   make(chan struct{}),
	}
	s.echo = s.buildEcho()
	return s
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	secret := []byte(s.cfg.Server.JWTSecret)
	api := e.Group("/api")

	runs := api.Group("/runs")
	runs.GET("", s.listThreads)
	runs.GET("/:thread", s.threadRuns)
	runs.POST("", s.startRun, authMiddleware(secret))
	runs.POST("/:thread/resume", s.resumeThread, authMiddleware(secret))

	api.GET("/briefs", s.listBriefs)
	api.GET("/briefs/search", s.searchBriefs)
	api.GET("/artifacts/:id/provenance", s.provenance)

	wallets := api.Group("/wallets")
	wallets.GET("", s.listWallets)
	wallets.POST("", s.addWallet, authMiddleware(secret))
	wallets.DELETE("/:address", s.removeWallet, authMiddleware(secret))

	return e
}

// Start runs the HTTP listener and the scheduled tick loop until the
// process exits.
func (s *Server) Start() error {
	if s.cfg.Server.TickSchedule != "" {
		expr, err := cronexpr.Parse(s.cfg.Server.TickSchedule)
		if err != nil {
			return fmt.Errorf("parse tick schedule %q: %w", s.cfg.Server.TickSchedule, err)
		}
		go s.tickLoop(expr)
	}
	s.logger.Printf("listening on %s", s.cfg.Server.Address)
	return s.echo.Start(s.cfg.Server.Address)
}

// Shutdown stops the tick loop and the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree, used by tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) tickLoop(expr *cronexpr.Expression) {
	for {
		next := expr.Next(time.Now())
		if next.IsZero() {
			s.logger.Printf("tick schedule yields no next run, stopping loop")
			return
		}
		select {
		case <-s.stop:
			return
		case <-time.After(time.Until(next)):
		}
		rec, err := s.runner.RunOnce(context.Background(), "scheduled tick", "")
		if err != nil {
			s.logger.Printf("scheduled tick failed to persist: %v", err)
			continue
		}
		s.logger.Printf("scheduled tick %s: %s", rec.ID, rec.Status)
	}
}

func (s *Server) healthz(c echo.Context) error {
	if err := s.store.HealthCheck(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.String(http.StatusOK, "ok")
}

type startRunRequest struct {
	Goal     string `json:"goal"`
	ThreadID string `json:"thread_id"`
}

func (s *Server) startRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Goal == "" {
		req.Goal = "manual tick"
	}
	rec, err := s.runner.RunOnce(c.Request().Context(), req.Goal, req.ThreadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (s *Server) listThreads(c echo.Context) error {
	threads, err := s.runner.ListThreads(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, threads)
}

func (s *Server) threadRuns(c echo.Context) error {
	runs, err := s.store.RunsByThread(c.Request().Context(), c.Param("thread"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(runs) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) resumeThread(c echo.Context) error {
	rec, err := s.runner.Resume(c.Request().Context(), c.Param("thread"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (s *Server) listBriefs(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
	}
	artifacts, err := s.store.RecentArtifacts(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, artifacts)
}

func (s *Server) searchBriefs(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	if s.index == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search index not configured")
	}
	ids, err := s.index.Search(q, 20)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]store.Artifact, 0, len(ids))
	for _, id := range ids {
		a, ok, err := s.store.GetArtifact(c.Request().Context(), id)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if ok {
			out = append(out, a)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) provenance(c echo.Context) error {
	link, err := s.store.ProvenanceChain(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, link)
}

func (s *Server) listWallets(c echo.Context) error {
	wallets, err := s.store.ListWallets(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if wallets == nil {
		wallets = []string{}
	}
	return c.JSON(http.StatusOK, wallets)
}

type addWalletRequest struct {
	Address string `json:"address"`
	Label   string `json:"label"`
}

func (s *Server) addWallet(c echo.Context) error {
	var req addWalletRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !config.ValidWalletAddress(req.Address) {
		return echo.NewHTTPError(http.StatusBadRequest, "address must be a 0x-prefixed 40-hex-digit string")
	}
	if err := s.store.AddWallet(c.Request().Context(), req.Address, req.Label); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) removeWallet(c echo.Context) error {
	if err := s.store.RemoveWallet(c.Request().Context(), c.Param("address")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "wallet not tracked")
	}
	return c.NoContent(http.StatusNoContent)
}
