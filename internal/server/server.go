package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/PhucNguyen204/netwatch/internal/config"
	"github.com/PhucNguyen204/netwatch/internal/history"
	"github.com/PhucNguyen204/netwatch/internal/metrics"
	"github.com/PhucNguyen204/netwatch/internal/recurrence"
	"github.com/PhucNguyen204/netwatch/internal/rules"
	"github.com/PhucNguyen204/netwatch/internal/scanner"
)

type Deps struct {
	Scanner *scanner.Scanner
	History history.Store
	Config  *config.Store
	Rules   *rules.Manager
	Tracker *recurrence.Tracker
	Metrics *metrics.Metrics
	Log     *logrus.Entry
}

// Server exposes scans, history, configuration and rules over HTTP.
type Server struct {
	deps    Deps
	log     *logrus.Entry
	baseCtx context.Context
	srv     *http.Server
}

func New(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logrus.WithField("component", "api")
	}
	return &Server{deps: deps, log: log, baseCtx: context.Background()}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger(s.log))

	r.GET("/healthz", s.health)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := r.Group("/api/v1")
	{
		api.POST("/scans", s.startScan)
		api.GET("/scans/current", s.currentScan)
		api.DELETE("/scans/current", s.cancelScan)

		api.GET("/history", s.listHistory)
		api.GET("/history/export", s.exportHistory)
		api.DELETE("/history", s.clearHistory)

		api.GET("/config", s.getConfig)
		api.PUT("/config", s.putConfig)

		api.GET("/rules", s.listRules)
		api.PUT("/rules/:kind", s.replaceRules)
		api.POST("/rules/reload", s.reloadRules)

		api.GET("/recurrence", s.recurrence)
	}
	return r
}

// Run serves on addr until ctx is done, then shuts down gracefully.
// Scans started through the API live as long as ctx.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.baseCtx = ctx
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("API listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.log.Info("shutting down API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
