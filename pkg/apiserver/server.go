package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/apiserver/handlers"
	"github.com/enrolsync/enrolsync/pkg/apiserver/middleware"
	"github.com/enrolsync/enrolsync/pkg/config"
)

// Deps carries the services the API fronts. Fields left nil simply leave
// their routes unregistered, which keeps tests and partial deployments
// honest.
type Deps struct {
	Sync       handlers.SyncRunner
	Dispatcher handlers.BatchDispatcher
	Outbox     handlers.OutboxCounter
	Runs       handlers.RunLister
	Alerts     handlers.AlertLister
}

type Server struct {
	router *gin.Engine
	deps   Deps
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(deps Deps, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{deps: deps, cfg: cfg, logger: logger}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth(s.cfg.Auth))

		if s.deps.Sync != nil {
			syncHandler := handlers.NewSyncHandler(s.deps.Sync, s.logger)
			api.POST("/jobs/sync", syncHandler.Run)
		}

		if s.deps.Dispatcher != nil {
			outboxHandler := handlers.NewOutboxHandler(s.deps.Dispatcher, s.deps.Outbox, s.logger)
			api.POST("/outbox/dispatch/projection", outboxHandler.DispatchProjection)
			api.POST("/outbox/dispatch/messaging", outboxHandler.DispatchMessaging)
			api.POST("/outbox/dispatch/all", outboxHandler.DispatchAll)
			api.GET("/outbox/stats", outboxHandler.Stats)
		}

		if s.deps.Runs != nil || s.deps.Alerts != nil {
			opsHandler := handlers.NewOpsHandler(s.deps.Runs, s.deps.Alerts, s.logger)
			if s.deps.Runs != nil {
				api.GET("/runs", opsHandler.ListRuns)
			}
			if s.deps.Alerts != nil {
				api.GET("/alerts", opsHandler.ListAlerts)
			}
		}
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
