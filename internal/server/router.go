package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rdrelay/internal/broker"
	"rdrelay/internal/config"
	"rdrelay/internal/handler"
	"rdrelay/internal/metrics"
	"rdrelay/internal/middleware"
	"rdrelay/internal/registry"
	"rdrelay/internal/session"
)

type Deps struct {
	Config   config.Config
	Registry *registry.Registry
	Sessions *session.Manager
	Broker   *broker.Broker
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Config.GinMode != "" {
		gin.SetMode(deps.Config.GinMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	tokenCfg := session.TokenConfig{Secret: deps.Config.TokenSecret, Issuer: "rdrelay"}

	broadcaster := &handler.DeviceListBroadcaster{
		Registry: deps.Registry,
		Metrics:  deps.Metrics,
		Log:      deps.Log,
	}
	deps.Broker.OnPairEvent(func(broker.PairEvent) {
		broadcaster.Broadcast()
	})

	wsHandler := &handler.WebSocketHandler{
		Registry:       deps.Registry,
		Sessions:       deps.Sessions,
		Broker:         deps.Broker,
		Metrics:        deps.Metrics,
		Violations:     middleware.NewViolationTracker(deps.Config.ViolationLimit, deps.Config.ViolationWindow),
		Broadcaster:    broadcaster,
		Log:            deps.Log,
		TokenConfig:    tokenCfg,
		RequireAuth:    len(deps.Config.Users) > 0,
		SendQueueDepth: deps.Config.SendQueueDepth,
		MaxMessageSize: deps.Config.MaxMessageSize,
	}
	r.GET("/ws", wsHandler.Serve)

	apiLimiter := middleware.NewViolationTracker(60, time.Minute)
	protected := r.Group("/v1")
	protected.Use(middleware.RateLimitMiddleware(apiLimiter))
	protected.Use(middleware.RequireSession(deps.Sessions, tokenCfg))

	deviceHandler := &handler.DeviceHandler{Registry: deps.Registry, Sessions: deps.Sessions}
	protected.GET("/devices", deviceHandler.List)
	protected.GET("/stats", deviceHandler.Stats)

	pairHandler := &handler.PairHandler{Broker: deps.Broker, Registry: deps.Registry}
	protected.GET("/pairs", pairHandler.List)

	return r
}
