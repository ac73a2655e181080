package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/sellerpulse/automation-hub/internal/middleware"
)

// Handler is anything that can mount its routes under a group.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	MetricsEnabled   bool
	MetricsPath      string
}

type Router struct {
	engine        *gin.Engine
	automationH   Handler
	conversationH Handler
	healthH       Handler
	metricsH      interface{ Handler() gin.HandlerFunc }
	config        Config
}

func NewRouter(
	automationH Handler,
	conversationH Handler,
	healthH Handler,
	metricsH interface{ Handler() gin.HandlerFunc },
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	return &Router{
		engine:        gin.New(),
		automationH:   automationH,
		conversationH: conversationH,
		healthH:       healthH,
		metricsH:      metricsH,
		config:        config,
	}
}

func (r *Router) Setup() *gin.Engine {
	middleware.RegisterValidation()

	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Logger())
	r.engine.Use(middleware.Recovery())

	if r.config.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		})
		r.engine.Use(limiter.RateLimit())
	}

	if r.config.MetricsEnabled && r.metricsH != nil {
		path := r.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, r.metricsH.Handler())
	}

	root := r.engine.Group("")
	r.healthH.RegisterRoutes(root)

	v1 := r.engine.Group("/api/v1")
	r.automationH.RegisterRoutes(v1.Group("/automations"))
	r.conversationH.RegisterRoutes(v1)

	return r.engine
}
