package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/PauFou/form-builder-sub001/internal/handler"
	"github.com/PauFou/form-builder-sub001/internal/handler/health"
	"github.com/PauFou/form-builder-sub001/internal/middleware"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AdminAuth
	ingestH  Handler
	webhookH Handler
	healthH  *health.Handler
	limiter  *middleware.RateLimiter
	config   Config
}

type Config struct {
	RateLimit    rate.Limit
	RateBurst    int
	MaxBodyBytes int64
	Registry     *prometheus.Registry
}

func NewRouter(
	auth *middleware.AdminAuth,
	ingestH Handler,
	webhookH Handler,
	healthH *health.Handler,
	limiter *middleware.RateLimiter,
	log *logger.Logger,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	middleware.RegisterValidators()

	engine := gin.New()

	r := &Router{
		engine:   engine,
		auth:     auth,
		ingestH:  ingestH,
		webhookH: webhookH,
		healthH:  healthH,
		limiter:  limiter,
		config:   config,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.RequestLogger(log),
		middleware.Recovery(log),
	)

	if config.RateLimit > 0 {
		global := rate.NewLimiter(config.RateLimit, config.RateBurst)
		engine.Use(func(c *gin.Context) {
			if !global.Allow() {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, handler.NewErrorResponse("RATE_LIMITED", "too many requests"))
				return
			}
			c.Next()
		})
	}

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.healthH.RegisterRoutes(api)

	metricsHandler := promhttp.Handler()
	if r.config.Registry != nil {
		metricsHandler = promhttp.HandlerFor(r.config.Registry, promhttp.HandlerOpts{})
	}
	api.GET("/health/metrics", gin.WrapH(metricsHandler))

	// Public ingest surface. Per-IP limiting and the body cap apply only here;
	// the admin surface is protected by auth instead.
	public := api.Group("")
	public.Use(middleware.SizeLimit(r.config.MaxBodyBytes))
	if r.limiter != nil {
		public.Use(r.limiter.RateLimit())
	}
	r.ingestH.RegisterRoutes(public)

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	r.webhookH.RegisterRoutes(protected)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
