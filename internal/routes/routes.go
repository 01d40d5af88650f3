package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/secureflow/backend/internal/controllers"
	"github.com/secureflow/backend/internal/middleware"
	"github.com/secureflow/backend/internal/services"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Dependencies are the services and settings the router needs.
type Dependencies struct {
	Logs    *services.LogService
	KB      *services.KBService
	Metrics *services.MetricsService

	// Gatherer serves /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	CORSOrigin string
	// WSOrigin restricts WebSocket upgrades; empty allows any origin.
	WSOrigin string

	IngestRateLimit float64
	IngestBurst     int

	// ServiceName enables otelgin request spans when set.
	ServiceName string
}

// NewRouter builds the engine with the standard middleware chain and all routes.
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.New()

	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.Use(middleware.CustomLoggerMiddleware())
	r.Use(middleware.CORSMiddleware(deps.CORSOrigin))
	r.Use(gin.Recovery())
	if deps.ServiceName != "" {
		r.Use(otelgin.Middleware(deps.ServiceName))
	}

	SetupRoutes(r, deps)
	return r
}

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, deps Dependencies) {
	// Initialize controllers
	logController := controllers.NewLogController(deps.Logs, deps.Metrics)
	kbController := controllers.NewKBController(deps.KB)
	streamController := controllers.NewStreamController(deps.Logs, deps.WSOrigin)
	opsController := controllers.NewOpsController(deps.Logs, deps.KB)

	r.GET("/", opsController.Root)
	r.GET("/health", opsController.Health)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Live subscriptions
	r.GET("/events", streamController.Events)
	r.GET("/ws", streamController.WebSocket)

	// API routes
	api := r.Group("/api")
	{
		logs := api.Group("/logs")
		{
			logs.POST("", middleware.RateLimit(deps.IngestRateLimit, deps.IngestBurst), logController.Ingest)
			logs.GET("", logController.GetLogs)
			logs.GET("/:key", logController.GetLog)
			logs.PUT("/:key", logController.UpdateLog)
			logs.POST("/:key/learn", logController.MarkLearned)
		}

		api.GET("/learn-queue", logController.GetLearnQueue)
		api.GET("/summary", logController.GetSummary)
		api.GET("/metrics", logController.GetMetrics)
	}

	// Security knowledge base
	kb := r.Group("/security-kb")
	{
		kb.POST("", kbController.AddItem)
		kb.GET("/examples", kbController.GetExamples)
		kb.GET("/export", kbController.Export)
	}

	debug := r.Group("/debug")
	{
		debug.GET("/logs", opsController.DebugLogs)
		debug.GET("/kb", opsController.DebugKB)
	}
}
