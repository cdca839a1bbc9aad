package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmail/backend/internal/config"
	"dropmail/backend/internal/health"
	"dropmail/backend/internal/middleware"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/service"
)

// RouterDependencies 路由依赖
type RouterDependencies struct {
	Config      *config.Config
	Addresses   *service.AddressService
	Inbox       *service.InboxService
	Ingest      *service.IngestService
	TriggerAuth *middleware.TriggerAuth
	Metrics     *monitoring.Metrics
	Health      *health.HealthChecker
	Logger      *zap.Logger
}

// NewRouter 创建 gin 路由
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	router.Use(middleware.RecoveryHandler(log))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HTTPMetrics(deps.Metrics))
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	router.Use(middleware.Timeout(deps.Config.Server.RequestTimeout))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	if deps.Health != nil {
		router.GET("/health/live", gin.WrapH(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapH(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	handler := &Handler{
		addresses: deps.Addresses,
		inbox:     deps.Inbox,
		ingest:    deps.Ingest,
		bucket:    deps.Config.ObjectStore.Bucket,
		logger:    log,
	}

	triggerAuth := deps.TriggerAuth
	if triggerAuth == nil {
		triggerAuth = middleware.NewTriggerAuth(nil, false, log)
	}

	api := router.Group("/api")
	api.Use(middleware.ValidateContentType("application/json"))
	{
		api.POST("/generate-email", handler.GenerateEmail)
		api.GET("/emails/:address", handler.ListEmails)
		api.DELETE("/emails/:address", handler.DeactivateEmail)
		api.POST("/emails/:address/:id/read", handler.MarkRead)
		api.POST("/process-s3-email", triggerAuth.Require(), handler.ProcessS3Email)
	}

	return router
}
