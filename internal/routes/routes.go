// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"link-service/internal/config"
	"link-service/internal/database"
	"link-service/internal/handler"
	"link-service/internal/middleware"
	"link-service/internal/service"
	"link-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config      *config.Config
	logger      *zap.Logger
	db          *database.DB
	linkService *service.LinkService
	archiver    *service.LogArchiver

	wsHandler *handler.WebSocketHandler
}

// NewRouter creates a new router instance. db and archiver are nil when the
// database is disabled.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	linkService *service.LinkService,
	archiver *service.LogArchiver,
) *Router {
	return &Router{
		config:      config,
		logger:      logger,
		db:          db,
		linkService: linkService,
		archiver:    archiver,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() || !r.config.IsDebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// WebSocket returns the WebSocket handler created by SetupRouter
func (r *Router) WebSocket() *handler.WebSocketHandler {
	return r.wsHandler
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.linkService, r.config, r.logger)
	linkHandler := handler.NewLinkHandler(r.linkService, r.logger)
	logHandler := handler.NewLogHandler(r.linkService, r.archiver, r.logger)
	r.wsHandler = handler.NewWebSocketHandler(r.linkService, &r.config.Security, r.logger)

	r.addHealthRoutes(router, healthHandler)

	apiV1 := router.Group("/api/v1")
	r.addLinkRoutes(apiV1, linkHandler)
	r.addLogRoutes(apiV1, logHandler)

	r.addWebSocketRoutes(router, r.wsHandler)
	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addHealthRoutes sets up health check routes
func (r *Router) addHealthRoutes(router *gin.Engine, handler *handler.HealthHandler) {
	health := router.Group("")
	{
		health.GET("/health", handler.HealthCheck)
		health.GET("/ready", handler.ReadinessCheck)
		health.GET("/live", handler.LivenessCheck)
	}
}

// addLinkRoutes sets up link control routes
func (r *Router) addLinkRoutes(api *gin.RouterGroup, handler *handler.LinkHandler) {
	link := api.Group("/link")
	{
		link.GET("", handler.GetStatus)
		link.POST("/connect", handler.Connect)
		link.POST("/disconnect", handler.Disconnect)
		link.POST("/commands", handler.SendCommand)
	}

	api.GET("/commands", handler.ListCommands)
	api.GET("/peers", handler.ListPeers)
}

// addLogRoutes sets up event log routes
func (r *Router) addLogRoutes(api *gin.RouterGroup, handler *handler.LogHandler) {
	log := api.Group("/log")
	{
		log.GET("", handler.GetLog)
		log.GET("/history", handler.GetHistory)
	}
}

// addWebSocketRoutes sets up WebSocket routes
func (r *Router) addWebSocketRoutes(router *gin.Engine, handler *handler.WebSocketHandler) {
	ws := router.Group("/ws")
	{
		ws.GET("/log", handler.HandleLogConnection)
	}
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
