// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/AtRiskMedia/tracker-go/internal/application/container"
	"github.com/AtRiskMedia/tracker-go/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/tracker-go/internal/presentation/http/middleware"
	"github.com/AtRiskMedia/tracker-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(container.Logger.HTTP()))
	r.Use(middleware.CORSMiddleware(config.CORSAllowedOrigins))

	trackingHandlers := handlers.NewTrackingHandlers(container)

	r.GET("/health", trackingHandlers.GetHealth)

	track := r.Group("/api/v1/track")
	{
		track.POST("/init", trackingHandlers.PostInit)
		track.GET("/identity", trackingHandlers.GetIdentity)
		track.POST("/identify", trackingHandlers.PostIdentify)
		track.POST("/cart", trackingHandlers.PostCart)
		track.POST("/order", trackingHandlers.PostOrder)
		track.POST("/pageview", trackingHandlers.PostPageView)
		track.POST("/campaign", trackingHandlers.PostCampaign)
		track.GET("/stats", trackingHandlers.GetStats)
		track.GET("/health", trackingHandlers.GetHealth)
	}

	return r
}
