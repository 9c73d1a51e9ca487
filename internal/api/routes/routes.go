package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yoockh/yoointerview/internal/api/handlers"
	"github.com/yoockh/yoointerview/internal/api/middleware"
	"github.com/yoockh/yoointerview/internal/metrics"
)

type Deps struct {
	Session *handlers.SessionHandler
	WS      *handlers.WSHandler

	Logger      *logrus.Logger
	ServiceName string
	Origins     []string

	// Health reports whether the backing stores answer; nil means always ok.
	Health func(ctx context.Context) error
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     d.Origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	if d.ServiceName != "" {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	if d.Logger != nil {
		r.Use(middleware.RequestLogger(d.Logger))
	}

	r.GET("/healthz", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Protected routes (JWT)
	api := r.Group("/api/v1")
	api.Use(middleware.JWTAuth())

	iv := api.Group("/interviews")
	iv.POST("", d.Session.Create)
	iv.GET("/results", d.Session.ListResults)
	iv.GET("/:id", d.Session.Get)
	iv.POST("/:id/start", d.Session.Start)
	iv.POST("/:id/cancel", d.Session.Cancel)
	iv.POST("/:id/complete", d.Session.Complete)
	iv.GET("/:id/result", d.Session.Result)
	iv.GET("/:id/responses/:index/audio", d.Session.ResponseAudio)

	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("/interviews/results", d.Session.ListAllResults)

	// WebSocket
	api.GET("/ws/interviews/:id", d.WS.SessionWS)
}
