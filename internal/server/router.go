package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/loom-backend/internal/handlers"
	"github.com/yungbote/loom-backend/internal/logger"
)

type RouterConfig struct {
	Log          *logger.Logger
	AllowOrigins []string
	ServiceName  string

	Learn *handlers.LearnHandler
	SSE   *handlers.SSEHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	}))

	r.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	learn := api.Group("/learn")
	{
		learn.GET("/state", cfg.Learn.GetState)
		learn.GET("/events", cfg.SSE.Stream)

		learn.POST("/courses/:id/start", cfg.Learn.StartCourse)
		learn.POST("/courses/:id/prefetch", cfg.Learn.PrefetchCourse)
		learn.POST("/courses/:id/modules/:moduleId/done", cfg.Learn.SetModuleDone)
		learn.POST("/outlines/:id/status", cfg.Learn.UpdateOutlineStatus)

		learn.POST("/regroup", cfg.Learn.Regroup)
		learn.POST("/refresh", cfg.Learn.RefreshSuggestions)
		learn.POST("/reconcile", cfg.Learn.Reconcile)

		learn.POST("/surface", cfg.Learn.SetSurfaceVisibility)
		learn.POST("/chat-updated", cfg.Learn.ChatUpdated)
	}

	return r
}
