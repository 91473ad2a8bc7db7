package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"ytdlapi/config"
	"ytdlapi/task"
)

func SetupRouter(tm *task.Manager, cfg *config.Config, mediaSource string) *gin.Engine {
	r := gin.Default()
	h := NewHandler(tm, cfg, mediaSource)

	// Installed on the engine so preflight requests are answered too.
	if len(cfg.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.CORSOrigins
		corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsCfg.AllowHeaders = []string{"Content-Type"}
		r.Use(cors.New(corsCfg))
	}

	api := r.Group("/api")

	// Health is never authenticated or rate limited.
	api.GET("/health", h.handleHealth)

	download := api.Group("/download")
	download.Use(RateLimitMiddleware(cfg), AuthMiddleware(cfg))
	{
		download.POST("", h.handleCreateDownload)
		download.GET("/:task_id", h.handleGetDownload)
	}
	return r
}
