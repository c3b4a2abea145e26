package endpoints

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes.
func SetupRoutes(r *gin.Engine, h *Handlers) {
	api := r.Group("/api")
	{
		api.GET("/health", h.HandleHealth)

		authed := api.Group("")
		authed.Use(SessionMiddleware(h.sessions))
		{
			authed.POST("/upload", h.HandleUpload)
			authed.POST("/files/:file_id/run", h.HandleRerun)
			authed.GET("/files/:file_id/tasks", h.HandleListUploadTasks)

			authed.GET("/stats", h.HandleStatistics)
			authed.GET("/tasks", h.HandleListTasks)

			tasks := authed.Group("/tasks/:id")
			{
				tasks.GET("", h.HandleGetTask)
				tasks.GET("/status", h.HandleGetTask)
				tasks.GET("/progress", h.HandleGetProgress)
				tasks.POST("/cancel", h.HandleCancelTask)
				tasks.POST("/retry", h.HandleRetryTask)
				tasks.DELETE("/delete", h.HandleDeleteTask)

				tasks.GET("/downloads", h.HandleListDownloads)
				tasks.GET("/video", h.HandleMedia("video", false))
				tasks.GET("/video/download", h.HandleMedia("video", true))
				tasks.GET("/audio", h.HandleMedia("audio", false))
				tasks.GET("/audio/download", h.HandleMedia("audio", true))
				tasks.GET("/podcast", h.HandleMedia("podcast", false))
				tasks.GET("/podcast/download", h.HandleMedia("podcast", true))
				tasks.GET("/subtitles/:format", h.HandleSubtitles)
				tasks.GET("/transcripts/:name", h.HandleTranscript)
			}
		}
	}
}
