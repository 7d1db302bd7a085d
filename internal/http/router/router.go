package router

import (
	"github.com/gin-gonic/gin"

	"lifeboard.app/core/internal/http/handler"
)

func SetupRoutes(router *gin.Engine, commands *handler.CommandHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		CommandRouter(v1.Group("/commands"), commands)
	}
}
