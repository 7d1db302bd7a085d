package router

import (
	"github.com/gin-gonic/gin"

	"lifeboard.app/core/internal/http/handler"
)

func CommandRouter(group *gin.RouterGroup, h *handler.CommandHandler) {
	group.POST("", h.Submit)
	group.POST("/enqueue", h.Enqueue)
	group.GET("", h.List)
	group.GET("/:id", h.Get)
}
