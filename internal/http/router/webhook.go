package router

import (
	"github.com/gin-gonic/gin"

	"vozlab.mx/conversa/internal/http/handler"
)

func WebhookRouter(router *gin.RouterGroup, handler *handler.WebhookHandler) {
	router.GET("/:brand", handler.Verify)
	router.POST("/:brand", handler.Receive)
}
