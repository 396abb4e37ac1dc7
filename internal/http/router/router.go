package router

import (
	"github.com/gin-gonic/gin"

	"vozlab.mx/conversa/internal/http/handler"
	"vozlab.mx/conversa/internal/service"
)

type RouterConfig struct {
	WebhookPath string
	VerifyToken string
}

func SetupRoutes(router *gin.Engine, ingest service.IngestService, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	path := cfg.WebhookPath
	if path == "" {
		path = "/webhook"
	}

	webhookHandler := handler.NewWebhookHandler(ingest, cfg.VerifyToken)
	WebhookRouter(router.Group(path), webhookHandler)
}
