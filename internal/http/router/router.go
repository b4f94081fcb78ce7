package router

import (
	"github.com/gin-gonic/gin"

	"github.com/larp0/uwularpy-sub000/internal/http/handler"
	"github.com/larp0/uwularpy-sub000/internal/http/handler/webhook"
	"github.com/larp0/uwularpy-sub000/internal/http/middleware"
	"github.com/larp0/uwularpy-sub000/internal/mapper"
	"github.com/larp0/uwularpy-sub000/internal/service"
)

type RouterConfig struct {
	TraceHeaderName string
	WebhookSecret   string
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	hooks := router.Group("/webhooks")
	hooks.Use(middleware.WebhookToken(cfg.WebhookSecret))
	{
		triggerHandler := handler.NewTriggerHandler(services.Triggers(), cfg.TraceHeaderName)
		hooks.POST("/trigger", triggerHandler.Trigger)

		gitlabHandler := webhook.NewGitLabWebhookHandler(services.Triggers(), mapper.NewGitLabEventMapper(), cfg.TraceHeaderName)
		hooks.POST("/gitlab", gitlabHandler.HandleEvent)
	}
}
