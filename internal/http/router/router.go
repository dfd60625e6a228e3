package router

import (
	"strings"

	"github.com/gin-gonic/gin"

	"relaybox.app/relay/internal/http/handler"
	"relaybox.app/relay/internal/http/middleware"
	"relaybox.app/relay/internal/metrics"
	"relaybox.app/relay/internal/service"
)

type RouterConfig struct {
	// PushDelivery serves the SSE stream instead of the polling fetch.
	PushDelivery       bool
	SecretHeader       string
	IngressSecret      string
	CallbackSecret     string
	RateLimitPerSecond float64
	RateLimitBurst     int
	MaxReplyBodyBytes  int64
	// Blobs are served under BlobBaseURL when it is a local path.
	Blobs        handler.BlobReader
	BlobBaseURL  string
	Metrics      *metrics.Metrics
	HealthChecks map[string]handler.Pinger
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	healthHandler := handler.NewHealthHandler(cfg.HealthChecks)
	router.GET("/health", healthHandler.Health)

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	if cfg.Blobs != nil && strings.HasPrefix(cfg.BlobBaseURL, "/") {
		blobHandler := handler.NewBlobHandler(cfg.Blobs)
		router.GET(strings.TrimRight(cfg.BlobBaseURL, "/")+"/:key", blobHandler.Get)
	}

	v1 := router.Group("/api/v1")
	{
		ReplyRouter(v1.Group("/replies"), services, cfg)

		messageHandler := handler.NewMessageHandler(services.Messages())
		MessageRouter(v1.Group("/messages"), messageHandler)

		callbackHandler := handler.NewCallbackHandler(services.Callbacks())
		CallbackRouter(v1.Group("/callbacks"), callbackHandler,
			middleware.RequireSharedSecret(cfg.SecretHeader, cfg.CallbackSecret, "callback"))

		schemaHandler := handler.NewSchemaHandler()
		v1.GET("/schema/reply", schemaHandler.Reply)
	}
}
