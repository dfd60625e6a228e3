package router

import (
	"github.com/gin-gonic/gin"

	"relaybox.app/relay/internal/http/handler"
	"relaybox.app/relay/internal/http/middleware"
	"relaybox.app/relay/internal/service"
)

// ReplyRouter registers the ingress and exactly one delivery strategy.
func ReplyRouter(router *gin.RouterGroup, services *service.Services, cfg RouterConfig) {
	replyHandler := handler.NewReplyHandler(services.ReplyIngest(), cfg.MaxReplyBodyBytes)
	router.POST("",
		middleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		middleware.RequireSharedSecret(cfg.SecretHeader, cfg.IngressSecret, "ingress"),
		replyHandler.Submit,
	)

	if cfg.PushDelivery {
		streamHandler := handler.NewStreamHandler(services.Stream(), 0)
		router.GET("/stream", streamHandler.Stream)
		return
	}
	fetchHandler := handler.NewFetchHandler(services.Delivery())
	router.GET("", fetchHandler.Fetch)
}
