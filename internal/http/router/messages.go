package router

import (
	"github.com/gin-gonic/gin"

	"relaybox.app/relay/internal/http/handler"
)

func MessageRouter(router *gin.RouterGroup, h *handler.MessageHandler) {
	router.POST("", h.Send)
}

func CallbackRouter(router *gin.RouterGroup, h *handler.CallbackHandler, auth gin.HandlerFunc) {
	router.POST("/chat", auth, h.Chat)
}
