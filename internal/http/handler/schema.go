package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"

	"relaybox.app/relay/internal/http/dto"
)

// SchemaHandler publishes the ingress payload schema so producers can
// validate before calling.
type SchemaHandler struct {
	reply *jsonschema.Schema
}

func NewSchemaHandler() *SchemaHandler {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := r.Reflect(&dto.SubmitReplyRequest{})
	schema.Title = "SubmitReply"
	return &SchemaHandler{reply: schema}
}

func (h *SchemaHandler) Reply(c *gin.Context) {
	c.JSON(http.StatusOK, h.reply)
}
