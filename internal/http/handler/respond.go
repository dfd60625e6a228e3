package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"relaybox.app/relay/internal/service"
)

// bindStrictJSON decodes the body rejecting unknown fields, then runs the
// binding tags. Producers sending an unexpected shape get a 400 instead of
// a silently ignored field.
func bindStrictJSON(c *gin.Context, obj any) error {
	if c.Request.Body == nil {
		return errors.New("missing request body")
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(obj); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	if dec.More() {
		return errors.New("trailing data after JSON body")
	}
	return binding.Validator.ValidateStruct(obj)
}

// serviceErrorStatus maps the service error taxonomy to a status code and a
// message that is safe to return.
func serviceErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidSessionKey):
		return http.StatusBadRequest, "invalid sessionKey"
	case errors.Is(err, service.ErrEmptyBody):
		return http.StatusBadRequest, "body must not be empty"
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, service.ErrStorageUnavailable), errors.Is(err, service.ErrLogUnavailable):
		return http.StatusServiceUnavailable, "storage unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
