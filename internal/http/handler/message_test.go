package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"relaybox.app/relay/internal/http/handler"
	"relaybox.app/relay/internal/model"
	"relaybox.app/relay/internal/service"
)

var _ = Describe("MessageHandler", func() {
	var (
		router *gin.Engine
		svc    *mockMessageService
	)

	BeforeEach(func() {
		router = gin.New()
		svc = &mockMessageService{}
		router.POST("/messages", handler.NewMessageHandler(svc).Send)
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("returns 201 with the confirmed message", func() {
		svc.sendFn = func(_ context.Context, p service.SendParams) (*model.ChatMessage, error) {
			return &model.ChatMessage{
				ID:        900,
				ChatID:    p.SessionKey,
				Module:    model.ModuleMailbox,
				Direction: model.DirectionOutbound,
				Body:      p.Body,
				CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			}, nil
		}

		w := post(`{"sessionKey":"sess-1","body":"hello"}`)
		Expect(w.Code).To(Equal(http.StatusCreated))

		var resp map[string]map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["message"]["id"]).To(Equal("900"))
		Expect(resp["message"]["sessionKey"]).To(Equal("sess-1"))
		Expect(resp["message"]["direction"]).To(Equal("outbound"))
		Expect(resp["message"]["createdAt"]).To(Equal("2026-03-01T00:00:00Z"))
	})

	It("returns 400 on an invalid body", func() {
		Expect(post(`{"sessionKey":"sess-1"}`).Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 503 when the dispatch queue is down", func() {
		svc.sendFn = func(context.Context, service.SendParams) (*model.ChatMessage, error) {
			return nil, service.ErrStorageUnavailable
		}
		Expect(post(`{"sessionKey":"sess-1","body":"hello"}`).Code).To(Equal(http.StatusServiceUnavailable))
	})
})
