package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"relaybox.app/relay/internal/http/dto"
	"relaybox.app/relay/internal/http/handler"
	"relaybox.app/relay/internal/model"
	"relaybox.app/relay/internal/service"
)

var _ = Describe("FetchHandler", func() {
	var (
		router *gin.Engine
		svc    *mockDeliveryService
	)

	BeforeEach(func() {
		router = gin.New()
		svc = &mockDeliveryService{}
		router.GET("/replies", handler.NewFetchHandler(svc).Fetch)
	})

	get := func(query string) (*httptest.ResponseRecorder, dto.FetchResponse) {
		req := httptest.NewRequest(http.MethodGet, "/replies"+query, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		var resp dto.FetchResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return w, resp
	}

	It("returns drained entries with a matching count", func() {
		ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		svc.fetchFn = func(_ context.Context, key string) ([]model.MailboxEntry, error) {
			Expect(key).To(Equal("s1-session"))
			return []model.MailboxEntry{
				{ID: 7, Reply: "A", Timestamp: ts},
				{ID: 8, Reply: "B", Timestamp: ts, Attachments: []model.Attachment{{Name: "a.txt", URL: "/blobs/a.txt"}}},
			}, nil
		}

		w, resp := get("?sessionKey=s1-session")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(resp.Success).To(BeTrue())
		Expect(resp.Count).To(Equal(2))
		Expect(resp.Messages[0].ID).To(Equal("7"))
		Expect(resp.Messages[0].Reply).To(Equal("A"))
		Expect(resp.Messages[0].Timestamp).To(Equal("2026-01-02T03:04:05Z"))
		Expect(resp.Messages[1].Attachments).To(HaveLen(1))
	})

	It("renders an empty mailbox as an empty array", func() {
		req := httptest.NewRequest(http.MethodGet, "/replies?sessionKey=s1-session", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Body.String()).To(MatchJSON(`{"success":true,"messages":[],"count":0}`))
	})

	It("returns 400 for a malformed key", func() {
		svc.fetchFn = func(context.Context, string) ([]model.MailboxEntry, error) {
			return nil, fmt.Errorf("%w: too short", service.ErrInvalidSessionKey)
		}
		w, resp := get("?sessionKey=ab")
		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(resp.Messages).NotTo(BeNil())
	})

	It("returns 503 with an empty list when storage is down", func() {
		svc.fetchFn = func(context.Context, string) ([]model.MailboxEntry, error) {
			return nil, service.ErrStorageUnavailable
		}
		w, resp := get("?sessionKey=s1-session")
		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(resp.Success).To(BeFalse())
		Expect(resp.Messages).To(BeEmpty())
		Expect(resp.Messages).NotTo(BeNil())
		Expect(resp.Count).To(BeZero())
	})
})
