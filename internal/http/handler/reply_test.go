package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"relaybox.app/relay/internal/http/handler"
	"relaybox.app/relay/internal/model"
	"relaybox.app/relay/internal/service"
)

var _ = Describe("ReplyHandler", func() {
	var (
		router *gin.Engine
		svc    *mockReplyIngestService
	)

	BeforeEach(func() {
		router = gin.New()
		svc = &mockReplyIngestService{}
		h := handler.NewReplyHandler(svc, 1<<20)
		router.POST("/replies", h.Submit)
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/replies", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("returns 200 with success true", func() {
		var got service.ReplyParams
		svc.submitFn = func(_ context.Context, p service.ReplyParams) (*service.ReplyResult, error) {
			got = p
			return &service.ReplyResult{
				Entry:   model.MailboxEntry{ID: 42, Reply: p.Body},
				Skipped: []service.SkippedFile{{Name: "x.exe", Reason: service.SkipBlockedExtension}},
			}, nil
		}

		w := post(`{"sessionKey":"sess-1","body":"hello","files":[{"name":"x.exe","mimeType":"application/pdf","data":"eA=="}]}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["success"]).To(BeTrue())
		Expect(resp["id"]).To(Equal("42"))
		Expect(resp["skipped"]).To(HaveLen(1))
		Expect(got.SessionKey).To(Equal("sess-1"))
		Expect(got.Files).To(HaveLen(1))
		Expect(got.Files[0].MimeType).To(Equal("application/pdf"))
	})

	DescribeTable("rejects malformed payloads with 400 before calling the service",
		func(body string) {
			w := post(body)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(svc.calls).To(BeZero())
		},
		Entry("broken json", `{`),
		Entry("missing body", `{"sessionKey":"sess-1"}`),
		Entry("missing sessionKey", `{"body":"hi"}`),
		Entry("unknown field", `{"sessionKey":"sess-1","body":"hi","reply":"hi"}`),
		Entry("wrong type", `{"sessionKey":"sess-1","body":{"text":"hi"}}`),
		Entry("file without data", `{"sessionKey":"sess-1","body":"hi","files":[{"name":"a.txt","mimeType":"text/plain"}]}`),
		Entry("trailing data", `{"sessionKey":"sess-1","body":"hi"} {}`),
	)

	It("answers 413 for bodies over the request limit", func() {
		big := strings.Repeat("x", 1<<20)
		w := post(fmt.Sprintf(`{"sessionKey":"sess-1","body":"%s"}`, big))
		Expect(w.Code).To(Equal(http.StatusRequestEntityTooLarge))
		Expect(svc.calls).To(BeZero())
	})

	DescribeTable("maps service errors",
		func(err error, status int) {
			svc.submitFn = func(context.Context, service.ReplyParams) (*service.ReplyResult, error) {
				return nil, err
			}
			w := post(`{"sessionKey":"sess-1","body":"hello"}`)
			Expect(w.Code).To(Equal(status))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["success"]).To(BeFalse())
			Expect(resp["error"]).NotTo(ContainSubstring("dial"))
		},
		Entry("invalid key", fmt.Errorf("%w: %w", service.ErrInvalidSessionKey, model.ErrSessionKeyShape), http.StatusBadRequest),
		Entry("empty body", service.ErrEmptyBody, http.StatusBadRequest),
		Entry("store down", fmt.Errorf("%w: dial tcp 10.0.0.1:6379", service.ErrStorageUnavailable), http.StatusServiceUnavailable),
		Entry("log missing", service.ErrLogUnavailable, http.StatusServiceUnavailable),
		Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
	)
})
