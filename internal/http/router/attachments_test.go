package router_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"gocloud.dev/blob/memblob"

	"relaybox.app/relay/internal/blob"
	"relaybox.app/relay/internal/http/dto"
	httprouter "relaybox.app/relay/internal/http/router"
	"relaybox.app/relay/internal/mailbox"
	"relaybox.app/relay/internal/service"
)

var _ = Describe("reply attachments", func() {
	const maxFileBytes = 16

	var router *gin.Engine

	BeforeEach(func() {
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DisableIdentity: true})
		DeferCleanup(client.Close)

		blobs := blob.NewBucketStore(memblob.OpenBucket(nil), "/blobs")
		DeferCleanup(blobs.Close)

		policy := service.DefaultAttachmentPolicy(maxFileBytes)
		policy.MaxFiles = 3
		services := service.NewServices(service.ServicesConfig{
			Mailbox: mailbox.NewRedisStore(client, mailbox.RedisConfig{
				KeyPrefix: "relay:mailbox:",
				TTL:       5 * time.Minute,
				OpTimeout: time.Second,
			}),
			Blobs:            blobs,
			AttachmentPolicy: policy,
		})

		router = gin.New()
		httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
			SecretHeader:      "X-Relay-Secret",
			IngressSecret:     secret,
			MaxReplyBodyBytes: policy.RequestLimit(),
			Blobs:             blobs,
			BlobBaseURL:       "/blobs",
		})
	})

	type file struct {
		Name     string `json:"name"`
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	}

	textFile := func(name string, size int) file {
		return file{
			Name:     name,
			MimeType: "text/plain",
			Data:     base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", size))),
		}
	}

	submit := func(files ...file) (int, dto.SubmitReplyResponse) {
		payload, err := json.Marshal(map[string]any{"sessionKey": "s1-session", "body": "see attached", "files": files})
		Expect(err).NotTo(HaveOccurred())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/replies", bytes.NewBuffer(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Relay-Secret", secret)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		var resp dto.SubmitReplyResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return w.Code, resp
	}

	fetch := func() dto.FetchResponse {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/replies?sessionKey=s1-session", nil))
		Expect(w.Code).To(Equal(http.StatusOK))
		var resp dto.FetchResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return resp
	}

	It("accepts the reply and skips a file over the size limit", func() {
		code, resp := submit(textFile("huge.txt", maxFileBytes*20))
		Expect(code).To(Equal(http.StatusOK))
		Expect(resp.Success).To(BeTrue())
		Expect(resp.Skipped).To(ConsistOf(dto.SkippedFileResponse{Name: "huge.txt", Reason: service.SkipTooLarge}))

		got := fetch()
		Expect(got.Messages).To(HaveLen(1))
		Expect(got.Messages[0].Reply).To(Equal("see attached"))
		Expect(got.Messages[0].Attachments).To(BeEmpty())
	})

	It("keeps every file at the size limit", func() {
		code, resp := submit(textFile("a.txt", maxFileBytes), textFile("b.txt", maxFileBytes))
		Expect(code).To(Equal(http.StatusOK))
		Expect(resp.Skipped).To(BeEmpty())
		Expect(fetch().Messages[0].Attachments).To(HaveLen(2))
	})

	It("skips files past the per-reply file count", func() {
		code, resp := submit(textFile("1.txt", 1), textFile("2.txt", 1), textFile("3.txt", 1), textFile("4.txt", 1))
		Expect(code).To(Equal(http.StatusOK))
		Expect(resp.Skipped).To(ConsistOf(dto.SkippedFileResponse{Name: "4.txt", Reason: service.SkipTooManyFiles}))
	})

	It("serves a stored file back under the blob url", func() {
		code, _ := submit(textFile("note.txt", 5))
		Expect(code).To(Equal(http.StatusOK))
		att := fetch().Messages[0].Attachments[0]
		Expect(att.URL).To(HavePrefix("/blobs/"))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, att.URL, nil))
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("xxxxx"))
		Expect(w.Header().Get("Content-Type")).To(HavePrefix("text/plain"))

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/blobs/missing.txt", nil))
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})
})
