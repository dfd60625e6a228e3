package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"relaybox.app/relay/internal/client"
	"relaybox.app/relay/internal/http/dto"
	"relaybox.app/relay/internal/model"
)

var _ = Describe("Client", func() {
	var (
		server *httptest.Server
		mux    *http.ServeMux
		c      *client.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mux = http.NewServeMux()
		server = httptest.NewServer(mux)
		var err error
		c, err = client.New(client.Config{BaseURL: server.URL + "/", Timeout: 2 * time.Second})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("rejects a base url without a host", func() {
		_, err := client.New(client.Config{BaseURL: "not a url"})
		Expect(err).To(HaveOccurred())
	})

	Describe("Fetch", func() {
		It("returns drained messages in order", func() {
			var gotKey string
			mux.HandleFunc("/api/v1/replies", func(w http.ResponseWriter, r *http.Request) {
				gotKey = r.URL.Query().Get("sessionKey")
				_ = json.NewEncoder(w).Encode(dto.FetchResponse{
					Success: true,
					Count:   2,
					Messages: []dto.MailboxMessageResponse{
						{ID: "11", Reply: "A", Timestamp: "2026-01-02T03:04:05Z"},
						{ID: "12", Reply: "B", Timestamp: "2026-01-02T03:04:06Z",
							Attachments: []dto.AttachmentResponse{{Name: "a.png", MimeType: "image/png", Size: 3, URL: "/files/a.png"}}},
					},
				})
			})

			msgs, err := c.Fetch(ctx, "session-abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(gotKey).To(Equal("session-abc"))
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].ID).To(Equal("11"))
			Expect(msgs[0].Body).To(Equal("A"))
			Expect(msgs[0].Direction).To(Equal(model.DirectionInbound))
			Expect(msgs[0].CreatedAt.Year()).To(Equal(2026))
			Expect(msgs[1].Attachments).To(ConsistOf(model.Attachment{Name: "a.png", MimeType: "image/png", Size: 3, URL: "/files/a.png"}))
		})

		It("returns an empty slice when nothing is pending", func() {
			mux.HandleFunc("/api/v1/replies", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(dto.NewFetchResponse(nil))
			})

			msgs, err := c.Fetch(ctx, "session-abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(BeEmpty())
		})

		It("maps 503 to ErrUnavailable", func() {
			mux.HandleFunc("/api/v1/replies", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(dto.FetchUnavailable("storage unavailable"))
			})

			_, err := c.Fetch(ctx, "session-abc")
			Expect(errors.Is(err, client.ErrUnavailable)).To(BeTrue())
		})

		It("maps 400 to a StatusError", func() {
			mux.HandleFunc("/api/v1/replies", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid session key"}`))
			})

			_, err := c.Fetch(ctx, "x")
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(statusErr.Message).To(Equal("invalid session key"))
			Expect(errors.Is(err, client.ErrUnavailable)).To(BeFalse())
		})

		It("maps a dead server to ErrUnavailable", func() {
			server.Close()
			_, err := c.Fetch(ctx, "session-abc")
			Expect(errors.Is(err, client.ErrUnavailable)).To(BeTrue())
		})
	})

	Describe("Send", func() {
		It("posts the message and returns the confirmed record", func() {
			var got dto.SendMessageRequest
			mux.HandleFunc("POST /api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(http.StatusCreated)
				_ = json.NewEncoder(w).Encode(dto.SendMessageResponse{Message: dto.MessageResponse{
					ID:         "99",
					SessionKey: got.SessionKey,
					Direction:  "outbound",
					Body:       got.Body,
					CreatedAt:  "2026-01-02T03:04:05Z",
				}})
			})

			msg, err := c.Send(ctx, client.SendRequest{SessionKey: "session-abc", Body: "hi", UserID: "u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(got.UserID).To(Equal("u1"))
			Expect(msg.ID).To(Equal("99"))
			Expect(msg.Direction).To(Equal(model.DirectionOutbound))
			Expect(msg.Body).To(Equal("hi"))
		})
	})

	Describe("Stream", func() {
		It("delivers message events and reports the last id", func() {
			var gotLast string
			mux.HandleFunc("/api/v1/replies/stream", func(w http.ResponseWriter, r *http.Request) {
				gotLast = r.URL.Query().Get("lastId")
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "event: ping\ndata: ready\n\n")
				fmt.Fprint(w, "id: 5\nevent: message\ndata: {\"id\":\"5\",\"direction\":\"inbound\",\"body\":\"one\"}\n\n")
				fmt.Fprint(w, ": comment\n\n")
				fmt.Fprint(w, "id: 6\nevent: message\ndata: {\"id\":\"6\",\"direction\":\"inbound\",\"body\":\"two\"}\n\n")
			})

			var bodies []string
			last, err := c.Stream(ctx, "session-abc", "4", func(m client.Message) error {
				bodies = append(bodies, m.Body)
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(gotLast).To(Equal("4"))
			Expect(bodies).To(Equal([]string{"one", "two"}))
			Expect(last).To(Equal("6"))
		})

		It("stops when the callback fails", func() {
			mux.HandleFunc("/api/v1/replies/stream", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "id: 5\nevent: message\ndata: {\"id\":\"5\",\"body\":\"one\"}\n\n")
				fmt.Fprint(w, "id: 6\nevent: message\ndata: {\"id\":\"6\",\"body\":\"two\"}\n\n")
			})

			stop := errors.New("stop")
			last, err := c.Stream(ctx, "session-abc", "", func(m client.Message) error { return stop })
			Expect(err).To(MatchError(stop))
			Expect(last).To(BeEmpty())
		})

		It("surfaces a terminal error event as ErrUnavailable", func() {
			mux.HandleFunc("/api/v1/replies/stream", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "event: error\ndata: {\"error\":\"storage unavailable\"}\n\n")
			})

			_, err := c.Stream(ctx, "session-abc", "", func(client.Message) error { return nil })
			Expect(errors.Is(err, client.ErrUnavailable)).To(BeTrue())
		})

		It("treats a refused stream as unavailable", func() {
			mux.HandleFunc("/api/v1/replies/stream", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprint(w, `{"success":false,"error":"durable log not configured"}`)
			})

			last, err := c.Stream(ctx, "session-abc", "9", func(client.Message) error { return nil })
			Expect(errors.Is(err, client.ErrUnavailable)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("durable log not configured"))
			Expect(last).To(Equal("9"))
		})

		It("reports 404 when the server runs in pull mode", func() {
			_, err := c.Stream(ctx, "session-abc", "", func(client.Message) error { return nil })
			var statusErr *client.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
