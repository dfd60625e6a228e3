package queue_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"relaybox.app/relay/internal/queue"
)

var _ = Describe("dispatch queue", func() {
	var (
		ctx      context.Context
		mr       *miniredis.Miniredis
		client   *redis.Client
		producer queue.Producer
		consumer *queue.RedisConsumer
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr(), DisableIdentity: true})

		producer = queue.NewRedisProducer(client, "dispatch", nil)
		consumer, err = queue.NewRedisConsumer(ctx, client, queue.ConsumerConfig{
			Stream:    "dispatch",
			Group:     "workers",
			Consumer:  "w1",
			DLQStream: "dispatch_dlq",
			BatchSize: 10,
			Block:     -1,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = client.Close()
		mr.Close()
	})

	It("round-trips a task through the stream", func() {
		Expect(producer.Enqueue(ctx, queue.DispatchTask{
			MessageID:  1234567890123,
			SessionKey: "session-abc",
			Body:       "hello workflow",
			UserID:     "u-1",
			TraceID:    "0af7651916cd43dd8448eb211c80319c",
		})).To(Succeed())

		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))

		task := msgs[0].Task
		Expect(task.MessageID).To(Equal(int64(1234567890123)))
		Expect(task.SessionKey).To(Equal("session-abc"))
		Expect(task.Body).To(Equal("hello workflow"))
		Expect(task.UserID).To(Equal("u-1"))
		Expect(task.Module).To(BeEmpty())
		Expect(task.Attempt).To(Equal(1))
	})

	It("returns an empty batch when nothing is queued", func() {
		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(BeEmpty())
	})

	It("parks malformed entries in the DLQ and skips them", func() {
		Expect(client.XAdd(ctx, &redis.XAddArgs{
			Stream: "dispatch",
			Values: map[string]any{"body": "no ids"},
		}).Err()).To(Succeed())

		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(BeEmpty())

		pending, err := client.XPending(ctx, "dispatch", "workers").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Count).To(BeZero())

		dead, err := client.XRange(ctx, "dispatch_dlq", "-", "+").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(dead).To(HaveLen(1))
		Expect(dead[0].Values).To(HaveKeyWithValue("body", "no ids"))
	})

	It("requeues with the attempt counter bumped", func() {
		Expect(producer.Enqueue(ctx, queue.DispatchTask{MessageID: 7, SessionKey: "session-abc", Body: "b"})).To(Succeed())
		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(consumer.Requeue(ctx, msgs[0], "workflow returned 502")).To(Succeed())

		again, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(HaveLen(1))
		Expect(again[0].Task.Attempt).To(Equal(2))
		Expect(again[0].Raw.Values["last_error"]).To(Equal("workflow returned 502"))
	})

	It("moves exhausted tasks to the DLQ", func() {
		Expect(producer.Enqueue(ctx, queue.DispatchTask{MessageID: 9, SessionKey: "session-abc", Body: "b", Attempt: 5})).To(Succeed())
		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(consumer.SendDLQ(ctx, msgs[0], "gave up")).To(Succeed())

		dlq, err := client.XRange(ctx, "dispatch_dlq", "-", "+").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(dlq).To(HaveLen(1))
		Expect(dlq[0].Values["error"]).To(Equal("gave up"))
		Expect(dlq[0].Values["attempt"]).To(Equal("5"))
	})
})

var _ = Describe("AuditLog", func() {
	It("records accepted replies without the raw session key", func() {
		ctx := context.Background()
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		defer mr.Close()
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), DisableIdentity: true})
		defer client.Close()

		audit := queue.NewRedisAuditLog(client, "audit", 100)
		Expect(audit.Record(ctx, queue.AuditRecord{
			SessionKey: "super-secret-session",
			EntryID:    55,
			Mode:       "pull",
			BodyBytes:  12,
			At:         time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		})).To(Succeed())

		entries, err := client.XRange(ctx, "audit", "-", "+").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Values["entry_id"]).To(Equal("55"))
		Expect(entries[0].Values["session_hash"]).NotTo(ContainSubstring("super-secret"))
		Expect(entries[0].Values["at"]).To(Equal("2025-03-01T00:00:00Z"))
	})
})
