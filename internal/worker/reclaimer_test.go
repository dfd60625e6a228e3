package worker_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"relaybox.app/relay/internal/queue"
	"relaybox.app/relay/internal/worker"
)

var _ = Describe("Reclaimer", func() {
	var (
		ctx      context.Context
		client   *redis.Client
		consumer *queue.RedisConsumer
		cfg      queue.ConsumerConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)
		client = redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DisableIdentity: true})
		DeferCleanup(client.Close)

		cfg = queue.ConsumerConfig{
			Stream:    "relay_dispatch",
			Group:     "relay_workers",
			Consumer:  "crashed",
			DLQStream: "relay_dispatch_dlq",
			BatchSize: 10,
			Block:     -1,
		}
		consumer, err = queue.NewRedisConsumer(ctx, client, cfg)
		Expect(err).NotTo(HaveOccurred())

		producer := queue.NewRedisProducer(client, cfg.Stream, nil)
		Expect(producer.Enqueue(ctx, queue.DispatchTask{MessageID: 5, SessionKey: "sess-1", Body: "hi"})).To(Succeed())

		// Read without acking: the entry now sits in the crashed consumer's PEL.
		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
	})

	newReclaimer := func(minIdle time.Duration, d worker.Dispatcher) *worker.Reclaimer {
		w := worker.New(consumer, d, nil, worker.Config{MaxAttempts: 3})
		return worker.NewReclaimer(client, worker.ReclaimerConfig{
			Stream:    cfg.Stream,
			Group:     cfg.Group,
			Consumer:  "survivor",
			MinIdle:   minIdle,
			BatchSize: 10,
		}, consumer, w.Handle, nil)
	}

	It("claims stale entries and settles them through the worker", func() {
		var dispatched []int64
		r := newReclaimer(0, dispatcherFunc(func(_ context.Context, t queue.DispatchTask) error {
			dispatched = append(dispatched, t.MessageID)
			return nil
		}))

		n, err := r.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(dispatched).To(Equal([]int64{5}))

		pending, err := client.XPending(ctx, cfg.Stream, cfg.Group).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Count).To(BeZero())
	})

	It("leaves entries that are not idle long enough", func() {
		r := newReclaimer(time.Hour, dispatcherFunc(func(context.Context, queue.DispatchTask) error {
			Fail("nothing should be dispatched")
			return nil
		}))

		n, err := r.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		pending, err := client.XPending(ctx, cfg.Stream, cfg.Group).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Count).To(Equal(int64(1)))
	})

	It("parks malformed entries in the DLQ with their raw fields", func() {
		Expect(client.XAdd(ctx, &redis.XAddArgs{
			Stream: cfg.Stream,
			Values: map[string]any{"garbage": "x"},
		}).Err()).To(Succeed())
		// A raw read leaves it pending, as if the reader died before parsing.
		Expect(client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    cfg.Group,
			Consumer: cfg.Consumer,
			Streams:  []string{cfg.Stream, ">"},
			Block:    -1,
		}).Err()).To(Succeed())

		r := newReclaimer(0, dispatcherFunc(func(context.Context, queue.DispatchTask) error { return nil }))
		n, err := r.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))

		dead, err := client.XRange(ctx, cfg.DLQStream, "-", "+").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(dead).To(HaveLen(1))
		Expect(dead[0].Values).To(HaveKeyWithValue("garbage", "x"))
		Expect(dead[0].Values["error"]).To(HavePrefix("malformed task"))

		pending, err := client.XPending(ctx, cfg.Stream, cfg.Group).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Count).To(BeZero())
	})
})
