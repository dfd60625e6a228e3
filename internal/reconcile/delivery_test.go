package reconcile_test

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"relaybox.app/relay/internal/client"
	"relaybox.app/relay/internal/reconcile"
)

var _ = Describe("Poller", func() {
	var (
		engine  *reconcile.Engine
		fetcher *fakeFetcher
		poller  *reconcile.Poller
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		engine = reconcile.NewEngine(reconcile.EngineConfig{SessionKey: "session-abc"}, &fakeSender{})
		fetcher = &fakeFetcher{}
		poller = reconcile.NewPoller(fetcher, engine, reconcile.PollerConfig{SessionKey: "session-abc"})
	})

	AfterEach(func() {
		engine.Close()
	})

	banner := func() string {
		snap, err := engine.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		return snap.Banner
	}

	It("feeds fetched messages to the engine", func() {
		fetcher.batches = [][]client.Message{{inbound("1", "A"), inbound("2", "B")}}

		Expect(poller.PollOnce(ctx)).To(Succeed())
		snap, _ := engine.Snapshot()
		Expect(snap.Entries).To(HaveLen(2))
	})

	It("keeps replies minted by different replicas in the same poll", func() {
		first, err := snowflake.NewNode(1)
		Expect(err).NotTo(HaveOccurred())
		second, err := snowflake.NewNode(2)
		Expect(err).NotTo(HaveOccurred())
		a, b := first.Generate(), second.Generate()
		Expect(a).NotTo(Equal(b))

		fetcher.batches = [][]client.Message{{inbound(a.String(), "from replica 1"), inbound(b.String(), "from replica 2")}}
		Expect(poller.PollOnce(ctx)).To(Succeed())

		snap, err := engine.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Entries).To(HaveLen(2))
		Expect(snap.Entries[0].Body).To(Equal("from replica 1"))
		Expect(snap.Entries[1].Body).To(Equal("from replica 2"))
	})

	It("shows the banner only after repeated failures and clears it on recovery", func() {
		fail := errors.New("relay unavailable")
		fetcher.errs = []error{fail, fail, fail, nil}

		Expect(poller.PollOnce(ctx)).To(MatchError(fail))
		Expect(poller.PollOnce(ctx)).To(MatchError(fail))
		Expect(banner()).To(BeEmpty())

		Expect(poller.PollOnce(ctx)).To(MatchError(fail))
		Expect(banner()).To(Equal(reconcile.BannerUnavailable))

		Expect(poller.PollOnce(ctx)).To(Succeed())
		Expect(banner()).To(BeEmpty())
	})

	It("keeps polling after a failure until cancelled", func() {
		fetcher.errs = []error{errors.New("boom")}
		fetcher.batches = [][]client.Message{{inbound("1", "A")}}
		poller = reconcile.NewPoller(fetcher, engine, reconcile.PollerConfig{
			SessionKey: "session-abc",
			Interval:   5 * time.Millisecond,
		})

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- poller.Run(runCtx) }()

		Eventually(func() int {
			snap, _ := engine.Snapshot()
			return len(snap.Entries)
		}).Should(Equal(1))
		Expect(fetcher.Calls()).To(BeNumerically(">=", 2))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})

var _ = Describe("StreamConsumer", func() {
	var (
		engine   *reconcile.Engine
		streamer *fakeStreamer
	)

	BeforeEach(func() {
		engine = reconcile.NewEngine(reconcile.EngineConfig{SessionKey: "session-abc"}, &fakeSender{})
		streamer = &fakeStreamer{}
	})

	AfterEach(func() {
		engine.Close()
	})

	It("reconnects from the last delivered id", func() {
		streamer.sessions = []streamSession{
			{msgs: []client.Message{inbound("1", "A"), inbound("2", "B")}, err: errors.New("dropped")},
			{msgs: []client.Message{inbound("2", "B"), inbound("3", "C")}},
		}
		consumer := reconcile.NewStreamConsumer(streamer, engine, reconcile.StreamConfig{
			SessionKey: "session-abc",
			LastID:     "0",
			MinDelay:   time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- consumer.Run(ctx) }()

		Eventually(func() []streamCall { return streamer.Calls() }).Should(HaveLen(3))
		calls := streamer.Calls()
		Expect(calls[0].lastID).To(Equal("0"))
		Expect(calls[1].lastID).To(Equal("2"))
		Expect(calls[2].lastID).To(Equal("3"))

		snap, err := engine.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		bodies := make([]string, len(snap.Entries))
		for i, e := range snap.Entries {
			bodies[i] = e.Body
		}
		Expect(bodies).To(Equal([]string{"A", "B", "C"}))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("raises the banner after repeated connection failures", func() {
		fail := errors.New("refused")
		streamer.sessions = []streamSession{{err: fail}, {err: fail}, {err: fail}}
		consumer := reconcile.NewStreamConsumer(streamer, engine, reconcile.StreamConfig{
			SessionKey: "session-abc",
			MinDelay:   time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = consumer.Run(ctx) }()

		Eventually(func() string {
			snap, _ := engine.Snapshot()
			return snap.Banner
		}).Should(Equal(reconcile.BannerUnavailable))
	})
})
