package queue_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/queue"
)

const (
	stream    = "planner_triggers"
	dlqStream = "planner_triggers_dlq"
)

var _ = Describe("Redis stream queue", func() {
	var (
		ctx      context.Context
		client   *redis.Client
		producer queue.Producer
		consumer *queue.RedisConsumer
		trigger  model.Trigger
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr := miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)

		producer = queue.NewRedisProducer(client, stream, nil)

		var err error
		consumer, err = queue.NewRedisConsumer(client, queue.ConsumerConfig{
			Stream:    stream,
			Group:     "planner_group",
			Consumer:  "worker-1",
			DLQStream: dlqStream,
			BatchSize: 10,
			Block:     10 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())

		trigger = model.Trigger{
			Owner:       "acme",
			Repo:        "api",
			IssueNumber: 42,
			Requester:   "alice",
			Message:     "@l plan",
		}
	})

	It("delivers an enqueued trigger", func() {
		traceID := "4bf92f3577b34da6a3ce929d0e0e4736"
		Expect(producer.Enqueue(ctx, queue.TriggerMessage{RunID: 7, Trigger: trigger, TraceID: &traceID})).To(Succeed())

		messages, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(messages).To(HaveLen(1))
		Expect(messages[0].RunID).To(Equal(int64(7)))
		Expect(messages[0].Trigger).To(Equal(trigger))
		Expect(messages[0].Attempt).To(Equal(1))
		Expect(messages[0].TraceID).To(Equal(traceID))
	})

	It("returns nothing when the stream is idle", func() {
		messages, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(messages).To(BeEmpty())
	})

	It("requeues with the next attempt and the last error", func() {
		Expect(producer.Enqueue(ctx, queue.TriggerMessage{RunID: 7, Trigger: trigger, Attempt: 1})).To(Succeed())
		messages, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(consumer.Requeue(ctx, messages[0], "platform timeout")).To(Succeed())

		again, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(HaveLen(1))
		Expect(again[0].ID).NotTo(Equal(messages[0].ID))
		Expect(again[0].Attempt).To(Equal(2))
		Expect(again[0].Trigger).To(Equal(trigger))
		Expect(again[0].Raw.Values).To(HaveKeyWithValue("last_error", "platform timeout"))
	})

	It("moves a message to the dead letter stream", func() {
		Expect(producer.Enqueue(ctx, queue.TriggerMessage{RunID: 7, Trigger: trigger, Attempt: 3})).To(Succeed())
		messages, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(consumer.SendDLQ(ctx, messages[0], "gave up")).To(Succeed())

		dead, err := client.XRange(ctx, dlqStream, "-", "+").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(dead).To(HaveLen(1))
		Expect(dead[0].Values).To(HaveKeyWithValue("error", "gave up"))
		Expect(dead[0].Values).To(HaveKeyWithValue("run_id", "7"))

		pending, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream, Group: "planner_group", Start: "-", End: "+", Count: 10,
		}).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("acks and drops messages that cannot be parsed", func() {
		Expect(client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]any{"run_id": "7"}}).Err()).To(Succeed())

		messages, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(messages).To(BeEmpty())

		pending, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream, Group: "planner_group", Start: "-", End: "+", Count: 10,
		}).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})
})

var _ = DescribeTable("ParseMessage",
	func(values map[string]any, ok bool) {
		_, err := queue.ParseMessage(redis.XMessage{ID: "1-0", Values: values})
		if ok {
			Expect(err).NotTo(HaveOccurred())
		} else {
			Expect(err).To(HaveOccurred())
		}
	},
	Entry("complete", map[string]any{"run_id": "1", "payload": `{"owner":"acme","repo":"api","issueNumber":1}`}, true),
	Entry("missing run id", map[string]any{"payload": `{}`}, false),
	Entry("missing payload", map[string]any{"run_id": "1"}, false),
	Entry("malformed payload", map[string]any{"run_id": "1", "payload": "{"}, false),
	Entry("bad attempt", map[string]any{"run_id": "1", "payload": `{}`, "attempt": "x"}, false),
)
