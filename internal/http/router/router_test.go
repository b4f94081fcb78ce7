package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	httprouter "github.com/larp0/uwularpy-sub000/internal/http/router"
	"github.com/larp0/uwularpy-sub000/internal/queue"
	"github.com/larp0/uwularpy-sub000/internal/service"
)

var _ = Describe("SetupRoutes", func() {
	var (
		mr       *miniredis.Miniredis
		client   *redis.Client
		router   *gin.Engine
		consumer *queue.RedisConsumer
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)

		var err error
		consumer, err = queue.NewRedisConsumer(client, queue.ConsumerConfig{
			Stream:    "planner_triggers",
			Group:     "planner_group",
			Consumer:  "test",
			DLQStream: "planner_triggers_dlq",
			BatchSize: 10,
			Block:     10 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())

		services := service.NewServices(service.ServicesConfig{
			Producer:    queue.NewRedisProducer(client, "planner_triggers", nil),
			BotUsername: "l",
		})
		router = gin.New()
		httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
			TraceHeaderName: "X-Trace-Id",
			WebhookSecret:   "s3cret",
		})
	})

	post := func(path string, body any, headers map[string]string) *httptest.ResponseRecorder {
		payload, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(payload))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("serves health checks without a token", func() {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("requires the webhook token", func() {
		w := post("/webhooks/trigger", map[string]any{}, nil)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("queues a trigger for the worker", func() {
		w := post("/webhooks/trigger", map[string]any{
			"owner":       "acme",
			"repo":        "api",
			"issueNumber": 3,
			"requester":   "alice",
			"message":     "@l plan",
		}, map[string]string{"X-Webhook-Token": "s3cret", "X-Trace-Id": "trace-1"})

		Expect(w.Code).To(Equal(http.StatusAccepted))

		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Trigger.Owner).To(Equal("acme"))
		Expect(msgs[0].Trigger.IssueNumber).To(Equal(int64(3)))
		Expect(msgs[0].TraceID).To(Equal("trace-1"))
		Expect(msgs[0].Attempt).To(Equal(1))
	})

	It("queues gitlab comments that mention the bot", func() {
		w := post("/webhooks/gitlab", map[string]any{
			"object_kind": "note",
			"user":        map[string]any{"username": "alice"},
			"project":     map[string]any{"path_with_namespace": "acme/api"},
			"object_attributes": map[string]any{
				"id":            9,
				"note":          "@l approve",
				"noteable_type": "Issue",
			},
			"issue": map[string]any{"iid": 3},
		}, map[string]string{"X-Gitlab-Token": "s3cret", "X-Gitlab-Event": "Note Hook"})

		Expect(w.Code).To(Equal(http.StatusOK))

		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Trigger.Message).To(Equal("@l approve"))
	})

	It("does not queue comments that skip the bot", func() {
		w := post("/webhooks/trigger", map[string]any{
			"owner":       "acme",
			"repo":        "api",
			"issueNumber": 3,
			"requester":   "alice",
			"message":     "looks good to me",
		}, map[string]string{"X-Webhook-Token": "s3cret"})

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(w.Body.String()).To(ContainSubstring(`"enqueued":false`))

		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(BeEmpty())
	})
})
