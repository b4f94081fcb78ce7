package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/larp0/uwularpy-sub000/internal/http/dto"
	"github.com/larp0/uwularpy-sub000/internal/http/handler"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/service"
)

var _ = Describe("TriggerHandler", func() {
	var (
		router *gin.Engine
		svc    *mockTriggerService
	)

	BeforeEach(func() {
		router = gin.New()
		svc = &mockTriggerService{}
		h := handler.NewTriggerHandler(svc, "X-Trace-Id")
		router.POST("/webhooks/trigger", h.Trigger)
	})

	post := func(body any, headers map[string]string) *httptest.ResponseRecorder {
		payload, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		req := httptest.NewRequest(http.MethodPost, "/webhooks/trigger", bytes.NewBuffer(payload))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	validBody := func() map[string]any {
		return map[string]any{
			"owner":       "acme",
			"repo":        "api",
			"issueNumber": 12,
			"requester":   "alice",
			"message":     "@l plan",
			"commentId":   5,
			"repositories": []map[string]any{
				{"owner": "acme", "repo": "web"},
			},
			"isMultiRepo": true,
		}
	}

	It("accepts a trigger and passes it through with the trace header", func() {
		w := post(validBody(), map[string]string{"X-Trace-Id": "abc123"})

		Expect(w.Code).To(Equal(http.StatusAccepted))
		var resp dto.TriggerResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.RunID).To(Equal(int64(42)))
		Expect(resp.Enqueued).To(BeTrue())

		Expect(svc.lastParams).NotTo(BeNil())
		Expect(*svc.lastParams.TraceID).To(Equal("abc123"))
		Expect(svc.lastParams.Trigger).To(Equal(model.Trigger{
			Owner:        "acme",
			Repo:         "api",
			IssueNumber:  12,
			Requester:    "alice",
			Message:      "@l plan",
			CommentID:    5,
			Repositories: []model.RepoRef{{Owner: "acme", Repo: "web"}},
			IsMultiRepo:  true,
		}))
	})

	It("serializes the run id as a string", func() {
		w := post(validBody(), nil)
		Expect(w.Body.String()).To(ContainSubstring(`"runId":"42"`))
		Expect(svc.lastParams.TraceID).To(BeNil())
	})

	It("reports skipped triggers", func() {
		svc.ingestFn = func(ctx context.Context, params service.TriggerIngestParams) (*service.TriggerIngestResult, error) {
			return &service.TriggerIngestResult{SkipReason: "message does not mention the bot"}, nil
		}

		w := post(validBody(), nil)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(w.Body.String()).To(ContainSubstring(`"enqueued":false`))
		Expect(w.Body.String()).To(ContainSubstring("does not mention"))
	})

	DescribeTable("rejects incomplete bodies",
		func(field string) {
			body := validBody()
			delete(body, field)

			w := post(body, nil)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(svc.lastParams).To(BeNil())
		},
		Entry("owner", "owner"),
		Entry("repo", "repo"),
		Entry("issue number", "issueNumber"),
		Entry("requester", "requester"),
		Entry("message", "message"),
	)

	It("rejects malformed json", func() {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/trigger", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("maps invalid triggers to 400", func() {
		svc.ingestFn = func(ctx context.Context, params service.TriggerIngestParams) (*service.TriggerIngestResult, error) {
			return nil, fmt.Errorf("%w: missing owner", model.ErrInvalidTrigger)
		}

		w := post(validBody(), nil)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("maps queue failures to 500", func() {
		svc.ingestFn = func(ctx context.Context, params service.TriggerIngestParams) (*service.TriggerIngestResult, error) {
			return nil, errors.New("redis down")
		}

		w := post(validBody(), nil)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).NotTo(ContainSubstring("redis down"))
	})
})
