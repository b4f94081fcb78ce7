package issue_tracker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/larp0/uwularpy-sub000/common/retry"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/service/issue_tracker"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("GitHub issue tracker", func() {
	var (
		ctx     context.Context
		mux     *http.ServeMux
		server  *httptest.Server
		service issue_tracker.IssueTrackerService
		repo    = model.RepoRef{Owner: "acme", Repo: "web"}
	)

	BeforeEach(func() {
		ctx = context.Background()
		mux = http.NewServeMux()
		server = httptest.NewServer(mux)

		client := github.NewClient(nil)
		base, err := url.Parse(server.URL + "/")
		Expect(err).NotTo(HaveOccurred())
		client.BaseURL = base

		service = issue_tracker.NewGitHubIssueTrackerService(client, retry.Policy{
			Attempts:  3,
			BaseDelay: time.Millisecond,
			Timeout:   time.Second,
		})
	})

	AfterEach(func() {
		server.Close()
	})

	It("creates an issue linked to the milestone", func() {
		var got map[string]any
		mux.HandleFunc("POST /repos/acme/web/issues", func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			body, _ := io.ReadAll(r.Body)
			Expect(json.Unmarshal(body, &got)).To(Succeed())
			_, _ = w.Write([]byte(`{"id":99,"number":7,"title":"Fix it","milestone":{"number":3}}`))
		})

		issue, err := service.CreateIssue(ctx, repo, model.IssueTemplate{
			Title:  "Fix it",
			Body:   "body",
			Labels: []string{"ai-plan"},
		}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(issue.Number).To(Equal(int64(7)))
		Expect(issue.MilestoneID).To(Equal(int64(3)))
		Expect(got["milestone"]).To(BeEquivalentTo(3))
		Expect(got["labels"]).To(ConsistOf("ai-plan"))
	})

	It("reports an issue without milestone as unlinked", func() {
		mux.HandleFunc("GET /repos/acme/web/issues/7", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":99,"number":7,"title":"Fix it"}`))
		})

		issue, err := service.GetIssue(ctx, repo, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(issue.MilestoneID).To(BeZero())
	})

	It("retries server errors and then succeeds", func() {
		var calls atomic.Int32
		mux.HandleFunc("GET /repos/acme/web/milestones/3", func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"number":3,"title":"AI Development Plan x","html_url":"https://github.com/acme/web/milestone/3"}`))
		})

		m, err := service.GetMilestone(ctx, repo, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.ID).To(Equal(int64(3)))
		Expect(m.Number).To(Equal(int64(3)))
		Expect(calls.Load()).To(Equal(int32(3)))
	})

	It("does not retry a 404 and maps it to ErrNotFound", func() {
		var calls atomic.Int32
		mux.HandleFunc("GET /repos/acme/web/contents/go.mod", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		})

		_, err := service.GetFileContent(ctx, repo, "go.mod")
		Expect(errors.Is(err, issue_tracker.ErrNotFound)).To(BeTrue())
		Expect(calls.Load()).To(Equal(int32(1)))
	})

	It("converts language byte counts to percentages", func() {
		mux.HandleFunc("GET /repos/acme/web/languages", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"Go":750,"Shell":250}`))
		})

		langs, err := service.ListLanguages(ctx, repo)
		Expect(err).NotTo(HaveOccurred())
		Expect(langs["Go"]).To(BeNumerically("~", 75.0, 0.01))
		Expect(langs["Shell"]).To(BeNumerically("~", 25.0, 0.01))
	})

	It("returns only the newest comments, oldest first", func() {
		mux.HandleFunc("GET /repos/acme/web/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"id":1,"body":"a"},{"id":2,"body":"b"},{"id":3,"body":"c"}]`))
		})

		comments, err := service.ListComments(ctx, repo, 7, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(comments).To(HaveLen(2))
		Expect(comments[0].Body).To(Equal("b"))
		Expect(comments[1].Body).To(Equal("c"))
	})

	Context("non-idempotent creates", func() {
		hang := func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}

		BeforeEach(func() {
			client := github.NewClient(nil)
			base, err := url.Parse(server.URL + "/")
			Expect(err).NotTo(HaveOccurred())
			client.BaseURL = base
			service = issue_tracker.NewGitHubIssueTrackerService(client, retry.Policy{
				Attempts:  3,
				BaseDelay: time.Millisecond,
				Timeout:   100 * time.Millisecond,
			})
		})

		It("gives up on a hung issue create once the call timeout expires", func() {
			var calls atomic.Int32
			mux.HandleFunc("POST /repos/acme/web/issues", func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				hang(w, r)
			})

			start := time.Now()
			_, err := service.CreateIssue(ctx, repo, model.IssueTemplate{Title: "Fix it", Body: "b"}, 3)

			Expect(err).To(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("does not repeat a milestone create that timed out", func() {
			var calls atomic.Int32
			mux.HandleFunc("POST /repos/acme/web/milestones", func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				hang(w, r)
			})

			_, err := service.CreateMilestone(ctx, repo, "AI Development Plan x", "d")

			Expect(err).To(HaveOccurred())
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("does not repeat a comment after a server error", func() {
			var calls atomic.Int32
			mux.HandleFunc("POST /repos/acme/web/issues/4/comments", func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusBadGateway)
			})

			_, err := service.CreateComment(ctx, repo, 4, "hello")

			Expect(err).To(HaveOccurred())
			Expect(calls.Load()).To(Equal(int32(1)))
		})
	})
})
