package mapper_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/larp0/uwularpy-sub000/internal/mapper"
	"github.com/larp0/uwularpy-sub000/internal/model"
)

var _ = Describe("GitLabEventMapper", func() {
	var (
		gitlabMapper *mapper.GitLabEventMapper
		ctx          context.Context
	)

	BeforeEach(func() {
		gitlabMapper = mapper.NewGitLabEventMapper()
		ctx = context.Background()
	})

	DescribeTable("Map",
		func(header, objectKind string, expected mapper.CanonicalEventType) {
			headers := map[string]string{}
			if header != "" {
				headers["X-Gitlab-Event"] = header
			}
			body := map[string]any{}
			if objectKind != "" {
				body["object_kind"] = objectKind
			}

			eventType, err := gitlabMapper.Map(ctx, body, headers)
			if expected == "" {
				Expect(err).To(MatchError(mapper.ErrUnsupportedEvent))
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(eventType).To(Equal(expected))
		},
		Entry("note hook", "Note Hook", "note", mapper.EventReply),
		Entry("issue hook", "Issue Hook", "issue", mapper.EventIssueCreated),
		Entry("merge request hook", "Merge Request Hook", "merge_request", mapper.EventPRCreated),
		Entry("object kind without header", "", "note", mapper.EventReply),
		Entry("header without object kind", "Note Hook", "", mapper.EventReply),
		Entry("push hook", "Push Hook", "push", mapper.CanonicalEventType("")),
		Entry("nothing to go on", "", "", mapper.CanonicalEventType("")),
	)

	Describe("NoteToTrigger", func() {
		note := func(mutate func(map[string]any)) []byte {
			body := map[string]any{
				"object_kind": "note",
				"user":        map[string]any{"username": "alice"},
				"project":     map[string]any{"path_with_namespace": "acme/platform/api"},
				"object_attributes": map[string]any{
					"id":            991,
					"note":          "@l plan focus on auth",
					"noteable_type": "Issue",
					"system":        false,
				},
				"issue":         map[string]any{"iid": 42},
				"merge_request": nil,
			}
			if mutate != nil {
				mutate(body)
			}
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			return data
		}

		It("maps an issue comment", func() {
			trigger, err := gitlabMapper.NoteToTrigger(note(nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(trigger).To(Equal(model.Trigger{
				Owner:       "acme/platform",
				Repo:        "api",
				IssueNumber: 42,
				Requester:   "alice",
				Message:     "@l plan focus on auth",
				CommentID:   991,
			}))
		})

		It("maps a merge request comment to the merge request iid", func() {
			trigger, err := gitlabMapper.NoteToTrigger(note(func(b map[string]any) {
				b["object_attributes"].(map[string]any)["noteable_type"] = "MergeRequest"
				b["merge_request"] = map[string]any{"iid": 7}
			}))
			Expect(err).NotTo(HaveOccurred())
			Expect(trigger.IssueNumber).To(Equal(int64(7)))
		})

		It("ignores system notes", func() {
			_, err := gitlabMapper.NoteToTrigger(note(func(b map[string]any) {
				b["object_attributes"].(map[string]any)["system"] = true
			}))
			Expect(err).To(MatchError(mapper.ErrIgnoredNote))
		})

		It("ignores comments on commits", func() {
			_, err := gitlabMapper.NoteToTrigger(note(func(b map[string]any) {
				b["object_attributes"].(map[string]any)["noteable_type"] = "Commit"
			}))
			Expect(err).To(MatchError(mapper.ErrIgnoredNote))
		})

		It("rejects other object kinds", func() {
			_, err := gitlabMapper.NoteToTrigger(note(func(b map[string]any) {
				b["object_kind"] = "issue"
			}))
			Expect(err).To(MatchError(mapper.ErrUnsupportedEvent))
		})

		It("rejects a payload without a project path", func() {
			_, err := gitlabMapper.NoteToTrigger(note(func(b map[string]any) {
				b["project"] = map[string]any{"path_with_namespace": "api"}
			}))
			Expect(err).To(MatchError(model.ErrInvalidTrigger))
		})

		It("rejects malformed json", func() {
			_, err := gitlabMapper.NoteToTrigger([]byte("{"))
			Expect(err).To(HaveOccurred())
		})
	})
})
