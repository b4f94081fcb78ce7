package service_test

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/larp0/uwularpy-sub000/internal/brain"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/ratelimit"
	"github.com/larp0/uwularpy-sub000/internal/service"
)

var _ = Describe("Pipeline", func() {
	var (
		ctx      context.Context
		tracker  *fakeTracker
		limiter  *mockLimiter
		ingestor *mockIngestor
		analyzer *mockAnalyzer
		enricher *mockEnricher
		pipeline *service.Pipeline
	)

	// process posts msg in the thread as alice, then runs it.
	process := func(msg string) *model.PipelineRun {
		tracker.addComment("alice", msg)
		run, err := pipeline.Process(ctx, 0, model.Trigger{
			Owner:       "acme",
			Repo:        "api",
			IssueNumber: 42,
			Requester:   "alice",
			Message:     msg,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(run).NotTo(BeNil())
		return run
	}

	BeforeEach(func() {
		ctx = context.Background()
		tracker = newFakeTracker()
		limiter = &mockLimiter{}
		ingestor = &mockIngestor{}
		analyzer = &mockAnalyzer{}
		enricher = &mockEnricher{}
		pipeline = service.NewPipeline(service.PipelineDeps{
			Tracker:  tracker,
			Limiter:  limiter,
			Resolver: brain.NewIntentResolver(testBot, nil),
			Ingestor: ingestor,
			Analyzer: analyzer,
			Enricher: enricher,
		}, service.PipelineConfig{
			BotUsername:      testBot,
			MaxItems:         25,
			CreateBatchSize:  2,
			CreateBatchDelay: time.Millisecond,
			RateLimit:        3,
		})
	})

	Describe("triggers that never start a run", func() {
		It("rejects an invalid trigger without replying", func() {
			run, err := pipeline.Process(ctx, 1, model.Trigger{Owner: "acme", Message: "@l plan"})
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Status).To(Equal(model.RunRejected))
			Expect(run.Error).NotTo(BeNil())
			Expect(tracker.replies(testBot)).To(BeEmpty())
		})

		It("ignores the bot's own comments", func() {
			run, err := pipeline.Process(ctx, 1, model.Trigger{
				Owner: "acme", Repo: "api", IssueNumber: 42, Requester: "L", Message: "@l plan",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Status).To(Equal(model.RunSkipped))
			Expect(ingestor.callCount).To(Equal(0))
		})

		It("ignores comments that do not mention the bot", func() {
			run := process("we should plan this sprint")
			Expect(run.Status).To(Equal(model.RunSkipped))
			Expect(tracker.replies(testBot)).To(BeEmpty())
		})

		It("explains the commands when it cannot tell what was asked", func() {
			run := process("@l what's the weather")
			Expect(run.Status).To(Equal(model.RunSkipped))
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("I didn't understand that"))
		})
	})

	Describe("plan", func() {
		It("creates a plan milestone and labels the thread", func() {
			run := process("@l plan focus on security")

			Expect(run.Status).To(Equal(model.RunSucceeded))
			Expect(run.Task).To(Equal(model.TaskPlan))
			Expect(run.Milestones).To(HaveLen(1))
			Expect(run.Milestones[0].Title).To(HavePrefix(service.MilestoneTitlePrefix))
			Expect(analyzer.lastQuery).To(Equal("focus on security"))
			Expect(tracker.labels).To(ContainElement(brain.PlanLabel))
			Expect(limiter.keys).To(Equal([]string{ratelimit.PlanCreationKey(model.RepoRef{Owner: "acme", Repo: "api"})}))

			reply := tracker.lastReply(testBot)
			Expect(reply).To(ContainSubstring("Created milestone"))
			Expect(reply).To(ContainSubstring("with 4 items"))
		})

		It("stops before any work when rate limited", func() {
			limiter.allowFn = func(string, int) (bool, error) { return false, nil }

			run := process("@l plan")
			Expect(run.Status).To(Equal(model.RunRateLimited))
			Expect(ingestor.callCount).To(Equal(0))
			Expect(tracker.createMilestoneCalls).To(Equal(0))
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("Too many planning requests"))
		})

		It("reports an ingest failure and creates nothing", func() {
			ingestor.ingestFn = func(model.RepoRef) (*model.RepositorySummary, error) {
				return nil, errors.New("boom")
			}

			run := process("@l plan")
			Expect(run.Status).To(Equal(model.RunFailed))
			Expect(tracker.createMilestoneCalls).To(Equal(0))
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("Something went wrong while planning"))
		})

		It("posts stage details in dev mode", func() {
			process("@l dev plan")
			Expect(tracker.replies(testBot)).To(ContainElement(HavePrefix("[dev] `ingest`")))
			Expect(tracker.replies(testBot)).To(ContainElement(HavePrefix("[dev] `analyze`")))
		})

		It("returns the context error so the run can be retried", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			run, err := pipeline.Process(cancelled, 1, model.Trigger{
				Owner: "acme", Repo: "api", IssueNumber: 42, Requester: "alice", Message: "@l plan",
			})
			Expect(err).To(MatchError(context.Canceled))
			Expect(run.Status).To(Equal(model.RunFailed))
		})
	})

	Describe("multi-repository plan", func() {
		It("plans each repository and replies once", func() {
			run := process("@l multi-plan acme/api acme/web")

			Expect(run.Status).To(Equal(model.RunSucceeded))
			Expect(run.Milestones).To(HaveLen(2))
			Expect(limiter.keys).To(HaveLen(2))
			reply := tracker.lastReply(testBot)
			Expect(reply).To(ContainSubstring("Multi-repository planning finished"))
			Expect(reply).To(ContainSubstring("**acme/api**"))
			Expect(reply).To(ContainSubstring("**acme/web**"))
		})

		It("rate limits each repository on its own", func() {
			webKey := ratelimit.PlanCreationKey(model.RepoRef{Owner: "acme", Repo: "web"})
			limiter.allowFn = func(key string, _ int) (bool, error) { return key != webKey, nil }

			run := process("@l multi-plan acme/api acme/web")
			Expect(run.Status).To(Equal(model.RunSucceeded))
			Expect(run.Milestones).To(HaveLen(1))
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("**acme/web**: failed, too many planning requests"))
		})
	})

	Describe("approve", func() {
		It("asks for a plan first when there is none", func() {
			run := process("@l approve")

			Expect(run.Task).To(Equal(model.TaskApprove))
			Expect(tracker.createIssueCalls).To(Equal(0))
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("Run planning first"))
		})

		It("creates enriched issues linked to the plan milestone", func() {
			planned := process("@l plan")
			ms := planned.Milestones[0]

			run := process("@l approve")
			Expect(run.Status).To(Equal(model.RunSucceeded))
			Expect(run.IssuesCreated).To(Equal(4))
			Expect(run.IssuesFailed).To(Equal(0))
			Expect(run.Unresolved).To(Equal(0))
			Expect(enricher.callCount).To(Equal(1))

			for _, issue := range tracker.issues {
				Expect(issue.MilestoneID).To(Equal(ms.ID))
				Expect(issue.Labels).To(ContainElement(brain.PlanLabel))
				Expect(issue.Body).To(ContainSubstring("enriched"))
			}
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("Created 4 of 4 issues"))
		})

		It("keeps going when one issue cannot be created", func() {
			process("@l plan")
			tracker.createIssueFn = func(tmpl model.IssueTemplate) error {
				if strings.Contains(tmpl.Title, "CI pipeline") {
					return errors.New("boom")
				}
				return nil
			}

			run := process("@l approve")
			Expect(run.IssuesCreated).To(Equal(3))
			Expect(run.IssuesFailed).To(Equal(1))
			Expect(tracker.createIssueCalls).To(Equal(4))
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("1 issues could not be created"))
		})

		It("skips enrichment in dev mode", func() {
			process("@l plan")

			run := process("@l dev approve")
			Expect(run.IssuesCreated).To(Equal(4))
			Expect(enricher.callCount).To(Equal(0))
		})

		It("re-links issues the platform left unattached", func() {
			process("@l plan")
			tracker.dropLinks = true

			run := process("@l approve")
			Expect(run.IssuesCreated).To(Equal(4))
			Expect(run.Unresolved).To(Equal(0))
			Expect(run.ImmediateUnlinked).To(Equal(4))
			Expect(tracker.setMilestoneCalls).To(Equal(4))
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("4 were re-linked"))
		})

		It("flags create responses that lack the milestone", func() {
			process("@l plan")
			tracker.omitResponseLinks = true

			run := process("@l approve")
			Expect(run.IssuesCreated).To(Equal(4))
			Expect(run.ImmediateUnlinked).To(Equal(4))
			Expect(run.Unresolved).To(Equal(0))
			Expect(tracker.setMilestoneCalls).To(Equal(0))
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("4 issues came back without the milestone"))
		})

		It("does not flag issues that were created linked", func() {
			process("@l plan")

			run := process("@l approve")
			Expect(run.ImmediateUnlinked).To(Equal(0))
			Expect(tracker.lastReply(testBot)).NotTo(ContainSubstring("came back without the milestone"))
		})

		It("asks which milestone when the thread names several", func() {
			tracker.addComment("alice", "compare milestone 1 and milestone 2")

			process("@l approve")
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("several milestones (#1, #2)"))
			Expect(tracker.createIssueCalls).To(Equal(0))
		})
	})

	Describe("refine", func() {
		It("revises the plan in place", func() {
			planned := process("@l plan")

			run := process("@l refine focus on tests")
			Expect(run.Status).To(Equal(model.RunSucceeded))
			Expect(analyzer.reviseCalls).To(Equal(1))
			Expect(tracker.createMilestoneCalls).To(Equal(1))

			ms := tracker.milestones[planned.Milestones[0].Number]
			Expect(ms.Description).To(ContainSubstring("Raise test coverage"))
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("Updated ["))
		})

		It("asks for feedback when none was given", func() {
			process("@l plan")

			process("@l refine")
			Expect(analyzer.reviseCalls).To(Equal(0))
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("Tell me what to change"))
		})

		It("leaves the plan unchanged when revision fails", func() {
			planned := process("@l plan")
			before := tracker.milestones[planned.Milestones[0].Number].Description
			analyzer.reviseFn = func(previous model.PlanAnalysis, _ string) (model.PlanAnalysis, error) {
				return previous, errors.New("model unavailable")
			}

			run := process("@l refine add docs")
			Expect(run.Status).To(Equal(model.RunFailed))
			Expect(tracker.milestones[planned.Milestones[0].Number].Description).To(Equal(before))
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("The existing plan was left unchanged."))
		})
	})

	Describe("cancel", func() {
		It("closes the plan milestone", func() {
			planned := process("@l plan")

			run := process("@l cancel")
			Expect(run.Status).To(Equal(model.RunSucceeded))
			Expect(tracker.milestones[planned.Milestones[0].Number].State).To(Equal("closed"))
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("Cancelled the plan"))
		})

		It("finds the plan after an approve reply that listed unlinked issues", func() {
			planned := process("@l plan")
			tracker.dropLinks = true
			process("@l approve")
			Expect(tracker.lastReply(testBot)).To(ContainSubstring("not linked to the milestone"))

			run := process("@l cancel")
			Expect(run.Status).To(Equal(model.RunSucceeded))
			Expect(tracker.milestones[planned.Milestones[0].Number].State).To(Equal("closed"))
		})
	})
})
