package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/larp0/uwularpy-sub000/common/id"
	"github.com/larp0/uwularpy-sub000/common/logger"
	"github.com/larp0/uwularpy-sub000/common/retry"
	"github.com/larp0/uwularpy-sub000/internal/brain"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/ratelimit"
	"github.com/larp0/uwularpy-sub000/internal/service/issue_tracker"
)

// IntentResolver is implemented by *brain.IntentResolver.
type IntentResolver interface {
	Resolve(ctx context.Context, text string, milestoneCreated bool) model.Resolution
}

// RepositoryIngestor is implemented by *brain.Ingestor.
type RepositoryIngestor interface {
	Ingest(ctx context.Context, repo model.RepoRef) (*model.RepositorySummary, error)
}

// PlanAnalyzer is implemented by *brain.Analyzer.
type PlanAnalyzer interface {
	Analyze(ctx context.Context, summary *model.RepositorySummary, userQuery string) model.PlanAnalysis
	Revise(ctx context.Context, summary *model.RepositorySummary, previous model.PlanAnalysis, feedback string) (model.PlanAnalysis, error)
}

// IssueEnricher is implemented by *brain.Enricher.
type IssueEnricher interface {
	Enrich(ctx context.Context, templates []model.IssueTemplate, repoContext string) ([]model.IssueTemplate, int)
}

type PipelineConfig struct {
	BotUsername      string
	MaxItems         int
	CreateBatchSize  int
	CreateBatchDelay time.Duration
	RateLimit        int
	MaxThreadScan    int
}

type PipelineDeps struct {
	Tracker    issue_tracker.IssueTrackerService
	Limiter    ratelimit.Limiter
	Resolver   IntentResolver
	Ingestor   RepositoryIngestor
	Analyzer   PlanAnalyzer
	Enricher   IssueEnricher
	Milestones *MilestoneManager
	Verifier   *AttachmentVerifier
}

// Pipeline runs one trigger end to end: rate limit, intent, then the plan,
// approve, refine or cancel variant. Stages run sequentially.
type Pipeline struct {
	PipelineDeps
	cfg PipelineConfig
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	if cfg.CreateBatchSize <= 0 {
		cfg.CreateBatchSize = 3
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 3
	}
	if cfg.MaxThreadScan <= 0 {
		cfg.MaxThreadScan = defaultMaxThreadScan
	}
	if deps.Milestones == nil {
		deps.Milestones = NewMilestoneManager(deps.Tracker, cfg.MaxThreadScan)
	}
	if deps.Verifier == nil {
		deps.Verifier = NewAttachmentVerifier(deps.Tracker)
	}
	return &Pipeline{PipelineDeps: deps, cfg: cfg}
}

// run carries per-trigger state through the variants.
type run struct {
	*model.PipelineRun
	trigger    model.Trigger
	repo       model.RepoRef
	resolution model.Resolution
	thread     []model.Comment
	dev        bool
	started    time.Time
}

// Process handles one trigger. Failures are reported in the thread and
// recorded on the returned run; an error is only returned when ctx ended
// before the run finished, so the caller can requeue it.
func (p *Pipeline) Process(ctx context.Context, runID int64, trigger model.Trigger) (*model.PipelineRun, error) {
	if runID == 0 {
		runID = id.New()
	}
	r := &run{
		PipelineRun: &model.PipelineRun{RunID: runID, StartedAt: time.Now(), Status: model.RunSucceeded},
		trigger:     trigger,
		repo:        trigger.Repository(),
		started:     time.Now(),
	}
	defer func() {
		finished := time.Now()
		r.FinishedAt = &finished
	}()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Owner:       logger.Ptr(trigger.Owner),
		Repo:        logger.Ptr(trigger.Repo),
		IssueNumber: logger.Ptr(trigger.IssueNumber),
		RunID:       logger.Ptr(runID),
		Component:   "planner.service.pipeline",
	})
	span := logger.StartSpan(ctx, "pipeline.process")
	defer span.End()
	ctx = span.Context()

	if err := trigger.Validate(); err != nil {
		slog.WarnContext(ctx, "rejecting trigger", "error", err)
		return r.finish(model.RunRejected, err), nil
	}

	if p.isBot(trigger.Requester) {
		slog.DebugContext(ctx, "ignoring comment from the bot itself")
		return r.finish(model.RunSkipped, nil), nil
	}

	cmd := brain.ParseCommand(trigger.Message, p.cfg.BotUsername)
	if !cmd.IsMention {
		return r.finish(model.RunSkipped, nil), nil
	}

	r.thread = p.loadThread(ctx, r.repo, trigger.IssueNumber)
	r.resolution = p.Resolver.Resolve(ctx, trigger.Message, p.planPending(r.thread))
	r.Task = r.resolution.Task
	r.dev = r.resolution.Command.IsDevCommand

	ctx = logger.WithLogFields(ctx, logger.LogFields{Task: logger.Ptr(string(r.Task))})
	slog.InfoContext(ctx, "trigger resolved",
		"task", r.Task,
		"source", r.resolution.Source,
		"dev", r.dev,
		"multi_repo", r.resolution.Command.IsMultiRepoCommand || trigger.IsMultiRepo)

	var err error
	switch {
	case r.Task == model.TaskNone:
		p.reply(ctx, r, unrecognizedReply(p.cfg.BotUsername))
		return r.finish(model.RunSkipped, nil), nil
	case r.Task == model.TaskPlan && len(p.multiRepoTargets(r)) > 0:
		err = p.planMulti(ctx, r, p.multiRepoTargets(r))
	case r.Task == model.TaskPlan:
		err = p.plan(ctx, r)
	case r.Task == model.TaskApprove:
		err = p.approve(ctx, r)
	case r.Task == model.TaskRefine:
		err = p.refine(ctx, r)
	case r.Task == model.TaskCancel:
		err = p.cancel(ctx, r)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		span.RecordError(ctxErr)
		return r.finish(model.RunFailed, ctxErr), ctxErr
	}
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ratelimit.ErrRateLimited) {
			return r.finish(model.RunRateLimited, err), nil
		}
		return r.finish(model.RunFailed, err), nil
	}

	slog.InfoContext(ctx, "pipeline run complete",
		"task", r.Task,
		"milestones", len(r.Milestones),
		"issues_created", r.IssuesCreated,
		"issues_failed", r.IssuesFailed,
		"immediate_unlinked", r.ImmediateUnlinked,
		"unresolved", r.Unresolved,
		"duration_ms", time.Since(r.started).Milliseconds())

	return r.finish(model.RunSucceeded, nil), nil
}

func (r *run) finish(status model.RunStatus, err error) *model.PipelineRun {
	r.Status = status
	if err != nil {
		msg := err.Error()
		r.Error = &msg
	}
	return r.PipelineRun
}

// plan: ingest, analyze, persist as a milestone.
func (p *Pipeline) plan(ctx context.Context, r *run) error {
	if err := p.checkRateLimit(ctx, r, r.repo); err != nil {
		return err
	}

	p.reply(ctx, r, fmt.Sprintf("Analyzing **%s** and preparing a development plan. This usually takes a minute or two.", r.repo.FullName()))

	ms, analysis, err := p.planRepository(ctx, r, r.repo)
	if err != nil {
		p.reply(ctx, r, stageFailureReply("planning", err, nil))
		return err
	}

	p.labelThread(ctx, r)
	p.reply(ctx, r, planCreatedReply(ms, analysis, p.cfg.BotUsername))
	return nil
}

// planRepository runs ingest, analyze and milestone creation for one repository.
func (p *Pipeline) planRepository(ctx context.Context, r *run, repo model.RepoRef) (*model.Milestone, model.PlanAnalysis, error) {
	stageStart := time.Now()
	summary, err := p.Ingestor.Ingest(ctx, repo)
	if err != nil {
		return nil, model.PlanAnalysis{}, fmt.Errorf("reading repository %s: %w", repo.FullName(), err)
	}
	p.devReply(ctx, r, fmt.Sprintf("`ingest` %s: %d files included, %d skipped, %d chars, project type `%s` (%s)",
		repo.FullName(), len(summary.FilesIncluded), len(summary.FilesSkipped), len([]rune(summary.Text)), summary.ProjectType, since(stageStart)))

	stageStart = time.Now()
	analysis := p.Analyzer.Analyze(ctx, summary, r.resolution.Query())
	p.devReply(ctx, r, fmt.Sprintf("`analyze` %s: %d items, degraded=%t (%s)", repo.FullName(), analysis.ItemCount(), analysis.Degraded, since(stageStart)))

	ms, err := p.Milestones.Create(ctx, repo, analysis, brain.RenderMeta{
		UserQuery:   r.resolution.Query(),
		BotUsername: p.cfg.BotUsername,
	})
	if err != nil {
		return nil, analysis, err
	}
	r.Milestones = append(r.Milestones, *ms)
	return ms, analysis, nil
}

// planMulti plans each listed repository and replies once with every link.
func (p *Pipeline) planMulti(ctx context.Context, r *run, repos []model.RepoRef) error {
	names := make([]string, len(repos))
	for i, repo := range repos {
		names[i] = repo.FullName()
	}
	p.reply(ctx, r, fmt.Sprintf("Planning %d repositories: %s", len(repos), strings.Join(names, ", ")))

	var results []multiRepoResult
	failed := 0
	for _, repo := range repos {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		repoCtx := logger.WithLogFields(ctx, logger.LogFields{Owner: logger.Ptr(repo.Owner), Repo: logger.Ptr(repo.Repo)})

		if err := p.checkRateLimit(repoCtx, nil, repo); err != nil {
			results = append(results, multiRepoResult{repo: repo, err: err})
			failed++
			continue
		}
		ms, analysis, err := p.planRepository(repoCtx, r, repo)
		if err != nil {
			slog.WarnContext(repoCtx, "planning repository failed", "error", err)
			failed++
		}
		results = append(results, multiRepoResult{repo: repo, milestone: ms, analysis: analysis, err: err})
	}

	p.reply(ctx, r, multiRepoReply(results))
	if failed == len(repos) {
		return fmt.Errorf("all %d repositories failed", failed)
	}
	return nil
}

// approve: locate the plan, expand it, create and link the issues.
func (p *Pipeline) approve(ctx context.Context, r *run) error {
	ms, ok, err := p.locate(ctx, r)
	if err != nil || !ok {
		return err
	}

	analysis, err := p.Milestones.LoadAnalysis(ms)
	if err != nil {
		p.reply(ctx, r, fmt.Sprintf("Milestone [%s](%s) does not contain a plan I can read. Run `@%s plan` to create a new one.", ms.Title, ms.URL, p.cfg.BotUsername))
		return err
	}

	templates := brain.Expand(analysis, p.cfg.MaxItems)
	if len(templates) == 0 {
		p.reply(ctx, r, fmt.Sprintf("Milestone [%s](%s) has no items to create.", ms.Title, ms.URL))
		return nil
	}

	p.reply(ctx, r, fmt.Sprintf("Creating %d issues from [%s](%s).", len(templates), ms.Title, ms.URL))

	if r.dev || p.Enricher == nil {
		p.devReply(ctx, r, "`enrich` skipped in dev mode")
	} else {
		stageStart := time.Now()
		var enriched int
		templates, enriched = p.Enricher.Enrich(ctx, templates, analysis.RepositoryOverview)
		slog.InfoContext(ctx, "issue bodies enriched", "enriched", enriched, "total", len(templates), "duration_ms", since(stageStart).Milliseconds())
	}

	stageStart := time.Now()
	created, failures, unlinked := p.createIssues(ctx, r.repo, templates, ms.ID)
	r.IssuesCreated = len(created)
	r.IssuesFailed = len(failures)
	r.ImmediateUnlinked = unlinked
	p.devReply(ctx, r, fmt.Sprintf("`create` %d created, %d failed (%s)", len(created), len(failures), since(stageStart)))

	if len(created) == 0 {
		p.reply(ctx, r, stageFailureReply("creating issues", errors.New("no issue could be created"), nil))
		return fmt.Errorf("creating issues: all %d failed", len(templates))
	}

	verify := p.Verifier.Verify(ctx, r.repo, created, *ms)
	repair := p.Verifier.Repair(ctx, r.repo, verify.Failures, *ms)
	r.Unresolved = len(repair.Unresolved)

	p.reply(ctx, r, approveReply(ms, created, failures, unlinked, verify, repair))
	return nil
}

// createIssues creates templates in batches. A failed item never stops the
// batch. It also returns how many created issues came back without the
// milestone link.
func (p *Pipeline) createIssues(ctx context.Context, repo model.RepoRef, templates []model.IssueTemplate, milestoneID int64) ([]model.Issue, []model.IssueTemplate, int) {
	results := make([]*model.Issue, len(templates))

	for start := 0; start < len(templates); start += p.cfg.CreateBatchSize {
		if start > 0 {
			if err := retry.Sleep(ctx, p.cfg.CreateBatchDelay); err != nil {
				break
			}
		}
		end := min(start+p.cfg.CreateBatchSize, len(templates))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				issue, err := p.Tracker.CreateIssue(ctx, repo, templates[i], milestoneID)
				if err != nil {
					slog.WarnContext(ctx, "creating issue failed",
						"title", logger.Truncate(templates[i].Title, 80),
						"error", err)
					return
				}
				if issue.MilestoneID != milestoneID {
					slog.WarnContext(ctx, "created issue is not linked to the milestone",
						"issue_number", issue.Number,
						"milestone_id", milestoneID,
						"linked_milestone_id", issue.MilestoneID)
				}
				results[i] = issue
			}(i)
		}
		wg.Wait()
	}

	var created []model.Issue
	var failures []model.IssueTemplate
	unlinked := 0
	for i, issue := range results {
		if issue == nil {
			failures = append(failures, templates[i])
			continue
		}
		if issue.MilestoneID != milestoneID {
			unlinked++
		}
		created = append(created, *issue)
	}
	return created, failures, unlinked
}

// refine: revise the plan with the user's feedback and update it in place.
func (p *Pipeline) refine(ctx context.Context, r *run) error {
	feedback := r.resolution.Query()
	if feedback == "" {
		p.reply(ctx, r, fmt.Sprintf("Tell me what to change, for example `@%s refine focus on test coverage`.", p.cfg.BotUsername))
		return nil
	}

	ms, ok, err := p.locate(ctx, r)
	if err != nil || !ok {
		return err
	}
	if err := p.checkRateLimit(ctx, r, r.repo); err != nil {
		return err
	}

	previous, err := p.Milestones.LoadAnalysis(ms)
	if err != nil {
		p.reply(ctx, r, fmt.Sprintf("Milestone [%s](%s) does not contain a plan I can read. Run `@%s plan` to create a new one.", ms.Title, ms.URL, p.cfg.BotUsername))
		return err
	}

	p.reply(ctx, r, fmt.Sprintf("Revising [%s](%s) with your feedback.", ms.Title, ms.URL))

	summary, err := p.Ingestor.Ingest(ctx, r.repo)
	if err != nil {
		err = fmt.Errorf("reading repository %s: %w", r.repo.FullName(), err)
		p.reply(ctx, r, stageFailureReply("refining", err, nil))
		return err
	}

	revised, err := p.Analyzer.Revise(ctx, summary, previous, feedback)
	if err != nil {
		p.reply(ctx, r, stageFailureReply("refining", err, []string{"The existing plan was left unchanged."}))
		return err
	}

	updated, err := p.Milestones.UpdateAnalysis(ctx, r.repo, *ms, revised, brain.RenderMeta{UserQuery: feedback, BotUsername: p.cfg.BotUsername})
	if err != nil {
		p.reply(ctx, r, stageFailureReply("saving the revised plan", err, []string{"The existing plan was left unchanged."}))
		return err
	}
	r.Milestones = append(r.Milestones, *updated)

	p.reply(ctx, r, refineReply(updated, previous, revised, p.cfg.BotUsername))
	return nil
}

// cancel: close the plan milestone.
func (p *Pipeline) cancel(ctx context.Context, r *run) error {
	ms, ok, err := p.locate(ctx, r)
	if err != nil || !ok {
		return err
	}

	closed, err := p.Milestones.Close(ctx, r.repo, *ms)
	if err != nil {
		p.reply(ctx, r, stageFailureReply("cancelling the plan", err, nil))
		return err
	}
	r.Milestones = append(r.Milestones, *closed)

	p.reply(ctx, r, fmt.Sprintf("Cancelled the plan and closed milestone [%s](%s). No issues were created.", closed.Title, closed.URL))
	return nil
}

// locate finds the plan milestone for approve, refine and cancel. When it
// returns ok=false the user has already been told why.
func (p *Pipeline) locate(ctx context.Context, r *run) (*model.Milestone, bool, error) {
	result, err := p.Milestones.Find(ctx, r.repo, r.thread)
	if err != nil {
		p.reply(ctx, r, stageFailureReply("looking up the plan", err, nil))
		return nil, false, err
	}

	switch result.Status {
	case model.LookupFound:
		slog.InfoContext(ctx, "plan milestone located",
			"milestone_number", result.Milestone.Number,
			"source", result.Source)
		return result.Milestone, true, nil
	case model.LookupAmbiguous:
		p.reply(ctx, r, ambiguousReply(result.Candidates, p.cfg.BotUsername, r.Task))
		return nil, false, nil
	default:
		p.reply(ctx, r, notFoundReply(p.cfg.BotUsername))
		return nil, false, nil
	}
}

// checkRateLimit reports denials in the thread when r is set.
func (p *Pipeline) checkRateLimit(ctx context.Context, r *run, repo model.RepoRef) error {
	if p.Limiter == nil {
		return nil
	}
	allowed, err := p.Limiter.Allow(ctx, ratelimit.PlanCreationKey(repo), p.cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if allowed {
		return nil
	}

	slog.WarnContext(ctx, "plan creation rate limited", "limit", p.cfg.RateLimit)
	if r != nil {
		p.reply(ctx, r, fmt.Sprintf("Too many planning requests for **%s**. Please wait a minute and try again.", repo.FullName()))
	}
	return fmt.Errorf("%s: %w", repo.FullName(), ratelimit.ErrRateLimited)
}

func (p *Pipeline) multiRepoTargets(r *run) []model.RepoRef {
	if r.resolution.Command.IsMultiRepoCommand {
		return r.resolution.Command.Repositories
	}
	if r.trigger.IsMultiRepo {
		return r.trigger.Repositories
	}
	return nil
}

func (p *Pipeline) loadThread(ctx context.Context, repo model.RepoRef, number int64) []model.Comment {
	thread, err := p.Tracker.ListComments(ctx, repo, number, p.cfg.MaxThreadScan)
	if err != nil {
		slog.WarnContext(ctx, "could not read thread, continuing without it", "error", err)
		return nil
	}
	return thread
}

// planPending reports whether the bot created a plan milestone in the thread.
func (p *Pipeline) planPending(thread []model.Comment) bool {
	for i := len(thread) - 1; i >= 0; i-- {
		c := thread[i]
		if p.isBot(c.Author) && strings.Contains(c.Body, MilestoneTitlePrefix) {
			return true
		}
	}
	return false
}

func (p *Pipeline) labelThread(ctx context.Context, r *run) {
	if err := p.Tracker.AddLabels(ctx, r.repo, r.trigger.IssueNumber, []string{brain.PlanLabel}); err != nil {
		slog.WarnContext(ctx, "could not label the thread", "error", err)
	}
}

func (p *Pipeline) isBot(username string) bool {
	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	return name != "" && strings.EqualFold(name, strings.TrimPrefix(p.cfg.BotUsername, "@"))
}

// reply posts in the originating thread. A failed reply is logged only.
func (p *Pipeline) reply(ctx context.Context, r *run, body string) {
	if _, err := p.Tracker.CreateComment(ctx, r.repo, r.trigger.IssueNumber, body); err != nil {
		slog.WarnContext(ctx, "could not post reply", "error", err)
	}
}

func (p *Pipeline) devReply(ctx context.Context, r *run, body string) {
	if r != nil && r.dev {
		p.reply(ctx, r, "[dev] "+body)
	}
}

func since(t time.Time) time.Duration {
	return time.Since(t).Round(time.Millisecond)
}
