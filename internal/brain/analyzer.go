package brain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/larp0/uwularpy-sub000/common/llm"
	"github.com/larp0/uwularpy-sub000/common/logger"
	"github.com/larp0/uwularpy-sub000/common/retry"
	"github.com/larp0/uwularpy-sub000/internal/model"
)

var analysisSchema = llm.GenerateSchema[AnalysisResponse]()

const analysisMaxTokens = 4096

type AnalyzerConfig struct {
	Timeout          time.Duration
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	RefinementPasses int
}

type Analyzer struct {
	llm llm.Client
	cfg AnalyzerConfig
}

func NewAnalyzer(client llm.Client, cfg AnalyzerConfig) *Analyzer {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RefinementPasses < 0 {
		cfg.RefinementPasses = 0
	}
	return &Analyzer{llm: client, cfg: cfg}
}

func (a *Analyzer) policy() retry.Policy {
	return retry.Policy{
		Attempts:  a.cfg.RetryAttempts,
		BaseDelay: a.cfg.RetryBaseDelay,
		Timeout:   a.cfg.Timeout,
	}
}

// Analyze never fails. When the AI is unavailable the deterministic fallback
// is returned with Degraded set.
func (a *Analyzer) Analyze(ctx context.Context, summary *model.RepositorySummary, userQuery string) model.PlanAnalysis {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "planner.brain.analyzer"})
	span := logger.StartSpan(ctx, "brain.analyze")
	defer span.End()
	ctx = span.Context()

	start := time.Now()
	system := analysisSystemPromptFor(summary.ProjectType)

	analysis, err := a.call(ctx, system, buildAnalysisPrompt(summary, userQuery), "repository_analysis")
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "analysis failed, using fallback plan", "error", err)
		return FallbackAnalysis(summary)
	}

	for pass := 1; pass <= a.cfg.RefinementPasses; pass++ {
		extra, err := a.call(ctx, system, buildRefinementPrompt(summary, userQuery, analysis, pass), "repository_analysis_refinement")
		if err != nil {
			slog.WarnContext(ctx, "refinement pass failed, keeping current analysis",
				"pass", pass,
				"error", err)
			break
		}
		added := mergeAnalysis(&analysis, extra)
		slog.InfoContext(ctx, "refinement pass complete", "pass", pass, "added", added)
		if added == 0 {
			break
		}
	}

	finalize(&analysis, summary)

	slog.InfoContext(ctx, "analysis complete",
		"items", analysis.ItemCount(),
		"degraded", analysis.Degraded,
		"duration_ms", time.Since(start).Milliseconds())

	return analysis
}

// Revise rewrites a previous plan according to user feedback. On failure the
// previous plan is returned with the error so the caller can report it.
func (a *Analyzer) Revise(ctx context.Context, summary *model.RepositorySummary, previous model.PlanAnalysis, feedback string) (model.PlanAnalysis, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "planner.brain.analyzer"})
	span := logger.StartSpan(ctx, "brain.revise")
	defer span.End()
	ctx = span.Context()

	revised, err := a.call(ctx, analysisSystemPromptFor(summary.ProjectType), buildRevisionPrompt(summary, feedback, previous), "repository_analysis_revision")
	if err != nil {
		span.RecordError(err)
		return previous, fmt.Errorf("revising analysis: %w", err)
	}
	if revised.RepositoryOverview == "" {
		revised.RepositoryOverview = previous.RepositoryOverview
	}
	finalize(&revised, summary)
	return revised, nil
}

func (a *Analyzer) call(ctx context.Context, system, user, schemaName string) (model.PlanAnalysis, error) {
	retryable := func(err error) bool { return llm.IsRetryable(ctx, err) }

	resp, err := retry.Do(ctx, a.policy(), retryable, func(ctx context.Context) (AnalysisResponse, error) {
		var out AnalysisResponse
		usage, err := a.llm.Chat(ctx, llm.Request{
			SystemPrompt: system,
			UserPrompt:   user,
			SchemaName:   schemaName,
			Schema:       analysisSchema,
			MaxTokens:    analysisMaxTokens,
			Temperature:  llm.Temp(0.2),
		}, &out)
		if err != nil {
			return out, err
		}
		slog.DebugContext(ctx, "analysis call complete",
			"schema", schemaName,
			"prompt_tokens", usage.PromptTokens,
			"completion_tokens", usage.CompletionTokens)
		return out, nil
	})
	if err != nil {
		return model.PlanAnalysis{}, err
	}
	return resp.toAnalysis(), nil
}

// mergeAnalysis appends extra's entries per category and returns how many
// were added.
func mergeAnalysis(dst *model.PlanAnalysis, extra model.PlanAnalysis) int {
	added := 0
	for _, c := range model.Categories {
		entries := extra.Entries(c)
		if len(entries) == 0 {
			continue
		}
		dst.SetEntries(c, append(dst.Entries(c), entries...))
		added += len(entries)
	}
	return added
}

// finalize fills empty categories from the fallback so every list is non-empty.
func finalize(a *model.PlanAnalysis, summary *model.RepositorySummary) {
	a.ProjectType = summary.ProjectType
	if a.Complete() && a.RepositoryOverview != "" {
		return
	}
	fb := FallbackAnalysis(summary)
	for _, c := range model.Categories {
		if len(a.Entries(c)) == 0 {
			a.SetEntries(c, fb.Entries(c))
			a.Degraded = true
		}
	}
	if a.RepositoryOverview == "" {
		a.RepositoryOverview = fmt.Sprintf("Development plan for %s/%s.", summary.Owner, summary.Repo)
	}
}
