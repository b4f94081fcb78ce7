package issue_tracker

import (
	"context"
	"fmt"

	"github.com/larp0/uwularpy-sub000/common/retry"
	"github.com/larp0/uwularpy-sub000/core/config"
	"github.com/larp0/uwularpy-sub000/internal/model"
)

// MilestoneUpdate carries the fields a pipeline may change on a milestone.
type MilestoneUpdate struct {
	Description *string
	Close       bool
}

// IssueTrackerService is every call the pipeline makes to the code-hosting
// platform. Transient failures are retried inside each implementation; 401,
// 403 and 404 surface as ErrUnauthorized, ErrForbidden and ErrNotFound.
type IssueTrackerService interface {
	GetRepository(ctx context.Context, repo model.RepoRef) (*model.RepositoryInfo, error)
	ListLanguages(ctx context.Context, repo model.RepoRef) (map[string]float64, error)
	ListRecentCommits(ctx context.Context, repo model.RepoRef) ([]model.Commit, error)
	ListRootFiles(ctx context.Context, repo model.RepoRef) ([]string, error)
	GetFileContent(ctx context.Context, repo model.RepoRef, path string) (string, error)

	CreateMilestone(ctx context.Context, repo model.RepoRef, title, description string) (*model.Milestone, error)
	GetMilestone(ctx context.Context, repo model.RepoRef, number int64) (*model.Milestone, error)
	ListOpenMilestones(ctx context.Context, repo model.RepoRef) ([]model.Milestone, error)
	UpdateMilestone(ctx context.Context, repo model.RepoRef, milestone model.Milestone, update MilestoneUpdate) (*model.Milestone, error)

	CreateIssue(ctx context.Context, repo model.RepoRef, tmpl model.IssueTemplate, milestoneID int64) (*model.Issue, error)
	GetIssue(ctx context.Context, repo model.RepoRef, number int64) (*model.Issue, error)
	SetIssueMilestone(ctx context.Context, repo model.RepoRef, number, milestoneID int64) error
	AddLabels(ctx context.Context, repo model.RepoRef, number int64, labels []string) error

	// ListComments returns up to limit of the newest comments, oldest first.
	ListComments(ctx context.Context, repo model.RepoRef, number int64, limit int) ([]model.Comment, error)
	CreateComment(ctx context.Context, repo model.RepoRef, number int64, body string) (*model.Comment, error)
}

const (
	recentCommitLimit = 10
	pageSize          = 100
	maxPages          = 10
)

// New builds the service for the configured provider.
func New(ctx context.Context, platform config.PlatformConfig, policy retry.Policy) (IssueTrackerService, error) {
	switch platform.Provider {
	case "gitlab":
		client, err := NewGitLabClient(platform.Token, platform.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("creating gitlab client: %w", err)
		}
		return NewGitLabIssueTrackerService(client, policy), nil
	case "github":
		client, err := NewGitHubClient(ctx, platform.Token, platform.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("creating github client: %w", err)
		}
		return NewGitHubIssueTrackerService(client, policy), nil
	default:
		return nil, fmt.Errorf("unsupported platform provider: %s", platform.Provider)
	}
}

// call runs one platform request under the retry policy, with a fresh
// timeout per attempt.
func call[T any](ctx context.Context, policy retry.Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, policy, func(err error) bool { return IsRetryable(ctx, err) }, fn)
}

// create runs a non-idempotent request once under the policy timeout. A
// create that timed out may still have landed, so it is never repeated.
func create[T any](ctx context.Context, policy retry.Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	policy.Attempts = 1
	return call(ctx, policy, fn)
}

func run(ctx context.Context, policy retry.Policy, fn func(ctx context.Context) error) error {
	_, err := call(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
