package issue_tracker

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/larp0/uwularpy-sub000/common/retry"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"golang.org/x/oauth2"
)

type gitHubIssueTrackerService struct {
	client *github.Client
	policy retry.Policy
}

// NewGitHubClient builds an API client authenticated with a static token.
// baseURL selects a GitHub Enterprise instance; empty means github.com.
func NewGitHubClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if baseURL == "" {
		return client, nil
	}
	return client.WithEnterpriseURLs(baseURL, baseURL)
}

func NewGitHubIssueTrackerService(client *github.Client, policy retry.Policy) IssueTrackerService {
	return &gitHubIssueTrackerService{client: client, policy: policy}
}

func (s *gitHubIssueTrackerService) GetRepository(ctx context.Context, repo model.RepoRef) (*model.RepositoryInfo, error) {
	r, err := call(ctx, s.policy, func(ctx context.Context) (*github.Repository, error) {
		r, resp, err := s.client.Repositories.Get(ctx, repo.Owner, repo.Repo)
		return r, githubError("get repository", resp, err)
	})
	if err != nil {
		return nil, err
	}

	return &model.RepositoryInfo{
		Owner:         repo.Owner,
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		DefaultBranch: r.GetDefaultBranch(),
		URL:           r.GetHTMLURL(),
		Visibility:    r.GetVisibility(),
		Topics:        r.Topics,
		Stars:         r.GetStargazersCount(),
		OpenIssues:    r.GetOpenIssuesCount(),
		CreatedAt:     r.GetCreatedAt().Time,
		UpdatedAt:     r.GetPushedAt().Time,
	}, nil
}

// ListLanguages converts GitHub's byte counts into percentages.
func (s *gitHubIssueTrackerService) ListLanguages(ctx context.Context, repo model.RepoRef) (map[string]float64, error) {
	langs, err := call(ctx, s.policy, func(ctx context.Context) (map[string]int, error) {
		l, resp, err := s.client.Repositories.ListLanguages(ctx, repo.Owner, repo.Repo)
		return l, githubError("list languages", resp, err)
	})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range langs {
		total += n
	}
	out := make(map[string]float64, len(langs))
	for name, n := range langs {
		if total > 0 {
			out[name] = float64(n) * 100 / float64(total)
		}
	}
	return out, nil
}

func (s *gitHubIssueTrackerService) ListRecentCommits(ctx context.Context, repo model.RepoRef) ([]model.Commit, error) {
	commits, err := call(ctx, s.policy, func(ctx context.Context) ([]*github.RepositoryCommit, error) {
		c, resp, err := s.client.Repositories.ListCommits(ctx, repo.Owner, repo.Repo, &github.CommitsListOptions{
			ListOptions: github.ListOptions{PerPage: recentCommitLimit},
		})
		return c, githubError("list commits", resp, err)
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Commit, 0, len(commits))
	for _, c := range commits {
		title, _, _ := strings.Cut(c.GetCommit().GetMessage(), "\n")
		sha := c.GetSHA()
		if len(sha) > 8 {
			sha = sha[:8]
		}
		out = append(out, model.Commit{
			SHA:       sha,
			Title:     title,
			Author:    c.GetCommit().GetAuthor().GetName(),
			CreatedAt: c.GetCommit().GetAuthor().GetDate().Time,
		})
	}
	return out, nil
}

func (s *gitHubIssueTrackerService) ListRootFiles(ctx context.Context, repo model.RepoRef) ([]string, error) {
	entries, err := call(ctx, s.policy, func(ctx context.Context) ([]*github.RepositoryContent, error) {
		_, dir, resp, err := s.client.Repositories.GetContents(ctx, repo.Owner, repo.Repo, "", nil)
		return dir, githubError("list root contents", resp, err)
	})
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.GetType() == "file" {
			files = append(files, e.GetPath())
		}
	}
	return files, nil
}

func (s *gitHubIssueTrackerService) GetFileContent(ctx context.Context, repo model.RepoRef, path string) (string, error) {
	file, err := call(ctx, s.policy, func(ctx context.Context) (*github.RepositoryContent, error) {
		f, _, resp, err := s.client.Repositories.GetContents(ctx, repo.Owner, repo.Repo, path, nil)
		return f, githubError("get contents "+path, resp, err)
	})
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", &StatusError{Op: "get contents " + path, StatusCode: http.StatusNotFound, Err: errors.New("path is a directory")}
	}
	return file.GetContent()
}

func (s *gitHubIssueTrackerService) CreateMilestone(ctx context.Context, repo model.RepoRef, title, description string) (*model.Milestone, error) {
	m, err := create(ctx, s.policy, func(ctx context.Context) (*github.Milestone, error) {
		m, resp, err := s.client.Issues.CreateMilestone(ctx, repo.Owner, repo.Repo, &github.Milestone{
			Title:       github.Ptr(title),
			Description: github.Ptr(description),
		})
		return m, githubError("create milestone", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return mapGitHubMilestone(m), nil
}

func (s *gitHubIssueTrackerService) GetMilestone(ctx context.Context, repo model.RepoRef, number int64) (*model.Milestone, error) {
	m, err := call(ctx, s.policy, func(ctx context.Context) (*github.Milestone, error) {
		m, resp, err := s.client.Issues.GetMilestone(ctx, repo.Owner, repo.Repo, int(number))
		return m, githubError("get milestone", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return mapGitHubMilestone(m), nil
}

func (s *gitHubIssueTrackerService) ListOpenMilestones(ctx context.Context, repo model.RepoRef) ([]model.Milestone, error) {
	opts := &github.MilestoneListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: pageSize},
	}

	var out []model.Milestone
	for page := 0; page < maxPages; page++ {
		type result struct {
			items []*github.Milestone
			next  int
		}
		r, err := call(ctx, s.policy, func(ctx context.Context) (result, error) {
			m, resp, err := s.client.Issues.ListMilestones(ctx, repo.Owner, repo.Repo, opts)
			if err != nil {
				return result{}, githubError("list milestones", resp, err)
			}
			return result{items: m, next: resp.NextPage}, nil
		})
		if err != nil {
			return nil, err
		}
		for _, m := range r.items {
			out = append(out, *mapGitHubMilestone(m))
		}
		if r.next == 0 {
			break
		}
		opts.Page = r.next
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *gitHubIssueTrackerService) UpdateMilestone(ctx context.Context, repo model.RepoRef, milestone model.Milestone, update MilestoneUpdate) (*model.Milestone, error) {
	edit := &github.Milestone{Description: update.Description}
	if update.Close {
		edit.State = github.Ptr("closed")
	}

	m, err := call(ctx, s.policy, func(ctx context.Context) (*github.Milestone, error) {
		m, resp, err := s.client.Issues.EditMilestone(ctx, repo.Owner, repo.Repo, int(milestone.Number), edit)
		return m, githubError("edit milestone", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return mapGitHubMilestone(m), nil
}

func (s *gitHubIssueTrackerService) CreateIssue(ctx context.Context, repo model.RepoRef, tmpl model.IssueTemplate, milestoneID int64) (*model.Issue, error) {
	req := &github.IssueRequest{
		Title: github.Ptr(tmpl.Title),
		Body:  github.Ptr(tmpl.Body),
	}
	if len(tmpl.Labels) > 0 {
		req.Labels = &tmpl.Labels
	}
	if milestoneID != 0 {
		req.Milestone = github.Ptr(int(milestoneID))
	}

	issue, err := create(ctx, s.policy, func(ctx context.Context) (*github.Issue, error) {
		i, resp, err := s.client.Issues.Create(ctx, repo.Owner, repo.Repo, req)
		return i, githubError("create issue", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return mapGitHubIssue(issue), nil
}

func (s *gitHubIssueTrackerService) GetIssue(ctx context.Context, repo model.RepoRef, number int64) (*model.Issue, error) {
	issue, err := call(ctx, s.policy, func(ctx context.Context) (*github.Issue, error) {
		i, resp, err := s.client.Issues.Get(ctx, repo.Owner, repo.Repo, int(number))
		return i, githubError("get issue", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return mapGitHubIssue(issue), nil
}

func (s *gitHubIssueTrackerService) SetIssueMilestone(ctx context.Context, repo model.RepoRef, number, milestoneID int64) error {
	return run(ctx, s.policy, func(ctx context.Context) error {
		_, resp, err := s.client.Issues.Edit(ctx, repo.Owner, repo.Repo, int(number), &github.IssueRequest{
			Milestone: github.Ptr(int(milestoneID)),
		})
		return githubError("set issue milestone", resp, err)
	})
}

func (s *gitHubIssueTrackerService) AddLabels(ctx context.Context, repo model.RepoRef, number int64, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	return run(ctx, s.policy, func(ctx context.Context) error {
		_, resp, err := s.client.Issues.AddLabelsToIssue(ctx, repo.Owner, repo.Repo, int(number), labels)
		return githubError("add labels", resp, err)
	})
}

// ListComments pages forward through the thread; GitHub has no descending
// order for issue comments.
func (s *gitHubIssueTrackerService) ListComments(ctx context.Context, repo model.RepoRef, number int64, limit int) ([]model.Comment, error) {
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: pageSize}}

	var out []model.Comment
	for page := 0; page < maxPages; page++ {
		type result struct {
			items []*github.IssueComment
			next  int
		}
		r, err := call(ctx, s.policy, func(ctx context.Context) (result, error) {
			c, resp, err := s.client.Issues.ListComments(ctx, repo.Owner, repo.Repo, int(number), opts)
			if err != nil {
				return result{}, githubError("list comments", resp, err)
			}
			return result{items: c, next: resp.NextPage}, nil
		})
		if err != nil {
			return nil, err
		}
		for _, c := range r.items {
			out = append(out, mapGitHubComment(c))
		}
		if r.next == 0 {
			break
		}
		opts.Page = r.next
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *gitHubIssueTrackerService) CreateComment(ctx context.Context, repo model.RepoRef, number int64, body string) (*model.Comment, error) {
	c, err := create(ctx, s.policy, func(ctx context.Context) (*github.IssueComment, error) {
		c, resp, err := s.client.Issues.CreateComment(ctx, repo.Owner, repo.Repo, int(number), &github.IssueComment{
			Body: github.Ptr(body),
		})
		return c, githubError("create comment", resp, err)
	})
	if err != nil {
		return nil, err
	}
	comment := mapGitHubComment(c)
	return &comment, nil
}

func githubError(op string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return newStatusError(op, http.StatusTooManyRequests, err)
	}

	if resp != nil && resp.Response != nil {
		return newStatusError(op, resp.StatusCode, err)
	}
	return newStatusError(op, 0, err)
}

// GitHub links issues to milestones by number, so ID mirrors Number.
func mapGitHubMilestone(m *github.Milestone) *model.Milestone {
	return &model.Milestone{
		ID:          int64(m.GetNumber()),
		Number:      int64(m.GetNumber()),
		Title:       m.GetTitle(),
		Description: m.GetDescription(),
		URL:         m.GetHTMLURL(),
		State:       m.GetState(),
		CreatedAt:   m.GetCreatedAt().Time,
	}
}

func mapGitHubIssue(i *github.Issue) *model.Issue {
	issue := &model.Issue{
		ID:     i.GetID(),
		Number: int64(i.GetNumber()),
		Title:  i.GetTitle(),
		Body:   i.GetBody(),
		URL:    i.GetHTMLURL(),
		State:  i.GetState(),
	}
	for _, l := range i.Labels {
		issue.Labels = append(issue.Labels, l.GetName())
	}
	if i.Milestone != nil {
		issue.MilestoneID = int64(i.Milestone.GetNumber())
	}
	return issue
}

func mapGitHubComment(c *github.IssueComment) model.Comment {
	return model.Comment{
		ID:        c.GetID(),
		Author:    c.GetUser().GetLogin(),
		Body:      c.GetBody(),
		CreatedAt: c.GetCreatedAt().Time,
	}
}
