package issue_tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/larp0/uwularpy-sub000/common/retry"
	"github.com/larp0/uwularpy-sub000/internal/model"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

type gitLabIssueTrackerService struct {
	client *gitlab.Client
	policy retry.Policy
}

// NewGitLabClient builds an API client. baseURL is the instance root, e.g.
// https://gitlab.example.com; empty means gitlab.com.
func NewGitLabClient(token, baseURL string) (*gitlab.Client, error) {
	// Retries are owned by the service's backoff policy.
	opts := []gitlab.ClientOptionFunc{gitlab.WithCustomRetryMax(0)}
	if baseURL != "" {
		apiURL := strings.TrimSuffix(baseURL, "/")
		if !strings.HasSuffix(apiURL, "/api/v4") {
			apiURL += "/api/v4"
		}
		opts = append(opts, gitlab.WithBaseURL(apiURL))
	}
	return gitlab.NewClient(token, opts...)
}

func NewGitLabIssueTrackerService(client *gitlab.Client, policy retry.Policy) IssueTrackerService {
	return &gitLabIssueTrackerService{client: client, policy: policy}
}

func (s *gitLabIssueTrackerService) GetRepository(ctx context.Context, repo model.RepoRef) (*model.RepositoryInfo, error) {
	p, err := call(ctx, s.policy, func(ctx context.Context) (*gitlab.Project, error) {
		p, resp, err := s.client.Projects.GetProject(repo.FullName(), nil, gitlab.WithContext(ctx))
		return p, gitlabError("get project", resp, err)
	})
	if err != nil {
		return nil, err
	}

	info := &model.RepositoryInfo{
		Owner:         repo.Owner,
		Name:          p.Name,
		FullName:      p.PathWithNamespace,
		Description:   p.Description,
		DefaultBranch: p.DefaultBranch,
		URL:           p.WebURL,
		Visibility:    string(p.Visibility),
		Topics:        p.Topics,
		Stars:         int(p.StarCount),
		OpenIssues:    int(p.OpenIssuesCount),
	}
	if p.CreatedAt != nil {
		info.CreatedAt = *p.CreatedAt
	}
	if p.LastActivityAt != nil {
		info.UpdatedAt = *p.LastActivityAt
	}
	return info, nil
}

func (s *gitLabIssueTrackerService) ListLanguages(ctx context.Context, repo model.RepoRef) (map[string]float64, error) {
	langs, err := call(ctx, s.policy, func(ctx context.Context) (*gitlab.ProjectLanguages, error) {
		l, resp, err := s.client.Projects.GetProjectLanguages(repo.FullName(), gitlab.WithContext(ctx))
		return l, gitlabError("get project languages", resp, err)
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	if langs == nil {
		return out, nil
	}
	for name, pct := range *langs {
		out[name] = float64(pct)
	}
	return out, nil
}

func (s *gitLabIssueTrackerService) ListRecentCommits(ctx context.Context, repo model.RepoRef) ([]model.Commit, error) {
	commits, err := call(ctx, s.policy, func(ctx context.Context) ([]*gitlab.Commit, error) {
		c, resp, err := s.client.Commits.ListCommits(repo.FullName(), &gitlab.ListCommitsOptions{
			ListOptions: gitlab.ListOptions{PerPage: recentCommitLimit},
		}, gitlab.WithContext(ctx))
		return c, gitlabError("list commits", resp, err)
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Commit, 0, len(commits))
	for _, c := range commits {
		if c == nil {
			continue
		}
		commit := model.Commit{SHA: c.ShortID, Title: c.Title, Author: c.AuthorName}
		if c.CreatedAt != nil {
			commit.CreatedAt = *c.CreatedAt
		}
		out = append(out, commit)
	}
	return out, nil
}

func (s *gitLabIssueTrackerService) ListRootFiles(ctx context.Context, repo model.RepoRef) ([]string, error) {
	nodes, err := call(ctx, s.policy, func(ctx context.Context) ([]*gitlab.TreeNode, error) {
		n, resp, err := s.client.Repositories.ListTree(repo.FullName(), &gitlab.ListTreeOptions{
			ListOptions: gitlab.ListOptions{PerPage: pageSize},
		}, gitlab.WithContext(ctx))
		return n, gitlabError("list tree", resp, err)
	})
	if err != nil {
		return nil, err
	}

	var files []string
	for _, n := range nodes {
		if n != nil && n.Type == "blob" {
			files = append(files, n.Path)
		}
	}
	return files, nil
}

func (s *gitLabIssueTrackerService) GetFileContent(ctx context.Context, repo model.RepoRef, path string) (string, error) {
	raw, err := call(ctx, s.policy, func(ctx context.Context) ([]byte, error) {
		b, resp, err := s.client.RepositoryFiles.GetRawFile(repo.FullName(), path, &gitlab.GetRawFileOptions{}, gitlab.WithContext(ctx))
		return b, gitlabError("get raw file "+path, resp, err)
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *gitLabIssueTrackerService) CreateMilestone(ctx context.Context, repo model.RepoRef, title, description string) (*model.Milestone, error) {
	m, err := create(ctx, s.policy, func(ctx context.Context) (*gitlab.Milestone, error) {
		m, resp, err := s.client.Milestones.CreateMilestone(repo.FullName(), &gitlab.CreateMilestoneOptions{
			Title:       gitlab.Ptr(title),
			Description: gitlab.Ptr(description),
		}, gitlab.WithContext(ctx))
		return m, gitlabError("create milestone", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return mapGitLabMilestone(m), nil
}

// GetMilestone looks a milestone up by its project-scoped IID, the number users see.
func (s *gitLabIssueTrackerService) GetMilestone(ctx context.Context, repo model.RepoRef, number int64) (*model.Milestone, error) {
	ms, err := call(ctx, s.policy, func(ctx context.Context) ([]*gitlab.Milestone, error) {
		m, resp, err := s.client.Milestones.ListMilestones(repo.FullName(), &gitlab.ListMilestonesOptions{
			IIDs: &[]int64{number},
		}, gitlab.WithContext(ctx))
		return m, gitlabError("get milestone", resp, err)
	})
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		if m != nil && int64(m.IID) == number {
			return mapGitLabMilestone(m), nil
		}
	}
	return nil, &StatusError{Op: "get milestone", StatusCode: http.StatusNotFound, Err: fmt.Errorf("milestone %d", number)}
}

func (s *gitLabIssueTrackerService) ListOpenMilestones(ctx context.Context, repo model.RepoRef) ([]model.Milestone, error) {
	opts := &gitlab.ListMilestonesOptions{
		State:       gitlab.Ptr("active"),
		ListOptions: gitlab.ListOptions{Page: 1, PerPage: pageSize},
	}

	var out []model.Milestone
	for page := 0; page < maxPages; page++ {
		type result struct {
			items []*gitlab.Milestone
			next  *gitlab.Response
		}
		r, err := call(ctx, s.policy, func(ctx context.Context) (result, error) {
			m, resp, err := s.client.Milestones.ListMilestones(repo.FullName(), opts, gitlab.WithContext(ctx))
			return result{items: m, next: resp}, gitlabError("list milestones", resp, err)
		})
		if err != nil {
			return nil, err
		}
		for _, m := range r.items {
			if m != nil {
				out = append(out, *mapGitLabMilestone(m))
			}
		}
		if r.next == nil || r.next.NextPage == 0 {
			break
		}
		opts.Page = r.next.NextPage
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *gitLabIssueTrackerService) UpdateMilestone(ctx context.Context, repo model.RepoRef, milestone model.Milestone, update MilestoneUpdate) (*model.Milestone, error) {
	opts := &gitlab.UpdateMilestoneOptions{Description: update.Description}
	if update.Close {
		opts.StateEvent = gitlab.Ptr("close")
	}

	m, err := call(ctx, s.policy, func(ctx context.Context) (*gitlab.Milestone, error) {
		m, resp, err := s.client.Milestones.UpdateMilestone(repo.FullName(), milestone.ID, opts, gitlab.WithContext(ctx))
		return m, gitlabError("update milestone", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return mapGitLabMilestone(m), nil
}

func (s *gitLabIssueTrackerService) CreateIssue(ctx context.Context, repo model.RepoRef, tmpl model.IssueTemplate, milestoneID int64) (*model.Issue, error) {
	opts := &gitlab.CreateIssueOptions{
		Title:       gitlab.Ptr(tmpl.Title),
		Description: gitlab.Ptr(tmpl.Body),
	}
	if len(tmpl.Labels) > 0 {
		labels := gitlab.LabelOptions(tmpl.Labels)
		opts.Labels = &labels
	}
	if milestoneID != 0 {
		opts.MilestoneID = gitlab.Ptr(milestoneID)
	}

	issue, err := create(ctx, s.policy, func(ctx context.Context) (*gitlab.Issue, error) {
		i, resp, err := s.client.Issues.CreateIssue(repo.FullName(), opts, gitlab.WithContext(ctx))
		return i, gitlabError("create issue", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return mapGitLabIssue(issue), nil
}

func (s *gitLabIssueTrackerService) GetIssue(ctx context.Context, repo model.RepoRef, number int64) (*model.Issue, error) {
	issue, err := call(ctx, s.policy, func(ctx context.Context) (*gitlab.Issue, error) {
		i, resp, err := s.client.Issues.GetIssue(repo.FullName(), number, gitlab.WithContext(ctx))
		return i, gitlabError("get issue", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return mapGitLabIssue(issue), nil
}

func (s *gitLabIssueTrackerService) SetIssueMilestone(ctx context.Context, repo model.RepoRef, number, milestoneID int64) error {
	return run(ctx, s.policy, func(ctx context.Context) error {
		_, resp, err := s.client.Issues.UpdateIssue(repo.FullName(), number, &gitlab.UpdateIssueOptions{
			MilestoneID: gitlab.Ptr(milestoneID),
		}, gitlab.WithContext(ctx))
		return gitlabError("set issue milestone", resp, err)
	})
}

func (s *gitLabIssueTrackerService) AddLabels(ctx context.Context, repo model.RepoRef, number int64, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	add := gitlab.LabelOptions(labels)
	return run(ctx, s.policy, func(ctx context.Context) error {
		_, resp, err := s.client.Issues.UpdateIssue(repo.FullName(), number, &gitlab.UpdateIssueOptions{
			AddLabels: &add,
		}, gitlab.WithContext(ctx))
		return gitlabError("add labels", resp, err)
	})
}

func (s *gitLabIssueTrackerService) ListComments(ctx context.Context, repo model.RepoRef, number int64, limit int) ([]model.Comment, error) {
	opts := &gitlab.ListIssueNotesOptions{
		OrderBy:     gitlab.Ptr("created_at"),
		Sort:        gitlab.Ptr("desc"),
		ListOptions: gitlab.ListOptions{Page: 1, PerPage: pageSize},
	}

	var newestFirst []model.Comment
	for page := 0; page < maxPages && len(newestFirst) < limit; page++ {
		type result struct {
			notes []*gitlab.Note
			next  *gitlab.Response
		}
		r, err := call(ctx, s.policy, func(ctx context.Context) (result, error) {
			n, resp, err := s.client.Notes.ListIssueNotes(repo.FullName(), number, opts, gitlab.WithContext(ctx))
			return result{notes: n, next: resp}, gitlabError("list issue notes", resp, err)
		})
		if err != nil {
			return nil, err
		}
		for _, n := range r.notes {
			if n == nil || n.System {
				continue
			}
			newestFirst = append(newestFirst, mapGitLabNote(n))
		}
		if r.next == nil || r.next.NextPage == 0 {
			break
		}
		opts.Page = r.next.NextPage
	}

	if len(newestFirst) > limit {
		newestFirst = newestFirst[:limit]
	}
	out := make([]model.Comment, len(newestFirst))
	for i, c := range newestFirst {
		out[len(newestFirst)-1-i] = c
	}
	return out, nil
}

func (s *gitLabIssueTrackerService) CreateComment(ctx context.Context, repo model.RepoRef, number int64, body string) (*model.Comment, error) {
	note, err := create(ctx, s.policy, func(ctx context.Context) (*gitlab.Note, error) {
		n, resp, err := s.client.Notes.CreateIssueNote(repo.FullName(), number, &gitlab.CreateIssueNoteOptions{
			Body: gitlab.Ptr(body),
		}, gitlab.WithContext(ctx))
		return n, gitlabError("create issue note", resp, err)
	})
	if err != nil {
		return nil, err
	}
	c := mapGitLabNote(note)
	return &c, nil
}

func gitlabError(op string, resp *gitlab.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp != nil && resp.Response != nil {
		return newStatusError(op, resp.StatusCode, err)
	}
	var er *gitlab.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return newStatusError(op, er.Response.StatusCode, err)
	}
	return newStatusError(op, 0, err)
}

func mapGitLabMilestone(m *gitlab.Milestone) *model.Milestone {
	ms := &model.Milestone{
		ID:          int64(m.ID),
		Number:      int64(m.IID),
		Title:       m.Title,
		Description: m.Description,
		URL:         m.WebURL,
		State:       m.State,
	}
	if m.CreatedAt != nil {
		ms.CreatedAt = *m.CreatedAt
	}
	return ms
}

func mapGitLabIssue(i *gitlab.Issue) *model.Issue {
	issue := &model.Issue{
		ID:     int64(i.ID),
		Number: int64(i.IID),
		Title:  i.Title,
		Body:   i.Description,
		URL:    i.WebURL,
		State:  i.State,
		Labels: append([]string(nil), i.Labels...),
	}
	if i.Milestone != nil {
		issue.MilestoneID = int64(i.Milestone.ID)
	}
	return issue
}

func mapGitLabNote(n *gitlab.Note) model.Comment {
	c := model.Comment{
		ID:     int64(n.ID),
		Author: n.Author.Username,
		Body:   n.Body,
	}
	if n.CreatedAt != nil {
		c.CreatedAt = *n.CreatedAt
	}
	return c
}
