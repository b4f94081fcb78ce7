package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/larp0/uwularpy-sub000/common/logger"
	"github.com/larp0/uwularpy-sub000/internal/brain"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/service/issue_tracker"
)

// MilestoneTitlePrefix starts the title of every plan milestone.
const MilestoneTitlePrefix = "AI Development Plan "

const (
	sourceThread         = "thread"
	sourceOpenMilestones = "open_milestones"
	defaultMaxThreadScan = 100
)

var (
	// milestoneURLPattern matches absolute GitHub and GitLab milestone URLs.
	milestoneURLPattern = regexp.MustCompile(`(?i)https?://[^/\s]+/([^\s?#)]+?)/(?:-/)?milestones?/(\d+)`)
	// milestonePathPattern matches relative milestone paths such as
	// "/acme/api/milestone/3" or "../milestones/3".
	milestonePathPattern = regexp.MustCompile(`(?i)(?:^|[\s(\[])(?:\.\./|/)?(?:[\w.\-]+/)*(?:-/)?milestones?/(\d+)\b`)
	// milestoneNumberPattern matches "milestone: 3", "milestone #3" and "milestone 3".
	milestoneNumberPattern = regexp.MustCompile(`(?i)\bmilestone\s*(?::\s*#?|#|\s)\s*(\d+)\b`)
	// bareNumberPattern matches "#3". Only used in messages that mention a
	// milestone and carry no milestone link.
	bareNumberPattern = regexp.MustCompile(`(?:^|[^\w&/])#(\d+)\b`)
	// markdownLinkPattern matches "[text](target)"; link text usually names issues.
	markdownLinkPattern = regexp.MustCompile(`\[[^\]]*\]\([^)]*\)`)
)

// MilestoneManager creates plan milestones and locates them again from a thread.
type MilestoneManager struct {
	tracker       issue_tracker.IssueTrackerService
	maxThreadScan int
	now           func() time.Time
}

func NewMilestoneManager(tracker issue_tracker.IssueTrackerService, maxThreadScan int) *MilestoneManager {
	if maxThreadScan <= 0 {
		maxThreadScan = defaultMaxThreadScan
	}
	return &MilestoneManager{tracker: tracker, maxThreadScan: maxThreadScan, now: time.Now}
}

// WithClock replaces the clock used for titles. Used by tests.
func (m *MilestoneManager) WithClock(now func() time.Time) *MilestoneManager {
	m.now = now
	return m
}

// NewMilestoneTitle returns "AI Development Plan " plus a filesystem-safe UTC
// timestamp and a random suffix, so two plans never share a title.
func NewMilestoneTitle(now time.Time) string {
	ts := now.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return MilestoneTitlePrefix + ts + "-" + suffix
}

// Create persists a plan as a new milestone. A title collision is retried
// once with a fresh suffix.
func (m *MilestoneManager) Create(ctx context.Context, repo model.RepoRef, analysis model.PlanAnalysis, meta brain.RenderMeta) (*model.Milestone, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "planner.service.milestone"})

	if meta.GeneratedAt.IsZero() {
		meta.GeneratedAt = m.now()
	}
	meta.Repo = repo
	description := brain.RenderAnalysis(analysis, meta)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		title := NewMilestoneTitle(m.now())
		ms, err := m.tracker.CreateMilestone(ctx, repo, title, description)
		if err == nil {
			slog.InfoContext(ctx, "plan milestone created",
				"milestone_number", ms.Number,
				"title", ms.Title,
				"items", analysis.ItemCount())
			return ms, nil
		}
		lastErr = err
		if !errors.Is(err, issue_tracker.ErrValidation) {
			break
		}
		slog.WarnContext(ctx, "milestone title rejected, retrying with a new suffix", "title", title, "error", err)
	}
	return nil, fmt.Errorf("creating plan milestone: %w", lastErr)
}

// Find locates the plan milestone a thread refers to. The thread is scanned
// newest-first; the first message with a usable reference decides. Without
// one, the newest open plan milestone is used.
func (m *MilestoneManager) Find(ctx context.Context, repo model.RepoRef, thread []model.Comment) (model.LookupResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "planner.service.milestone"})

	scanned := 0
	for i := len(thread) - 1; i >= 0 && scanned < m.maxThreadScan; i-- {
		scanned++
		refs := ExtractMilestoneRefs(thread[i].Body, repo)
		if len(refs) == 0 {
			continue
		}
		if len(refs) > 1 {
			slog.InfoContext(ctx, "thread message references several milestones",
				"comment_id", thread[i].ID,
				"candidates", refs)
			return model.LookupResult{Status: model.LookupAmbiguous, Candidates: refs, Source: sourceThread}, nil
		}

		ms, err := m.tracker.GetMilestone(ctx, repo, refs[0])
		if err != nil {
			if errors.Is(err, issue_tracker.ErrNotFound) {
				slog.DebugContext(ctx, "referenced milestone does not exist", "milestone_number", refs[0])
				continue
			}
			return model.LookupResult{}, fmt.Errorf("reading milestone %d: %w", refs[0], err)
		}
		if ms.State == "closed" {
			slog.DebugContext(ctx, "referenced milestone is closed", "milestone_number", refs[0])
			continue
		}
		return model.LookupResult{Status: model.LookupFound, Milestone: ms, Source: sourceThread}, nil
	}

	open, err := m.tracker.ListOpenMilestones(ctx, repo)
	if err != nil {
		return model.LookupResult{}, fmt.Errorf("listing open milestones: %w", err)
	}
	for i := range open {
		if strings.HasPrefix(open[i].Title, MilestoneTitlePrefix) {
			ms := open[i]
			return model.LookupResult{Status: model.LookupFound, Milestone: &ms, Source: sourceOpenMilestones}, nil
		}
	}

	return model.LookupResult{Status: model.LookupNotFound}, nil
}

// LoadAnalysis reads the plan embedded in a milestone description.
func (m *MilestoneManager) LoadAnalysis(ms *model.Milestone) (model.PlanAnalysis, error) {
	analysis, err := brain.ParseAnalysis(ms.Description)
	if err != nil {
		return model.PlanAnalysis{}, fmt.Errorf("loading plan from milestone %d: %w", ms.Number, err)
	}
	return analysis, nil
}

// UpdateAnalysis rewrites the milestone description with a revised plan.
func (m *MilestoneManager) UpdateAnalysis(ctx context.Context, repo model.RepoRef, ms model.Milestone, analysis model.PlanAnalysis, meta brain.RenderMeta) (*model.Milestone, error) {
	if meta.GeneratedAt.IsZero() {
		meta.GeneratedAt = m.now()
	}
	meta.Repo = repo
	description := brain.RenderAnalysis(analysis, meta)
	updated, err := m.tracker.UpdateMilestone(ctx, repo, ms, issue_tracker.MilestoneUpdate{Description: &description})
	if err != nil {
		return nil, fmt.Errorf("updating plan milestone %d: %w", ms.Number, err)
	}
	return updated, nil
}

// Close marks a plan milestone closed.
func (m *MilestoneManager) Close(ctx context.Context, repo model.RepoRef, ms model.Milestone) (*model.Milestone, error) {
	closed, err := m.tracker.UpdateMilestone(ctx, repo, ms, issue_tracker.MilestoneUpdate{Close: true})
	if err != nil {
		return nil, fmt.Errorf("closing plan milestone %d: %w", ms.Number, err)
	}
	return closed, nil
}

// ExtractMilestoneRefs returns the distinct milestone numbers a message
// refers to, in order of appearance. Absolute URLs for other repositories
// are ignored. Bare "#N" counts only in messages without a milestone link,
// since replies that link a milestone also list issues as "#N".
func ExtractMilestoneRefs(body string, repo model.RepoRef) []int64 {
	var refs []int64
	seen := make(map[int64]bool)
	add := func(s string) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 || seen[n] {
			return
		}
		seen[n] = true
		refs = append(refs, n)
	}

	for _, m := range milestoneURLPattern.FindAllStringSubmatch(body, -1) {
		if strings.EqualFold(strings.Trim(m[1], "/"), repo.FullName()) {
			add(m[2])
		}
	}
	rest := milestoneURLPattern.ReplaceAllString(body, " ")

	for _, m := range milestonePathPattern.FindAllStringSubmatch(rest, -1) {
		add(m[1])
	}
	linked := len(refs) > 0 || milestoneURLPattern.MatchString(body)
	for _, m := range milestoneNumberPattern.FindAllStringSubmatch(rest, -1) {
		add(m[1])
	}
	if !linked && strings.Contains(strings.ToLower(rest), "milestone") {
		plain := markdownLinkPattern.ReplaceAllString(rest, " ")
		for _, m := range bareNumberPattern.FindAllStringSubmatch(plain, -1) {
			add(m[1])
		}
	}
	return refs
}
