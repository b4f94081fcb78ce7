package brain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/larp0/uwularpy-sub000/internal/model"
)

const (
	analysisBlockStart = "<!-- planner:analysis\n"
	analysisBlockEnd   = "\nplanner:analysis -->"
)

// ErrNoAnalysis means a milestone description carries no embedded plan.
var ErrNoAnalysis = errors.New("milestone description has no embedded plan")

var categoryHeadings = map[model.Category]string{
	model.CategoryCriticalFixes:        "Critical Fixes",
	model.CategoryMissingComponents:    "Missing Components",
	model.CategoryRequiredImprovements: "Required Improvements",
	model.CategoryInnovationIdeas:      "Innovation Ideas",
}

type RenderMeta struct {
	Repo        model.RepoRef
	UserQuery   string
	GeneratedAt time.Time
	BotUsername string
}

// RenderAnalysis serializes a plan into a milestone description. Sections are
// critical-first and each list is stable-sorted by priority annotation. The
// machine-readable copy rides along in an HTML comment.
func RenderAnalysis(a model.PlanAnalysis, meta RenderMeta) string {
	var sb strings.Builder

	sb.WriteString("## AI Development Plan\n\n")
	fmt.Fprintf(&sb, "**Repository:** %s\n", meta.Repo.FullName())
	if a.ProjectType != "" {
		fmt.Fprintf(&sb, "**Project type:** %s\n", a.ProjectType)
	}
	if !meta.GeneratedAt.IsZero() {
		fmt.Fprintf(&sb, "**Generated:** %s\n", meta.GeneratedAt.UTC().Format(time.RFC3339))
	}
	if q := strings.TrimSpace(meta.UserQuery); q != "" {
		fmt.Fprintf(&sb, "**Requested focus:** %s\n", q)
	}
	if a.Degraded {
		sb.WriteString("\n> Parts of this plan come from a standard checklist because automated analysis was unavailable.\n")
	}

	if a.RepositoryOverview != "" {
		sb.WriteString("\n### Overview\n\n")
		sb.WriteString(a.RepositoryOverview)
		sb.WriteString("\n")
	}

	for _, c := range model.Categories {
		entries := SortByPriority(a.Entries(c))
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n### %s (%d)\n\n", categoryHeadings[c], len(entries))
		for i, e := range entries {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, e)
		}
	}

	if meta.BotUsername != "" {
		fmt.Fprintf(&sb, "\n---\nReply `@%[1]s approve` to create these issues, `@%[1]s refine <feedback>` to revise the plan, or `@%[1]s cancel` to discard it.\n", meta.BotUsername)
	}

	ordered := a
	for _, c := range model.Categories {
		ordered.SetEntries(c, SortByPriority(a.Entries(c)))
	}
	// json.Marshal escapes '<' and '>', so entries cannot close the comment early.
	payload, err := json.Marshal(ordered)
	if err == nil {
		sb.WriteString("\n")
		sb.WriteString(analysisBlockStart)
		sb.Write(payload)
		sb.WriteString(analysisBlockEnd)
		sb.WriteString("\n")
	}

	return sb.String()
}

// ParseAnalysis reads the plan embedded by RenderAnalysis.
func ParseAnalysis(description string) (model.PlanAnalysis, error) {
	_, rest, ok := strings.Cut(description, analysisBlockStart)
	if !ok {
		return model.PlanAnalysis{}, ErrNoAnalysis
	}
	payload, _, ok := strings.Cut(rest, analysisBlockEnd)
	if !ok {
		return model.PlanAnalysis{}, fmt.Errorf("%w: unterminated block", ErrNoAnalysis)
	}

	var a model.PlanAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &a); err != nil {
		return model.PlanAnalysis{}, fmt.Errorf("decoding embedded plan: %w", err)
	}
	return a, nil
}
