package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/ratelimit"
	"github.com/larp0/uwularpy-sub000/internal/service/issue_tracker"
)

// maxListedIssues bounds the issue links listed in a reply.
const maxListedIssues = 30

type multiRepoResult struct {
	repo      model.RepoRef
	milestone *model.Milestone
	analysis  model.PlanAnalysis
	err       error
}

func unrecognizedReply(bot string) string {
	return fmt.Sprintf("I didn't understand that. Try one of:\n"+
		"- `@%[1]s plan [focus]` to analyze this repository and propose a plan\n"+
		"- `@%[1]s approve` to create issues from the latest plan\n"+
		"- `@%[1]s refine <feedback>` to revise the plan\n"+
		"- `@%[1]s cancel` to discard the plan\n"+
		"- `@%[1]s multi-plan owner/repo owner/repo2` to plan several repositories", bot)
}

func notFoundReply(bot string) string {
	return fmt.Sprintf("I couldn't find a plan milestone for this thread. Run planning first with `@%s plan`.", bot)
}

func ambiguousReply(candidates []int64, bot string, task model.Task) string {
	refs := make([]string, len(candidates))
	for i, n := range candidates {
		refs[i] = fmt.Sprintf("#%d", n)
	}
	verb := string(task)
	if verb == "" {
		verb = "approve"
	}
	return fmt.Sprintf("This thread refers to several milestones (%s). Tell me which one, for example `@%s %s milestone %s`.",
		strings.Join(refs, ", "), bot, verb, refs[0])
}

func planCreatedReply(ms *model.Milestone, analysis model.PlanAnalysis, bot string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Created milestone [%s](%s) with %d items:\n", ms.Title, ms.URL, analysis.ItemCount())
	fmt.Fprintf(&sb, "- %d critical fixes\n", len(analysis.CriticalFixes))
	fmt.Fprintf(&sb, "- %d missing components\n", len(analysis.MissingComponents))
	fmt.Fprintf(&sb, "- %d required improvements\n", len(analysis.RequiredImprovements))
	fmt.Fprintf(&sb, "- %d innovation ideas\n", len(analysis.InnovationIdeas))
	if analysis.Degraded {
		sb.WriteString("\nAutomated analysis was partly unavailable, so some items come from a standard checklist.\n")
	}
	fmt.Fprintf(&sb, "\nReply `@%[1]s approve` to create the issues, `@%[1]s refine <feedback>` to revise, or `@%[1]s cancel` to discard.", bot)
	return sb.String()
}

func multiRepoReply(results []multiRepoResult) string {
	var sb strings.Builder
	sb.WriteString("Multi-repository planning finished:\n")
	for _, res := range results {
		switch {
		case res.err != nil:
			fmt.Fprintf(&sb, "- **%s**: failed, %s\n", res.repo.FullName(), userFacingError(res.err))
		case res.milestone != nil:
			fmt.Fprintf(&sb, "- **%s**: [%s](%s) with %d items\n", res.repo.FullName(), res.milestone.Title, res.milestone.URL, res.analysis.ItemCount())
		}
	}
	return sb.String()
}

func approveReply(ms *model.Milestone, created []model.Issue, failed []model.IssueTemplate, unlinked int, verify model.AttachmentResult, repair model.RepairResult) string {
	var sb strings.Builder
	total := len(created) + len(failed)
	fmt.Fprintf(&sb, "Created %d of %d issues in [%s](%s).\n", len(created), total, ms.Title, ms.URL)

	for i, issue := range created {
		if i == maxListedIssues {
			fmt.Fprintf(&sb, "- ...and %d more\n", len(created)-maxListedIssues)
			break
		}
		fmt.Fprintf(&sb, "- [#%d %s](%s)\n", issue.Number, issue.Title, issue.URL)
	}

	if len(failed) > 0 {
		fmt.Fprintf(&sb, "\n%d issues could not be created:\n", len(failed))
		for _, tmpl := range failed {
			fmt.Fprintf(&sb, "- %s\n", tmpl.Title)
		}
	}

	if unlinked > 0 && verify.Failed == 0 {
		fmt.Fprintf(&sb, "\n%d issues came back without the milestone; a later check found them all linked.\n", unlinked)
	}
	if verify.Failed > 0 {
		fmt.Fprintf(&sb, "\n%d issues were not linked to the milestone after creation; %d were re-linked.\n", verify.Failed, repair.Repaired)
		if len(repair.Unresolved) > 0 {
			sb.WriteString("Still unlinked, please attach them manually:\n")
			for _, f := range repair.Unresolved {
				fmt.Fprintf(&sb, "- #%d %s\n", f.ItemNumber, f.Title)
			}
		}
	}
	return sb.String()
}

func refineReply(ms *model.Milestone, before, after model.PlanAnalysis, bot string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Updated [%s](%s).\n", ms.Title, ms.URL)
	for _, c := range model.Categories {
		b, a := len(before.Entries(c)), len(after.Entries(c))
		fmt.Fprintf(&sb, "- %s: %d → %d\n", strings.ReplaceAll(string(c), "_", " "), b, a)
	}
	fmt.Fprintf(&sb, "\nReply `@%s approve` when the plan looks right.", bot)
	return sb.String()
}

// stageFailureReply is the single summary a failed stage posts. notes carry
// what succeeded or what was left untouched.
func stageFailureReply(stage string, err error, notes []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Something went wrong while %s: %s.", stage, userFacingError(err))
	for _, n := range notes {
		sb.WriteString(" ")
		sb.WriteString(n)
	}
	return sb.String()
}

func userFacingError(err error) string {
	var se *issue_tracker.StatusError
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		return "too many planning requests, please wait a minute"
	case errors.Is(err, context.DeadlineExceeded):
		return "it took too long, please try again later"
	case errors.As(err, &se),
		errors.Is(err, issue_tracker.ErrNotFound),
		errors.Is(err, issue_tracker.ErrForbidden),
		errors.Is(err, issue_tracker.ErrUnauthorized),
		errors.Is(err, issue_tracker.ErrValidation):
		return issue_tracker.UserMessage(err)
	default:
		return "an unexpected error occurred"
	}
}
