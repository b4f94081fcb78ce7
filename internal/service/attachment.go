package service

import (
	"context"
	"log/slog"

	"github.com/larp0/uwularpy-sub000/common/logger"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/service/issue_tracker"
)

// AttachmentVerifier checks that created issues really are linked to their
// milestone and re-links the ones that are not.
type AttachmentVerifier struct {
	tracker issue_tracker.IssueTrackerService
}

func NewAttachmentVerifier(tracker issue_tracker.IssueTrackerService) *AttachmentVerifier {
	return &AttachmentVerifier{tracker: tracker}
}

// Verify re-reads every created issue and compares its milestone. An issue
// that cannot be read counts as failed.
func (v *AttachmentVerifier) Verify(ctx context.Context, repo model.RepoRef, created []model.Issue, milestone model.Milestone) model.AttachmentResult {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "planner.service.attachment"})

	var result model.AttachmentResult
	for _, issue := range created {
		current, err := v.tracker.GetIssue(ctx, repo, issue.Number)
		if err != nil {
			slog.WarnContext(ctx, "could not re-read issue for verification",
				"issue_number", issue.Number,
				"error", err)
		}
		if err == nil && current.MilestoneID == milestone.ID {
			result.Successful++
			continue
		}
		result.Failed++
		result.Failures = append(result.Failures, model.AttachmentFailure{ItemNumber: issue.Number, Title: issue.Title})
	}

	slog.InfoContext(ctx, "milestone attachment verified",
		"milestone_number", milestone.Number,
		"successful", result.Successful,
		"failed", result.Failed)

	return result
}

// Repair re-issues the link for each failure and re-reads the issue once.
// len(Unresolved) always equals len(failures) - Repaired.
func (v *AttachmentVerifier) Repair(ctx context.Context, repo model.RepoRef, failures []model.AttachmentFailure, milestone model.Milestone) model.RepairResult {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "planner.service.attachment"})

	var result model.RepairResult
	for _, f := range failures {
		if err := v.tracker.SetIssueMilestone(ctx, repo, f.ItemNumber, milestone.ID); err != nil {
			slog.WarnContext(ctx, "re-linking issue failed",
				"issue_number", f.ItemNumber,
				"error", err)
			result.Unresolved = append(result.Unresolved, f)
			continue
		}

		current, err := v.tracker.GetIssue(ctx, repo, f.ItemNumber)
		if err != nil || current.MilestoneID != milestone.ID {
			slog.WarnContext(ctx, "issue still unlinked after repair",
				"issue_number", f.ItemNumber,
				"error", err)
			result.Unresolved = append(result.Unresolved, f)
			continue
		}
		result.Repaired++
	}

	if len(failures) > 0 {
		slog.InfoContext(ctx, "milestone attachment repaired",
			"milestone_number", milestone.Number,
			"repaired", result.Repaired,
			"unresolved", len(result.Unresolved))
	}

	return result
}
