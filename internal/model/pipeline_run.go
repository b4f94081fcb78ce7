package model

import "time"

type RunStatus string

const (
	RunSucceeded   RunStatus = "succeeded"
	RunFailed      RunStatus = "failed"
	RunRejected    RunStatus = "rejected"
	RunRateLimited RunStatus = "rate_limited"
	RunSkipped     RunStatus = "skipped"
)

// PipelineRun summarizes one processed trigger for logs and tests.
type PipelineRun struct {
	RunID             int64
	Task              Task
	Status            RunStatus
	Error             *string
	Milestones        []Milestone
	IssuesCreated     int
	IssuesFailed      int
	// ImmediateUnlinked counts created issues whose create response did not
	// carry the plan milestone.
	ImmediateUnlinked int
	Unresolved        int
	StartedAt         time.Time
	FinishedAt        *time.Time
}
