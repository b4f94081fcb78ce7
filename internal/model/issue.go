package model

import "time"

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityFeature  Priority = "feature"
)

// MaxIssueTitleLength is the longest title both supported platforms accept.
const MaxIssueTitleLength = 256

// IssueTemplate is one work item before it is created on the platform.
type IssueTemplate struct {
	Title    string
	Body     string
	Labels   []string
	Priority Priority
	Category Category
}

// Issue is a work item as the platform reports it. MilestoneID is 0 when the
// issue is not attached to any milestone.
type Issue struct {
	ID          int64
	Number      int64
	Title       string
	Body        string
	URL         string
	State       string
	Labels      []string
	MilestoneID int64
}

type Comment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
}
