package model

import "strings"

// RepoRef names a repository. On GitLab Owner may contain nested groups.
type RepoRef struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Repo
}

func (r RepoRef) IsZero() bool {
	return r.Owner == "" || r.Repo == ""
}

// ParseRepoRef splits "owner/repo" (or "group/sub/repo") at the last slash.
func ParseRepoRef(s string) (RepoRef, bool) {
	s = strings.Trim(strings.TrimSpace(s), "/")
	i := strings.LastIndex(s, "/")
	if i <= 0 || i == len(s)-1 {
		return RepoRef{}, false
	}
	return RepoRef{Owner: s[:i], Repo: s[i+1:]}, true
}

// ParsedCommand is produced once per inbound message and never mutated.
// A message that does not mention the bot always has an empty Command.
type ParsedCommand struct {
	// Command is the normalized text after the mention; Text is the same
	// span as written.
	Command            string
	Text               string
	FullText           string
	IsMention          bool
	UserQuery          string
	IsDevCommand       bool
	IsMultiRepoCommand bool
	Repositories       []RepoRef
}

type Intent string

const (
	IntentApproval     Intent = "approval"
	IntentCancellation Intent = "cancellation"
	IntentRefinement   Intent = "refinement"
	IntentPlanning     Intent = "planning"
	IntentExecution    Intent = "execution"
	IntentUnknown      Intent = "unknown"
)

// IntentClassification is the AI classifier's answer. Never persisted.
type IntentClassification struct {
	Intent            Intent  `json:"intent"`
	Confidence        float64 `json:"confidence"`
	NormalizedCommand string  `json:"normalizedCommand"`
	Language          string  `json:"language"`
}

// Task is the pipeline variant a command routes to.
type Task string

const (
	TaskNone    Task = ""
	TaskPlan    Task = "plan"
	TaskApprove Task = "approve"
	TaskRefine  Task = "refine"
	TaskCancel  Task = "cancel"
)

type ResolutionSource string

const (
	ResolvedByRules      ResolutionSource = "rules"
	ResolvedByClassifier ResolutionSource = "classifier"
	Unresolved           ResolutionSource = "none"
)

// Resolution is the Intent Resolver's routing decision for one message.
type Resolution struct {
	Task           Task
	Command        ParsedCommand
	Source         ResolutionSource
	Classification *IntentClassification
}

// Query is the free text the user attached to a plan or refine request. A
// classifier-routed command has no keyword to strip, so the whole command is
// the query.
func (r Resolution) Query() string {
	if r.Command.UserQuery != "" {
		return r.Command.UserQuery
	}
	if r.Source == ResolvedByClassifier && (r.Task == TaskPlan || r.Task == TaskRefine) {
		return r.Command.Command
	}
	return ""
}
