package model

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTrigger = errors.New("invalid trigger payload")

// Trigger is the inbound payload handed over by the webhook collaborator.
type Trigger struct {
	Owner          string    `json:"owner"`
	Repo           string    `json:"repo"`
	IssueNumber    int64     `json:"issueNumber"`
	Requester      string    `json:"requester"`
	InstallationID int64     `json:"installationId,omitempty"`
	Message        string    `json:"message"`
	CommentID      int64     `json:"commentId,omitempty"`
	Repositories   []RepoRef `json:"repositories,omitempty"`
	IsMultiRepo    bool      `json:"isMultiRepo,omitempty"`
}

func (t Trigger) Validate() error {
	var missing []string
	if strings.TrimSpace(t.Owner) == "" {
		missing = append(missing, "owner")
	}
	if strings.TrimSpace(t.Repo) == "" {
		missing = append(missing, "repo")
	}
	if t.IssueNumber <= 0 {
		missing = append(missing, "issueNumber")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidTrigger, strings.Join(missing, ", "))
	}
	return nil
}

func (t Trigger) Repository() RepoRef {
	return RepoRef{Owner: t.Owner, Repo: t.Repo}
}
