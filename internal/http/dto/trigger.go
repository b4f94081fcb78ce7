package dto

import "github.com/larp0/uwularpy-sub000/internal/model"

type RepositoryRef struct {
	Owner string `json:"owner" binding:"required"`
	Repo  string `json:"repo" binding:"required"`
}

// TriggerRequest is the body of POST /webhooks/trigger. It carries one
// comment addressed to the bot.
type TriggerRequest struct {
	Owner          string          `json:"owner" binding:"required"`
	Repo           string          `json:"repo" binding:"required"`
	IssueNumber    int64           `json:"issueNumber" binding:"required,gt=0"`
	Requester      string          `json:"requester" binding:"required"`
	Message        string          `json:"message" binding:"required"`
	InstallationID int64           `json:"installationId,omitempty"`
	CommentID      int64           `json:"commentId,omitempty"`
	Repositories   []RepositoryRef `json:"repositories,omitempty" binding:"omitempty,dive"`
	IsMultiRepo    bool            `json:"isMultiRepo,omitempty"`
}

func (r TriggerRequest) ToModel() model.Trigger {
	trigger := model.Trigger{
		Owner:          r.Owner,
		Repo:           r.Repo,
		IssueNumber:    r.IssueNumber,
		Requester:      r.Requester,
		InstallationID: r.InstallationID,
		Message:        r.Message,
		CommentID:      r.CommentID,
		IsMultiRepo:    r.IsMultiRepo,
	}
	for _, ref := range r.Repositories {
		trigger.Repositories = append(trigger.Repositories, model.RepoRef{Owner: ref.Owner, Repo: ref.Repo})
	}
	return trigger
}

type TriggerResponse struct {
	RunID      int64  `json:"runId,string,omitempty"`
	Enqueued   bool   `json:"enqueued"`
	SkipReason string `json:"skipReason,omitempty"`
}
