package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/larp0/uwularpy-sub000/internal/model"
)

type GitLabEventMapper struct{}

func NewGitLabEventMapper() *GitLabEventMapper {
	return &GitLabEventMapper{}
}

func (m *GitLabEventMapper) Map(ctx context.Context, body map[string]any, headers map[string]string) (CanonicalEventType, error) {
	headerEventType := headers["X-Gitlab-Event"]

	objectKind := ""
	if ok, exists := body["object_kind"]; exists {
		objectKind, _ = ok.(string)
	}

	canonicalType := m.mapGitLabEvent(headerEventType, objectKind)
	if canonicalType == "" {
		return "", fmt.Errorf("%w: header=%q object_kind=%q", ErrUnsupportedEvent, headerEventType, objectKind)
	}

	return canonicalType, nil
}

func (m *GitLabEventMapper) mapGitLabEvent(headerEventType, objectKind string) CanonicalEventType {
	switch gitlab.EventType(headerEventType) {
	case gitlab.EventTypeIssue:
		return EventIssueCreated
	case gitlab.EventTypeNote:
		return EventReply
	case gitlab.EventTypeMergeRequest:
		return EventPRCreated
	}

	switch objectKind {
	case "issue":
		return EventIssueCreated
	case "note":
		return EventReply
	case "merge_request":
		return EventPRCreated
	}

	return ""
}

// notePayload is the part of a GitLab Note Hook a trigger needs.
type notePayload struct {
	ObjectKind string `json:"object_kind"`
	User       struct {
		Username string `json:"username"`
	} `json:"user"`
	Project struct {
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
	ObjectAttributes struct {
		ID           int64  `json:"id"`
		Note         string `json:"note"`
		NoteableType string `json:"noteable_type"`
		System       bool   `json:"system"`
	} `json:"object_attributes"`
	Issue struct {
		IID int64 `json:"iid"`
	} `json:"issue"`
	MergeRequest struct {
		IID int64 `json:"iid"`
	} `json:"merge_request"`
}

// NoteToTrigger turns a comment on an issue or merge request into a trigger.
// GitLab numbers issues and merge requests separately; both use IID.
func (m *GitLabEventMapper) NoteToTrigger(body []byte) (model.Trigger, error) {
	var payload notePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.Trigger{}, fmt.Errorf("decoding note payload: %w", err)
	}
	if payload.ObjectKind != "note" {
		return model.Trigger{}, fmt.Errorf("%w: object_kind=%q", ErrUnsupportedEvent, payload.ObjectKind)
	}
	if payload.ObjectAttributes.System {
		return model.Trigger{}, fmt.Errorf("%w: system note", ErrIgnoredNote)
	}

	var number int64
	switch payload.ObjectAttributes.NoteableType {
	case "Issue":
		number = payload.Issue.IID
	case "MergeRequest":
		number = payload.MergeRequest.IID
	default:
		return model.Trigger{}, fmt.Errorf("%w: noteable_type=%q", ErrIgnoredNote, payload.ObjectAttributes.NoteableType)
	}

	repo, ok := model.ParseRepoRef(payload.Project.PathWithNamespace)
	if !ok {
		return model.Trigger{}, fmt.Errorf("%w: project path %q", model.ErrInvalidTrigger, payload.Project.PathWithNamespace)
	}

	trigger := model.Trigger{
		Owner:       repo.Owner,
		Repo:        repo.Repo,
		IssueNumber: number,
		Requester:   strings.TrimSpace(payload.User.Username),
		Message:     payload.ObjectAttributes.Note,
		CommentID:   payload.ObjectAttributes.ID,
	}
	if err := trigger.Validate(); err != nil {
		return model.Trigger{}, err
	}
	return trigger, nil
}
