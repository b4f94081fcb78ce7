package brain

import (
	"context"
	"log/slog"

	"github.com/larp0/uwularpy-sub000/internal/model"
)

// Classifier is the Stage B contract. *IntentClassifier implements it. Text
// is passed as the user wrote it; implementations normalize for caching.
type Classifier interface {
	Classify(ctx context.Context, text string, milestoneCreated bool) (model.IntentClassification, error)
}

// IntentResolver turns a comment into a pipeline variant. Stage A rules always
// win; the classifier only sees mentions the rules could not place.
type IntentResolver struct {
	bot        string
	classifier Classifier
}

// NewIntentResolver builds a resolver. A nil classifier disables Stage B.
func NewIntentResolver(bot string, classifier Classifier) *IntentResolver {
	return &IntentResolver{bot: bot, classifier: classifier}
}

// Resolve never fails: classifier errors resolve to TaskNone.
func (r *IntentResolver) Resolve(ctx context.Context, text string, milestoneCreated bool) model.Resolution {
	cmd := ParseCommand(text, r.bot)
	res := model.Resolution{Command: cmd, Task: model.TaskNone, Source: model.Unresolved}

	if !cmd.IsMention || cmd.Command == "" {
		return res
	}

	if task := MatchRules(cmd); task != model.TaskNone {
		res.Task = task
		res.Source = model.ResolvedByRules
		return res
	}

	if r.classifier == nil {
		return res
	}

	classification, err := r.classifier.Classify(ctx, cmd.Text, milestoneCreated)
	if err != nil {
		slog.WarnContext(ctx, "intent classifier failed, treating command as unrecognized",
			"error", err)
		return res
	}

	res.Classification = &classification
	if task := TaskForIntent(classification); task != model.TaskNone {
		res.Task = task
		res.Source = model.ResolvedByClassifier
	}
	return res
}
