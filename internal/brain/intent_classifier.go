package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/larp0/uwularpy-sub000/common/llm"
	"github.com/larp0/uwularpy-sub000/internal/model"
)

// IntentResponse is the structured answer the classifier asks for.
type IntentResponse struct {
	Intent            string  `json:"intent" jsonschema:"enum=approval,enum=cancellation,enum=refinement,enum=planning,enum=execution,enum=unknown" jsonschema_description:"What the user wants the bot to do"`
	Confidence        float64 `json:"confidence" jsonschema_description:"Confidence 0.0-1.0"`
	NormalizedCommand string  `json:"normalized_command" jsonschema_description:"The request rewritten as a short English command, e.g. 'approve' or 'plan focus on tests'"`
	Language          string  `json:"language" jsonschema_description:"ISO 639-1 code of the user's language"`
}

var intentSchema = llm.GenerateSchema[IntentResponse]()

// MinConfidence is the lowest classifier confidence that still routes a command.
const MinConfidence = 0.6

// intentTasks maps classifier intents to pipeline variants. Execution means
// "go build it", which for a plan is the same as approving it.
var intentTasks = map[model.Intent]model.Task{
	model.IntentApproval:     model.TaskApprove,
	model.IntentExecution:    model.TaskApprove,
	model.IntentCancellation: model.TaskCancel,
	model.IntentRefinement:   model.TaskRefine,
	model.IntentPlanning:     model.TaskPlan,
	model.IntentUnknown:      model.TaskNone,
}

// TaskForIntent applies the fixed intent table. Low confidence maps to TaskNone.
func TaskForIntent(c model.IntentClassification) model.Task {
	if c.Confidence < MinConfidence {
		return model.TaskNone
	}
	return intentTasks[c.Intent]
}

type classifierKey struct {
	text             string
	milestoneCreated bool
}

// IntentClassifier is Stage B: an AI fallback for typos, paraphrases and
// other languages. Answers are memoized so a repeated message with the same
// context always routes the same way.
type IntentClassifier struct {
	llm     llm.Client
	timeout time.Duration
	cache   *lru.Cache[classifierKey, model.IntentClassification]
}

func NewIntentClassifier(client llm.Client, cacheSize int, timeout time.Duration) (*IntentClassifier, error) {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	cache, err := lru.New[classifierKey, model.IntentClassification](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating classifier cache: %w", err)
	}
	return &IntentClassifier{llm: client, timeout: timeout, cache: cache}, nil
}

// Classify returns an error when the model fails or answers with something
// unusable. Callers treat that as "unrecognized", never as a guess.
func (c *IntentClassifier) Classify(ctx context.Context, text string, milestoneCreated bool) (model.IntentClassification, error) {
	key := classifierKey{text: normalize(text), milestoneCreated: milestoneCreated}
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var resp IntentResponse
	start := time.Now()
	_, err := c.llm.Chat(callCtx, llm.Request{
		SystemPrompt: intentSystemPrompt,
		UserPrompt:   c.buildPrompt(text, milestoneCreated),
		SchemaName:   "intent_classification",
		Schema:       intentSchema,
		MaxTokens:    256,
		Temperature:  llm.Temp(0),
	}, &resp)
	if err != nil {
		return model.IntentClassification{}, fmt.Errorf("intent classification: %w", err)
	}

	result, err := parseIntentResponse(resp)
	if err != nil {
		return model.IntentClassification{}, err
	}

	c.cache.Add(key, result)

	slog.InfoContext(ctx, "intent classified",
		"intent", result.Intent,
		"confidence", result.Confidence,
		"language", result.Language,
		"latency_ms", time.Since(start).Milliseconds())

	return result, nil
}

func parseIntentResponse(resp IntentResponse) (model.IntentClassification, error) {
	intent := model.Intent(strings.ToLower(strings.TrimSpace(resp.Intent)))
	if _, ok := intentTasks[intent]; !ok {
		return model.IntentClassification{}, fmt.Errorf("%w: unknown intent %q", llm.ErrMalformedResponse, resp.Intent)
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return model.IntentClassification{}, fmt.Errorf("%w: confidence %v out of range", llm.ErrMalformedResponse, resp.Confidence)
	}
	return model.IntentClassification{
		Intent:            intent,
		Confidence:        resp.Confidence,
		NormalizedCommand: strings.TrimSpace(resp.NormalizedCommand),
		Language:          strings.TrimSpace(resp.Language),
	}, nil
}

func (c *IntentClassifier) buildPrompt(text string, milestoneCreated bool) string {
	var sb strings.Builder
	sb.WriteString("## Message\n")
	sb.WriteString(text)
	sb.WriteString("\n\n## Context\n")
	if milestoneCreated {
		sb.WriteString("A development plan milestone was just created in this thread and is waiting for the user's decision.\n")
	} else {
		sb.WriteString("No plan is pending in this thread.\n")
	}
	return sb.String()
}

const intentSystemPrompt = `You route comments addressed to a repository planning bot.

The bot can:
- planning: analyze the repository and propose a development plan (milestone)
- approval: accept the proposed plan and create its issues
- refinement: change or extend the proposed plan
- cancellation: discard the proposed plan
- execution: start implementing the plan
- unknown: anything else, including chit-chat and questions

Rules:
- The message may contain typos, slang or be written in any language. Classify the intent, not the wording.
- When a plan was just created, short positive answers ("si", "vale", "da", "👍") are approval.
- Without a pending plan, approval and cancellation are unlikely. Prefer unknown when unsure.
- confidence reflects how sure you are. Use below 0.6 when the message is ambiguous.
- normalized_command is the English command the user meant, e.g. "approve", "cancel", "plan focus on security".`
