package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/larp0/uwularpy-sub000/common/llm"
	"github.com/larp0/uwularpy-sub000/common/logger"
	"github.com/larp0/uwularpy-sub000/common/retry"
	"github.com/larp0/uwularpy-sub000/internal/model"
)

// maxIssueBodyChars stays under the smallest issue body limit of the
// supported platforms.
const maxIssueBodyChars = 60000

// requiredSections must all appear in an enriched body for it to be used.
var requiredSections = []string{
	"## Problem Statement",
	"## Implementation Steps",
	"## Acceptance Criteria",
}

type EnrichConfig struct {
	BatchSize      int
	BatchDelay     time.Duration
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

type Enricher struct {
	llm llm.Client
	cfg EnrichConfig
}

func NewEnricher(client llm.Client, cfg EnrichConfig) *Enricher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	return &Enricher{llm: client, cfg: cfg}
}

// Enrich rewrites issue bodies into the full work-item structure. Titles,
// labels and priorities are never changed. An item whose rewrite fails keeps
// its original body. Returns the new templates and how many were enriched.
func (e *Enricher) Enrich(ctx context.Context, templates []model.IssueTemplate, repoContext string) ([]model.IssueTemplate, int) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "planner.brain.enricher"})
	start := time.Now()

	out := make([]model.IssueTemplate, len(templates))
	copy(out, templates)

	enriched := 0
	for batchStart := 0; batchStart < len(out); batchStart += e.cfg.BatchSize {
		if batchStart > 0 {
			if err := retry.Sleep(ctx, e.cfg.BatchDelay); err != nil {
				slog.WarnContext(ctx, "enrichment interrupted", "error", err, "enriched", enriched)
				return out, enriched
			}
		}

		batchEnd := min(batchStart+e.cfg.BatchSize, len(out))

		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for i := batchStart; i < batchEnd; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				body, err := e.enrichOne(ctx, out[i], repoContext)
				if err != nil {
					slog.WarnContext(ctx, "enrichment failed, keeping original body",
						"title", logger.Truncate(out[i].Title, 80),
						"error", err)
					return
				}
				mu.Lock()
				out[i].Body = body
				enriched++
				mu.Unlock()
			}(i)
		}
		wg.Wait()
	}

	slog.InfoContext(ctx, "enrichment complete",
		"items", len(out),
		"enriched", enriched,
		"duration_ms", time.Since(start).Milliseconds())

	return out, enriched
}

func (e *Enricher) enrichOne(ctx context.Context, tmpl model.IssueTemplate, repoContext string) (string, error) {
	policy := retry.Policy{
		Attempts:  e.cfg.RetryAttempts,
		BaseDelay: e.cfg.RetryBaseDelay,
		Timeout:   e.cfg.Timeout,
	}
	retryable := func(err error) bool { return llm.IsRetryable(ctx, err) }

	body, err := retry.Do(ctx, policy, retryable, func(ctx context.Context) (string, error) {
		resp, err := e.llm.Complete(ctx, llm.Request{
			SystemPrompt: enrichSystemPrompt,
			UserPrompt:   buildEnrichPrompt(tmpl, repoContext),
			MaxTokens:    2048,
			Temperature:  llm.Temp(0.3),
		})
		if err != nil {
			return "", err
		}
		return validateEnrichedBody(resp.Content)
	})
	if err != nil {
		return "", err
	}
	return body, nil
}

func validateEnrichedBody(content string) (string, error) {
	body := strings.TrimSpace(content)
	if body == "" {
		return "", llm.ErrEmptyCompletion
	}
	for _, section := range requiredSections {
		if !strings.Contains(body, section) {
			return "", fmt.Errorf("%w: missing section %q", llm.ErrMalformedResponse, section)
		}
	}
	body, _ = SanitizeComment(body)
	if utf8.RuneCountInString(body) > maxIssueBodyChars {
		body = string([]rune(body)[:maxIssueBodyChars-len("\n\n_(truncated)_")]) + "\n\n_(truncated)_"
	}
	return body, nil
}

func buildEnrichPrompt(tmpl model.IssueTemplate, repoContext string) string {
	var sb strings.Builder
	sb.WriteString("## Work item\n")
	fmt.Fprintf(&sb, "Title: %s\n", tmpl.Title)
	fmt.Fprintf(&sb, "Priority: %s\n\n", tmpl.Priority)
	sb.WriteString(tmpl.Body)
	if repoContext != "" {
		sb.WriteString("\n\n## Repository context\n")
		sb.WriteString(truncateRunes(repoContext, 4000, "\n..."))
	}
	return sb.String()
}

const enrichSystemPrompt = `You turn short work items into complete issue descriptions for a software team.

Return only the issue body in markdown with exactly these sections, in this order:

## Problem Statement
## Technical Context
## Implementation Steps
## Acceptance Criteria
## Testing
## Documentation
## Risks
## References

Rules:
- Stay within the scope of the work item. Do not invent features.
- Implementation steps are a numbered list of concrete changes.
- Acceptance criteria are a checklist ("- [ ] ...") that a reviewer can verify.
- Mention files or modules only when the repository context shows them.
- Do not mention people or use @handles.
- Do not include the title.`
