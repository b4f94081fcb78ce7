package brain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/larp0/uwularpy-sub000/internal/model"
)

// PlanLabel is added to every issue created from a plan.
const PlanLabel = "ai-plan"

type categoryRule struct {
	Label    string
	Priority model.Priority
	Name     string
}

// categoryRules maps each analysis category to its issue label and priority.
var categoryRules = map[model.Category]categoryRule{
	model.CategoryCriticalFixes:        {Label: "critical-fix", Priority: model.PriorityCritical, Name: "Critical fix"},
	model.CategoryMissingComponents:    {Label: "missing-component", Priority: model.PriorityHigh, Name: "Missing component"},
	model.CategoryRequiredImprovements: {Label: "improvement", Priority: model.PriorityNormal, Name: "Improvement"},
	model.CategoryInnovationIdeas:      {Label: "enhancement", Priority: model.PriorityFeature, Name: "Innovation idea"},
}

// maxTitlePrefix bounds the "Title: detail" split. Longer prefixes are prose.
const maxTitlePrefix = 120

// Expand turns a plan into issue templates in critical-first order, capped at
// maxItems. maxItems <= 0 means no cap.
func Expand(a model.PlanAnalysis, maxItems int) []model.IssueTemplate {
	var out []model.IssueTemplate
	for _, c := range model.Categories {
		rule := categoryRules[c]
		for _, entry := range SortByPriority(a.Entries(c)) {
			if maxItems > 0 && len(out) >= maxItems {
				return out
			}
			tmpl, ok := expandEntry(entry, c, rule)
			if ok {
				out = append(out, tmpl)
			}
		}
	}
	return out
}

func expandEntry(entry string, c model.Category, rule categoryRule) (model.IssueTemplate, bool) {
	clean, ann := ParseAnnotations(entry)
	if clean == "" {
		return model.IssueTemplate{}, false
	}

	title, detail := splitTitle(clean)

	var body strings.Builder
	body.WriteString("## Summary\n\n")
	if detail != "" {
		body.WriteString(detail)
	} else {
		body.WriteString(clean)
	}
	body.WriteString("\n\n## Details\n\n")
	fmt.Fprintf(&body, "- **Category:** %s\n", rule.Name)
	fmt.Fprintf(&body, "- **Priority:** %s\n", rule.Priority)
	if ann.Priority != "" {
		fmt.Fprintf(&body, "- **Suggested urgency:** %s\n", ann.Priority)
	}
	if ann.Size != "" {
		fmt.Fprintf(&body, "- **Estimated size:** %s\n", ann.Size)
	}
	if ann.Risk != "" {
		fmt.Fprintf(&body, "- **Risk:** %s\n", ann.Risk)
	}
	body.WriteString("\n_Generated from an AI development plan._\n")

	return model.IssueTemplate{
		Title:    TruncateTitle(title),
		Body:     body.String(),
		Labels:   []string{PlanLabel, rule.Label},
		Priority: rule.Priority,
		Category: c,
	}, true
}

// splitTitle splits "Short title: longer detail" entries. Entries without a
// short prefix become the title as a whole.
func splitTitle(entry string) (string, string) {
	first, rest, _ := strings.Cut(entry, "\n")
	if head, tail, ok := strings.Cut(first, ": "); ok && utf8.RuneCountInString(head) <= maxTitlePrefix && strings.TrimSpace(tail) != "" {
		detail := strings.TrimSpace(tail)
		if rest = strings.TrimSpace(rest); rest != "" {
			detail += "\n\n" + rest
		}
		return strings.TrimSpace(head), detail
	}
	if rest = strings.TrimSpace(rest); rest != "" {
		return strings.TrimSpace(first), rest
	}
	return strings.TrimSpace(first), ""
}

// TruncateTitle caps a title at model.MaxIssueTitleLength runes.
func TruncateTitle(title string) string {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) <= model.MaxIssueTitleLength {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:model.MaxIssueTitleLength-3])) + "..."
}
