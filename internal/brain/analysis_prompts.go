package brain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/larp0/uwularpy-sub000/internal/model"
)

// AnalysisResponse is the structured answer for both the initial analysis and
// refinement passes. Refinement passes return only new entries.
type AnalysisResponse struct {
	RepositoryOverview   string   `json:"repository_overview" jsonschema_description:"Two to four sentences on what the repository is and its current state"`
	CriticalFixes        []string `json:"critical_fixes" jsonschema_description:"Bugs, security or reliability problems that must be fixed first. Each entry ends with [size: S|M|L|XL] [priority: critical|high|medium|low] [risk: low|medium|high]"`
	MissingComponents    []string `json:"missing_components" jsonschema_description:"Things a project of this type is expected to have but does not. Same annotations"`
	RequiredImprovements []string `json:"required_improvements" jsonschema_description:"Existing parts that need to be improved. Same annotations"`
	InnovationIdeas      []string `json:"innovation_ideas" jsonschema_description:"New features or directions worth exploring. Same annotations"`
}

func (r AnalysisResponse) toAnalysis() model.PlanAnalysis {
	return model.PlanAnalysis{
		RepositoryOverview:   strings.TrimSpace(r.RepositoryOverview),
		CriticalFixes:        cleanEntries(r.CriticalFixes),
		MissingComponents:    cleanEntries(r.MissingComponents),
		RequiredImprovements: cleanEntries(r.RequiredImprovements),
		InnovationIdeas:      cleanEntries(r.InnovationIdeas),
	}
}

// listMarkerPattern matches a leading "-", "*" or "1." the model sometimes adds.
var listMarkerPattern = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)

func cleanEntries(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		e, _ = SanitizeComment(e)
		e = strings.TrimSpace(listMarkerPattern.ReplaceAllString(e, ""))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// projectChecklists are appended to the system prompt for the detected type.
var projectChecklists = map[model.ProjectType]string{
	model.ProjectTypeWebApp: `- Accessibility (WCAG), responsive layout, client-side error reporting
- Bundle size, code splitting, caching headers
- Auth flows, CSRF/XSS protection, content security policy
- End-to-end tests for the main user journeys`,
	model.ProjectTypeAPI: `- Input validation and consistent error responses
- Authentication, authorization, rate limiting
- Timeouts, retries and graceful shutdown
- API documentation (OpenAPI), versioning, health checks
- Structured logging, metrics and tracing`,
	model.ProjectTypeLibrary: `- Public API surface and semantic versioning
- Documentation with examples, changelog
- Test coverage of the public API, fuzz or property tests where inputs are untrusted
- Minimal dependencies, supported runtime versions in CI`,
	model.ProjectTypeCLI: `- Help text, exit codes, shell completion
- Configuration precedence (flags, env, files)
- Cross-platform builds and release automation
- Errors that tell the user what to do next`,
	model.ProjectTypeMobile: `- Offline behaviour, crash reporting, app size
- Permissions, secure storage of secrets
- UI tests on the smallest supported devices
- Store release automation`,
	model.ProjectTypeData: `- Reproducible environments and pinned dependencies
- Data validation and lineage
- Notebook-to-module extraction, tests for transformations
- Experiment tracking`,
	model.ProjectTypeInfra: `- State management and locking, drift detection
- Least-privilege IAM, secret handling
- Plan/apply in CI with review gates
- Module versioning and documentation`,
}

const analysisSystemPrompt = `You are a principal engineer auditing a repository to produce a development plan.

## Prioritization
- critical: broken builds, security holes, data loss, crashes in the main path
- high: reliability, missing tests for core logic, blocking developer-experience issues
- medium: maintainability, documentation, performance work with measurable payoff
- low: polish and nice-to-haves

## Effort sizing
- S: under half a day
- M: one to two days
- L: three to five days
- XL: more than a week, should probably be split

## Output rules
- Every entry is one concrete, actionable unit of work that could become a single issue.
- Start each entry with a short imperative title, then ": " and one or two sentences of detail.
- End each entry with annotations exactly like: [size: M] [priority: high] [risk: low]
- Ground every entry in the repository context you were given. Do not invent files you have not seen; say "likely" when inferring.
- Provide at least one entry in every category.`

func analysisSystemPromptFor(pt model.ProjectType) string {
	checklist, ok := projectChecklists[pt]
	if !ok {
		return analysisSystemPrompt
	}
	return fmt.Sprintf("%s\n\n## Checklist (%s project)\n%s", analysisSystemPrompt, pt, checklist)
}

func buildAnalysisPrompt(summary *model.RepositorySummary, userQuery string) string {
	var sb strings.Builder

	if q := strings.TrimSpace(userQuery); q != "" {
		sb.WriteString("## User request\n")
		sb.WriteString("The user asked for this plan with the following focus. Weight it heavily: most entries should serve this request, and critical fixes still come first.\n\n")
		sb.WriteString("> ")
		sb.WriteString(q)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Repository context\n")
	sb.WriteString(summary.Text)
	sb.WriteString("\n")
	return sb.String()
}

func buildRefinementPrompt(summary *model.RepositorySummary, userQuery string, current model.PlanAnalysis, pass int) string {
	existing, _ := json.MarshalIndent(toResponse(current), "", "  ")

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Refinement pass %d\n", pass)
	sb.WriteString("Below is the analysis so far. Review the repository context again and list only work that is missing from it.\n")
	sb.WriteString("Do not repeat or rephrase existing entries. Return empty lists for categories with nothing new. Keep repository_overview empty.\n\n")
	sb.WriteString("## Current analysis\n```json\n")
	sb.Write(existing)
	sb.WriteString("\n```\n\n")
	sb.WriteString(buildAnalysisPrompt(summary, userQuery))
	return sb.String()
}

func buildRevisionPrompt(summary *model.RepositorySummary, feedback string, previous model.PlanAnalysis) string {
	existing, _ := json.MarshalIndent(toResponse(previous), "", "  ")

	var sb strings.Builder
	sb.WriteString("## Revision request\n")
	sb.WriteString("The user reviewed the plan below and asked for changes. Return the complete revised plan: keep entries that still apply, drop or rewrite the ones the feedback rejects, and add what it asks for.\n\n")
	sb.WriteString("> ")
	sb.WriteString(strings.TrimSpace(feedback))
	sb.WriteString("\n\n## Current plan\n```json\n")
	sb.Write(existing)
	sb.WriteString("\n```\n\n## Repository context\n")
	sb.WriteString(summary.Text)
	sb.WriteString("\n")
	return sb.String()
}

func toResponse(a model.PlanAnalysis) AnalysisResponse {
	return AnalysisResponse{
		RepositoryOverview:   a.RepositoryOverview,
		CriticalFixes:        a.CriticalFixes,
		MissingComponents:    a.MissingComponents,
		RequiredImprovements: a.RequiredImprovements,
		InnovationIdeas:      a.InnovationIdeas,
	}
}
