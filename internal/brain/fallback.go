package brain

import (
	"fmt"

	"github.com/larp0/uwularpy-sub000/internal/model"
)

// fallbackEntries are the generic entries every fallback plan starts from.
var fallbackEntries = map[model.Category][]string{
	model.CategoryCriticalFixes: {
		"Audit dependencies for known vulnerabilities: run the ecosystem's audit tool and upgrade or replace flagged packages [size: S] [priority: critical] [risk: low]",
		"Make the default branch build and test green in CI: add a pipeline that fails on broken builds and failing tests [size: M] [priority: critical] [risk: low]",
	},
	model.CategoryMissingComponents: {
		"Add automated tests for the core modules: cover the main code paths and wire them into CI [size: L] [priority: high] [risk: low]",
		"Add contributor documentation: setup steps, how to run tests and how changes are reviewed [size: S] [priority: medium] [risk: low]",
	},
	model.CategoryRequiredImprovements: {
		"Standardize error handling and logging: replace ad hoc prints with structured logs and consistent error messages [size: M] [priority: medium] [risk: low]",
		"Enforce formatting and linting in CI: add the ecosystem's standard linter and fix existing findings [size: S] [priority: medium] [risk: low]",
	},
	model.CategoryInnovationIdeas: {
		"Automate releases: tag-driven builds that publish artifacts and a generated changelog [size: M] [priority: low] [risk: low]",
	},
}

// fallbackByType adds entries specific to the detected project type.
var fallbackByType = map[model.ProjectType]map[model.Category][]string{
	model.ProjectTypeWebApp: {
		model.CategoryMissingComponents:    {"Add end-to-end tests for the main user journeys: sign-in and the primary workflow at minimum [size: M] [priority: high] [risk: low]"},
		model.CategoryRequiredImprovements: {"Run an accessibility audit: fix contrast, keyboard navigation and missing labels [size: M] [priority: medium] [risk: low]"},
		model.CategoryInnovationIdeas:      {"Add performance budgets: track bundle size and core web vitals in CI [size: S] [priority: low] [risk: low]"},
	},
	model.ProjectTypeAPI: {
		model.CategoryCriticalFixes:        {"Validate all request input at the API boundary: reject malformed payloads with consistent 4xx errors [size: M] [priority: critical] [risk: medium]"},
		model.CategoryMissingComponents:    {"Publish an OpenAPI description of the API and keep it in sync in CI [size: M] [priority: high] [risk: low]"},
		model.CategoryRequiredImprovements: {"Add timeouts and graceful shutdown to the server and outbound clients [size: S] [priority: high] [risk: low]"},
		model.CategoryInnovationIdeas:      {"Add request tracing across services with OpenTelemetry [size: M] [priority: low] [risk: low]"},
	},
	model.ProjectTypeLibrary: {
		model.CategoryMissingComponents:    {"Add runnable examples for the public API and link them from the README [size: S] [priority: high] [risk: low]"},
		model.CategoryRequiredImprovements: {"Document the versioning policy and keep a changelog for public API changes [size: S] [priority: medium] [risk: low]"},
		model.CategoryInnovationIdeas:      {"Add fuzz or property-based tests for parsing and input handling [size: M] [priority: low] [risk: low]"},
	},
	model.ProjectTypeCLI: {
		model.CategoryMissingComponents:    {"Add shell completion and complete --help output for every command [size: S] [priority: medium] [risk: low]"},
		model.CategoryRequiredImprovements: {"Return meaningful exit codes and actionable error messages [size: S] [priority: high] [risk: low]"},
		model.CategoryInnovationIdeas:      {"Publish cross-platform binaries through a package manager [size: M] [priority: low] [risk: low]"},
	},
	model.ProjectTypeMobile: {
		model.CategoryMissingComponents:    {"Add crash reporting and basic analytics for release builds [size: M] [priority: high] [risk: low]"},
		model.CategoryRequiredImprovements: {"Handle offline and slow-network states in the main screens [size: M] [priority: medium] [risk: medium]"},
		model.CategoryInnovationIdeas:      {"Automate store releases from CI [size: M] [priority: low] [risk: low]"},
	},
	model.ProjectTypeData: {
		model.CategoryMissingComponents:    {"Pin dependencies and document how to reproduce the environment [size: S] [priority: high] [risk: low]"},
		model.CategoryRequiredImprovements: {"Move reusable notebook code into tested modules [size: L] [priority: medium] [risk: low]"},
		model.CategoryInnovationIdeas:      {"Add experiment tracking for model and data changes [size: M] [priority: low] [risk: low]"},
	},
	model.ProjectTypeInfra: {
		model.CategoryCriticalFixes:        {"Move secrets out of the repository into a secret manager and rotate anything committed [size: M] [priority: critical] [risk: medium]"},
		model.CategoryMissingComponents:    {"Run plan in CI on every change with a required review before apply [size: M] [priority: high] [risk: low]"},
		model.CategoryRequiredImprovements: {"Enable remote state with locking [size: S] [priority: high] [risk: medium]"},
		model.CategoryInnovationIdeas:      {"Add scheduled drift detection [size: S] [priority: low] [risk: low]"},
	},
}

// FallbackAnalysis builds a deterministic plan for when the AI is unavailable.
// Every category is non-empty.
func FallbackAnalysis(summary *model.RepositorySummary) model.PlanAnalysis {
	pt := model.ProjectTypeUnknown
	name := "this repository"
	if summary != nil {
		if summary.ProjectType != "" {
			pt = summary.ProjectType
		}
		if summary.Owner != "" || summary.Repo != "" {
			name = summary.Owner + "/" + summary.Repo
		}
	}

	a := model.PlanAnalysis{
		RepositoryOverview: fmt.Sprintf("Automated analysis was unavailable, so this plan for %s (%s) uses a standard checklist. Review and refine it before approving.", name, pt),
		ProjectType:        pt,
		Degraded:           true,
	}
	specific := fallbackByType[pt]
	for _, c := range model.Categories {
		entries := make([]string, 0, len(specific[c])+len(fallbackEntries[c]))
		entries = append(entries, specific[c]...)
		entries = append(entries, fallbackEntries[c]...)
		a.SetEntries(c, entries)
	}
	return a
}
