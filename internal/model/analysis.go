package model

// Category is one of the four analysis buckets, in critical-first order.
type Category string

const (
	CategoryCriticalFixes        Category = "critical_fixes"
	CategoryMissingComponents    Category = "missing_components"
	CategoryRequiredImprovements Category = "required_improvements"
	CategoryInnovationIdeas      Category = "innovation_ideas"
)

// Categories lists every category in the order they are rendered and expanded.
var Categories = []Category{
	CategoryCriticalFixes,
	CategoryMissingComponents,
	CategoryRequiredImprovements,
	CategoryInnovationIdeas,
}

// PlanAnalysis is the result of one planning run. Entries carry free-text
// annotations such as "[size: M] [priority: high] [risk: low]".
// Serialized into the milestone description, which is its only durable copy.
type PlanAnalysis struct {
	RepositoryOverview   string      `json:"repositoryOverview"`
	CriticalFixes        []string    `json:"criticalFixes"`
	MissingComponents    []string    `json:"missingComponents"`
	RequiredImprovements []string    `json:"requiredImprovements"`
	InnovationIdeas      []string    `json:"innovationIdeas"`
	ProjectType          ProjectType `json:"projectType,omitempty"`
	// Degraded is set when any part came from the deterministic fallback.
	Degraded bool `json:"degraded,omitempty"`
}

func (a *PlanAnalysis) Entries(c Category) []string {
	switch c {
	case CategoryCriticalFixes:
		return a.CriticalFixes
	case CategoryMissingComponents:
		return a.MissingComponents
	case CategoryRequiredImprovements:
		return a.RequiredImprovements
	case CategoryInnovationIdeas:
		return a.InnovationIdeas
	}
	return nil
}

func (a *PlanAnalysis) SetEntries(c Category, entries []string) {
	switch c {
	case CategoryCriticalFixes:
		a.CriticalFixes = entries
	case CategoryMissingComponents:
		a.MissingComponents = entries
	case CategoryRequiredImprovements:
		a.RequiredImprovements = entries
	case CategoryInnovationIdeas:
		a.InnovationIdeas = entries
	}
}

func (a *PlanAnalysis) ItemCount() int {
	n := 0
	for _, c := range Categories {
		n += len(a.Entries(c))
	}
	return n
}

// Complete reports whether every category has at least one entry.
func (a *PlanAnalysis) Complete() bool {
	for _, c := range Categories {
		if len(a.Entries(c)) == 0 {
			return false
		}
	}
	return true
}
