package brain

import (
	"regexp"
	"sort"
	"strings"
)

// annotationPattern matches "[size: M]", "(priority: high)" and similar.
var annotationPattern = regexp.MustCompile(`(?i)[\[(]\s*(size|effort|priority|risk)\s*:\s*([^\])]+?)\s*[\])]`)

type Annotations struct {
	Size     string
	Priority string
	Risk     string
}

// ParseAnnotations strips annotations from an analysis entry and returns them.
func ParseAnnotations(entry string) (string, Annotations) {
	var a Annotations
	for _, m := range annotationPattern.FindAllStringSubmatch(entry, -1) {
		value := strings.ToLower(strings.TrimSpace(m[2]))
		switch strings.ToLower(m[1]) {
		case "size", "effort":
			a.Size = strings.ToUpper(value)
		case "priority":
			a.Priority = value
		case "risk":
			a.Risk = value
		}
	}
	clean := annotationPattern.ReplaceAllString(entry, "")
	clean = strings.Join(strings.Fields(clean), " ")
	clean = strings.TrimRight(strings.TrimSpace(clean), " -–:;,")
	return clean, a
}

var priorityRanks = map[string]int{
	"critical": 0,
	"urgent":   0,
	"high":     1,
	"medium":   2,
	"normal":   2,
	"low":      3,
}

// PriorityRank orders entries by their priority annotation. Entries without
// one rank as medium.
func PriorityRank(entry string) int {
	_, a := ParseAnnotations(entry)
	if rank, ok := priorityRanks[a.Priority]; ok {
		return rank
	}
	return priorityRanks["medium"]
}

// SortByPriority returns a copy of entries stable-sorted by PriorityRank.
func SortByPriority(entries []string) []string {
	out := append([]string(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return PriorityRank(out[i]) < PriorityRank(out[j])
	})
	return out
}
