package model

import "time"

// Milestone is the tracking container for one plan. ID is what issues link to;
// Number is what users see (#N). They coincide on GitHub and differ on GitLab.
type Milestone struct {
	ID          int64
	Number      int64
	Title       string
	Description string
	URL         string
	State       string
	CreatedAt   time.Time
}

type LookupStatus int

const (
	LookupNotFound LookupStatus = iota
	LookupFound
	LookupAmbiguous
)

func (s LookupStatus) String() string {
	switch s {
	case LookupFound:
		return "found"
	case LookupAmbiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// LookupResult is the outcome of locating a plan milestone from a thread.
// Candidates lists the competing milestone numbers when Status is LookupAmbiguous.
type LookupResult struct {
	Status     LookupStatus
	Milestone  *Milestone
	Candidates []int64
	Source     string // "thread" or "open_milestones"
}

type AttachmentFailure struct {
	ItemNumber int64
	Title      string
}

type AttachmentResult struct {
	Successful int
	Failed     int
	Failures   []AttachmentFailure
}

// RepairResult reports a repair pass. len(Unresolved) == failed - Repaired.
type RepairResult struct {
	Repaired   int
	Unresolved []AttachmentFailure
}
