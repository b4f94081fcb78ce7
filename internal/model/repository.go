package model

import "time"

type ProjectType string

const (
	ProjectTypeWebApp  ProjectType = "web_app"
	ProjectTypeAPI     ProjectType = "api"
	ProjectTypeLibrary ProjectType = "library"
	ProjectTypeCLI     ProjectType = "cli"
	ProjectTypeMobile  ProjectType = "mobile"
	ProjectTypeData    ProjectType = "data"
	ProjectTypeInfra   ProjectType = "infrastructure"
	ProjectTypeUnknown ProjectType = "unknown"
)

type RepositoryInfo struct {
	Owner         string
	Name          string
	FullName      string
	Description   string
	DefaultBranch string
	URL           string
	Visibility    string
	Topics        []string
	Stars         int
	OpenIssues    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Commit struct {
	SHA       string
	Title     string
	Author    string
	CreatedAt time.Time
}

// RepositorySummary is the size-capped AI context for one repository. It is
// rebuilt on every planning run.
type RepositorySummary struct {
	Owner         string
	Repo          string
	Text          string
	ProjectType   ProjectType
	FilesIncluded []string
	FilesSkipped  []string
}
