package brain_test

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/larp0/uwularpy-sub000/internal/brain"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/service/issue_tracker"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Ingestor", func() {
	var (
		ctx    context.Context
		reader *mockReader
		repo   model.RepoRef
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = model.RepoRef{Owner: "acme", Repo: "api"}
		reader = &mockReader{
			info:      &model.RepositoryInfo{FullName: "acme/api", Description: "Payments API", DefaultBranch: "main"},
			languages: map[string]float64{"Go": 92.5, "Shell": 7.5},
			commits:   []model.Commit{{SHA: "abc1234", Title: "Add retries"}},
			rootFiles: []string{"README.md", "go.mod", "Dockerfile", "Makefile", "main.go", "package.json"},
			files: map[string]string{
				"README.md":  "# Payments API",
				"go.mod":     "module acme/api\n\nrequire github.com/gin-gonic/gin v1.11.0",
				"Dockerfile": "FROM golang:1.24",
			},
		}
	})

	newIngestor := func(cfg brain.IngestConfig) *brain.Ingestor {
		return brain.NewIngestor(reader, cfg)
	}

	It("builds the summary from the files that could be read", func() {
		reader.fileErrs = map[string]error{
			"package.json": issue_tracker.ErrNotFound,
			"Makefile":     issue_tracker.ErrNotFound,
		}

		summary, err := newIngestor(brain.IngestConfig{MaxFiles: 5, BatchSize: 3}).Ingest(ctx, repo)

		Expect(err).NotTo(HaveOccurred())
		Expect(reader.fileReads).To(HaveLen(5))
		Expect(summary.FilesIncluded).To(ConsistOf("README.md", "go.mod", "Dockerfile"))
		Expect(summary.FilesSkipped).To(ConsistOf("package.json", "Makefile"))
		Expect(summary.Text).To(ContainSubstring("### README.md"))
		Expect(summary.Text).NotTo(ContainSubstring("### Makefile"))
		Expect(summary.Text).To(ContainSubstring("Go: 92.5%"))
		Expect(summary.Text).To(ContainSubstring("abc1234 Add retries"))
		Expect(summary.ProjectType).To(Equal(model.ProjectTypeAPI))
	})

	It("only reads allow-listed files present at the root", func() {
		_, err := newIngestor(brain.IngestConfig{MaxFiles: 10}).Ingest(ctx, repo)

		Expect(err).NotTo(HaveOccurred())
		Expect(reader.fileReads).NotTo(ContainElement("main.go"))
	})

	It("caps the number of files read", func() {
		_, err := newIngestor(brain.IngestConfig{MaxFiles: 2}).Ingest(ctx, repo)

		Expect(err).NotTo(HaveOccurred())
		Expect(reader.fileReads).To(ConsistOf("README.md", "package.json"))
	})

	It("pauses between batches", func() {
		start := time.Now()

		_, err := newIngestor(brain.IngestConfig{MaxFiles: 5, BatchSize: 2, BatchDelay: 20 * time.Millisecond}).Ingest(ctx, repo)

		Expect(err).NotTo(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically(">=", 40*time.Millisecond))
	})

	It("fails when repository metadata cannot be read", func() {
		reader.infoErr = issue_tracker.ErrForbidden

		_, err := newIngestor(brain.IngestConfig{}).Ingest(ctx, repo)

		Expect(err).To(MatchError(issue_tracker.ErrForbidden))
	})

	It("skips languages and commits when they fail", func() {
		reader.langErr = errors.New("boom")
		reader.commitsErr = errors.New("boom")

		summary, err := newIngestor(brain.IngestConfig{}).Ingest(ctx, repo)

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Text).NotTo(ContainSubstring("## Languages"))
		Expect(summary.Text).NotTo(ContainSubstring("## Recent commits"))
	})

	It("probes the allow-list when the root listing fails", func() {
		reader.rootErr = errors.New("tree unavailable")

		summary, err := newIngestor(brain.IngestConfig{MaxFiles: 3}).Ingest(ctx, repo)

		Expect(err).NotTo(HaveOccurred())
		Expect(reader.fileReads).To(HaveLen(3))
		Expect(summary.FilesIncluded).To(ContainElement("README.md"))
	})

	It("truncates each file and the whole summary", func() {
		reader.files["README.md"] = strings.Repeat("a", 5000)

		summary, err := newIngestor(brain.IngestConfig{MaxFiles: 1, MaxFileChars: 100, MaxSummaryChars: 8000}).Ingest(ctx, repo)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Text).To(ContainSubstring("[truncated]"))
		Expect(summary.Text).NotTo(ContainSubstring(strings.Repeat("a", 101)))

		summary, err = newIngestor(brain.IngestConfig{MaxFiles: 1, MaxFileChars: 5000, MaxSummaryChars: 500}).Ingest(ctx, repo)
		Expect(err).NotTo(HaveOccurred())
		Expect([]rune(summary.Text)).To(HaveLen(500))
		Expect(summary.Text).To(HaveSuffix("[summary truncated]"))
	})
})

var _ = Describe("DetectProjectType", func() {
	DescribeTable("classifies repositories",
		func(files map[string]string, languages map[string]float64, expected model.ProjectType) {
			Expect(brain.DetectProjectType(files, languages)).To(Equal(expected))
		},
		Entry("react app", map[string]string{"package.json": `{"dependencies":{"react":"18"}}`}, nil, model.ProjectTypeWebApp),
		Entry("go api", map[string]string{"go.mod": "require github.com/gin-gonic/gin v1"}, nil, model.ProjectTypeAPI),
		Entry("terraform", map[string]string{"main.tf": "provider \"aws\" {}"}, nil, model.ProjectTypeInfra),
		Entry("nothing known", map[string]string{}, nil, model.ProjectTypeUnknown),
	)
})
