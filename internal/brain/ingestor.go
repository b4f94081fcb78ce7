package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/larp0/uwularpy-sub000/common/logger"
	"github.com/larp0/uwularpy-sub000/common/retry"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"golang.org/x/sync/errgroup"
)

// RepositoryReader is the read side of the platform the ingestor needs.
type RepositoryReader interface {
	GetRepository(ctx context.Context, repo model.RepoRef) (*model.RepositoryInfo, error)
	ListLanguages(ctx context.Context, repo model.RepoRef) (map[string]float64, error)
	ListRecentCommits(ctx context.Context, repo model.RepoRef) ([]model.Commit, error)
	ListRootFiles(ctx context.Context, repo model.RepoRef) ([]string, error)
	GetFileContent(ctx context.Context, repo model.RepoRef, path string) (string, error)
}

// KeyFiles is the allow-list of files worth showing the model, most useful first.
var KeyFiles = []string{
	"README.md", "README", "readme.md", "README.rst",
	"package.json", "go.mod", "Cargo.toml", "pyproject.toml", "requirements.txt", "setup.py",
	"pom.xml", "build.gradle", "build.gradle.kts", "Gemfile", "composer.json", "pubspec.yaml",
	"Dockerfile", "docker-compose.yml", "Makefile", "tsconfig.json", "main.tf", "Chart.yaml",
}

type IngestConfig struct {
	MaxFiles        int
	MaxFileChars    int
	MaxSummaryChars int
	BatchSize       int
	BatchDelay      time.Duration
}

func (c IngestConfig) withDefaults() IngestConfig {
	if c.MaxFiles <= 0 {
		c.MaxFiles = 5
	}
	if c.MaxFileChars <= 0 {
		c.MaxFileChars = 2000
	}
	if c.MaxSummaryChars <= 0 {
		c.MaxSummaryChars = 8000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 3
	}
	return c
}

type Ingestor struct {
	reader RepositoryReader
	cfg    IngestConfig
}

func NewIngestor(reader RepositoryReader, cfg IngestConfig) *Ingestor {
	return &Ingestor{reader: reader, cfg: cfg.withDefaults()}
}

type fileContent struct {
	path    string
	content string
	err     error
}

// Ingest builds a fresh summary. Only a metadata failure is fatal; languages,
// commits and individual files are skipped when they fail.
func (i *Ingestor) Ingest(ctx context.Context, repo model.RepoRef) (*model.RepositorySummary, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "planner.brain.ingestor"})
	start := time.Now()

	var (
		info      *model.RepositoryInfo
		languages map[string]float64
		commits   []model.Commit
		rootFiles []string
		listErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = i.reader.GetRepository(gctx, repo)
		if err != nil {
			return fmt.Errorf("reading repository metadata: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if languages, err = i.reader.ListLanguages(gctx, repo); err != nil {
			slog.WarnContext(ctx, "skipping language breakdown", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if commits, err = i.reader.ListRecentCommits(gctx, repo); err != nil {
			slog.WarnContext(ctx, "skipping recent commits", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		rootFiles, listErr = i.reader.ListRootFiles(gctx, repo)
		if listErr != nil {
			slog.WarnContext(ctx, "root listing failed, probing the full key file list", "error", listErr)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	paths := selectKeyFiles(rootFiles, listErr == nil, i.cfg.MaxFiles)
	files := i.readFiles(ctx, repo, paths)

	summary := &model.RepositorySummary{Owner: repo.Owner, Repo: repo.Repo}
	contents := make(map[string]string)
	for _, f := range files {
		if f.err != nil {
			summary.FilesSkipped = append(summary.FilesSkipped, f.path)
			continue
		}
		summary.FilesIncluded = append(summary.FilesIncluded, f.path)
		contents[f.path] = f.content
	}

	summary.ProjectType = DetectProjectType(contents, languages)
	summary.Text = i.render(repo, info, languages, commits, files, summary.ProjectType)

	slog.InfoContext(ctx, "repository ingested",
		"files_included", len(summary.FilesIncluded),
		"files_skipped", len(summary.FilesSkipped),
		"project_type", summary.ProjectType,
		"summary_chars", len([]rune(summary.Text)),
		"duration_ms", time.Since(start).Milliseconds())

	return summary, nil
}

// selectKeyFiles keeps allow-listed files that exist at the root. Without a
// listing the whole allow-list is probed and misses are skipped later.
func selectKeyFiles(rootFiles []string, haveListing bool, max int) []string {
	present := make(map[string]string, len(rootFiles))
	for _, f := range rootFiles {
		present[strings.ToLower(f)] = f
	}

	var out []string
	seen := make(map[string]bool)
	for _, k := range KeyFiles {
		if len(out) >= max {
			break
		}
		name := k
		if haveListing {
			actual, ok := present[strings.ToLower(k)]
			if !ok {
				continue
			}
			name = actual
		}
		if seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		out = append(out, name)
	}
	return out
}

// readFiles reads paths in batches, pausing between batches. Order is kept.
func (i *Ingestor) readFiles(ctx context.Context, repo model.RepoRef, paths []string) []fileContent {
	out := make([]fileContent, len(paths))

	for start := 0; start < len(paths); start += i.cfg.BatchSize {
		if start > 0 {
			if err := retry.Sleep(ctx, i.cfg.BatchDelay); err != nil {
				for j := start; j < len(paths); j++ {
					out[j] = fileContent{path: paths[j], err: err}
				}
				return out
			}
		}

		end := min(start+i.cfg.BatchSize, len(paths))
		var wg sync.WaitGroup
		for j := start; j < end; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				content, err := i.reader.GetFileContent(ctx, repo, paths[j])
				if err == nil && strings.TrimSpace(content) == "" {
					err = errors.New("empty file")
				}
				if err != nil {
					slog.WarnContext(ctx, "skipping key file", "path", paths[j], "error", err)
				}
				out[j] = fileContent{path: paths[j], content: content, err: err}
			}(j)
		}
		wg.Wait()
	}
	return out
}

func (i *Ingestor) render(repo model.RepoRef, info *model.RepositoryInfo, languages map[string]float64, commits []model.Commit, files []fileContent, pt model.ProjectType) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Repository: %s\n", repo.FullName())
	if info.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", info.Description)
	}
	if info.DefaultBranch != "" {
		fmt.Fprintf(&sb, "Default branch: %s\n", info.DefaultBranch)
	}
	if info.Visibility != "" {
		fmt.Fprintf(&sb, "Visibility: %s\n", info.Visibility)
	}
	fmt.Fprintf(&sb, "Stars: %d, open issues: %d\n", info.Stars, info.OpenIssues)
	if len(info.Topics) > 0 {
		fmt.Fprintf(&sb, "Topics: %s\n", strings.Join(info.Topics, ", "))
	}
	fmt.Fprintf(&sb, "Detected project type: %s\n", pt)

	if len(languages) > 0 {
		sb.WriteString("\n## Languages\n")
		names := make([]string, 0, len(languages))
		for name := range languages {
			names = append(names, name)
		}
		sort.Slice(names, func(a, b int) bool {
			if languages[names[a]] != languages[names[b]] {
				return languages[names[a]] > languages[names[b]]
			}
			return names[a] < names[b]
		})
		for _, name := range names {
			fmt.Fprintf(&sb, "- %s: %.1f%%\n", name, languages[name])
		}
	}

	if len(commits) > 0 {
		sb.WriteString("\n## Recent commits\n")
		for _, c := range commits {
			fmt.Fprintf(&sb, "- %s %s\n", c.SHA, c.Title)
		}
	}

	included := false
	for _, f := range files {
		if f.err != nil {
			continue
		}
		if !included {
			sb.WriteString("\n## Key files\n")
			included = true
		}
		fmt.Fprintf(&sb, "\n### %s\n```\n%s\n```\n", f.path, truncateRunes(f.content, i.cfg.MaxFileChars, "\n... [truncated]"))
	}

	return truncateRunes(sb.String(), i.cfg.MaxSummaryChars, "\n[summary truncated]")
}

// truncateRunes caps s at max runes including the marker.
func truncateRunes(s string, max int, marker string) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	m := []rune(marker)
	if len(m) >= max {
		return string(r[:max])
	}
	return string(r[:max-len(m)]) + marker
}
