package brain

import (
	"strings"

	"github.com/larp0/uwularpy-sub000/internal/model"
)

// projectSignal promotes a project type when a key file mentions any marker.
// An empty marker list means the file's presence alone is enough.
type projectSignal struct {
	file    string
	markers []string
	kind    model.ProjectType
}

// projectSignals are checked in order; the first hit wins.
var projectSignals = []projectSignal{
	{"pubspec.yaml", nil, model.ProjectTypeMobile},
	{"package.json", []string{`"react-native"`, `"expo"`}, model.ProjectTypeMobile},
	{"main.tf", nil, model.ProjectTypeInfra},
	{"Chart.yaml", nil, model.ProjectTypeInfra},
	{"package.json", []string{`"next"`, `"react"`, `"vue"`, `"svelte"`, `"@angular/core"`, `"nuxt"`}, model.ProjectTypeWebApp},
	{"package.json", []string{`"express"`, `"fastify"`, `"koa"`, `"@nestjs/core"`, `"hono"`}, model.ProjectTypeAPI},
	{"package.json", []string{`"bin"`, `"commander"`, `"yargs"`}, model.ProjectTypeCLI},
	{"go.mod", []string{"gin-gonic/gin", "labstack/echo", "go-chi/chi", "gofiber/fiber", "gorilla/mux", "grpc"}, model.ProjectTypeAPI},
	{"go.mod", []string{"spf13/cobra", "urfave/cli"}, model.ProjectTypeCLI},
	{"Cargo.toml", []string{"actix-web", "axum", "rocket", "warp"}, model.ProjectTypeAPI},
	{"Cargo.toml", []string{"clap", "[[bin]]"}, model.ProjectTypeCLI},
	{"pyproject.toml", []string{"django"}, model.ProjectTypeWebApp},
	{"requirements.txt", []string{"django"}, model.ProjectTypeWebApp},
	{"pyproject.toml", []string{"fastapi", "flask"}, model.ProjectTypeAPI},
	{"requirements.txt", []string{"fastapi", "flask"}, model.ProjectTypeAPI},
	{"pyproject.toml", []string{"pandas", "numpy", "torch", "scikit-learn", "jupyter"}, model.ProjectTypeData},
	{"requirements.txt", []string{"pandas", "numpy", "torch", "scikit-learn", "jupyter"}, model.ProjectTypeData},
	{"pyproject.toml", []string{"click", "typer"}, model.ProjectTypeCLI},
	{"Gemfile", []string{"rails"}, model.ProjectTypeWebApp},
	{"composer.json", []string{"laravel", "symfony"}, model.ProjectTypeWebApp},
	{"pom.xml", []string{"spring-boot"}, model.ProjectTypeAPI},
	{"build.gradle", []string{"com.android"}, model.ProjectTypeMobile},
	{"build.gradle.kts", []string{"com.android"}, model.ProjectTypeMobile},
}

// languageSignals decide when no key file did.
var languageSignals = map[string]model.ProjectType{
	"HCL":              model.ProjectTypeInfra,
	"Jupyter Notebook": model.ProjectTypeData,
	"Swift":            model.ProjectTypeMobile,
	"Kotlin":           model.ProjectTypeMobile,
	"Dart":             model.ProjectTypeMobile,
	"Objective-C":      model.ProjectTypeMobile,
	"HTML":             model.ProjectTypeWebApp,
	"Vue":              model.ProjectTypeWebApp,
	"Svelte":           model.ProjectTypeWebApp,
}

// libraryManifests mark a package with no stronger signal as a library.
var libraryManifests = []string{"package.json", "go.mod", "Cargo.toml", "pyproject.toml", "setup.py", "composer.json", "pom.xml"}

// DetectProjectType guesses the project type from key file contents (keyed by
// path) and the language breakdown in percent.
func DetectProjectType(files map[string]string, languages map[string]float64) model.ProjectType {
	lookup := make(map[string]string, len(files))
	for path, content := range files {
		lookup[strings.ToLower(path)] = strings.ToLower(content)
	}

	for _, s := range projectSignals {
		content, ok := lookup[strings.ToLower(s.file)]
		if !ok {
			continue
		}
		if len(s.markers) == 0 {
			return s.kind
		}
		for _, m := range s.markers {
			if strings.Contains(content, strings.ToLower(m)) {
				return s.kind
			}
		}
	}

	var top string
	var topPct float64
	for name, pct := range languages {
		if pct > topPct || pct == topPct && name < top {
			top, topPct = name, pct
		}
	}
	if kind, ok := languageSignals[top]; ok && topPct >= 30 {
		return kind
	}

	for _, f := range libraryManifests {
		if _, ok := lookup[strings.ToLower(f)]; ok {
			return model.ProjectTypeLibrary
		}
	}
	return model.ProjectTypeUnknown
}
