package common

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrEmptySlug = errors.New("slug cannot be empty")
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
)

// Slugify lowercases input and collapses everything outside [a-z0-9] into single
// hyphens. fallback is used when input has no slug characters at all.
func Slugify(input, fallback string) (string, error) {
	slug := slugify(input)
	if slug == "" {
		slug = slugify(fallback)
	}
	if slug == "" {
		return "", ErrEmptySlug
	}
	return slug, nil
}

// SlugKey joins the slug of each part with hyphens, skipping parts that slugify
// to nothing. SlugKey("plan-creation", "Acme", "web.app") == "plan-creation-acme-web-app".
func SlugKey(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := slugify(p); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "-")
}

func slugify(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	slug := nonSlugChars.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}
