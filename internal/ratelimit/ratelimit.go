// Package ratelimit bounds how often a key may start a pipeline run within a
// sliding window.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/larp0/uwularpy-sub000/common"
	"github.com/larp0/uwularpy-sub000/internal/model"
)

// ErrRateLimited aborts a run. Callers report it to the user; they never queue
// or retry the denied call.
var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultWindow is the trailing window used when none is configured.
const DefaultWindow = 60 * time.Second

// Limiter allows a call iff fewer than limit calls for key fall inside the
// trailing window. An allowed call is recorded.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (bool, error)
}

// PlanCreationKey is the limiter key for planning runs on one repository.
func PlanCreationKey(repo model.RepoRef) string {
	return common.SlugKey("plan-creation", repo.Owner, repo.Repo)
}
