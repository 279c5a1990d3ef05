package services

import (
	"context"
	"time"
)

// afterCommit collects side effects that must only run once the surrounding
// transaction has committed. A rolled back transaction drops them.
type afterCommit struct {
	hooks []func(ctx context.Context)
}

func (a *afterCommit) Add(hook func(ctx context.Context)) {
	a.hooks = append(a.hooks, hook)
}

// Run executes the hooks in order. They get ctx's values but not its
// cancellation, bounded by timeout.
func (a *afterCommit) Run(ctx context.Context, timeout time.Duration) {
	if len(a.hooks) == 0 {
		return
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	for _, hook := range a.hooks {
		hook(runCtx)
	}
	a.hooks = nil
}
