// Package usage records monthly task and token usage per workspace and
// enforces the tier quotas at admission.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

// ErrUsageLimitExceeded is returned by CheckLimits when a monthly quota is exhausted.
var ErrUsageLimitExceeded = errors.New("usage limit exceeded")

type Recorder struct {
	repo   persistence.UsageRepository
	logger *slog.Logger
	now    func() time.Time

	wg sync.WaitGroup
}

func NewRecorder(repo persistence.UsageRepository, logger *slog.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Track records usage in the background. It never blocks the caller.
func (r *Recorder) Track(ctx context.Context, workspaceID string, tasks, tokens int64) {
	if workspaceID == "" || (tasks == 0 && tokens == 0) {
		return
	}

	period := models.UsagePeriod(r.now())
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		if err := r.repo.Add(ctx, workspaceID, period, tasks, tokens); err != nil {
			r.logger.WarnContext(ctx, "Failed to record usage",
				"workspace_id", workspaceID, "tasks", tasks, "tokens", tokens, "error", err)
		}
	}()
}

// CheckLimits fails with ErrUsageLimitExceeded when the workspace used up its
// monthly tasks or tokens.
func (r *Recorder) CheckLimits(ctx context.Context, workspaceID, tier string, custom map[string]int64) error {
	if workspaceID == "" {
		return nil
	}

	limits := models.LimitsFor(tier, custom)

	record, err := r.repo.Get(ctx, workspaceID, models.UsagePeriod(r.now()))
	if err != nil {
		return fmt.Errorf("failed to read usage of workspace %s: %w", workspaceID, err)
	}

	if limits.MaxTasksPerMonth >= 0 && record.Tasks >= limits.MaxTasksPerMonth {
		return fmt.Errorf("workspace %s used %d of %d monthly tasks: %w",
			workspaceID, record.Tasks, limits.MaxTasksPerMonth, ErrUsageLimitExceeded)
	}

	if limits.MaxTokensPerMonth >= 0 && record.Tokens >= limits.MaxTokensPerMonth {
		return fmt.Errorf("workspace %s used %d of %d monthly tokens: %w",
			workspaceID, record.Tokens, limits.MaxTokensPerMonth, ErrUsageLimitExceeded)
	}

	return nil
}

// Shutdown waits for pending Track calls.
func (r *Recorder) Shutdown(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TokensFromResult reads the token count of a node result's "usage" field.
func TokensFromResult(result models.Result) int64 {
	usage, ok := result["usage"].(map[string]any)
	if !ok {
		return 0
	}

	if total := toInt64(usage["total_tokens"]); total > 0 {
		return total
	}

	return toInt64(usage["prompt_tokens"]) + toInt64(usage["completion_tokens"]) +
		toInt64(usage["input_tokens"]) + toInt64(usage["output_tokens"])
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
