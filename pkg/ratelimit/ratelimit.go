// Package ratelimit provides admission control capping concurrent runs per
// user and workspace.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

var (
	// ErrLimitExceeded is returned by Acquire when a concurrency limit is reached.
	ErrLimitExceeded = errors.New("concurrency limit exceeded")

	// ErrAlreadyAcquired is returned by Acquire when the execution already
	// holds a slot, e.g. for a redelivered job whose run is still active.
	ErrAlreadyAcquired = errors.New("execution already holds a slot")
)

// TryAcquire results that are not a key index.
const (
	Acquired    = -1
	AlreadyHeld = -2
)

// Store holds the live leases of each key. TryAcquire must add member to
// every key atomically, or to none of them when one key is at its limit.
type Store interface {
	// TryAcquire returns Acquired on success, AlreadyHeld when member holds
	// a live lease on any key, or the index of the first key at its limit.
	// A negative limit never rejects.
	TryAcquire(ctx context.Context, keys []string, limits []int64, member string, ttl time.Duration) (int, error)
	// Refresh extends the lease of member on every key. It reports false,
	// changing nothing, when member no longer holds a live lease on keys[0].
	Refresh(ctx context.Context, keys []string, member string, ttl time.Duration) (bool, error)
	Remove(ctx context.Context, keys []string, member string) error
	Count(ctx context.Context, key string) (int64, error)
}

// Slot identifies one run competing for capacity.
type Slot struct {
	UserID       string
	WorkspaceID  string
	ExecutionID  string
	Tier         string
	CustomLimits map[string]int64
}

// Usage is the live concurrency of a tenant.
type Usage struct {
	UserConcurrent      int64 `json:"user_concurrent"`
	WorkspaceConcurrent int64 `json:"workspace_concurrent"`
}

// LimitError describes which scope rejected an acquire.
type LimitError struct {
	Scope string
	ID    string
	Limit int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s %s reached its limit of %d concurrent executions", e.Scope, e.ID, e.Limit)
}

func (e *LimitError) Unwrap() error {
	return ErrLimitExceeded
}

// Limiter enforces tier concurrency limits on top of a Store.
type Limiter struct {
	store    Store
	leaseTTL time.Duration
	logger   *slog.Logger
	leases   sync.Map // execution id -> *Lease
}

func NewLimiter(store Store, leaseTTL time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:    store,
		leaseTTL: leaseTTL,
		logger:   logger,
	}
}

func UserKey(userID string) string {
	return "rate_limit:user:" + userID + ":concurrent"
}

func WorkspaceKey(workspaceID string) string {
	return "rate_limit:workspace:" + workspaceID + ":concurrent"
}

// CheckUserLimit reports whether userID has capacity left. It is advisory;
// only Acquire is binding.
func (l *Limiter) CheckUserLimit(ctx context.Context, userID, tier string, custom map[string]int64) (bool, error) {
	return l.check(ctx, UserKey(userID), models.LimitsFor(tier, custom).MaxConcurrentJobs)
}

// CheckWorkspaceLimit reports whether workspaceID has capacity left.
func (l *Limiter) CheckWorkspaceLimit(ctx context.Context, workspaceID, tier string, custom map[string]int64) (bool, error) {
	return l.check(ctx, WorkspaceKey(workspaceID), models.LimitsFor(tier, custom).MaxConcurrentJobs)
}

func (l *Limiter) check(ctx context.Context, key string, limit int64) (bool, error) {
	if limit < 0 {
		return true, nil
	}

	count, err := l.store.Count(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read concurrency of %s: %w", key, err)
	}

	return count < limit, nil
}

// Acquire atomically takes a slot for the run. The returned lease must be
// released exactly once; releasing it again is a no-op.
func (l *Limiter) Acquire(ctx context.Context, slot Slot) (*Lease, error) {
	limit := models.LimitsFor(slot.Tier, slot.CustomLimits).MaxConcurrentJobs

	keys := slotKeys(slot)
	limits := []int64{limit}

	if slot.WorkspaceID != "" {
		limits = append(limits, limit)
	}

	rejected, err := l.store.TryAcquire(ctx, keys, limits, slot.ExecutionID, l.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire execution slot: %w", err)
	}

	switch rejected {
	case Acquired:
	case AlreadyHeld:
		return nil, fmt.Errorf("%s: %w", slot.ExecutionID, ErrAlreadyAcquired)
	case 0:
		return nil, &LimitError{Scope: "user", ID: slot.UserID, Limit: limit}
	default:
		return nil, &LimitError{Scope: "workspace", ID: slot.WorkspaceID, Limit: limit}
	}

	lease := &Lease{limiter: l, slot: slot, keys: keys}
	l.leases.Store(slot.ExecutionID, lease)

	l.logger.DebugContext(ctx, "Acquired execution slot",
		"execution_id", slot.ExecutionID, "user_id", slot.UserID, "workspace_id", slot.WorkspaceID)

	return lease, nil
}

// Release frees the slot held by the run of slot.ExecutionID. The run may
// belong to another process sharing the store.
func (l *Limiter) Release(ctx context.Context, slot Slot) error {
	if value, ok := l.leases.Load(slot.ExecutionID); ok {
		return value.(*Lease).Release(ctx)
	}

	return l.store.Remove(ctx, slotKeys(slot), slot.ExecutionID)
}

func slotKeys(slot Slot) []string {
	keys := []string{UserKey(slot.UserID)}
	if slot.WorkspaceID != "" {
		keys = append(keys, WorkspaceKey(slot.WorkspaceID))
	}

	return keys
}

// ClearExecution releases the lease of a run held by this process. It
// reports whether a lease was found.
func (l *Limiter) ClearExecution(ctx context.Context, executionID string) (bool, error) {
	value, ok := l.leases.Load(executionID)
	if !ok {
		return false, nil
	}

	return true, value.(*Lease).Release(ctx)
}

// Usage returns the live concurrency of userID and workspaceID.
func (l *Limiter) Usage(ctx context.Context, userID, workspaceID string) (Usage, error) {
	var usage Usage

	count, err := l.store.Count(ctx, UserKey(userID))
	if err != nil {
		return usage, err
	}

	usage.UserConcurrent = count

	if workspaceID != "" {
		count, err = l.store.Count(ctx, WorkspaceKey(workspaceID))
		if err != nil {
			return usage, err
		}

		usage.WorkspaceConcurrent = count
	}

	return usage, nil
}

// Lease is an acquired slot.
type Lease struct {
	limiter *Limiter
	slot    Slot
	keys    []string
	once    sync.Once
	err     error
}

// ExecutionID returns the run holding the lease.
func (l *Lease) ExecutionID() string {
	return l.slot.ExecutionID
}

// Renew extends the lease and reports whether it is still held. A lease
// removed by another process, or one that expired, is not renewed.
func (l *Lease) Renew(ctx context.Context) (bool, error) {
	held, err := l.limiter.store.Refresh(ctx, l.keys, l.slot.ExecutionID, l.limiter.leaseTTL)
	if err != nil {
		return false, fmt.Errorf("failed to renew execution slot: %w", err)
	}

	return held, nil
}

// Release frees the slot. Only the first call has an effect.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.limiter.leases.Delete(l.slot.ExecutionID)

		// The slot must be freed even when the run context is already cancelled.
		l.err = l.limiter.store.Remove(context.WithoutCancel(ctx), l.keys, l.slot.ExecutionID)
		if l.err != nil {
			l.limiter.logger.ErrorContext(ctx, "Failed to release execution slot",
				"execution_id", l.slot.ExecutionID, "error", l.err)
		}
	})

	return l.err
}
