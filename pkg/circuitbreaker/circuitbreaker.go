// Package circuitbreaker isolates degraded node types. Each node type has its
// own closed/open/half_open state shared by every run in the process.
package circuitbreaker

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/flowrun/pkg/config"
	"github.com/dukex/flowrun/pkg/models"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// StateChangeFunc observes transitions, e.g. to export them as metrics.
type StateChangeFunc func(nodeType string, from, to State)

type circuit struct {
	mu            sync.Mutex
	state         State
	failures      int
	lastError     string
	lastFailureAt time.Time
	openedAt      time.Time
	cooldown      time.Duration
	reopenCount   int
	trialAt       time.Time
}

type Breaker struct {
	threshold   int
	cooldown    time.Duration
	maxCooldown time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu            sync.RWMutex
	circuits      map[string]*circuit
	onStateChange StateChangeFunc
}

func New(cfg config.CircuitConfig, logger *slog.Logger) *Breaker {
	maxCooldown := cfg.MaxCooldown
	if maxCooldown < cfg.Cooldown {
		maxCooldown = cfg.Cooldown
	}

	return &Breaker{
		threshold:   max(cfg.FailureThreshold, 1),
		cooldown:    cfg.Cooldown,
		maxCooldown: maxCooldown,
		logger:      logger,
		now:         time.Now,
		circuits:    make(map[string]*circuit),
	}
}

// OnStateChange registers fn to be called after every transition.
func (b *Breaker) OnStateChange(fn StateChangeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.onStateChange = fn
}

func (b *Breaker) get(nodeType string) *circuit {
	b.mu.RLock()
	c, ok := b.circuits[nodeType]
	b.mu.RUnlock()

	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok = b.circuits[nodeType]; ok {
		return c
	}

	c = &circuit{state: StateClosed, cooldown: b.cooldown}
	b.circuits[nodeType] = c

	return c
}

// CanExecute reports whether a call to nodeType may proceed. Once the
// cool-down of an open circuit has elapsed exactly one trial call is let
// through in half_open; concurrent callers are rejected until it reports.
func (b *Breaker) CanExecute(nodeType string) (bool, string) {
	c := b.get(nodeType)
	now := b.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateOpen:
		recovery := c.openedAt.Add(c.cooldown)
		if now.Before(recovery) {
			return false, "circuit open for " + nodeType + ", retry after " + recovery.UTC().Format(time.RFC3339)
		}

		b.transition(nodeType, c, StateHalfOpen)
		c.trialAt = now

		return true, "half_open trial"
	case StateHalfOpen:
		// A trial that never reported back does not block the circuit forever.
		if !c.trialAt.IsZero() && now.Sub(c.trialAt) < c.cooldown {
			return false, "circuit half_open for " + nodeType + ", trial in progress"
		}

		c.trialAt = now

		return true, "half_open trial"
	default:
		return true, "closed"
	}
}

func (b *Breaker) RecordSuccess(nodeType string) {
	c := b.get(nodeType)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures = 0
	c.trialAt = time.Time{}

	if c.state != StateClosed {
		c.reopenCount = 0
		c.cooldown = b.cooldown
		c.openedAt = time.Time{}
		b.transition(nodeType, c, StateClosed)
	}
}

func (b *Breaker) RecordFailure(nodeType, errMessage string) {
	c := b.get(nodeType)
	now := b.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	c.lastError = errMessage
	c.lastFailureAt = now

	switch c.state {
	case StateHalfOpen:
		c.reopenCount++
		c.cooldown = b.backoff(c.reopenCount)
		c.openedAt = now
		c.trialAt = time.Time{}
		b.transition(nodeType, c, StateOpen)
	case StateClosed:
		if c.failures >= b.threshold {
			c.openedAt = now
			c.cooldown = b.cooldown
			b.transition(nodeType, c, StateOpen)
		}
	case StateOpen:
	}
}

func (b *Breaker) backoff(reopens int) time.Duration {
	cooldown := b.cooldown

	for range reopens {
		cooldown *= 2
		if cooldown >= b.maxCooldown {
			return b.maxCooldown
		}
	}

	return cooldown
}

// Reset forces nodeType back to closed.
func (b *Breaker) Reset(nodeType string) {
	c := b.get(nodeType)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures = 0
	c.lastError = ""
	c.openedAt = time.Time{}
	c.trialAt = time.Time{}
	c.reopenCount = 0
	c.cooldown = b.cooldown
	b.transition(nodeType, c, StateClosed)

	b.logger.Info("Circuit reset", "node_type", nodeType)
}

func (b *Breaker) Status(nodeType string) models.CircuitStatus {
	c := b.get(nodeType)

	c.mu.Lock()
	defer c.mu.Unlock()

	return b.status(nodeType, c)
}

// All returns the status of every node type seen so far, sorted by type.
func (b *Breaker) All() []models.CircuitStatus {
	b.mu.RLock()
	types := make([]string, 0, len(b.circuits))
	for nodeType := range b.circuits {
		types = append(types, nodeType)
	}
	b.mu.RUnlock()

	sort.Strings(types)

	statuses := make([]models.CircuitStatus, 0, len(types))
	for _, nodeType := range types {
		statuses = append(statuses, b.Status(nodeType))
	}

	return statuses
}

func (b *Breaker) status(nodeType string, c *circuit) models.CircuitStatus {
	status := models.CircuitStatus{
		NodeType:     nodeType,
		State:        string(c.state),
		FailureCount: c.failures,
		Threshold:    b.threshold,
		LastError:    c.lastError,
		ReopenCount:  c.reopenCount,
	}

	if !c.lastFailureAt.IsZero() {
		at := c.lastFailureAt
		status.LastFailureAt = &at
	}

	if c.state == StateOpen {
		opened := c.openedAt
		recovery := c.openedAt.Add(c.cooldown)
		status.OpenedAt = &opened
		status.RecoveryAt = &recovery
		status.SecondsUntilRecovery = max(recovery.Sub(b.now()).Seconds(), 0)
	}

	return status
}

// transition must be called with c.mu held.
func (b *Breaker) transition(nodeType string, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}

	c.state = to

	b.logger.Info("Circuit state changed", "node_type", nodeType, "from", from, "to", to, "failure_count", c.failures)

	b.mu.RLock()
	fn := b.onStateChange
	b.mu.RUnlock()

	if fn != nil {
		fn(nodeType, from, to)
	}
}
