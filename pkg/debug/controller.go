// Package debug suspends debug runs at breakpoints until they are stepped or cleared.
package debug

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Controller holds the breakpoints of running executions. A session exists
// only between Attach and Release, so commands for an execution that is not
// running leave nothing behind. It is safe for concurrent use by the runs
// and by the control API.
type Controller struct {
	maxWait time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	breakpoints map[string]bool // node id -> enabled; false overrides a config breakpoint
	pausedAt    string
	resume      chan struct{}
}

func NewController(maxWait time.Duration) *Controller {
	return &Controller{maxWait: maxWait, sessions: make(map[string]*session)}
}

func (c *Controller) session(executionID string) *session {
	s, ok := c.sessions[executionID]
	if !ok {
		s = &session{breakpoints: make(map[string]bool)}
		c.sessions[executionID] = s
	}

	return s
}

// Attach opens the session of a starting debug run with its initial
// breakpoints.
func (c *Controller) Attach(executionID string, breakpoints []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session(executionID)
	for _, id := range breakpoints {
		s.breakpoints[id] = true
	}
}

// Attached reports whether executionID has an open session.
func (c *Controller) Attached(executionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.sessions[executionID]

	return ok
}

// SetBreakpoints marks nodeIDs as breakpoints of executionID. It reports
// false when the execution is not attached.
func (c *Controller) SetBreakpoints(executionID string, nodeIDs []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[executionID]
	if !ok {
		return false
	}

	for _, id := range nodeIDs {
		s.breakpoints[id] = true
	}

	return true
}

// ClearBreakpoint removes the breakpoint on nodeID, resuming the run when it
// is paused there. It reports false when the execution is not attached.
func (c *Controller) ClearBreakpoint(executionID, nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[executionID]
	if !ok {
		return false
	}

	s.breakpoints[nodeID] = false

	if s.pausedAt == nodeID {
		s.signal()
	}

	return true
}

// ClearAll removes every breakpoint of executionID and resumes it.
func (c *Controller) ClearAll(executionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[executionID]
	if !ok {
		return false
	}

	for id := range s.breakpoints {
		s.breakpoints[id] = false
	}

	s.signal()

	return true
}

// Step lets a paused run execute the current node. It reports whether the
// run was paused.
func (c *Controller) Step(executionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[executionID]
	if !ok || s.pausedAt == "" {
		return false
	}

	s.signal()

	return true
}

// Paused returns the node each paused execution is waiting at.
func (c *Controller) Paused() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	paused := make(map[string]string)
	for id, s := range c.sessions {
		if s.pausedAt != "" {
			paused[id] = s.pausedAt
		}
	}

	return paused
}

// Breakpoints returns the active breakpoints of executionID.
func (c *Controller) Breakpoints(executionID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string

	if s, ok := c.sessions[executionID]; ok {
		for id, enabled := range s.breakpoints {
			if enabled {
				ids = append(ids, id)
			}
		}
	}

	sort.Strings(ids)

	return ids
}

// ShouldPause reports whether executionID must pause before nodeID.
// configured is the breakpoint flag of the node config.
func (c *Controller) ShouldPause(executionID, nodeID string, configured bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[executionID]
	if !ok {
		return configured
	}

	enabled, set := s.breakpoints[nodeID]
	if set {
		return enabled
	}

	return configured
}

// Wait suspends the run at nodeID until it is stepped or its breakpoint is
// cleared, the maximum wait elapses, or ctx is done.
func (c *Controller) Wait(ctx context.Context, executionID, nodeID string) error {
	c.mu.Lock()
	_, attached := c.sessions[executionID]
	s := c.session(executionID)
	s.pausedAt = nodeID
	s.resume = make(chan struct{})
	resume := s.resume
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		s.pausedAt = ""
		s.resume = nil

		if !attached {
			delete(c.sessions, executionID)
		}
		c.mu.Unlock()
	}()

	timer := time.NewTimer(c.maxWait)
	defer timer.Stop()

	select {
	case <-resume:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release forgets executionID once its run has ended.
func (c *Controller) Release(executionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[executionID]; ok {
		s.signal()
		delete(c.sessions, executionID)
	}
}

func (s *session) signal() {
	if s.resume != nil {
		close(s.resume)
		s.resume = nil
	}
}
