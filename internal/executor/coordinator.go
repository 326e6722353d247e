// Package executor runs approved fix plans asynchronously against a
// Transport, one plan per session at a time, behind a non-blocking poll
// contract.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joescharf/opsassist/internal/models"
)

// CompletionFunc is invoked once per execution after its last command has
// returned.
type CompletionFunc func(models.ExecutionResult)

// Coordinator owns every execution handle. Handles stay pollable for the
// coordinator's lifetime.
type Coordinator struct {
	transport Transport
	policy    *Policy
	logger    *zap.Logger
	observer  Observer

	mu         sync.Mutex
	runs       map[string]*run
	active     map[string]string // session id -> handle
	onComplete CompletionFunc

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
	closed bool
}

type run struct {
	result models.ExecutionResult
	done   chan struct{}
	// finished is set once the completion hook has been claimed, by Cancel
	// or by the run's own goroutine.
	finished bool
}

// New creates a coordinator. A nil policy uses DefaultPolicy.
func New(transport Transport, policy *Policy, logger *zap.Logger) *Coordinator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Coordinator{
		transport: transport,
		policy:    policy,
		logger:    logger,
		observer:  nopObserver{},
		runs:      make(map[string]*run),
		active:    make(map[string]string),
		base:      base,
		stop:      stop,
		now:       time.Now,
	}
}

// SetObserver installs a telemetry observer.
func (c *Coordinator) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
}

// OnComplete installs the completion hook.
func (c *Coordinator) OnComplete(fn CompletionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// Policy returns the active execution policy.
func (c *Coordinator) Policy() *Policy { return c.policy }

// Start validates the plan against the policy and begins running it in the
// background. It returns the execution handle immediately.
func (c *Coordinator) Start(ctx context.Context, sessionID string, plan models.FixPlan) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(plan.Commands) == 0 {
		return "", fmt.Errorf("plan %s has no commands: %w", plan.ID, models.ErrInvalidState)
	}
	if err := c.policy.CheckPlan(plan); err != nil {
		c.logger.Warn("plan rejected by policy", zap.String("plan", plan.ID), zap.Error(err))
		return "", err
	}

	cmds := append([]models.Command(nil), plan.Commands...)
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Step < cmds[j].Step })

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", fmt.Errorf("coordinator closed: %w", models.ErrInvalidState)
	}
	if h, ok := c.active[sessionID]; ok {
		c.mu.Unlock()
		return "", fmt.Errorf("session %s already executing %s: %w", sessionID, h, models.ErrBusy)
	}

	handle := uuid.NewString()
	r := &run{
		result: models.ExecutionResult{
			Handle:    handle,
			PlanID:    plan.ID,
			SessionID: sessionID,
			Commands:  make([]models.CommandResult, len(cmds)),
			StartedAt: c.now(),
		},
		done: make(chan struct{}),
	}
	for i, cmd := range cmds {
		r.result.Commands[i] = models.CommandResult{Command: cmd, State: models.CommandPending}
	}
	c.runs[handle] = r
	c.active[sessionID] = handle
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("execution started",
		zap.String("handle", handle),
		zap.String("session", sessionID),
		zap.String("plan", plan.ID),
		zap.Int("commands", len(cmds)),
	)
	go c.execute(r)
	return handle, nil
}

func (c *Coordinator) execute(r *run) {
	defer c.wg.Done()

	c.mu.Lock()
	observer := c.observer
	c.mu.Unlock()

	for i := 0; ; i++ {
		c.mu.Lock()
		if i >= len(r.result.Commands) || r.result.Completed {
			c.mu.Unlock()
			break
		}
		cmd := r.result.Commands[i].Command
		r.result.Commands[i].State = models.CommandRunning
		c.mu.Unlock()

		start := c.now()
		state, output, errMsg := c.runCommand(cmd)
		elapsed := c.now().Sub(start)
		observer.CommandFinished(string(state), elapsed)

		c.mu.Lock()
		if r.result.Completed {
			// Cancelled while in flight; the late outcome is discarded.
			c.mu.Unlock()
			break
		}
		cr := &r.result.Commands[i]
		ok := state == models.CommandSucceeded
		cr.State = state
		cr.Success = &ok
		cr.Output = output
		cr.Error = errMsg
		cr.Duration = elapsed
		if !ok {
			for j := i + 1; j < len(r.result.Commands); j++ {
				r.result.Commands[j].State = models.CommandNotRun
			}
			r.result.Completed = true
		}
		c.mu.Unlock()

		c.logger.Debug("command finished",
			zap.String("handle", r.result.Handle),
			zap.Int("step", cmd.Step),
			zap.String("state", string(state)),
			zap.Duration("elapsed", elapsed),
		)
	}

	c.mu.Lock()
	if !r.result.Completed {
		r.result.Completed = true
	}
	if r.result.TotalTime == 0 {
		r.result.TotalTime = c.now().Sub(r.result.StartedAt)
	}
	final := r.result.Clone()
	if c.active[final.SessionID] == final.Handle {
		delete(c.active, final.SessionID)
	}
	claimed := !r.finished
	r.finished = true
	hook := c.onComplete
	c.mu.Unlock()
	defer close(r.done)

	if claimed {
		c.finish(final, observer, hook)
	}
}

// finish reports a completed execution to the observer and the hook.
func (c *Coordinator) finish(final models.ExecutionResult, observer Observer, hook CompletionFunc) {
	outcome := final.Outcome()
	observer.ExecutionFinished(outcome)
	c.logger.Info("execution finished",
		zap.String("handle", final.Handle),
		zap.String("plan", final.PlanID),
		zap.String("outcome", outcome),
		zap.Duration("total", final.TotalTime),
	)
	if hook != nil {
		hook(final)
	}
}

// runCommand executes one command under its own timeout.
func (c *Coordinator) runCommand(cmd models.Command) (models.CommandState, string, string) {
	timeout := cmd.Timeout()
	ctx, cancel := context.WithTimeout(c.base, timeout)
	defer cancel()

	out, err := c.transport.Execute(ctx, cmd.CommandText, timeout)
	output := strings.TrimRight(out.Stdout, "\n")

	switch {
	case err == nil && out.ExitCode == 0:
		return models.CommandSucceeded, output, ""
	case err == nil:
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", out.ExitCode)
		}
		return models.CommandFailed, output, msg
	case errors.Is(err, models.ErrTimeoutExceeded) || errors.Is(err, context.DeadlineExceeded):
		return models.CommandTimedOut, output, fmt.Errorf("step %d after %s: %w", cmd.Step, timeout, models.ErrTimeoutExceeded).Error()
	default:
		return models.CommandFailed, output, err.Error()
	}
}

// Poll returns a copy of the execution's current state without blocking.
func (c *Coordinator) Poll(handle string) (models.ExecutionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[handle]
	if !ok {
		return models.ExecutionResult{}, fmt.Errorf("execution %s: %w", handle, models.ErrNotFound)
	}
	return r.result.Clone(), nil
}

// Cancel stops scheduling further commands. The in-flight command is left
// to finish but its outcome is not recorded. The session is released and the
// completion hook runs before Cancel returns.
func (c *Coordinator) Cancel(handle string) error {
	c.mu.Lock()
	r, ok := c.runs[handle]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("execution %s: %w", handle, models.ErrNotFound)
	}
	if r.result.Completed {
		c.mu.Unlock()
		return fmt.Errorf("execution %s already completed: %w", handle, models.ErrInvalidState)
	}
	for i := range r.result.Commands {
		switch r.result.Commands[i].State {
		case models.CommandPending, models.CommandRunning:
			r.result.Commands[i].State = models.CommandCancelled
		}
	}
	r.result.Completed = true
	r.result.Cancelled = true
	r.result.TotalTime = c.now().Sub(r.result.StartedAt)
	if c.active[r.result.SessionID] == handle {
		delete(c.active, r.result.SessionID)
	}
	r.finished = true
	final := r.result.Clone()
	observer, hook := c.observer, c.onComplete
	c.mu.Unlock()

	c.logger.Info("execution cancelled", zap.String("handle", handle))
	c.finish(final, observer, hook)
	return nil
}

// Wait polls until the execution completes or ctx ends. It returns the last
// observed state alongside any context error.
func (c *Coordinator) Wait(ctx context.Context, handle string, interval time.Duration) (models.ExecutionResult, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := c.Poll(handle)
		if err != nil || res.Completed {
			return res, err
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Done returns a channel closed once the execution's goroutine has run the
// completion hook and exited.
func (c *Coordinator) Done(handle string) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[handle]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", handle, models.ErrNotFound)
	}
	return r.done, nil
}

// Active returns the handle executing for the session, if any.
func (c *Coordinator) Active(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.active[sessionID]
	return h, ok
}

// Close aborts in-flight commands and waits for every execution goroutine.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stop()
	c.wg.Wait()
}
