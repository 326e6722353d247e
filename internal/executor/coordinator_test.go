package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/joescharf/opsassist/internal/models"
)

// fakeTransport records commands and answers through fn.
type fakeTransport struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, command string) (Outcome, error)
}

func (f *fakeTransport) Execute(ctx context.Context, command string, _ time.Duration) (Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, command)
	f.mu.Unlock()
	if f.fn == nil {
		return Outcome{Stdout: "ok: " + command + "\n"}, nil
	}
	return f.fn(ctx, command)
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingObserver struct {
	mu         sync.Mutex
	commands   []string
	executions []string
}

func (o *recordingObserver) CommandFinished(state string, _ time.Duration) {
	o.mu.Lock()
	o.commands = append(o.commands, state)
	o.mu.Unlock()
}

func (o *recordingObserver) ExecutionFinished(outcome string) {
	o.mu.Lock()
	o.executions = append(o.executions, outcome)
	o.mu.Unlock()
}

func testPlan(id string, cmds ...string) models.FixPlan {
	p := models.FixPlan{ID: id, Issue: "test"}
	for i, c := range cmds {
		p.Commands = append(p.Commands, models.Command{Step: i + 1, CommandText: c, TimeoutSeconds: 5})
	}
	return p
}

func newTestCoordinator(t *testing.T, tr Transport) *Coordinator {
	t.Helper()
	c := New(tr, nil, zap.NewNop())
	t.Cleanup(c.Close)
	return c
}

func waitDone(t *testing.T, c *Coordinator, handle string) models.ExecutionResult {
	t.Helper()
	done, err := c.Done(handle)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not finish")
	}
	res, err := c.Poll(handle)
	require.NoError(t, err)
	return res
}

func TestCoordinator_AllSucceed(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := &fakeTransport{}
	c := New(tr, nil, zap.NewNop())
	defer c.Close()

	obs := &recordingObserver{}
	c.SetObserver(obs)

	var hookCalls []models.ExecutionResult
	var hookMu sync.Mutex
	c.OnComplete(func(r models.ExecutionResult) {
		hookMu.Lock()
		hookCalls = append(hookCalls, r)
		hookMu.Unlock()
	})

	h, err := c.Start(context.Background(), "s1", testPlan("plan-1", "uptime", "df -h", "free -m"))
	require.NoError(t, err)
	require.NotEmpty(t, h)

	res := waitDone(t, c, h)
	assert.True(t, res.Completed)
	assert.False(t, res.Cancelled)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "plan-1", res.PlanID)
	assert.Equal(t, "s1", res.SessionID)
	for _, cr := range res.Commands {
		assert.Equal(t, models.CommandSucceeded, cr.State)
		require.NotNil(t, cr.Success)
		assert.True(t, *cr.Success)
	}
	assert.Equal(t, "ok: uptime", res.Commands[0].Output)
	assert.Equal(t, []string{"uptime", "df -h", "free -m"}, tr.Calls())

	hookMu.Lock()
	require.Len(t, hookCalls, 1)
	assert.Equal(t, h, hookCalls[0].Handle)
	hookMu.Unlock()

	obs.mu.Lock()
	assert.Equal(t, []string{"succeeded", "succeeded", "succeeded"}, obs.commands)
	assert.Equal(t, []string{"succeeded"}, obs.executions)
	obs.mu.Unlock()

	_, active := c.Active("s1")
	assert.False(t, active)
}

func TestCoordinator_StopsOnFirstFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := &fakeTransport{fn: func(_ context.Context, cmd string) (Outcome, error) {
		if cmd == "B" {
			return Outcome{Stderr: "permission denied\n", ExitCode: 1}, nil
		}
		return Outcome{Stdout: cmd}, nil
	}}
	c := New(tr, nil, zap.NewNop())
	defer c.Close()

	h, err := c.Start(context.Background(), "s1", testPlan("plan-1", "A", "B", "C"))
	require.NoError(t, err)
	res := waitDone(t, c, h)

	require.Len(t, res.Commands, 3)
	assert.Equal(t, models.CommandSucceeded, res.Commands[0].State)
	assert.True(t, *res.Commands[0].Success)

	assert.Equal(t, models.CommandFailed, res.Commands[1].State)
	require.NotNil(t, res.Commands[1].Success)
	assert.False(t, *res.Commands[1].Success)
	assert.Equal(t, "permission denied", res.Commands[1].Error)

	assert.Equal(t, models.CommandNotRun, res.Commands[2].State)
	assert.Nil(t, res.Commands[2].Success)

	assert.True(t, res.Completed)
	assert.False(t, res.Succeeded())
	assert.Equal(t, []string{"A", "B"}, tr.Calls())
}

func TestCoordinator_ExitCodeWithoutStderr(t *testing.T) {
	tr := &fakeTransport{fn: func(context.Context, string) (Outcome, error) {
		return Outcome{ExitCode: 3}, nil
	}}
	c := newTestCoordinator(t, tr)

	h, err := c.Start(context.Background(), "s1", testPlan("plan-1", "false"))
	require.NoError(t, err)
	res := waitDone(t, c, h)
	assert.Equal(t, "exit status 3", res.Commands[0].Error)
}

func TestCoordinator_TransportError(t *testing.T) {
	tr := &fakeTransport{fn: func(context.Context, string) (Outcome, error) {
		return Outcome{}, fmt.Errorf("dial: %w", models.ErrTransport)
	}}
	c := newTestCoordinator(t, tr)

	h, err := c.Start(context.Background(), "s1", testPlan("plan-1", "A", "B"))
	require.NoError(t, err)
	res := waitDone(t, c, h)

	assert.Equal(t, models.CommandFailed, res.Commands[0].State)
	assert.Contains(t, res.Commands[0].Error, "transport error")
	assert.Equal(t, models.CommandNotRun, res.Commands[1].State)
}

func TestCoordinator_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := &fakeTransport{fn: func(ctx context.Context, cmd string) (Outcome, error) {
		if cmd == "sleep" {
			<-ctx.Done()
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, nil
	}}
	c := New(tr, nil, zap.NewNop())
	defer c.Close()

	plan := testPlan("plan-1", "uptime", "sleep", "after")
	plan.Commands[1].TimeoutSeconds = 1

	h, err := c.Start(context.Background(), "s1", plan)
	require.NoError(t, err)
	res := waitDone(t, c, h)

	assert.Equal(t, models.CommandSucceeded, res.Commands[0].State)
	assert.Equal(t, models.CommandTimedOut, res.Commands[1].State)
	assert.False(t, *res.Commands[1].Success)
	assert.Contains(t, res.Commands[1].Error, models.ErrTimeoutExceeded.Error())
	assert.GreaterOrEqual(t, res.Commands[1].Duration, time.Second)
	assert.Equal(t, models.CommandNotRun, res.Commands[2].State)
	assert.Equal(t, []string{"uptime", "sleep"}, tr.Calls())
}

func TestCoordinator_PolicyViolation(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestCoordinator(t, tr)

	_, err := c.Start(context.Background(), "s1", testPlan("plan-1", "uptime", "rm -rf /"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPolicyViolation))
	assert.Contains(t, err.Error(), "step 2")
	assert.Empty(t, tr.Calls(), "nothing runs when any command violates policy")

	_, active := c.Active("s1")
	assert.False(t, active)
}

func TestCoordinator_RollbackCommandsChecked(t *testing.T) {
	c := newTestCoordinator(t, &fakeTransport{})
	plan := testPlan("plan-1", "uptime")
	plan.RollbackCommands = []models.Command{{Step: 1, CommandText: "mkfs.ext4 /dev/sdb1"}}

	_, err := c.Start(context.Background(), "s1", plan)
	assert.True(t, errors.Is(err, models.ErrPolicyViolation))
}

func TestCoordinator_EmptyPlan(t *testing.T) {
	c := newTestCoordinator(t, &fakeTransport{})
	_, err := c.Start(context.Background(), "s1", models.FixPlan{ID: "plan-1"})
	assert.True(t, errors.Is(err, models.ErrInvalidState))
}

func TestCoordinator_BusyPerSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := make(chan struct{})
	tr := &fakeTransport{fn: func(ctx context.Context, cmd string) (Outcome, error) {
		if cmd == "block" {
			<-gate
		}
		return Outcome{}, nil
	}}
	c := New(tr, nil, zap.NewNop())
	defer c.Close()

	h1, err := c.Start(context.Background(), "s1", testPlan("plan-1", "block"))
	require.NoError(t, err)

	_, err = c.Start(context.Background(), "s1", testPlan("plan-2", "uptime"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrBusy))

	h2, err := c.Start(context.Background(), "s2", testPlan("plan-1", "uptime"))
	require.NoError(t, err, "other sessions are unaffected")
	waitDone(t, c, h2)

	active, ok := c.Active("s1")
	require.True(t, ok)
	assert.Equal(t, h1, active)

	close(gate)
	waitDone(t, c, h1)

	h3, err := c.Start(context.Background(), "s1", testPlan("plan-2", "uptime"))
	require.NoError(t, err)
	waitDone(t, c, h3)
}

func TestCoordinator_Cancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	gate := make(chan struct{})
	tr := &fakeTransport{fn: func(ctx context.Context, cmd string) (Outcome, error) {
		if cmd == "A" {
			close(started)
			<-gate
		}
		return Outcome{Stdout: cmd}, nil
	}}
	c := New(tr, nil, zap.NewNop())
	defer c.Close()

	var hooks int
	var mu sync.Mutex
	c.OnComplete(func(models.ExecutionResult) {
		mu.Lock()
		hooks++
		mu.Unlock()
	})

	h, err := c.Start(context.Background(), "s1", testPlan("plan-1", "A", "B", "C"))
	require.NoError(t, err)
	<-started

	require.NoError(t, c.Cancel(h))

	res, err := c.Poll(h)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, res.Cancelled)
	for _, cr := range res.Commands {
		assert.Equal(t, models.CommandCancelled, cr.State)
		assert.Nil(t, cr.Success)
	}

	err = c.Cancel(h)
	assert.True(t, errors.Is(err, models.ErrInvalidState))

	// The in-flight command finishes but nothing else is scheduled.
	close(gate)
	final := waitDone(t, c, h)
	assert.Equal(t, []string{"A"}, tr.Calls())
	assert.Equal(t, models.CommandCancelled, final.Commands[0].State, "late outcome discarded")
	assert.False(t, final.Succeeded())

	mu.Lock()
	assert.Equal(t, 1, hooks)
	mu.Unlock()
}

func TestCoordinator_CancelReleasesSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	gate := make(chan struct{})
	tr := &fakeTransport{fn: func(ctx context.Context, cmd string) (Outcome, error) {
		if cmd == "A" {
			close(started)
			<-gate
		}
		return Outcome{Stdout: cmd}, nil
	}}
	c := New(tr, nil, zap.NewNop())
	defer c.Close()

	obs := &recordingObserver{}
	c.SetObserver(obs)
	var completed []models.ExecutionResult
	var mu sync.Mutex
	c.OnComplete(func(r models.ExecutionResult) {
		mu.Lock()
		completed = append(completed, r)
		mu.Unlock()
	})

	h1, err := c.Start(context.Background(), "s1", testPlan("plan-1", "A", "B"))
	require.NoError(t, err)
	<-started

	require.NoError(t, c.Cancel(h1))
	res, err := c.Poll(h1)
	require.NoError(t, err)
	require.True(t, res.Completed)

	// The hook has already run even though A is still in flight.
	mu.Lock()
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Cancelled)
	mu.Unlock()

	_, busy := c.Active("s1")
	assert.False(t, busy)

	h2, err := c.Start(context.Background(), "s1", testPlan("plan-2", "uptime"))
	require.NoError(t, err, "a completed execution no longer holds the session")

	close(gate)
	waitDone(t, c, h1)
	assert.True(t, waitDone(t, c, h2).Succeeded())

	active, ok := c.Active("s1")
	assert.False(t, ok, "late finish of the cancelled run must not touch the new run; got %s", active)

	mu.Lock()
	assert.Len(t, completed, 2, "cancelled run reports once")
	mu.Unlock()
	obs.mu.Lock()
	assert.Equal(t, []string{"cancelled", "succeeded"}, obs.executions)
	obs.mu.Unlock()
}

func TestCoordinator_PollUnknownAndIdempotent(t *testing.T) {
	c := newTestCoordinator(t, &fakeTransport{})

	_, err := c.Poll("nope")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.True(t, errors.Is(c.Cancel("nope"), models.ErrNotFound))

	h, err := c.Start(context.Background(), "s1", testPlan("plan-1", "uptime"))
	require.NoError(t, err)
	first := waitDone(t, c, h)

	second, err := c.Poll(h)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Mutating a polled copy never leaks back.
	*second.Commands[0].Success = false
	third, _ := c.Poll(h)
	assert.True(t, *third.Commands[0].Success)
}

func TestCoordinator_StepOrder(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestCoordinator(t, tr)

	plan := models.FixPlan{ID: "plan-1", Issue: "x", Commands: []models.Command{
		{Step: 3, CommandText: "third"},
		{Step: 1, CommandText: "first"},
		{Step: 2, CommandText: "second"},
	}}
	h, err := c.Start(context.Background(), "s1", plan)
	require.NoError(t, err)
	res := waitDone(t, c, h)

	assert.Equal(t, []string{"first", "second", "third"}, tr.Calls())
	assert.Equal(t, 1, res.Commands[0].Command.Step)
}

func TestCoordinator_Wait(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := make(chan struct{})
	tr := &fakeTransport{fn: func(ctx context.Context, cmd string) (Outcome, error) {
		<-gate
		return Outcome{}, nil
	}}
	c := New(tr, nil, zap.NewNop())
	defer c.Close()

	h, err := c.Start(context.Background(), "s1", testPlan("plan-1", "uptime"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	res, err := c.Wait(ctx, h, 10*time.Millisecond)
	cancel()
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, res.Completed)

	close(gate)
	res, err = c.Wait(context.Background(), h, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.Completed)

	_, err = c.Wait(context.Background(), "nope", time.Millisecond)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestCoordinator_CloseAbortsInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	tr := &fakeTransport{fn: func(ctx context.Context, cmd string) (Outcome, error) {
		close(started)
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	}}
	c := New(tr, nil, zap.NewNop())

	h, err := c.Start(context.Background(), "s1", testPlan("plan-1", "sleep 600"))
	require.NoError(t, err)
	<-started
	c.Close()

	res, err := c.Poll(h)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, models.CommandFailed, res.Commands[0].State)

	_, err = c.Start(context.Background(), "s2", testPlan("plan-2", "uptime"))
	assert.True(t, errors.Is(err, models.ErrInvalidState))
}
