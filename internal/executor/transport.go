package executor

import (
	"context"
	"time"
)

// Outcome is what a transport reports for one command.
type Outcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Transport runs a single command on the managed host. Implementations honour
// ctx and timeout, and wrap connectivity failures with models.ErrTransport.
type Transport interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (Outcome, error)
}

// Observer receives execution telemetry.
type Observer interface {
	CommandFinished(state string, d time.Duration)
	ExecutionFinished(outcome string)
}

type nopObserver struct{}

func (nopObserver) CommandFinished(string, time.Duration) {}
func (nopObserver) ExecutionFinished(string)              {}
