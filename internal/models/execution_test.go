package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionResult_Outcome(t *testing.T) {
	ok, bad := true, false
	tests := []struct {
		name string
		r    ExecutionResult
		want string
	}{
		{"running", ExecutionResult{}, "running"},
		{"cancelled", ExecutionResult{Completed: true, Cancelled: true}, "cancelled"},
		{"succeeded", ExecutionResult{Completed: true, Commands: []CommandResult{{Success: &ok}}}, "succeeded"},
		{"failed", ExecutionResult{Completed: true, Commands: []CommandResult{{Success: &ok}, {Success: &bad}}}, "failed"},
		{"not run", ExecutionResult{Completed: true, Commands: []CommandResult{{State: CommandNotRun}}}, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Outcome())
		})
	}
}

func TestExecutionResult_CloneDetachesSuccess(t *testing.T) {
	ok := true
	r := ExecutionResult{Commands: []CommandResult{{Success: &ok}}}
	c := r.Clone()
	*c.Commands[0].Success = false
	assert.True(t, *r.Commands[0].Success)
}
