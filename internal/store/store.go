// Package store persists finished conversation turns, fix plans and
// execution results for audit. The assistant runs without it.
package store

import (
	"context"
	"time"

	"github.com/joescharf/opsassist/internal/models"
)

// TurnRecord is a stored conversation turn.
type TurnRecord struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	models.ConversationTurn
}

// PlanRecord is the latest stored version of a plan.
type PlanRecord struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Plan      models.FixPlan `json:"plan"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ExecutionRecord is a stored execution result.
type ExecutionRecord struct {
	ID      string                 `json:"id"`
	Outcome string                 `json:"outcome"`
	Result  models.ExecutionResult `json:"result"`
}

// Store defines the history persistence interface.
type Store interface {
	SaveTurn(ctx context.Context, sessionID string, turn models.ConversationTurn) error
	ListTurns(ctx context.Context, sessionID string, limit int) ([]*TurnRecord, error)

	SavePlan(ctx context.Context, sessionID string, plan models.FixPlan) error
	ListPlans(ctx context.Context, sessionID string) ([]*PlanRecord, error)

	SaveExecution(ctx context.Context, result models.ExecutionResult) error
	GetExecution(ctx context.Context, handle string) (*ExecutionRecord, error)
	ListExecutions(ctx context.Context, sessionID string, limit int) ([]*ExecutionRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
