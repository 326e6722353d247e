// Package plans tracks a session's fix plans through their lifecycle:
// proposed, approved or rejected, executing, completed.
package plans

import (
	"fmt"
	"sync"
	"time"

	"github.com/joescharf/opsassist/internal/models"
)

// Registry is one session's plan table. It is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	plans     map[string]*models.FixPlan
	order     []string
	seq       int
	followups map[string]int
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		plans:     make(map[string]*models.FixPlan),
		followups: make(map[string]int),
		now:       time.Now,
	}
}

// Propose validates and stores an initial plan, assigning it the next
// sequence id. Caller-supplied ids and statuses are ignored.
func (r *Registry) Propose(plan models.FixPlan) (string, error) {
	if err := Validate(plan); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	plan.ID = fmt.Sprintf("plan-%d", r.seq)
	plan.Origin = models.OriginInitial
	plan.ParentID = ""
	r.insertLocked(plan)
	return plan.ID, nil
}

// RecordFollowups proposes plans produced by re-analysing parentID's
// execution. The parent must exist.
func (r *Registry) RecordFollowups(parentID string, plans []models.FixPlan) ([]string, error) {
	for i, p := range plans {
		if err := Validate(p); err != nil {
			return nil, fmt.Errorf("followup %d: %w", i, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plans[parentID]; !ok {
		return nil, fmt.Errorf("parent plan %s: %w", parentID, models.ErrNotFound)
	}

	ids := make([]string, 0, len(plans))
	for _, p := range plans {
		r.followups[parentID]++
		p.ID = fmt.Sprintf("%s.followup-%d", parentID, r.followups[parentID])
		p.Origin = models.OriginFollowup
		p.ParentID = parentID
		r.insertLocked(p)
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (r *Registry) insertLocked(p models.FixPlan) {
	now := r.now()
	p = p.Clone()
	p.Status = models.PlanStatusProposed
	p.CreatedAt = now
	p.UpdatedAt = now
	r.plans[p.ID] = &p
	r.order = append(r.order, p.ID)
}

// Lookup returns a copy of the plan with exactly this id.
func (r *Registry) Lookup(id string) (models.FixPlan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[id]
	if !ok {
		return models.FixPlan{}, false
	}
	return p.Clone(), true
}

// Approve moves a proposed plan to approved.
func (r *Registry) Approve(id string) (models.FixPlan, error) {
	return r.transition(id, models.PlanStatusProposed, models.PlanStatusApproved)
}

// Reject moves a proposed plan to rejected.
func (r *Registry) Reject(id string) error {
	_, err := r.transition(id, models.PlanStatusProposed, models.PlanStatusRejected)
	return err
}

// MarkExecuting moves an approved plan to executing.
func (r *Registry) MarkExecuting(id string) (models.FixPlan, error) {
	return r.transition(id, models.PlanStatusApproved, models.PlanStatusExecuting)
}

// MarkCompleted moves an executing plan to completed.
func (r *Registry) MarkCompleted(id string) error {
	_, err := r.transition(id, models.PlanStatusExecuting, models.PlanStatusCompleted)
	return err
}

// Revert returns an executing plan to approved when its run never started.
func (r *Registry) Revert(id string) error {
	_, err := r.transition(id, models.PlanStatusExecuting, models.PlanStatusApproved)
	return err
}

// Withdraw returns an approved plan to proposed when it could not be
// started.
func (r *Registry) Withdraw(id string) error {
	_, err := r.transition(id, models.PlanStatusApproved, models.PlanStatusProposed)
	return err
}

func (r *Registry) transition(id string, from, to models.PlanStatus) (models.FixPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plans[id]
	if !ok {
		return models.FixPlan{}, fmt.Errorf("plan %s: %w", id, models.ErrNotFound)
	}
	if p.Status != from {
		return models.FixPlan{}, fmt.Errorf("plan %s is %s, want %s: %w", id, p.Status, from, models.ErrInvalidState)
	}
	p.Status = to
	p.UpdatedAt = r.now()
	return p.Clone(), nil
}

// EditCommand replaces the command at step in a proposed plan.
func (r *Registry) EditCommand(planID string, step int, cmd models.Command) error {
	if cmd.CommandText == "" {
		return fmt.Errorf("plan %s step %d: empty command: %w", planID, step, ErrInvalidPlan)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plans[planID]
	if !ok {
		return fmt.Errorf("plan %s: %w", planID, models.ErrNotFound)
	}
	if p.Status != models.PlanStatusProposed {
		return fmt.Errorf("plan %s is %s: %w", planID, p.Status, models.ErrInvalidState)
	}
	for i := range p.Commands {
		if p.Commands[i].Step == step {
			cmd.Step = step
			cmds := append([]models.Command(nil), p.Commands...)
			cmds[i] = cmd
			p.Commands = cmds
			p.UpdatedAt = r.now()
			return nil
		}
	}
	return fmt.Errorf("plan %s step %d: %w", planID, step, models.ErrNotFound)
}

// List returns every plan in proposal order.
func (r *Registry) List() []models.FixPlan {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.FixPlan, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.plans[id].Clone())
	}
	return out
}

// Followups returns the plans recorded against parentID in proposal order.
func (r *Registry) Followups(parentID string) []models.FixPlan {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.FixPlan
	for _, id := range r.order {
		if p := r.plans[id]; p.Origin == models.OriginFollowup && p.ParentID == parentID {
			out = append(out, p.Clone())
		}
	}
	return out
}

// FirstProposed returns the earliest plan still awaiting a decision.
func (r *Registry) FirstProposed() (models.FixPlan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if p := r.plans[id]; p.Status == models.PlanStatusProposed {
			return p.Clone(), true
		}
	}
	return models.FixPlan{}, false
}

// Executing reports whether any plan is currently executing.
func (r *Registry) Executing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.plans {
		if p.Status == models.PlanStatusExecuting {
			return true
		}
	}
	return false
}

// Len returns the number of plans.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
