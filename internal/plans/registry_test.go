package plans

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/opsassist/internal/models"
)

func samplePlan(issue string, cmds ...string) models.FixPlan {
	p := models.FixPlan{
		Issue:     issue,
		Priority:  models.PriorityHigh,
		RiskLevel: models.RiskLow,
	}
	for i, c := range cmds {
		p.Commands = append(p.Commands, models.Command{Step: i + 1, CommandText: c, TimeoutSeconds: 10})
	}
	return p
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	return r
}

func TestPropose_AssignsSequentialIDs(t *testing.T) {
	r := newTestRegistry()

	id1, err := r.Propose(samplePlan("high cpu", "top -bn1"))
	require.NoError(t, err)
	id2, err := r.Propose(samplePlan("disk full", "df -h"))
	require.NoError(t, err)

	assert.Equal(t, "plan-1", id1)
	assert.Equal(t, "plan-2", id2)

	p, ok := r.Lookup(id1)
	require.True(t, ok)
	assert.Equal(t, models.PlanStatusProposed, p.Status)
	assert.Equal(t, models.OriginInitial, p.Origin)
	assert.Empty(t, p.ParentID)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestPropose_IgnoresCallerIDAndStatus(t *testing.T) {
	r := newTestRegistry()
	in := samplePlan("x", "uptime")
	in.ID = "custom"
	in.Status = models.PlanStatusCompleted

	id, err := r.Propose(in)
	require.NoError(t, err)
	assert.Equal(t, "plan-1", id)

	p, _ := r.Lookup(id)
	assert.Equal(t, models.PlanStatusProposed, p.Status)
	_, ok := r.Lookup("custom")
	assert.False(t, ok)
}

func TestPropose_Validation(t *testing.T) {
	tests := []struct {
		name string
		plan models.FixPlan
	}{
		{"missing issue", models.FixPlan{Commands: []models.Command{{Step: 1, CommandText: "ls"}}}},
		{"no commands", models.FixPlan{Issue: "x"}},
		{"zero step", models.FixPlan{Issue: "x", Commands: []models.Command{{Step: 0, CommandText: "ls"}}}},
		{"duplicate step", models.FixPlan{Issue: "x", Commands: []models.Command{{Step: 1, CommandText: "ls"}, {Step: 1, CommandText: "pwd"}}}},
		{"empty command", models.FixPlan{Issue: "x", Commands: []models.Command{{Step: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			_, err := r.Propose(tt.plan)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPlan))
			assert.Equal(t, 0, r.Len())
		})
	}
}

func TestLookup_ExactMatchOnly(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 12; i++ {
		_, err := r.Propose(samplePlan("issue", "uptime"))
		require.NoError(t, err)
	}

	_, ok := r.Lookup("plan-1")
	assert.True(t, ok)
	_, ok = r.Lookup("plan")
	assert.False(t, ok)
	_, ok = r.Lookup("1")
	assert.False(t, ok)
	_, ok = r.Lookup("PLAN-1")
	assert.False(t, ok)

	p, ok := r.Lookup("plan-12")
	require.True(t, ok)
	assert.Equal(t, "plan-12", p.ID)
}

func TestLookup_ReturnsCopy(t *testing.T) {
	r := newTestRegistry()
	id, _ := r.Propose(samplePlan("issue", "uptime"))

	p, _ := r.Lookup(id)
	p.Commands[0].CommandText = "rm -rf /tmp/x"
	p.Status = models.PlanStatusCompleted

	again, _ := r.Lookup(id)
	assert.Equal(t, "uptime", again.Commands[0].CommandText)
	assert.Equal(t, models.PlanStatusProposed, again.Status)
}

func TestLifecycle(t *testing.T) {
	r := newTestRegistry()
	id, _ := r.Propose(samplePlan("issue", "uptime"))

	// Cannot execute before approval.
	_, err := r.MarkExecuting(id)
	assert.True(t, errors.Is(err, models.ErrInvalidState))

	p, err := r.Approve(id)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusApproved, p.Status)

	_, err = r.Approve(id)
	assert.True(t, errors.Is(err, models.ErrInvalidState), "approve twice")
	assert.True(t, errors.Is(r.Reject(id), models.ErrInvalidState), "reject after approve")

	_, err = r.MarkExecuting(id)
	require.NoError(t, err)
	assert.True(t, r.Executing())

	require.NoError(t, r.MarkCompleted(id))
	assert.False(t, r.Executing())

	p, _ = r.Lookup(id)
	assert.Equal(t, models.PlanStatusCompleted, p.Status)
}

func TestReject(t *testing.T) {
	r := newTestRegistry()
	id, _ := r.Propose(samplePlan("issue", "uptime"))

	require.NoError(t, r.Reject(id))
	_, err := r.Approve(id)
	assert.True(t, errors.Is(err, models.ErrInvalidState))

	assert.True(t, errors.Is(r.Reject("plan-99"), models.ErrNotFound))
}

func TestApprove_NotFound(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Approve("plan-1")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRevert(t *testing.T) {
	r := newTestRegistry()
	id, _ := r.Propose(samplePlan("issue", "uptime"))
	_, _ = r.Approve(id)
	_, _ = r.MarkExecuting(id)

	require.NoError(t, r.Revert(id))
	p, _ := r.Lookup(id)
	assert.Equal(t, models.PlanStatusApproved, p.Status)
}

func TestWithdraw(t *testing.T) {
	r := newTestRegistry()
	id, _ := r.Propose(samplePlan("issue", "uptime"))

	assert.ErrorIs(t, r.Withdraw(id), models.ErrInvalidState, "only approved plans can be withdrawn")

	_, _ = r.Approve(id)
	require.NoError(t, r.Withdraw(id))
	p, _ := r.Lookup(id)
	assert.Equal(t, models.PlanStatusProposed, p.Status)

	_, err := r.Approve(id)
	assert.NoError(t, err, "a withdrawn plan can be approved again")
}

func TestRecordFollowups(t *testing.T) {
	r := newTestRegistry()
	parent, _ := r.Propose(samplePlan("disk full", "du -sh /var/log"))

	ids, err := r.RecordFollowups(parent, []models.FixPlan{
		samplePlan("rotate logs", "logrotate -f /etc/logrotate.conf"),
		samplePlan("verify", "df -h /"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"plan-1.followup-1", "plan-1.followup-2"}, ids)

	more, err := r.RecordFollowups(parent, []models.FixPlan{samplePlan("again", "df -h")})
	require.NoError(t, err)
	assert.Equal(t, []string{"plan-1.followup-3"}, more)

	f, ok := r.Lookup("plan-1.followup-2")
	require.True(t, ok)
	assert.Equal(t, models.OriginFollowup, f.Origin)
	assert.Equal(t, parent, f.ParentID)
	assert.Equal(t, models.PlanStatusProposed, f.Status)

	// Initial numbering is unaffected by followups.
	next, _ := r.Propose(samplePlan("other", "uptime"))
	assert.Equal(t, "plan-2", next)

	follow := r.Followups(parent)
	require.Len(t, follow, 3)
	assert.Equal(t, "rotate logs", follow[0].Issue)
	assert.Empty(t, r.Followups(next))
}

func TestRecordFollowups_ChainedParent(t *testing.T) {
	r := newTestRegistry()
	parent, _ := r.Propose(samplePlan("a", "uptime"))
	ids, _ := r.RecordFollowups(parent, []models.FixPlan{samplePlan("b", "uptime")})

	grand, err := r.RecordFollowups(ids[0], []models.FixPlan{samplePlan("c", "uptime")})
	require.NoError(t, err)
	assert.Equal(t, []string{"plan-1.followup-1.followup-1"}, grand)

	p, _ := r.Lookup(grand[0])
	assert.Equal(t, ids[0], p.ParentID)
	assert.Len(t, r.Followups(parent), 1, "linkage comes from ParentID, not the id prefix")
}

func TestRecordFollowups_Errors(t *testing.T) {
	r := newTestRegistry()

	_, err := r.RecordFollowups("plan-7", []models.FixPlan{samplePlan("x", "uptime")})
	assert.True(t, errors.Is(err, models.ErrNotFound))

	parent, _ := r.Propose(samplePlan("a", "uptime"))
	_, err = r.RecordFollowups(parent, []models.FixPlan{samplePlan("ok", "uptime"), {Issue: "bad"}})
	assert.True(t, errors.Is(err, ErrInvalidPlan))
	assert.Empty(t, r.Followups(parent), "nothing recorded when any followup is invalid")
}

func TestEditCommand(t *testing.T) {
	r := newTestRegistry()
	id, _ := r.Propose(samplePlan("issue", "uptime", "df -h"))

	err := r.EditCommand(id, 2, models.Command{CommandText: "df -h /var", Description: "scoped", TimeoutSeconds: 5})
	require.NoError(t, err)

	p, _ := r.Lookup(id)
	want := []models.Command{
		{Step: 1, CommandText: "uptime", TimeoutSeconds: 10},
		{Step: 2, CommandText: "df -h /var", Description: "scoped", TimeoutSeconds: 5},
	}
	if diff := cmp.Diff(want, p.Commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}

	assert.True(t, errors.Is(r.EditCommand(id, 9, models.Command{CommandText: "ls"}), models.ErrNotFound))
	assert.True(t, errors.Is(r.EditCommand("plan-9", 1, models.Command{CommandText: "ls"}), models.ErrNotFound))

	err = r.EditCommand(id, 1, models.Command{})
	assert.ErrorIs(t, err, ErrInvalidPlan)
	assert.NotErrorIs(t, err, models.ErrInvalidState)

	_, _ = r.Approve(id)
	assert.True(t, errors.Is(r.EditCommand(id, 1, models.Command{CommandText: "ls"}), models.ErrInvalidState))
}

func TestList_ProposalOrder(t *testing.T) {
	r := newTestRegistry()
	a, _ := r.Propose(samplePlan("a", "uptime"))
	_, _ = r.RecordFollowups(a, []models.FixPlan{samplePlan("a1", "uptime")})
	_, _ = r.Propose(samplePlan("b", "uptime"))

	var ids []string
	for _, p := range r.List() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"plan-1", "plan-1.followup-1", "plan-2"}, ids)
}

func TestFirstProposed(t *testing.T) {
	r := newTestRegistry()
	_, ok := r.FirstProposed()
	assert.False(t, ok)

	a, _ := r.Propose(samplePlan("a", "uptime"))
	b, _ := r.Propose(samplePlan("b", "uptime"))
	require.NoError(t, r.Reject(a))

	p, ok := r.FirstProposed()
	require.True(t, ok)
	assert.Equal(t, b, p.ID)
}

func TestRegistry_ConcurrentPropose(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Propose(samplePlan("x", "uptime"))
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 50)
}
