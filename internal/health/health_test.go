package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/opsassist/internal/models"
)

func metric(name string, value, threshold float64, level models.AlertLevel) models.Metric {
	return models.Metric{Name: name, Value: value, Threshold: &threshold, Level: level}
}

func snapshotOf(ms ...models.Metric) *models.MetricsSnapshot {
	s := &models.MetricsSnapshot{Payload: map[string]models.Metric{}}
	for _, m := range ms {
		s.Payload[m.Name] = m
	}
	return s
}

func TestScore(t *testing.T) {
	s := NewScorer()

	t.Run("idle host scores 100", func(t *testing.T) {
		h := s.Score(snapshotOf(
			metric("cpu_usage_percent", 10, 80, models.LevelNormal),
			metric("memory_usage_percent", 30, 85, models.LevelNormal),
			metric("disk_usage_percent", 20, 90, models.LevelNormal),
			metric("load_1m", 0.2, 2, models.LevelNormal),
			metric("tcp_connections", 40, 1000, models.LevelNormal),
		))
		assert.Equal(t, 100, h.Total)
	})

	t.Run("missing metrics earn full points", func(t *testing.T) {
		h := s.Score(snapshotOf())
		assert.Equal(t, 100, h.Total)
	})

	t.Run("graded by ratio to threshold", func(t *testing.T) {
		h := s.Score(snapshotOf(
			metric("cpu_usage_percent", 56, 80, models.LevelNormal),    // 0.7
			metric("memory_usage_percent", 80, 85, models.LevelNormal), // 0.94
			metric("disk_usage_percent", 99, 90, models.LevelWarning),  // 1.1
			metric("load_1m", 5, 2, models.LevelCritical),              // 2.5
		))
		assert.Equal(t, 22, h.CPU)
		assert.Equal(t, 17, h.Memory)
		assert.Equal(t, 10, h.Disk)
		assert.Equal(t, 1, h.Load)
		assert.Equal(t, 10, h.Connections)
		assert.Equal(t, 60, h.Total)
	})

	t.Run("metric without threshold ignored", func(t *testing.T) {
		h := s.Score(snapshotOf(models.Metric{Name: "cpu_usage_percent", Value: 100}))
		assert.Equal(t, 25, h.CPU)
	})
}

func TestAssess(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		name   string
		snap   *models.MetricsSnapshot
		status Status
	}{
		{"nil", nil, StatusUnknown},
		{"empty", snapshotOf(), StatusUnknown},
		{"healthy", snapshotOf(metric("cpu_usage_percent", 10, 80, models.LevelNormal)), StatusHealthy},
		{"warning", snapshotOf(metric("memory_usage_percent", 90, 85, models.LevelWarning)), StatusWarning},
		{"critical", snapshotOf(metric("cpu_usage_percent", 99, 80, models.LevelCritical)), StatusCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := s.Assess(tt.snap)
			assert.Equal(t, tt.status, a.Status)
			assert.NotEmpty(t, a.Summary)
		})
	}
}

func TestAssess_Counts(t *testing.T) {
	a := NewScorer().Assess(snapshotOf(
		metric("cpu_usage_percent", 99, 80, models.LevelCritical),
		metric("memory_usage_percent", 90, 85, models.LevelWarning),
		metric("load_1m", 2.2, 2, models.LevelWarning),
	))
	assert.Equal(t, 1, a.Critical)
	assert.Equal(t, 2, a.Warning)
	assert.Equal(t, "System state: critical (1 critical, 2 warnings)", a.Summary)
}
