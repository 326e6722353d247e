package health

import (
	"fmt"

	"github.com/joescharf/opsassist/internal/models"
)

// Status is the coarse verdict on a host.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// HealthScore represents the computed health of a host.
type HealthScore struct {
	Total       int
	CPU         int // 0-25
	Memory      int // 0-25
	Disk        int // 0-25
	Load        int // 0-15
	Connections int // 0-10
}

// Assessment is the quick verdict used when the analyst gives none.
type Assessment struct {
	Status   Status `json:"status"`
	Score    int    `json:"score"`
	Critical int    `json:"critical"`
	Warning  int    `json:"warning"`
	Summary  string `json:"summary"`
}

// Scorer computes health scores for metrics snapshots.
type Scorer struct{}

// NewScorer returns a new health Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes a health score (0-100) for a snapshot. Metrics missing from
// the snapshot earn full points.
func (s *Scorer) Score(snap *models.MetricsSnapshot) *HealthScore {
	h := &HealthScore{}
	h.CPU = scoreUsage(snap, "cpu_usage_percent", 25)
	h.Memory = scoreUsage(snap, "memory_usage_percent", 25)
	h.Disk = scoreUsage(snap, "disk_usage_percent", 25)
	h.Load = scoreUsage(snap, "load_1m", 15)
	h.Connections = scoreUsage(snap, "tcp_connections", 10)
	h.Total = h.CPU + h.Memory + h.Disk + h.Load + h.Connections
	return h
}

// Assess grades a snapshot from its metric levels and score. Any critical
// metric makes the host critical.
func (s *Scorer) Assess(snap *models.MetricsSnapshot) Assessment {
	if snap == nil || len(snap.Payload) == 0 {
		return Assessment{Status: StatusUnknown, Summary: "System state: unknown (no metrics)"}
	}

	a := Assessment{Score: s.Score(snap).Total}
	for _, m := range snap.Payload {
		switch m.Level {
		case models.LevelCritical:
			a.Critical++
		case models.LevelWarning:
			a.Warning++
		}
	}

	switch {
	case a.Critical > 0 || a.Score < 50:
		a.Status = StatusCritical
		a.Summary = fmt.Sprintf("System state: critical (%d critical, %d warnings)", a.Critical, a.Warning)
	case a.Warning > 0 || a.Score < 80:
		a.Status = StatusWarning
		a.Summary = fmt.Sprintf("System state: warning (%d warnings)", a.Warning)
	default:
		a.Status = StatusHealthy
		a.Summary = "System state: healthy"
	}
	return a
}

// scoreUsage converts a metric's distance from its threshold to points.
func scoreUsage(snap *models.MetricsSnapshot, name string, maxPoints int) int {
	m, ok := snap.Metric(name)
	if !ok || m.Threshold == nil || *m.Threshold <= 0 {
		return maxPoints
	}
	ratio := m.Value / *m.Threshold
	switch {
	case ratio <= 0.5:
		return maxPoints
	case ratio <= 0.75:
		return int(float64(maxPoints) * 0.9)
	case ratio <= 1.0:
		return int(float64(maxPoints) * 0.7)
	case ratio <= 1.2:
		return int(float64(maxPoints) * 0.4)
	default:
		return int(float64(maxPoints) * 0.1)
	}
}
