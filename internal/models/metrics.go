package models

import "time"

// AlertLevel grades a metric or alert.
type AlertLevel string

const (
	LevelNormal   AlertLevel = "normal"
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// Metric is one derived measurement from a scrape.
type Metric struct {
	Name      string     `json:"name"`
	Value     float64    `json:"value"`
	Unit      string     `json:"unit"`
	Threshold *float64   `json:"threshold,omitempty"`
	Level     AlertLevel `json:"level"`
}

// Alert is raised when a metric crosses its threshold.
type Alert struct {
	MetricName       string     `json:"metric_name"`
	Level            AlertLevel `json:"level"`
	Message          string     `json:"message"`
	Value            float64    `json:"value"`
	Threshold        float64    `json:"threshold"`
	SuggestedActions []string   `json:"suggested_actions,omitempty"`
}

// MetricsSnapshot is an immutable capture of collected metrics. A stale
// snapshot is replaced, never edited.
type MetricsSnapshot struct {
	Payload    map[string]Metric `json:"payload"`
	Alerts     []Alert           `json:"alerts"`
	CapturedAt time.Time         `json:"captured_at"`
}

// Metric looks up a metric by name.
func (s *MetricsSnapshot) Metric(name string) (Metric, bool) {
	if s == nil {
		return Metric{}, false
	}
	m, ok := s.Payload[name]
	return m, ok
}

// Analysis is the analyst's structured verdict on a snapshot.
type Analysis struct {
	Summary            string   `json:"summary"`
	Issues             []string `json:"issues"`
	RecommendedActions []string `json:"recommended_actions"`
	OverallStatus      string   `json:"overall_status"`
	Urgency            string   `json:"urgency"`
	AutoFixable        bool     `json:"auto_fixable"`
	Raw                string   `json:"-"`
}
