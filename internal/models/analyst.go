package models

// AnalysisRequest is what the analyst sees when judging a session.
type AnalysisRequest struct {
	Intent   Intent
	Query    string
	Params   map[string]string
	Snapshot *MetricsSnapshot
}
