package models

import "time"

// ActionRecord is an entry in a session's action history.
type ActionRecord struct {
	Action  string            `json:"action"`
	Details map[string]string `json:"details,omitempty"`
	At      time.Time         `json:"at"`
}

// ConversationTurn pairs a query with the response it produced.
type ConversationTurn struct {
	Query    string    `json:"query"`
	Response string    `json:"response"`
	Intent   Intent    `json:"intent"`
	At       time.Time `json:"at"`
}
