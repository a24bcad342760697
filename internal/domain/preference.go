package domain

import "time"

// Preference is a learned per-user priority, e.g. cost=low.
type Preference struct {
	UserID       string    `json:"user_id"`
	Key          string    `json:"priority_key"`
	Value        string    `json:"priority_value"`
	Context      string    `json:"context,omitempty"`
	FeedbackText string    `json:"feedback_text,omitempty"`
	SourceQuery  string    `json:"source_query,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
