package domain

import "time"

// Message roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Part is a single piece of message content.
type Part struct {
	Text string `json:"text"`
}

// Content is a message with a role and ordered parts.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// NewUserContent wraps text as a single-part user message.
func NewUserContent(text string) Content {
	return Content{Role: RoleUser, Parts: []Part{{Text: text}}}
}

// FirstText returns the text of the first part, or "" when there is none.
func (c *Content) FirstText() string {
	if c == nil || len(c.Parts) == 0 {
		return ""
	}
	return c.Parts[0].Text
}

// Event is one item of an agent runtime's response stream.
type Event struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   *Content  `json:"content,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

// IsFinal reports whether the event carries the complete answer of a turn.
func (e *Event) IsFinal() bool {
	return e != nil && e.Final
}
