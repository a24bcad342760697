// Package transcript normalizes stored session messages into a uniform
// sender/text transcript for history replay.
package transcript

import (
	"github.com/ashureev/sqlchat/internal/domain"
)

// shape tags the known layouts of a stored message.
type shape int

const (
	shapeUnrecognized shape = iota
	// {"sender": "...", "text": "..."}
	shapeSenderText
	// {"role"|"author": "...", "parts": [{"text"|"content": "..."} | "..."]}
	shapeRoleParts
)

// storedMessage is a classified stored message.
type storedMessage struct {
	shape  shape
	sender string
	text   string
	role   string
	parts  []any
}

// Extract returns the transcript held in a session state. It reads
// state["messages"], falling back to state["history"] when messages is missing
// or empty. Elements that cannot be mapped are skipped.
func Extract(state map[string]any) []domain.TranscriptEntry {
	entries := []domain.TranscriptEntry{}
	if len(state) == 0 {
		return entries
	}

	raw := state[domain.StateKeyMessages]
	if isEmpty(raw) {
		raw = state[domain.StateKeyHistory]
	}
	list, ok := raw.([]any)
	if !ok {
		return entries
	}

	for _, item := range list {
		if entry, ok := classify(item).entry(); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func classify(item any) storedMessage {
	m, ok := item.(map[string]any)
	if !ok {
		return storedMessage{shape: shapeUnrecognized}
	}

	_, hasSender := m["sender"]
	_, hasText := m["text"]
	if hasSender && hasText {
		return storedMessage{
			shape:  shapeSenderText,
			sender: stringField(m, "sender"),
			text:   stringField(m, "text"),
		}
	}

	role := stringField(m, "role")
	if role == "" {
		role = stringField(m, "author")
	}
	parts, _ := m["parts"].([]any)
	if role == "" && len(parts) == 0 {
		return storedMessage{shape: shapeUnrecognized}
	}
	return storedMessage{shape: shapeRoleParts, role: role, parts: parts}
}

// entry maps a classified message to a transcript entry. It reports false
// when the sender or the text cannot be resolved.
func (m storedMessage) entry() (domain.TranscriptEntry, bool) {
	var sender, text string

	switch m.shape {
	case shapeSenderText:
		sender, text = m.sender, m.text
	case shapeRoleParts:
		if m.role != "" {
			sender = domain.SenderBot
			if m.role == domain.RoleUser {
				sender = domain.SenderUser
			}
		}
		if len(m.parts) > 0 {
			text = partText(m.parts[0])
		}
	case shapeUnrecognized:
		return domain.TranscriptEntry{}, false
	}

	if sender == "" || text == "" {
		return domain.TranscriptEntry{}, false
	}
	return domain.TranscriptEntry{Sender: sender, Text: text}, true
}

func partText(part any) string {
	switch p := part.(type) {
	case string:
		return p
	case map[string]any:
		if text := stringField(p, "text"); text != "" {
			return text
		}
		return stringField(p, "content")
	default:
		return ""
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case string:
		return x == ""
	default:
		return false
	}
}
