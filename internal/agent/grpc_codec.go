package agent

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/sqlchat/internal/domain"
)

// The Run RPC carries google.protobuf.Struct messages in both directions:
//
//	request: {app_name, user_id, session_id, message: {role, parts: [{text}]}}
//	event:   {id, author, tool_name, final, timestamp, content: {role, parts: [{text}]}}

const (
	agentServiceName = "sqlchat.agent.v1.AgentService"
	runMethodName    = "Run"
	runFullMethod    = "/" + agentServiceName + "/" + runMethodName
)

var errMalformedRequest = errors.New("malformed run request")

func requestToStruct(key domain.SessionKey, msg domain.Content) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"app_name":   key.AppName,
		"user_id":    key.UserID,
		"session_id": key.SessionID,
		"message":    contentToMap(&msg),
	})
}

func requestFromStruct(s *structpb.Struct) (domain.SessionKey, domain.Content, error) {
	m := s.AsMap()
	key := domain.SessionKey{
		AppName:   str(m["app_name"]),
		UserID:    str(m["user_id"]),
		SessionID: str(m["session_id"]),
	}
	if key.UserID == "" || key.SessionID == "" {
		return key, domain.Content{}, fmt.Errorf("%w: user_id and session_id are required", errMalformedRequest)
	}
	content := contentFromMap(m["message"])
	if content == nil {
		return key, domain.Content{}, fmt.Errorf("%w: message is required", errMalformedRequest)
	}
	return key, *content, nil
}

func eventToStruct(ev *domain.Event) (*structpb.Struct, error) {
	m := map[string]any{
		"id":        ev.ID,
		"author":    ev.Author,
		"tool_name": ev.ToolName,
		"final":     ev.Final,
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if ev.Content != nil {
		m["content"] = contentToMap(ev.Content)
	}
	return structpb.NewStruct(m)
}

func eventFromStruct(s *structpb.Struct) *domain.Event {
	m := s.AsMap()
	ev := &domain.Event{
		ID:       str(m["id"]),
		Author:   str(m["author"]),
		ToolName: str(m["tool_name"]),
		Content:  contentFromMap(m["content"]),
	}
	ev.Final, _ = m["final"].(bool)
	if ts, err := time.Parse(time.RFC3339Nano, str(m["timestamp"])); err == nil {
		ev.Timestamp = ts
	}
	return ev
}

func contentToMap(c *domain.Content) map[string]any {
	parts := make([]any, 0, len(c.Parts))
	for _, p := range c.Parts {
		parts = append(parts, map[string]any{"text": p.Text})
	}
	return map[string]any{"role": c.Role, "parts": parts}
}

func contentFromMap(v any) *domain.Content {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	c := &domain.Content{Role: str(m["role"])}
	rawParts, _ := m["parts"].([]any)
	for _, rp := range rawParts {
		pm, ok := rp.(map[string]any)
		if !ok {
			continue
		}
		c.Parts = append(c.Parts, domain.Part{Text: str(pm["text"])})
	}
	return c
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
