// Package sqlagent is an in-process agent runtime that answers questions about
// the hospital database through a tool-calling chat model.
package sqlagent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/ashureev/sqlchat/internal/agent"
	"github.com/ashureev/sqlchat/internal/domain"
	"github.com/ashureev/sqlchat/internal/hospitaldb"
	"github.com/ashureev/sqlchat/internal/store"
	"github.com/ashureev/sqlchat/internal/transcript"
)

// Author is the author of every event the agent emits.
const Author = "sql_agent"

const (
	// DefaultMaxSteps bounds model round trips per turn.
	DefaultMaxSteps = 12
	// maxHistory is the number of earlier transcript entries replayed to the model.
	maxHistory = 20
)

// ErrTooManySteps is returned when the model keeps calling tools past the step budget.
var ErrTooManySteps = errors.New("agent did not produce an answer")

// errStopped signals that the event consumer stopped iterating.
var errStopped = errors.New("event consumer stopped")

// Config configures an Agent.
type Config struct {
	Model    string
	MaxSteps int
	Logger   *slog.Logger
}

// Agent implements agent.Runtime on top of a chat model and the hospital database.
type Agent struct {
	model     ChatModel
	modelName string
	sessions  store.SessionStore
	prefs     store.PreferenceStore
	db        *hospitaldb.DB
	maxSteps  int
	logger    *slog.Logger
	locks     *keyedMutex

	newBackoff func(ctx context.Context) backoff.BackOff
	now        func() time.Time
}

var _ agent.Runtime = (*Agent)(nil)

// New creates an Agent.
func New(model ChatModel, sessions store.SessionStore, prefs store.PreferenceStore, db *hospitaldb.DB, cfg Config) *Agent {
	a := &Agent{
		model:      model,
		modelName:  cfg.Model,
		sessions:   sessions,
		prefs:      prefs,
		db:         db,
		maxSteps:   cfg.MaxSteps,
		logger:     cfg.Logger,
		locks:      newKeyedMutex(),
		newBackoff: newRetryBackoff,
		now:        time.Now,
	}
	if a.maxSteps <= 0 {
		a.maxSteps = DefaultMaxSteps
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Submit runs one turn. Turns on the same session are serialized. A session
// missing from the store yields agent.ErrSessionNotFound.
func (a *Agent) Submit(ctx context.Context, key domain.SessionKey, msg domain.Content) iter.Seq2[*domain.Event, error] {
	return func(yield func(*domain.Event, error) bool) {
		unlock := a.locks.lock(key.String())
		defer unlock()

		emit := func(ev *domain.Event) bool { return yield(ev, nil) }
		if err := a.run(ctx, key, msg.FirstText(), emit); err != nil && !errors.Is(err, errStopped) {
			yield(nil, err)
		}
	}
}

func (a *Agent) run(ctx context.Context, key domain.SessionKey, query string, emit func(*domain.Event) bool) error {
	sess, err := a.sessions.GetSession(ctx, key)
	if err != nil {
		return fmt.Errorf("load session %s: %w", key, err)
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", agent.ErrSessionNotFound, key)
	}
	if sess.State == nil {
		sess.State = map[string]any{}
	}

	t := &turn{key: key, query: query}
	messages := a.buildMessages(sess, query)

	for step := 0; step < a.maxSteps; step++ {
		reply, err := a.complete(ctx, openai.ChatCompletionRequest{
			Model:    a.modelName,
			Messages: messages,
			Tools:    toolDefinitions,
		})
		if err != nil {
			return err
		}
		messages = append(messages, reply)

		if len(reply.ToolCalls) == 0 {
			return a.finish(ctx, sess, t, reply.Content, emit)
		}

		for _, call := range reply.ToolCalls {
			a.logger.Debug("Tool call", "tool", call.Function.Name, "user_id", key.UserID, "session_id", key.SessionID)
			out := a.callTool(ctx, t, call)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    out,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			})
			if !emit(a.event(call.Function.Name, "", false)) {
				return errStopped
			}
		}
	}
	return fmt.Errorf("%w after %d steps", ErrTooManySteps, a.maxSteps)
}

// finish records the exchange in the session state and emits the final event.
func (a *Agent) finish(ctx context.Context, sess *domain.Session, t *turn, answer string, emit func(*domain.Event) bool) error {
	appendMessage(sess.State, domain.RoleUser, t.query)
	appendMessage(sess.State, domain.RoleModel, answer)
	if t.ranSQL {
		sess.State[domain.StateKeyLastSQLResult] = lastSQLResult(t)
	}

	if err := a.sessions.UpdateSessionState(ctx, t.key, sess.State); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", agent.ErrSessionNotFound, t.key)
		}
		return fmt.Errorf("save session state: %w", err)
	}

	if !emit(a.event("", answer, true)) {
		return errStopped
	}
	return nil
}

func (a *Agent) buildMessages(sess *domain.Session, query string) []openai.ChatCompletionMessage {
	prompt := systemPrompt + "\n\nCurrent user_id: " + sess.UserID
	if last, ok := sess.State[domain.StateKeyLastSQLResult].(string); ok && last != "" {
		prompt += "\n\nPrevious SQL result (last_sql_result_json):\n" + last
	}

	messages := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: prompt}}

	history := transcript.Extract(sess.State)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	for _, entry := range history {
		role := openai.ChatMessageRoleAssistant
		if entry.Sender == domain.SenderUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: entry.Text})
	}

	return append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: query})
}

// ask runs a single tool-less prompt, used by the rewrite and evaluate tools.
func (a *Agent) ask(ctx context.Context, prompt string) (string, error) {
	reply, err := a.complete(ctx, openai.ChatCompletionRequest{
		Model:    a.modelName,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

func (a *Agent) event(toolName, text string, final bool) *domain.Event {
	ev := &domain.Event{
		ID:        uuid.NewString(),
		Author:    Author,
		ToolName:  toolName,
		Final:     final,
		Timestamp: a.now(),
	}
	if text != "" || final {
		ev.Content = &domain.Content{Role: domain.RoleModel, Parts: []domain.Part{{Text: text}}}
	}
	return ev
}

func appendMessage(state map[string]any, role, text string) {
	msgs, _ := state[domain.StateKeyMessages].([]any)
	state[domain.StateKeyMessages] = append(msgs, map[string]any{
		"role":  role,
		"parts": []any{map[string]any{"text": text}},
	})
}

func lastSQLResult(t *turn) string {
	return toolJSON(map[string]any{
		"sql":        t.lastSQL,
		"raw_result": t.lastResult,
	})
}
