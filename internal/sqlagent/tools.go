package sqlagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ashureev/sqlchat/internal/domain"
	"github.com/ashureev/sqlchat/internal/hospitaldb"
)

// Tool names exposed to the model.
const (
	ToolGetSchema          = "get_schema"
	ToolRunSQLQuery        = "run_sql_query"
	ToolGetUserPriorities  = "get_user_priorities"
	ToolUpdateUserPriority = "update_user_priority"
	ToolRewriteUserQuery   = "rewrite_user_query"
	ToolEvaluateSQLResult  = "evaluate_sql_result"
)

// Result evaluations returned by evaluate_sql_result.
const (
	EvaluationCorrect = "Correct"
	EvaluationPartial = "Partial"
)

func function(name, description, params string) openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(params),
		},
	}
}

var toolDefinitions = []openai.Tool{
	function(ToolGetSchema,
		"Retrieve the database schema. Omit table for the full schema with sample rows.",
		`{"type":"object","properties":{"table":{"type":"string","description":"Optional table name"}}}`),
	function(ToolRunSQLQuery,
		"Execute a single read-only SQLite SELECT query and return the rows.",
		`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
	function(ToolGetUserPriorities,
		"Retrieve the current user's saved preferences as a JSON object.",
		`{"type":"object","properties":{}}`),
	function(ToolUpdateUserPriority,
		"Save or update one of the current user's preferences learned from feedback.",
		`{"type":"object","properties":{
			"priority_key":{"type":"string","description":"e.g. cost, coverage, icu_capacity"},
			"priority_value":{"type":"string","description":"e.g. low, high"},
			"context":{"type":"string"},
			"feedback_text":{"type":"string"},
			"source_query":{"type":"string"}
		},"required":["priority_key","priority_value"]}`),
	function(ToolRewriteUserQuery,
		"Rewrite user input into a clear natural language query suitable for SQL generation.",
		`{"type":"object","properties":{"user_input":{"type":"string"},"db_schema":{"type":"string"}},"required":["user_input"]}`),
	function(ToolEvaluateSQLResult,
		"Evaluate whether a SQL result answers the user's question. Returns Correct or Partial.",
		`{"type":"object","properties":{
			"user_input":{"type":"string"},
			"sql_query":{"type":"string"},
			"result":{"type":"string"},
			"db_schema":{"type":"string"}
		},"required":["user_input","sql_query","result"]}`),
}

// turn holds per-turn context shared by tool calls.
type turn struct {
	key        domain.SessionKey
	query      string
	ranSQL     bool
	lastSQL    string
	lastResult *hospitaldb.QueryResult
}

func (a *Agent) callTool(ctx context.Context, t *turn, call openai.ToolCall) string {
	args := call.Function.Arguments
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}

	switch call.Function.Name {
	case ToolGetSchema:
		var in struct {
			Table string `json:"table"`
		}
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return toolError(err)
		}
		return a.getSchema(ctx, in.Table)

	case ToolRunSQLQuery:
		var in struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return toolError(err)
		}
		return a.runSQL(ctx, t, in.Query)

	case ToolGetUserPriorities:
		return a.getPriorities(ctx, t.key.UserID)

	case ToolUpdateUserPriority:
		var in struct {
			Key          string `json:"priority_key"`
			Value        string `json:"priority_value"`
			Context      string `json:"context"`
			FeedbackText string `json:"feedback_text"`
			SourceQuery  string `json:"source_query"`
		}
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return toolError(err)
		}
		if in.Key == "" || in.Value == "" {
			return toolError(fmt.Errorf("priority_key and priority_value are required"))
		}
		if in.SourceQuery == "" {
			in.SourceQuery = t.query
		}
		err := a.prefs.UpsertPreference(ctx, &domain.Preference{
			UserID:       t.key.UserID,
			Key:          in.Key,
			Value:        in.Value,
			Context:      in.Context,
			FeedbackText: in.FeedbackText,
			SourceQuery:  in.SourceQuery,
		})
		if err != nil {
			return toolError(err)
		}
		a.logger.Info("Updated user preference", "user_id", t.key.UserID, "key", in.Key, "value", in.Value)
		return fmt.Sprintf("Preference saved: %s = %s", in.Key, in.Value)

	case ToolRewriteUserQuery:
		var in struct {
			UserInput string `json:"user_input"`
			DBSchema  string `json:"db_schema"`
		}
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return toolError(err)
		}
		out, err := a.ask(ctx, fmt.Sprintf(rewritePrompt, in.UserInput, in.DBSchema))
		if err != nil {
			return toolError(err)
		}
		return strings.TrimSpace(out)

	case ToolEvaluateSQLResult:
		var in struct {
			UserInput string `json:"user_input"`
			SQLQuery  string `json:"sql_query"`
			Result    string `json:"result"`
			DBSchema  string `json:"db_schema"`
		}
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return toolError(err)
		}
		out, err := a.ask(ctx, fmt.Sprintf(evaluatePrompt, in.UserInput, in.SQLQuery, in.Result, in.DBSchema))
		if err != nil {
			return toolError(err)
		}
		return normalizeEvaluation(out)

	default:
		return toolError(fmt.Errorf("unknown tool %q", call.Function.Name))
	}
}

func (a *Agent) getSchema(ctx context.Context, table string) string {
	if table == "" {
		schema, err := a.db.Schema(ctx)
		if err != nil {
			return toolError(err)
		}
		return toolJSON(map[string]string{"schema_description": schema})
	}
	schema, err := a.db.Schema(ctx, table)
	if err != nil {
		return toolError(err)
	}
	return toolJSON(map[string]string{"schema_description": hospitaldb.ColumnLines(schema)})
}

func (a *Agent) runSQL(ctx context.Context, t *turn, query string) string {
	a.logger.Info("Running SQL query", "user_id", t.key.UserID, "session_id", t.key.SessionID, "query", query)
	res, err := a.db.Query(ctx, query)
	if err != nil {
		a.logger.Warn("SQL execution error", "error", err)
		return toolError(err)
	}
	t.ranSQL = true
	t.lastSQL = query
	t.lastResult = res
	return toolJSON(map[string]any{"raw_result": res})
}

func (a *Agent) getPriorities(ctx context.Context, userID string) string {
	prefs, err := a.prefs.GetPreferences(ctx, userID)
	if err != nil {
		return toolError(err)
	}
	out := make(map[string]string, len(prefs))
	for _, p := range prefs {
		out[p.Key] = p.Value
	}
	return toolJSON(out)
}

// normalizeEvaluation maps free-form model output onto Correct or Partial.
func normalizeEvaluation(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(strings.Trim(s, `"'.* `), "correct") {
		return EvaluationCorrect
	}
	return EvaluationPartial
}

func toolJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return toolError(err)
	}
	return string(b)
}

func toolError(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}
