package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/sqlchat/internal/domain"
	"github.com/ashureev/sqlchat/internal/session"
	"github.com/ashureev/sqlchat/internal/store"
)

const testApp = "persistent_chatbot_app"

type testServer struct {
	router  chi.Router
	repo    *store.SQLiteStore
	runtime *scriptedRuntime
}

func newTestServer(t *testing.T, debug bool, limiter *RateLimiter, steps ...func() ([]*domain.Event, error)) *testServer {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	if len(steps) == 0 {
		steps = append(steps, answer("default answer"))
	}
	rt := &scriptedRuntime{steps: steps}
	guarantor := session.NewGuarantor(repo, session.WithBaseDelay(0))
	executor := NewTurnExecutor(rt, guarantor, TurnExecutorConfig{})
	executor.sleep = (&recordingSleep{}).sleep

	svc := NewService(ServiceConfig{
		AppName:     testApp,
		Sessions:    repo,
		Preferences: repo,
		Ensurer:     guarantor,
		Executor:    executor,
	})
	h := NewHandler(svc, HandlerConfig{Debug: debug, RateLimiter: limiter, RequestTimeout: 5 * time.Second})
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return &testServer{router: r, repo: repo, runtime: rt}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(method, path, &buf))
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHandleEnsureSession(t *testing.T) {
	s := newTestServer(t, false, nil)

	for range 2 {
		w := s.do(t, http.MethodPost, "/sessions/ensure", EnsureSessionRequest{UserID: "u1", SessionID: "s1"})
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeBody[EnsureSessionResponse](t, w)
		assert.Equal(t, "ok", resp.Status)
		assert.True(t, resp.SessionExists)
		assert.Equal(t, "s1", resp.SessionID)
		assert.Equal(t, testApp, resp.SessionInfo.AppName)
		assert.Equal(t, "u1", resp.SessionInfo.UserID)
	}
}

func TestHandleEnsureSessionMissingIDs(t *testing.T) {
	s := newTestServer(t, false, nil)

	w := s.do(t, http.MethodPost, "/sessions/ensure", EnsureSessionRequest{UserID: "u1"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeBody[map[string]string](t, w)["error"], "invalid argument")
}

func TestHandleHistory(t *testing.T) {
	s := newTestServer(t, false, nil)
	key := domain.SessionKey{AppName: testApp, UserID: "u1", SessionID: "s1"}

	_, err := s.repo.CreateSession(context.Background(), key, map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "parts": []any{map[string]any{"text": "how many hospitals?"}}},
			map[string]any{"sender": "bot", "text": "50"},
		},
	})
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/history/u1/s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []domain.TranscriptEntry{
		{Sender: domain.SenderUser, Text: "how many hospitals?"},
		{Sender: domain.SenderBot, Text: "50"},
	}, decodeBody[HistoryResponse](t, w).Messages)
}

func TestHandleHistoryNeverFails(t *testing.T) {
	s := newTestServer(t, false, nil)

	w := s.do(t, http.MethodGet, "/history/ghost/none", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"messages":[]}`, w.Body.String())

	require.NoError(t, s.repo.Close())
	w = s.do(t, http.MethodGet, "/history/u1/s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"messages":[]}`, w.Body.String())
}

func TestHandleChat(t *testing.T) {
	s := newTestServer(t, false, nil, answer("Ruby Hall Clinic has the most ICU beds."))

	w := s.do(t, http.MethodPost, "/chat", ChatRequest{UserQuery: "most ICU beds?", UserID: "u1", SessionID: "s1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ruby Hall Clinic has the most ICU beds.", decodeBody[ChatResponse](t, w).Response)

	sess, err := s.repo.GetSession(context.Background(), domain.SessionKey{AppName: testApp, UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestHandleChatRecoversLostSession(t *testing.T) {
	s := newTestServer(t, false, nil, fail(ErrSessionNotFound), answer("second try"))

	w := s.do(t, http.MethodPost, "/chat", ChatRequest{UserQuery: "q", UserID: "u1", SessionID: "s1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "second try", decodeBody[ChatResponse](t, w).Response)
	assert.Len(t, s.runtime.submitted(), 2)
}

func TestHandleChatRequiresIDs(t *testing.T) {
	s := newTestServer(t, false, nil)

	w := s.do(t, http.MethodPost, "/chat", ChatRequest{UserQuery: "q", UserID: "u1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.runtime.submitted())
}

func TestHandleChatErrors(t *testing.T) {
	boom := errors.New("model quota exceeded")

	t.Run("production hides details", func(t *testing.T) {
		s := newTestServer(t, false, nil, fail(boom))
		w := s.do(t, http.MethodPost, "/chat", ChatRequest{UserQuery: "q", UserID: "u1", SessionID: "s1"})
		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"Internal server error occurred"}`, w.Body.String())
	})

	t.Run("debug includes traceback", func(t *testing.T) {
		s := newTestServer(t, true, nil, fail(boom))
		w := s.do(t, http.MethodPost, "/chat", ChatRequest{UserQuery: "q", UserID: "u1", SessionID: "s1"})
		require.Equal(t, http.StatusInternalServerError, w.Code)

		resp := decodeBody[ChatErrorResponse](t, w)
		assert.Equal(t, "model quota exceeded", resp.Error)
		assert.True(t, strings.Contains(resp.Traceback, "model quota exceeded"))
		assert.Contains(t, resp.Traceback, ".go:")
	})
}

func TestHandleChatRateLimited(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1, time.Minute)
	s := newTestServer(t, false, limiter)

	w := s.do(t, http.MethodPost, "/chat", ChatRequest{UserQuery: "q", UserID: "u1", SessionID: "s1"})
	require.Equal(t, http.StatusOK, w.Code)

	// Rotating the session id does not reset the user's bucket.
	w = s.do(t, http.MethodPost, "/chat", ChatRequest{UserQuery: "q", UserID: "u1", SessionID: "s2"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	w = s.do(t, http.MethodPost, "/chat", ChatRequest{UserQuery: "q", UserID: "u2", SessionID: "s1"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleClearSession(t *testing.T) {
	s := newTestServer(t, false, nil)
	key := domain.SessionKey{AppName: testApp, UserID: "u1", SessionID: "s1"}
	_, err := s.repo.CreateSession(context.Background(), key, nil)
	require.NoError(t, err)

	w := s.do(t, http.MethodDelete, "/sessions/u1/s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"cleared"}`, w.Body.String())

	sess, err := s.repo.GetSession(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestHandlePreferences(t *testing.T) {
	s := newTestServer(t, false, nil)
	require.NoError(t, s.repo.UpsertPreference(context.Background(), &domain.Preference{
		UserID: "u1", Key: "hospital_ranking", Value: "icu_beds",
	}))

	w := s.do(t, http.MethodGet, "/preferences/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"hospital_ranking": "icu_beds"}, decodeBody[PreferencesResponse](t, w).Preferences)
}

func TestHandlePreferencesRejectsInvalidUserID(t *testing.T) {
	s := newTestServer(t, false, nil)

	w := s.do(t, http.MethodGet, "/preferences/bad$id", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody[map[string]string](t, w)["error"], "invalid identifier")
}

func TestHandleDBTestOnlyInDebug(t *testing.T) {
	s := newTestServer(t, false, nil)
	w := s.do(t, http.MethodGet, "/debug/db-test", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	s = newTestServer(t, true, nil)
	w = s.do(t, http.MethodGet, "/debug/db-test", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[DBTestResponse](t, w)
	assert.Equal(t, "connected", resp.DBStatus)
	assert.True(t, strings.HasPrefix(resp.TestSessionID, "test_session_"))
}

func TestHandleOversizedBody(t *testing.T) {
	s := newTestServer(t, false, nil)
	big := ChatRequest{UserQuery: strings.Repeat("x", defaultMaxRequestBodySize+1), UserID: "u1", SessionID: "s1"}

	w := s.do(t, http.MethodPost, "/chat", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
