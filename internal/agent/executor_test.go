package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/sqlchat/internal/domain"
)

var testKey = domain.SessionKey{AppName: "app", UserID: "u1", SessionID: "s1"}

// scriptedRuntime answers each Submit with the next scripted step.
type scriptedRuntime struct {
	mu       sync.Mutex
	steps    []func() ([]*domain.Event, error)
	messages []domain.Content
}

func (r *scriptedRuntime) Submit(_ context.Context, _ domain.SessionKey, msg domain.Content) iter.Seq2[*domain.Event, error] {
	r.mu.Lock()
	idx := len(r.messages)
	r.messages = append(r.messages, msg)
	step := r.steps[len(r.steps)-1]
	if idx < len(r.steps) {
		step = r.steps[idx]
	}
	r.mu.Unlock()

	return func(yield func(*domain.Event, error) bool) {
		events, err := step()
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

func (r *scriptedRuntime) submitted() []domain.Content {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Content(nil), r.messages...)
}

func answer(text string) func() ([]*domain.Event, error) {
	return func() ([]*domain.Event, error) {
		return []*domain.Event{
			{ID: "1", Author: "sql_agent", ToolName: "run_sql_query"},
			{ID: "2", Author: "sql_agent", Final: true, Content: &domain.Content{Role: domain.RoleModel, Parts: []domain.Part{{Text: text}}}},
		}, nil
	}
}

func fail(err error) func() ([]*domain.Event, error) {
	return func() ([]*domain.Event, error) { return nil, err }
}

type countingEnsurer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *countingEnsurer) Ensure(_ context.Context, key domain.SessionKey) (*domain.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return &domain.Session{AppName: key.AppName, UserID: key.UserID, SessionID: key.SessionID}, nil
}

type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func newTestExecutor(rt Runtime, ens SessionEnsurer) (*TurnExecutor, *recordingSleep) {
	e := NewTurnExecutor(rt, ens, TurnExecutorConfig{})
	rs := &recordingSleep{}
	e.sleep = rs.sleep
	return e, rs
}

func TestRunTurnReturnsFinalText(t *testing.T) {
	rt := &scriptedRuntime{steps: []func() ([]*domain.Event, error){answer("There are 50 hospitals.")}}
	ens := &countingEnsurer{}
	e, _ := newTestExecutor(rt, ens)

	got, err := e.RunTurn(context.Background(), testKey, "how many hospitals?")
	require.NoError(t, err)
	assert.Equal(t, "There are 50 hospitals.", got)
	assert.Equal(t, 0, ens.calls)
	require.Len(t, rt.submitted(), 1)
	assert.Equal(t, domain.NewUserContent("how many hospitals?"), rt.submitted()[0])
}

func TestRunTurnNoFinalEventYieldsEmpty(t *testing.T) {
	rt := &scriptedRuntime{steps: []func() ([]*domain.Event, error){
		func() ([]*domain.Event, error) {
			return []*domain.Event{{ID: "1", Author: "sql_agent", ToolName: "get_schema"}, nil}, nil
		},
	}}
	e, _ := newTestExecutor(rt, &countingEnsurer{})

	got, err := e.RunTurn(context.Background(), testKey, "hello")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunTurnRecoversFromSessionLoss(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"sentinel", ErrSessionNotFound},
		{"wrapped sentinel", fmt.Errorf("run stream error: %w", ErrSessionNotFound)},
		{"text marker", errors.New("ValueError: Session Not Found: s1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &scriptedRuntime{steps: []func() ([]*domain.Event, error){fail(tt.err), answer("recovered")}}
			ens := &countingEnsurer{}
			e, rs := newTestExecutor(rt, ens)

			got, err := e.RunTurn(context.Background(), testKey, "top suppliers")
			require.NoError(t, err)
			assert.Equal(t, "recovered", got)
			assert.Equal(t, 1, ens.calls)
			assert.Equal(t, []time.Duration{DefaultRecoveryDelay, DefaultSettleDelay}, rs.delays)

			msgs := rt.submitted()
			require.Len(t, msgs, 2)
			assert.Equal(t, msgs[0], msgs[1])
		})
	}
}

func TestRunTurnAttemptBudget(t *testing.T) {
	rt := &scriptedRuntime{steps: []func() ([]*domain.Event, error){fail(ErrSessionNotFound)}}
	ens := &countingEnsurer{}
	e, rs := newTestExecutor(rt, ens)

	_, err := e.RunTurn(context.Background(), testKey, "q")
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.Len(t, rt.submitted(), DefaultMaxAttempts)
	assert.Equal(t, DefaultMaxAttempts-1, ens.calls)
	assert.Equal(t, []time.Duration{
		DefaultRecoveryDelay, DefaultSettleDelay,
		2 * DefaultRecoveryDelay, DefaultSettleDelay,
	}, rs.delays)
}

func TestRunTurnPropagatesOtherErrors(t *testing.T) {
	boom := errors.New("model quota exceeded")
	rt := &scriptedRuntime{steps: []func() ([]*domain.Event, error){fail(boom), answer("unused")}}
	ens := &countingEnsurer{}
	e, rs := newTestExecutor(rt, ens)

	_, err := e.RunTurn(context.Background(), testKey, "q")
	assert.Same(t, boom, err)
	assert.Len(t, rt.submitted(), 1)
	assert.Equal(t, 0, ens.calls)
	assert.Empty(t, rs.delays)
}

func TestRunTurnAbortsWhenRecreateFails(t *testing.T) {
	storeDown := errors.New("store unavailable")
	rt := &scriptedRuntime{steps: []func() ([]*domain.Event, error){fail(ErrSessionNotFound), answer("unused")}}
	ens := &countingEnsurer{err: storeDown}
	e, _ := newTestExecutor(rt, ens)

	_, err := e.RunTurn(context.Background(), testKey, "q")
	require.ErrorIs(t, err, storeDown)
	assert.Len(t, rt.submitted(), 1)
	assert.Equal(t, 1, ens.calls)
}

func TestRunTurnHonoursCancellation(t *testing.T) {
	rt := &scriptedRuntime{steps: []func() ([]*domain.Event, error){fail(ErrSessionNotFound)}}
	e := NewTurnExecutor(rt, &countingEnsurer{}, TurnExecutorConfig{RecoveryDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.RunTurn(ctx, testKey, "q")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, rt.submitted(), 1)
}

func TestIsSessionNotFound(t *testing.T) {
	assert.False(t, IsSessionNotFound(nil))
	assert.False(t, IsSessionNotFound(errors.New("connection refused")))
	assert.True(t, IsSessionNotFound(ErrSessionNotFound))
	assert.True(t, IsSessionNotFound(errors.New("SESSION NOT FOUND")))
}
