package agent

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/ashureev/sqlchat/internal/domain"
)

// ErrSessionNotFound is returned by a Runtime that cannot locate the session
// a message was submitted to.
var ErrSessionNotFound = errors.New("session not found")

// sessionNotFoundMarker identifies session loss in errors that crossed a
// process boundary and lost their type.
const sessionNotFoundMarker = "session not found"

// Runtime runs one conversational turn and streams the resulting events.
// This interface is implemented by the gRPC client and the in-process SQL agent.
type Runtime interface {
	// Submit sends msg to the session identified by key. The sequence ends
	// after the runtime's last event or the first error.
	Submit(ctx context.Context, key domain.SessionKey, msg domain.Content) iter.Seq2[*domain.Event, error]
}

// SessionEnsurer guarantees a durable session exists for a key.
type SessionEnsurer interface {
	Ensure(ctx context.Context, key domain.SessionKey) (*domain.Session, error)
}

// IsSessionNotFound reports whether err means the runtime lost track of the session.
func IsSessionNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), sessionNotFoundMarker)
}

// Ensure GrpcRuntime implements Runtime.
var _ Runtime = (*GrpcRuntime)(nil)
