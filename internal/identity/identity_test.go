package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		sessionID string
		wantErr   error
	}{
		{"valid", "user_1", "session-abc", nil},
		{"trimmed", "  user_1 ", " s1", nil},
		{"email style", "a.b@example.com", "s:1", nil},
		{"missing user", "", "s1", ErrMissingID},
		{"blank session", "u1", "   ", ErrMissingID},
		{"bad characters", "u1; drop", "s1", ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Normalize(tt.userID, tt.sessionID)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNormalizeUserID(t *testing.T) {
	id, err := NormalizeUserID("  u1 ")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	_, err = NormalizeUserID("")
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = NormalizeUserID("bad$id")
	assert.ErrorIs(t, err, ErrInvalidID)
}
