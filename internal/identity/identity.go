// Package identity validates caller-supplied user and session identifiers.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// ErrMissingID is returned when a required id is empty.
var ErrMissingID = errors.New("user_id and session_id are required")

// ErrInvalidID is returned when an id contains characters outside the allowed set.
var ErrInvalidID = errors.New("invalid identifier")

// Normalize trims both ids and checks them against the allowed pattern.
func Normalize(userID, sessionID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return userID, sessionID, ErrMissingID
	}
	if !idPattern.MatchString(userID) {
		return userID, sessionID, fmt.Errorf("%w: user_id", ErrInvalidID)
	}
	if !idPattern.MatchString(sessionID) {
		return userID, sessionID, fmt.Errorf("%w: session_id", ErrInvalidID)
	}
	return userID, sessionID, nil
}

// NormalizeUserID trims a lone user id and checks it against the allowed pattern.
func NormalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return userID, ErrMissingID
	}
	if !idPattern.MatchString(userID) {
		return userID, fmt.Errorf("%w: user_id", ErrInvalidID)
	}
	return userID, nil
}
