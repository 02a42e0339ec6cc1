package session

import "errors"

var (
	// ErrSessionNotFound indicates the session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionFull indicates the session reached its participant limit.
	ErrSessionFull = errors.New("session is full")
	// ErrSessionInactive indicates the session was ended or swept.
	ErrSessionInactive = errors.New("session is not active")
	// ErrNotInSession indicates the user has no active session membership.
	ErrNotInSession = errors.New("user is not in a session")
	// ErrNotParticipant indicates the user is not a current participant.
	ErrNotParticipant = errors.New("user is not a participant")
	// ErrPermissionDenied indicates the participant's role lacks a permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidInput indicates invalid session input.
	ErrInvalidInput = errors.New("invalid session input")
)
