package mcp

import (
	"errors"
	"fmt"

	"github.com/rpggio/atelier/internal/domain/operation"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/repository"
)

// APIError represents an MCP error response.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.RecoveryHint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.RecoveryHint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) CodeValue() string {
	return e.Code
}

func (e *APIError) MessageValue() string {
	return e.Message
}

// MapError maps domain errors to MCP error codes.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return &APIError{Code: "SESSION_NOT_FOUND", Message: "session not found", RecoveryHint: "Check the session id or create a new session"}
	case errors.Is(err, session.ErrSessionFull):
		return &APIError{Code: "SESSION_FULL", Message: "session is at capacity", RecoveryHint: "Wait for a participant to leave"}
	case errors.Is(err, session.ErrSessionInactive):
		return &APIError{Code: "SESSION_INACTIVE", Message: "session has ended"}
	case errors.Is(err, session.ErrNotInSession):
		return &APIError{Code: "NOT_IN_SESSION", Message: "user is not in a session", RecoveryHint: "Call join_session first"}
	case errors.Is(err, session.ErrNotParticipant):
		return &APIError{Code: "NOT_A_PARTICIPANT", Message: "user is not an active participant", RecoveryHint: "Call join_session first"}
	case errors.Is(err, session.ErrPermissionDenied):
		return &APIError{Code: "PERMISSION_DENIED", Message: "role lacks the required permission"}
	case errors.Is(err, operation.ErrUnknownType), errors.Is(err, operation.ErrInvalidPayload):
		return &APIError{Code: "INVALID_OPERATION", Message: err.Error()}
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, repository.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: err.Error()}
	case errors.Is(err, repository.ErrNotFound):
		return &APIError{Code: "NOT_FOUND", Message: "no archive for this session", RecoveryHint: "Call export_session first"}
	case errors.Is(err, repository.ErrConflict):
		return &APIError{Code: "ARCHIVE_CONFLICT", Message: "archive is ahead of the export"}
	default:
		return nil
	}
}

// toolError returns the coded form of err when one exists.
func toolError(err error) error {
	if apiErr := MapError(err); apiErr != nil {
		return apiErr
	}
	return err
}
