package session

import (
	"context"
	"fmt"

	"github.com/rpggio/atelier/internal/domain/operation"
)

// GetSessionState returns a snapshot of the session with its most recent
// operations. Repeated calls without intervening changes return equal values.
func (e *Engine) GetSessionState(sessionID string) (*State, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return e.state(s), nil
}

// state snapshots s. Callers hold s.mu.
func (e *Engine) state(s *liveSession) *State {
	start := len(s.log) - e.recentOps
	if start < 0 {
		start = 0
	}
	recent := make([]*operation.Operation, 0, len(s.log)-start)
	for _, op := range s.log[start:] {
		recent = append(recent, op.Clone())
	}

	return &State{
		Info:             s.info(),
		Participants:     s.participantList(),
		SharedState:      s.shared.clone(),
		RecentOperations: recent,
	}
}

// Export builds the full audit document of a session.
func (e *Engine) Export(sessionID string) (*Export, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	export, _ := e.export(s)
	return export, nil
}

// ExportSessionData writes the session's audit document to dest. Nothing is
// retried; the caller decides what to do with a failure.
func (e *Engine) ExportSessionData(ctx context.Context, sessionID string, dest Destination) error {
	if dest == nil {
		return fmt.Errorf("%w: destination is required", ErrInvalidInput)
	}
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	export, revision := e.export(s)
	s.mu.Unlock()

	if err := dest.WriteExport(ctx, export); err != nil {
		e.logger.Error("export failed", "session_id", sessionID, "error", err)
		return fmt.Errorf("writing export: %w", err)
	}

	s.mu.Lock()
	if revision > s.savedRevision {
		s.savedRevision = revision
	}
	s.mu.Unlock()

	e.logger.Info("session exported", "session_id", sessionID, "operations", len(export.OperationLog))
	return nil
}

// export snapshots s. Callers hold s.mu.
func (e *Engine) export(s *liveSession) (*Export, uint64) {
	log := make([]*operation.Operation, 0, len(s.log))
	for _, op := range s.log {
		log = append(log, op.Clone())
	}
	return &Export{
		SessionInfo: ExportInfo{
			Info:     s.info(),
			Settings: s.settings.clone(),
		},
		Participants: s.participantList(),
		SharedState:  s.shared.clone(),
		OperationLog: log,
		ExportedAt:   e.clock(),
	}, s.revision
}

func (e *Engine) unsaved() []string {
	var ids []string
	for _, s := range e.snapshot() {
		s.mu.Lock()
		if s.revision > s.savedRevision {
			ids = append(ids, s.id)
		}
		s.mu.Unlock()
	}
	return ids
}
