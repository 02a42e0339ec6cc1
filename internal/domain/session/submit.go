package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpggio/atelier/internal/domain/operation"
)

// SubmitOperation submits one edit on behalf of a user and drives it
// through resolution, application, logging and broadcast before returning.
func (e *Engine) SubmitOperation(ctx context.Context, userID, targetID string, payload operation.Payload) (SubmitResult, error) {
	results, err := e.SubmitBatch(ctx, userID, []Edit{{TargetID: targetID, Payload: payload}})
	if err != nil {
		return SubmitResult{}, err
	}
	return results[0], nil
}

// SubmitBatch enqueues several edits from one user and resolves them in a
// single pass. Results follow the order of edits. The batch is rejected as
// a whole if any edit is invalid or not permitted.
func (e *Engine) SubmitBatch(ctx context.Context, userID string, edits []Edit) ([]SubmitResult, error) {
	if len(edits) == 0 {
		return nil, fmt.Errorf("%w: no operations", ErrInvalidInput)
	}
	for i, edit := range edits {
		if edit.Payload == nil {
			return nil, fmt.Errorf("%w: operation %d has no payload", ErrInvalidInput, i)
		}
		if strings.TrimSpace(edit.TargetID) == "" {
			return nil, fmt.Errorf("%w: operation %d has no target", ErrInvalidInput, i)
		}
	}

	sessionID, ok := e.membership(userID)
	if !ok {
		return nil, ErrNotInSession
	}
	s, err := e.lookup(sessionID)
	if err != nil {
		return nil, ErrNotInSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil, ErrSessionInactive
	}
	p := s.participants[userID]
	if p == nil || !p.Active {
		return nil, ErrNotParticipant
	}
	for _, edit := range edits {
		if !s.settings.Allows(p.Role, RequiredPermission(edit.Payload.Type())) {
			return nil, fmt.Errorf("%w: %s requires %s", ErrPermissionDenied, edit.Payload.Type(), RequiredPermission(edit.Payload.Type()))
		}
	}

	submitted := make([]*operation.Operation, 0, len(edits))
	for _, edit := range edits {
		op := &operation.Operation{
			ID:        e.newID(),
			SessionID: s.id,
			UserID:    userID,
			UserName:  p.Name,
			TargetID:  edit.TargetID,
			Payload:   edit.Payload,
			Timestamp: s.stamp(e.clock()),
		}
		submitted = append(submitted, op)
	}
	s.pending = append(s.pending, submitted...)

	rewritten := e.process(ctx, s)

	results := make([]SubmitResult, 0, len(submitted))
	for _, op := range submitted {
		res := SubmitResult{OperationID: op.ID}
		switch {
		case op.Applied:
			res.Status = StatusApplied
			res.Applied = op.Clone()
		case rewritten[op.ID] != nil:
			res.Status = StatusTransformed
			res.Applied = rewritten[op.ID].Clone()
		default:
			res.Status = StatusDropped
		}
		results = append(results, res)
	}
	return results, nil
}

// UpdateCursorPosition submits a cursor move for the user.
func (e *Engine) UpdateCursorPosition(ctx context.Context, userID string, x, y float64) (SubmitResult, error) {
	return e.SubmitOperation(ctx, userID, operation.TargetCursor, operation.CursorMove{
		Position: operation.Point{X: x, Y: y},
	})
}

// AddComment submits a comment on a target.
func (e *Engine) AddComment(ctx context.Context, userID, targetID, text string) (SubmitResult, error) {
	payload, err := operation.Decode(operation.TypeComment, map[string]any{"text": text})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return e.SubmitOperation(ctx, userID, targetID, payload)
}

// process resolves the pending queue, applies and logs the result and
// broadcasts every applied operation. The queue is empty afterwards.
// Callers hold s.mu.
func (e *Engine) process(ctx context.Context, s *liveSession) map[string]*operation.Operation {
	pending := s.pending
	s.pending = nil
	if len(pending) == 0 {
		return nil
	}

	prior := s.history(pending, e.resolver.Window())
	res := e.resolver.Resolve(prior, pending, func() float64 {
		return s.stamp(e.clock())
	})

	for _, op := range res.Dropped {
		e.logger.Info("operation dropped",
			"session_id", s.id,
			"operation_id", op.ID,
			"user_id", op.UserID,
			"target_id", op.TargetID)
	}
	for origID, op := range res.Rewritten {
		e.logger.Debug("conflict resolved",
			"session_id", s.id,
			"operation_id", origID,
			"rewritten_id", op.ID,
			"conflicts", op.Conflicts)
	}

	for _, op := range res.Resolved {
		op.Applied = true
		s.apply(op)
		s.log = append(s.log, op)
		s.remember(op)
	}
	if len(res.Resolved) > 0 {
		s.touch(e.clock())
	}

	for _, op := range res.Resolved {
		e.logger.Debug("operation applied",
			"session_id", s.id,
			"operation_id", op.ID,
			"user_id", op.UserID,
			"type", op.Type())
		e.broadcast(ctx, s, Event{
			Type:      EventOperationApplied,
			SessionID: s.id,
			UserID:    op.UserID,
			UserName:  op.UserName,
			Operation: op.Clone(),
			Timestamp: e.clock(),
		})
	}

	return res.Rewritten
}

// history returns the already applied operations the resolver has to see:
// recent operations on the pending targets that may still fall inside the
// conflict window, plus the delete tombstones of those targets. Operations
// too old to conflict with any pending one are pruned.
func (s *liveSession) history(pending []*operation.Operation, window float64) []*operation.Operation {
	targets := map[string]bool{}
	oldest := pending[0].Timestamp
	for _, op := range pending {
		targets[op.TargetID] = true
		if op.Timestamp < oldest {
			oldest = op.Timestamp
		}
	}

	kept := s.recent[:0]
	for _, op := range s.recent {
		if op.Timestamp > oldest-window {
			kept = append(kept, op)
		}
	}
	s.recent = kept

	var prior []*operation.Operation
	included := map[string]bool{}
	for _, op := range s.recent {
		if targets[op.TargetID] {
			prior = append(prior, op)
			included[op.ID] = true
		}
	}
	for target := range targets {
		if del := s.tombstones[target]; del != nil && !included[del.ID] {
			prior = append(prior, del)
		}
	}
	return prior
}

func (s *liveSession) remember(op *operation.Operation) {
	s.recent = append(s.recent, op)
	if op.Type() == operation.TypeDelete {
		if _, ok := s.tombstones[op.TargetID]; !ok {
			s.tombstones[op.TargetID] = op
		}
	}
}

// apply mutates the shared state for one operation.
func (s *liveSession) apply(op *operation.Operation) {
	switch p := op.Payload.(type) {
	case operation.ParameterChange:
		for key, value := range p.Params {
			s.shared.GenerationParams[key] = operation.CloneValue(value)
		}
	case operation.Update:
		if op.TargetID == operation.TargetTheme {
			s.shared.CurrentTheme = themeValue(p.Fields["value"])
		}
	case operation.MediaUpload:
		s.shared.MediaAssets = append(s.shared.MediaAssets, MediaAsset{
			ID:         op.TargetID,
			Type:       p.MediaType,
			URL:        p.URL,
			UploadedBy: op.UserID,
			Timestamp:  op.Timestamp,
		})
	case operation.Comment:
		s.shared.Comments = append(s.shared.Comments, Comment{
			ID:        op.ID,
			TargetID:  op.TargetID,
			UserID:    op.UserID,
			UserName:  op.UserName,
			Text:      p.Text,
			Timestamp: op.Timestamp,
		})
	case operation.CursorMove:
		if participant := s.participants[op.UserID]; participant != nil {
			participant.CursorPosition = p.Position
		}
	case operation.Selection:
		if participant := s.participants[op.UserID]; participant != nil {
			if len(p.Fields) == 0 {
				participant.Selection = nil
			} else {
				participant.Selection = operation.CloneMap(p.Fields)
			}
		}
	}
}

func themeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
