package session

import (
	"context"
	"fmt"
)

// RegisterConnection adds a subscriber to a session's broadcast set and
// returns the registration id used to remove it.
func (e *Engine) RegisterConnection(sessionID string, sub Subscriber) (string, error) {
	return e.Subscribe(sessionID, sub, nil)
}

// Subscribe registers sub like RegisterConnection. When initial is set it is
// called with the session state while the registration is made, before any
// event reaches sub, so the state and the following events neither overlap
// nor leave a gap. initial must not call back into the engine.
func (e *Engine) Subscribe(sessionID string, sub Subscriber, initial func(*State)) (string, error) {
	if sub == nil {
		return "", fmt.Errorf("%w: subscriber is required", ErrInvalidInput)
	}
	s, err := e.lookup(sessionID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return "", ErrSessionInactive
	}
	id := e.newID()
	s.subscribers = append(s.subscribers, subscription{id: id, sub: sub})
	if initial != nil {
		initial(e.state(s))
	}
	e.logger.Debug("connection registered", "session_id", sessionID, "subscription_id", id)
	return id, nil
}

// UnregisterConnection removes a subscriber. It reports whether the
// registration existed.
func (e *Engine) UnregisterConnection(sessionID, subscriptionID string) bool {
	s, err := e.lookup(sessionID)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, reg := range s.subscribers {
		if reg.id == subscriptionID {
			s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
			e.logger.Debug("connection unregistered", "session_id", sessionID, "subscription_id", subscriptionID)
			return true
		}
	}
	return false
}

// broadcast delivers ev to the session's subscribers and then to the engine
// observers. Callers hold s.mu.
func (e *Engine) broadcast(ctx context.Context, s *liveSession, ev Event) {
	for _, reg := range s.subscribers {
		e.deliver(ctx, reg.sub, ev)
	}

	e.obsMu.RLock()
	observers := e.observers
	e.obsMu.RUnlock()
	for _, obs := range observers {
		e.deliver(ctx, obs, ev)
	}
}

func (e *Engine) deliver(ctx context.Context, sub Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("broadcast panicked",
				"session_id", ev.SessionID,
				"event", ev.Type,
				"panic", r)
		}
	}()

	if err := sub.Notify(ctx, ev); err != nil {
		e.logger.Warn("broadcast failed",
			"session_id", ev.SessionID,
			"event", ev.Type,
			"error", err)
	}
}
