package session

import (
	"context"
	"time"
)

// RunSweeper deactivates idle sessions every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.CleanupInactiveSessions(ctx, maxAge); n > 0 {
				e.logger.Info("idle sessions swept", "count", n)
			}
		}
	}
}

// RunAutoSave exports every session changed since its last save every
// interval until ctx is done. A final pass runs on shutdown.
func (e *Engine) RunAutoSave(ctx context.Context, interval time.Duration, dest Destination) {
	if interval <= 0 || dest == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.SaveAll(context.WithoutCancel(ctx), dest)
			return
		case <-ticker.C:
			e.SaveAll(ctx, dest)
		}
	}
}

// SaveAll exports every session with unsaved changes and returns how many
// exports succeeded.
func (e *Engine) SaveAll(ctx context.Context, dest Destination) int {
	saved := 0
	for _, sessionID := range e.unsaved() {
		if err := e.ExportSessionData(ctx, sessionID, dest); err != nil {
			continue
		}
		saved++
	}
	return saved
}
