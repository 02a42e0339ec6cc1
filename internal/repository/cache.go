package repository

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rpggio/atelier/internal/domain/session"
)

// CachedArchive keeps the most recently read archives in memory. Returned
// exports are shared between callers and must not be modified.
type CachedArchive struct {
	next  ArchiveRepository
	cache *lru.Cache[string, *session.Export]
}

// NewCachedArchive wraps next with an LRU cache holding up to size archives.
func NewCachedArchive(next ArchiveRepository, size int) (*CachedArchive, error) {
	cache, err := lru.New[string, *session.Export](size)
	if err != nil {
		return nil, fmt.Errorf("creating archive cache: %w", err)
	}
	return &CachedArchive{next: next, cache: cache}, nil
}

// WriteExport writes through and drops the cached copy.
func (c *CachedArchive) WriteExport(ctx context.Context, export *session.Export) error {
	if err := c.next.WriteExport(ctx, export); err != nil {
		return err
	}
	c.cache.Remove(export.SessionInfo.ID)
	return nil
}

func (c *CachedArchive) Get(ctx context.Context, sessionID string) (*session.Export, error) {
	if export, ok := c.cache.Get(sessionID); ok {
		return export, nil
	}
	export, err := c.next.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(sessionID, export)
	return export, nil
}

func (c *CachedArchive) List(ctx context.Context, opts ListArchivesOptions) ([]ArchiveSummary, error) {
	return c.next.List(ctx, opts)
}
