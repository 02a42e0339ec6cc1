package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriterDestination writes exports as indented JSON to a writer.
type WriterDestination struct {
	W io.Writer
}

// WriteExport encodes export to the writer.
func (d WriterDestination) WriteExport(_ context.Context, export *Export) error {
	enc := json.NewEncoder(d.W)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

// DirDestination writes one JSON file per session into a directory,
// replacing the previous export of the same session.
type DirDestination struct {
	Dir string
}

// WriteExport writes <dir>/<session id>.json atomically.
func (d DirDestination) WriteExport(ctx context.Context, export *Export) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("creating export dir: %w", err)
	}
	tmp, err := os.CreateTemp(d.Dir, export.SessionInfo.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := (WriterDestination{W: tmp}).WriteExport(ctx, export); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(d.Dir, export.SessionInfo.ID+".json"))
}
