package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rpggio/atelier/internal/domain/operation"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/repository"
)

// ArchiveRepository implements repository.ArchiveRepository for SQLite.
// The operation log is stored row per operation; every other part of the
// export is kept as one JSON document.
type ArchiveRepository struct {
	db *DB
}

// NewArchiveRepository creates a new ArchiveRepository
func NewArchiveRepository(db *DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// WriteExport stores an export, replacing the session's previous document.
// The operation log is append-only, so only entries not yet archived are
// inserted.
func (r *ArchiveRepository) WriteExport(ctx context.Context, export *session.Export) error {
	if export == nil || export.SessionInfo.ID == "" {
		return repository.ErrInvalidInput
	}

	doc := *export
	doc.OperationLog = nil
	document, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	info := export.SessionInfo
	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_archives (
			session_id, name, owner_id, active, operations,
			created_at, last_activity, exported_at, document
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active,
			operations = excluded.operations,
			last_activity = excluded.last_activity,
			exported_at = excluded.exported_at,
			document = excluded.document
	`,
		info.ID,
		info.Name,
		info.OwnerID,
		info.Active,
		len(export.OperationLog),
		info.CreatedAt.UTC(),
		info.LastActivity.UTC(),
		export.ExportedAt.UTC(),
		string(document),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert archive: %w", err)
	}

	var archived int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archived_operations WHERE session_id = ?`, info.ID,
	).Scan(&archived); err != nil {
		return fmt.Errorf("failed to count archived operations: %w", err)
	}
	if archived > len(export.OperationLog) {
		return fmt.Errorf("%w: archive holds %d operations, export has %d",
			repository.ErrConflict, archived, len(export.OperationLog))
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO archived_operations (
			session_id, seq, id, user_id, user_name, type, target_id,
			data, timestamp, applied, conflicts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare operation insert: %w", err)
	}
	defer stmt.Close()

	for seq := archived; seq < len(export.OperationLog); seq++ {
		op := export.OperationLog[seq]
		data, err := json.Marshal(op.Data())
		if err != nil {
			return fmt.Errorf("failed to encode operation data: %w", err)
		}
		conflicts := op.Conflicts
		if conflicts == nil {
			conflicts = []string{}
		}
		conflictJSON, err := json.Marshal(conflicts)
		if err != nil {
			return fmt.Errorf("failed to encode conflicts: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			info.ID, seq, op.ID, op.UserID, op.UserName, string(op.Type()), op.TargetID,
			string(data), op.Timestamp, op.Applied, string(conflictJSON),
		); err != nil {
			if isUniqueViolation(err) {
				return repository.ErrConflict
			}
			return fmt.Errorf("failed to insert operation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}
	return nil
}

// Get loads the latest export of a session
func (r *ArchiveRepository) Get(ctx context.Context, sessionID string) (*session.Export, error) {
	var document string
	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM session_archives WHERE session_id = ?`, sessionID,
	).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}

	var export session.Export
	if err := json.Unmarshal([]byte(document), &export); err != nil {
		return nil, fmt.Errorf("failed to decode archive: %w", err)
	}

	ops, err := r.operations(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	export.OperationLog = ops
	return &export, nil
}

// List returns archive summaries, most recently exported first
func (r *ArchiveRepository) List(ctx context.Context, opts repository.ListArchivesOptions) ([]repository.ArchiveSummary, error) {
	query := `
		SELECT session_id, name, owner_id, active, operations, last_activity, exported_at
		FROM session_archives
	`
	args := []any{}
	if opts.OwnerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, opts.OwnerID)
	}
	query += " ORDER BY exported_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	defer rows.Close()

	summaries := []repository.ArchiveSummary{}
	for rows.Next() {
		var s repository.ArchiveSummary
		if err := rows.Scan(
			&s.SessionID,
			&s.Name,
			&s.OwnerID,
			&s.Active,
			&s.Operations,
			&s.LastActivity,
			&s.ExportedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan archive: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archive rows: %w", err)
	}
	return summaries, nil
}

func (r *ArchiveRepository) operations(ctx context.Context, sessionID string) ([]*operation.Operation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, user_name, type, target_id, data, timestamp, applied, conflicts
		FROM archived_operations
		WHERE session_id = ?
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived operations: %w", err)
	}
	defer rows.Close()

	ops := []*operation.Operation{}
	for rows.Next() {
		var (
			op           operation.Operation
			typ          string
			data         string
			conflictJSON string
		)
		if err := rows.Scan(
			&op.ID,
			&op.UserID,
			&op.UserName,
			&typ,
			&op.TargetID,
			&data,
			&op.Timestamp,
			&op.Applied,
			&conflictJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan archived operation: %w", err)
		}

		t, err := operation.ParseType(typ)
		if err != nil {
			return nil, err
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(data), &fields); err != nil {
			return nil, fmt.Errorf("failed to decode operation data: %w", err)
		}
		op.Payload, err = operation.Decode(t, fields)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(conflictJSON), &op.Conflicts); err != nil {
			return nil, fmt.Errorf("failed to decode conflicts: %w", err)
		}
		op.SessionID = sessionID
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archived operations: %w", err)
	}
	return ops, nil
}
