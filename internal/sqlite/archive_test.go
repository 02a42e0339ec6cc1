package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rpggio/atelier/internal/domain/operation"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/repository"
	"github.com/stretchr/testify/require"
)

func newArchivedEngine(t *testing.T) (*session.Engine, string) {
	t.Helper()
	ctx := context.Background()

	engine := session.NewEngine(nil, session.Options{}, nil)
	sessionID, err := engine.CreateSession(ctx, "Studio", "owner", "Olive", nil)
	require.NoError(t, err)
	require.NoError(t, engine.JoinSession(ctx, sessionID, "u2", "Bea"))

	_, err = engine.SubmitOperation(ctx, "u2", operation.TargetTheme, operation.Update{Fields: map[string]any{"value": "sunset"}})
	require.NoError(t, err)
	_, err = engine.SubmitOperation(ctx, "owner", "shape", operation.Move{Position: operation.Point{X: 3, Y: 4}})
	require.NoError(t, err)
	return engine, sessionID
}

func TestArchiveRepository_WriteGet(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewArchiveRepository(db)

	engine, sessionID := newArchivedEngine(t)
	require.NoError(t, engine.ExportSessionData(ctx, sessionID, repo))

	loaded, err := repo.Get(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, sessionID, loaded.SessionInfo.ID)
	require.Equal(t, "Studio", loaded.SessionInfo.Name)
	require.Equal(t, 10, loaded.SessionInfo.Settings.MaxParticipants)
	require.Len(t, loaded.Participants, 2)
	require.Equal(t, "sunset", loaded.SharedState.CurrentTheme)
	require.Len(t, loaded.OperationLog, 2)

	first := loaded.OperationLog[0]
	require.Equal(t, operation.TypeUpdate, first.Type())
	require.Equal(t, "u2", first.UserID)
	require.Equal(t, "Bea", first.UserName)
	require.Equal(t, sessionID, first.SessionID)
	require.True(t, first.Applied)
	require.Empty(t, first.Conflicts)

	second := loaded.OperationLog[1]
	require.Equal(t, operation.Point{X: 3, Y: 4}, second.Payload.(operation.Move).Position)
}

func TestArchiveRepository_AppendsNewOperations(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewArchiveRepository(db)

	engine, sessionID := newArchivedEngine(t)
	require.NoError(t, engine.ExportSessionData(ctx, sessionID, repo))

	_, err := engine.AddComment(ctx, "u2", "shape", "nice")
	require.NoError(t, err)
	require.NoError(t, engine.ExportSessionData(ctx, sessionID, repo))

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM archived_operations WHERE session_id = ?`, sessionID).Scan(&rows))
	require.Equal(t, 3, rows)

	loaded, err := repo.Get(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, loaded.OperationLog, 3)
	require.Equal(t, operation.TypeComment, loaded.OperationLog[2].Type())
	require.Len(t, loaded.SharedState.Comments, 1)
}

func TestArchiveRepository_RejectsShrunkLog(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewArchiveRepository(db)

	engine, sessionID := newArchivedEngine(t)
	export, err := engine.Export(sessionID)
	require.NoError(t, err)
	require.NoError(t, repo.WriteExport(ctx, export))

	export.OperationLog = export.OperationLog[:1]
	require.ErrorIs(t, repo.WriteExport(ctx, export), repository.ErrConflict)

	require.ErrorIs(t, repo.WriteExport(ctx, nil), repository.ErrInvalidInput)
}

func TestArchiveRepository_GetMissing(t *testing.T) {
	db := NewTestDB(t)
	repo := NewArchiveRepository(db)

	_, err := repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestArchiveRepository_List(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewArchiveRepository(db)

	engine, first := newArchivedEngine(t)
	export, err := engine.Export(first)
	require.NoError(t, err)
	require.NoError(t, repo.WriteExport(ctx, export))

	second, err := engine.CreateSession(ctx, "Other", "owner2", "Pat", nil)
	require.NoError(t, err)
	export, err = engine.Export(second)
	require.NoError(t, err)
	export.ExportedAt = export.ExportedAt.Add(time.Minute)
	require.NoError(t, repo.WriteExport(ctx, export))

	all, err := repo.List(ctx, repository.ListArchivesOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, second, all[0].SessionID)
	require.Equal(t, 2, all[1].Operations)
	require.True(t, all[1].Active)

	mine, err := repo.List(ctx, repository.ListArchivesOptions{OwnerID: "owner2"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, "Other", mine[0].Name)
}
