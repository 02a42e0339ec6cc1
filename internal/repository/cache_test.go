package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/repository"
	"github.com/rpggio/atelier/internal/repository/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func exportOf(id string) *session.Export {
	return &session.Export{SessionInfo: session.ExportInfo{Info: session.Info{ID: id, Name: "Studio"}}}
}

func TestCachedArchive_ServesRepeatedReads(t *testing.T) {
	ctx := context.Background()
	next := &mocks.ArchiveRepository{}
	cached, err := repository.NewCachedArchive(next, 2)
	require.NoError(t, err)

	next.On("Get", mock.Anything, "s1").Return(exportOf("s1"), nil).Once()

	first, err := cached.Get(ctx, "s1")
	require.NoError(t, err)
	second, err := cached.Get(ctx, "s1")
	require.NoError(t, err)
	require.Same(t, first, second)

	next.AssertExpectations(t)
}

func TestCachedArchive_WriteInvalidates(t *testing.T) {
	ctx := context.Background()
	next := &mocks.ArchiveRepository{}
	cached, err := repository.NewCachedArchive(next, 2)
	require.NoError(t, err)

	next.On("Get", mock.Anything, "s1").Return(exportOf("s1"), nil).Twice()
	next.On("WriteExport", mock.Anything, mock.Anything).Return(nil).Once()

	_, err = cached.Get(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, cached.WriteExport(ctx, exportOf("s1")))
	_, err = cached.Get(ctx, "s1")
	require.NoError(t, err)

	next.AssertExpectations(t)
}

func TestCachedArchive_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	next := &mocks.ArchiveRepository{}
	cached, err := repository.NewCachedArchive(next, 2)
	require.NoError(t, err)

	next.On("Get", mock.Anything, "gone").Return(nil, repository.ErrNotFound).Twice()
	next.On("WriteExport", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	next.On("List", mock.Anything, repository.ListArchivesOptions{Limit: 5}).Return([]repository.ArchiveSummary{{SessionID: "s1"}}, nil).Once()

	for i := 0; i < 2; i++ {
		_, err := cached.Get(ctx, "gone")
		require.ErrorIs(t, err, repository.ErrNotFound)
	}
	require.Error(t, cached.WriteExport(ctx, exportOf("s1")))

	list, err := cached.List(ctx, repository.ListArchivesOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, list, 1)

	next.AssertExpectations(t)
}

func TestNewCachedArchive_RejectsZeroSize(t *testing.T) {
	_, err := repository.NewCachedArchive(&mocks.ArchiveRepository{}, 0)
	require.Error(t, err)
}
