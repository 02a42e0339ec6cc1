package mocks

import (
	"context"

	"github.com/rpggio/atelier/internal/domain/activity"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/repository"
	"github.com/stretchr/testify/mock"
)

// ActivityRepository is a mock for repository.ActivityRepository.
type ActivityRepository struct {
	mock.Mock
}

func (m *ActivityRepository) Log(ctx context.Context, entry *activity.ActivityEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *ActivityRepository) List(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]activity.ActivityEntry); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// ArchiveRepository is a mock for repository.ArchiveRepository.
type ArchiveRepository struct {
	mock.Mock
}

func (m *ArchiveRepository) WriteExport(ctx context.Context, export *session.Export) error {
	args := m.Called(ctx, export)
	return args.Error(0)
}

func (m *ArchiveRepository) Get(ctx context.Context, sessionID string) (*session.Export, error) {
	args := m.Called(ctx, sessionID)
	if export, ok := args.Get(0).(*session.Export); ok {
		return export, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ArchiveRepository) List(ctx context.Context, opts repository.ListArchivesOptions) ([]repository.ArchiveSummary, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]repository.ArchiveSummary); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}
