package mocks

import (
	"context"

	"docmerge/internal/model"
	"docmerge/internal/repository"
	"github.com/stretchr/testify/mock"
)

type MockRecordRepository struct {
	mock.Mock
}

func (m *MockRecordRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRecordRepository) Create(ctx context.Context, rec *model.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRecordRepository) FindByID(ctx context.Context, entity, id string) (*model.Record, error) {
	args := m.Called(ctx, entity, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

func (m *MockRecordRepository) Update(ctx context.Context, rec *model.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRecordRepository) List(ctx context.Context, entity string, pq repository.PageQuery) (*repository.PageResult[model.Record], error) {
	args := m.Called(ctx, entity, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Record]), args.Error(1)
}

func (m *MockRecordRepository) Delete(ctx context.Context, entity, id string) error {
	args := m.Called(ctx, entity, id)
	return args.Error(0)
}
