package mocks

import (
	"context"

	"docmerge/internal/merge"
	"docmerge/internal/model"
	"docmerge/internal/resolve"
	"docmerge/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockRecordService struct {
	mock.Mock
}

func (m *MockRecordService) Create(ctx context.Context, entity string, sub service.Submission) (*model.Record, error) {
	args := m.Called(ctx, entity, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

func (m *MockRecordService) Update(ctx context.Context, entity, id string, sub service.Submission, mode merge.Mode) (*model.Record, error) {
	args := m.Called(ctx, entity, id, sub, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

func (m *MockRecordService) Get(ctx context.Context, entity, id string) (*model.Record, error) {
	args := m.Called(ctx, entity, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

func (m *MockRecordService) List(ctx context.Context, entity string, limit, offset int) (*service.RecordListResult, error) {
	args := m.Called(ctx, entity, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RecordListResult), args.Error(1)
}

func (m *MockRecordService) DeleteAttachment(ctx context.Context, entity, id string, ref resolve.Reference) (*model.Record, error) {
	args := m.Called(ctx, entity, id, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

func (m *MockRecordService) Delete(ctx context.Context, entity, id string) error {
	args := m.Called(ctx, entity, id)
	return args.Error(0)
}
