package mocks

import (
	"context"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockEventStore struct {
	mock.Mock
	domain.EventStore
}

func (m *MockEventStore) MarkProcessed(ctx context.Context, driver, eventID string) (bool, error) {
	args := m.Called(ctx, driver, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventStore) Forget(ctx context.Context, driver, eventID string) error {
	args := m.Called(ctx, driver, eventID)
	return args.Error(0)
}
