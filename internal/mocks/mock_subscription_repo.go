package mocks

import (
	"context"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockSubscriptionRepo struct {
	mock.Mock
	domain.SubscriptionRepository
}

func (m *MockSubscriptionRepo) Save(ctx context.Context, subscription *domain.Subscription) error {
	args := m.Called(ctx, subscription)
	return args.Error(0)
}

func (m *MockSubscriptionRepo) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	args := m.Called(ctx, id)
	sub, _ := args.Get(0).(*domain.Subscription)
	return sub, args.Error(1)
}
