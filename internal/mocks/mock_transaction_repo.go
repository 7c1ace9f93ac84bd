package mocks

import (
	"context"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockTransactionRepo struct {
	mock.Mock
	domain.TransactionRepository
}

func (m *MockTransactionRepo) Create(ctx context.Context, txn *domain.Transaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockTransactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	args := m.Called(ctx, id)
	txn, _ := args.Get(0).(*domain.Transaction)
	return txn, args.Error(1)
}

func (m *MockTransactionRepo) GetByProviderID(ctx context.Context, driver, providerID string) (*domain.Transaction, error) {
	args := m.Called(ctx, driver, providerID)
	txn, _ := args.Get(0).(*domain.Transaction)
	return txn, args.Error(1)
}

func (m *MockTransactionRepo) UpdateStatus(ctx context.Context, txn *domain.Transaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockTransactionRepo) RecordRefund(ctx context.Context, txn *domain.Transaction, refund *domain.Refund) (*domain.Transaction, error) {
	args := m.Called(ctx, txn, refund)
	updated, _ := args.Get(0).(*domain.Transaction)
	return updated, args.Error(1)
}

func (m *MockTransactionRepo) MarkRefundSucceeded(ctx context.Context, refundID string) (*domain.Transaction, error) {
	args := m.Called(ctx, refundID)
	updated, _ := args.Get(0).(*domain.Transaction)
	return updated, args.Error(1)
}

func (m *MockTransactionRepo) ListRefunds(ctx context.Context, transactionID string) ([]domain.Refund, error) {
	args := m.Called(ctx, transactionID)
	refunds, _ := args.Get(0).([]domain.Refund)
	return refunds, args.Error(1)
}

func (m *MockTransactionRepo) ReleaseRefund(ctx context.Context, refundID string, status domain.RefundStatus) (*domain.Transaction, error) {
	args := m.Called(ctx, refundID, status)
	updated, _ := args.Get(0).(*domain.Transaction)
	return updated, args.Error(1)
}
