package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/paygate/internal/domain"
)

const transactionColumns = `id, driver, provider_id, amount, amount_refunded, amount_reserved, currency, status,
	customer_id, metadata, created_at, updated_at, version`

type PostgresTransactionRepository struct {
	db *pgxpool.Pool
}

func NewPostgresTransactionRepository(db *pgxpool.Pool) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{
		db: db,
	}
}

func (p *PostgresTransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id,
			driver,
			provider_id,
			amount,
			amount_refunded,
			currency,
			status,
			customer_id,
			metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at, version
	`

	err := p.db.QueryRow(ctx,
		query,
		txn.ID,
		txn.Driver,
		txn.ProviderID,
		txn.Amount,
		txn.AmountRefunded,
		txn.Currency,
		txn.Status,
		txn.CustomerID,
		metadataOrEmpty(txn.Metadata),
	).Scan(&txn.CreatedAt, &txn.UpdatedAt, &txn.Version)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrEditConflict
		}

		return err
	}

	return nil
}

func (p *PostgresTransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	return scanTransaction(p.db.QueryRow(ctx, query, id))
}

func (p *PostgresTransactionRepository) GetByProviderID(ctx context.Context, driver, providerID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE driver = $1 AND provider_id = $2`

	return scanTransaction(p.db.QueryRow(ctx, query, driver, providerID))
}

// UpdateStatus writes status and metadata under optimistic locking on version.
func (p *PostgresTransactionRepository) UpdateStatus(ctx context.Context, txn *domain.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $1, metadata = $2, updated_at = NOW(), version = version + 1
		WHERE id = $3 AND version = $4
		RETURNING updated_at, version
	`

	err := p.db.QueryRow(ctx,
		query,
		txn.Status,
		metadataOrEmpty(txn.Metadata),
		txn.ID,
		txn.Version,
	).Scan(&txn.UpdatedAt, &txn.Version)

	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrEditConflict
	}

	return err
}

func (p *PostgresTransactionRepository) RecordRefund(
	ctx context.Context,
	txn *domain.Transaction,
	refund *domain.Refund) (*domain.Transaction, error) {

	var updated *domain.Transaction

	err := runInTx(ctx, p.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO refunds (id, transaction_id, status, amount, currency, reason, failure_reason, applied, reserved, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`

		createdAt := refund.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		_, err := tx.Exec(ctx,
			query,
			refund.ID,
			txn.ID,
			refund.Status,
			refund.Amount,
			refund.Currency,
			refund.Reason,
			refund.FailureReason,
			refund.IsSucceeded(),
			refund.IsOpen(),
			createdAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return domain.ErrDuplicateRefund
			}

			return err
		}

		switch {
		case refund.IsSucceeded():
			updated, err = applyRefundAmount(ctx, tx, txn.ID, refund.Amount)
		case refund.IsOpen():
			updated, err = reserveRefundAmount(ctx, tx, txn.ID, refund.Amount)
		default:
			updated, err = selectTransaction(ctx, tx, txn.ID)
		}

		return err
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (p *PostgresTransactionRepository) MarkRefundSucceeded(ctx context.Context, refundID string) (*domain.Transaction, error) {
	var updated *domain.Transaction

	err := runInTx(ctx, p.db, func(tx pgx.Tx) error {
		ref, err := lockRefund(ctx, tx, refundID)
		if err != nil {
			return err
		}

		if ref.applied {
			return domain.ErrDuplicateRefund
		}

		_, err = tx.Exec(ctx,
			`UPDATE refunds SET status = $1, applied = TRUE, reserved = FALSE WHERE id = $2`,
			domain.RefundStatusSucceeded,
			refundID,
		)
		if err != nil {
			return err
		}

		if ref.reserved {
			updated, err = settleReservedAmount(ctx, tx, ref.transactionID, ref.amount)
		} else {
			updated, err = applyRefundAmount(ctx, tx, ref.transactionID, ref.amount)
		}

		return err
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (p *PostgresTransactionRepository) ReleaseRefund(
	ctx context.Context,
	refundID string,
	status domain.RefundStatus) (*domain.Transaction, error) {

	var updated *domain.Transaction

	err := runInTx(ctx, p.db, func(tx pgx.Tx) error {
		ref, err := lockRefund(ctx, tx, refundID)
		if err != nil {
			return err
		}

		if ref.applied {
			return fmt.Errorf("%w: refund %s already succeeded", domain.ErrInvalidTransition, refundID)
		}

		_, err = tx.Exec(ctx,
			`UPDATE refunds SET status = $1, reserved = FALSE WHERE id = $2`,
			status,
			refundID,
		)
		if err != nil {
			return err
		}

		if ref.reserved {
			updated, err = releaseReservedAmount(ctx, tx, ref.transactionID, ref.amount)
		} else {
			updated, err = selectTransaction(ctx, tx, ref.transactionID)
		}

		return err
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (p *PostgresTransactionRepository) ListRefunds(ctx context.Context, transactionID string) ([]domain.Refund, error) {
	query := `
		SELECT r.id, t.provider_id, r.status, r.amount, r.currency, r.reason, r.failure_reason, r.created_at
		FROM refunds r
		JOIN transactions t ON t.id = r.transaction_id
		WHERE r.transaction_id = $1
		ORDER BY r.created_at, r.id
	`

	rows, err := p.db.Query(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		var r domain.Refund
		err := rows.Scan(
			&r.ID,
			&r.TransactionID,
			&r.Status,
			&r.Amount,
			&r.Currency,
			&r.Reason,
			&r.FailureReason,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		refunds = append(refunds, r)
	}

	return refunds, rows.Err()
}

type lockedRefund struct {
	transactionID string
	amount        int64
	applied       bool
	reserved      bool
}

func lockRefund(ctx context.Context, tx pgx.Tx, refundID string) (lockedRefund, error) {
	var ref lockedRefund

	err := tx.QueryRow(ctx,
		`SELECT transaction_id, amount, applied, reserved FROM refunds WHERE id = $1 FOR UPDATE`,
		refundID,
	).Scan(&ref.transactionID, &ref.amount, &ref.applied, &ref.reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return ref, domain.ErrRefundNotFound
	}

	return ref, err
}

func selectTransaction(ctx context.Context, tx pgx.Tx, transactionID string) (*domain.Transaction, error) {
	return scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, transactionID))
}

// applyRefundAmount increments the ledger in one conditional statement, so
// concurrent refunds can never push amount_refunded + amount_reserved past
// amount.
func applyRefundAmount(ctx context.Context, tx pgx.Tx, transactionID string, amount int64) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET amount_refunded = amount_refunded + $2,
			status = CASE
				WHEN amount_refunded + $2 >= amount THEN $3
				ELSE $4
			END,
			updated_at = NOW(),
			version = version + 1
		WHERE id = $1 AND amount_refunded + amount_reserved + $2 <= amount
		RETURNING ` + transactionColumns

	return ledgerUpdate(tx.QueryRow(ctx,
		query,
		transactionID,
		amount,
		domain.TransactionStatus(domain.PaymentStatusRefunded),
		domain.TransactionStatusPartiallyRefunded,
	))
}

func reserveRefundAmount(ctx context.Context, tx pgx.Tx, transactionID string, amount int64) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET amount_reserved = amount_reserved + $2,
			updated_at = NOW(),
			version = version + 1
		WHERE id = $1 AND amount_refunded + amount_reserved + $2 <= amount
		RETURNING ` + transactionColumns

	return ledgerUpdate(tx.QueryRow(ctx, query, transactionID, amount))
}

func settleReservedAmount(ctx context.Context, tx pgx.Tx, transactionID string, amount int64) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET amount_refunded = amount_refunded + $2,
			amount_reserved = amount_reserved - $2,
			status = CASE
				WHEN amount_refunded + $2 >= amount THEN $3
				ELSE $4
			END,
			updated_at = NOW(),
			version = version + 1
		WHERE id = $1 AND amount_reserved >= $2
		RETURNING ` + transactionColumns

	return ledgerUpdate(tx.QueryRow(ctx,
		query,
		transactionID,
		amount,
		domain.TransactionStatus(domain.PaymentStatusRefunded),
		domain.TransactionStatusPartiallyRefunded,
	))
}

func releaseReservedAmount(ctx context.Context, tx pgx.Tx, transactionID string, amount int64) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET amount_reserved = GREATEST(amount_reserved - $2, 0),
			updated_at = NOW(),
			version = version + 1
		WHERE id = $1
		RETURNING ` + transactionColumns

	return scanTransaction(tx.QueryRow(ctx, query, transactionID, amount))
}

// ledgerUpdate turns a conditional update that matched no row into
// ErrRefundExceedsRefundable.
func ledgerUpdate(row pgx.Row) (*domain.Transaction, error) {
	txn, err := scanTransaction(row)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, domain.ErrRefundExceedsRefundable
	}

	return txn, err
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var txn domain.Transaction

	err := row.Scan(
		&txn.ID,
		&txn.Driver,
		&txn.ProviderID,
		&txn.Amount,
		&txn.AmountRefunded,
		&txn.AmountReserved,
		&txn.Currency,
		&txn.Status,
		&txn.CustomerID,
		&txn.Metadata,
		&txn.CreatedAt,
		&txn.UpdatedAt,
		&txn.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}

	return &txn, nil
}

func metadataOrEmpty(metadata map[string]string) map[string]string {
	if metadata == nil {
		return map[string]string{}
	}

	return metadata
}

func runInTx(ctx context.Context, db *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	var txOptions pgx.TxOptions

	tx, err := db.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}

	err = fn(tx)
	if err == nil {
		return tx.Commit(ctx)
	}

	rollbackErr := tx.Rollback(ctx)
	if rollbackErr != nil {
		return errors.Join(err, rollbackErr)
	}

	return err
}
